package absence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapline/internal/domain"
)

func movement(dir domain.Direction) domain.Movement {
	return domain.Movement{ID: "m-" + string(dir), Direction: dir, OccurredAt: now}
}

func kinds(actions []Action) []ActionKind {
	var out []ActionKind
	for _, a := range actions {
		out = append(out, a.Kind)
	}
	return out
}

func TestCalculateStatusRules(t *testing.T) {
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	cases := []struct {
		name      string
		auth      domain.AuthorisationStatus
		end       time.Time
		movements []domain.Movement
		current   domain.OccurrenceStatus
		want      domain.OccurrenceStatus
		actions   []ActionKind
	}{
		{name: "return completes", auth: domain.AuthorisationApproved, end: future, movements: []domain.Movement{movement(domain.DirectionOut), movement(domain.DirectionIn)}, current: domain.OccurrenceInProgress, want: domain.OccurrenceCompleted},
		{name: "return dominates expiry and denial", auth: domain.AuthorisationDenied, end: past, movements: []domain.Movement{movement(domain.DirectionIn)}, current: domain.OccurrenceExpired, want: domain.OccurrenceCompleted},
		{name: "departure before end", auth: domain.AuthorisationApproved, end: future, movements: []domain.Movement{movement(domain.DirectionOut)}, current: domain.OccurrenceScheduled, want: domain.OccurrenceInProgress},
		{name: "departure after end", auth: domain.AuthorisationApproved, end: past, movements: []domain.Movement{movement(domain.DirectionOut)}, current: domain.OccurrenceInProgress, want: domain.OccurrenceOverdue, actions: []ActionKind{ActionOccurrenceMarkedOverdue}},
		{name: "overdue stays quiet", auth: domain.AuthorisationApproved, end: past, movements: []domain.Movement{movement(domain.DirectionOut)}, current: domain.OccurrenceOverdue, want: domain.OccurrenceOverdue},
		{name: "pending past end expires", auth: domain.AuthorisationPending, end: past, want: domain.OccurrenceExpired, actions: []ActionKind{ActionOccurrenceExpired}},
		{name: "scheduled past end expires", auth: domain.AuthorisationApproved, end: past, current: domain.OccurrenceScheduled, want: domain.OccurrenceExpired, actions: []ActionKind{ActionOccurrenceExpired}},
		{name: "expired is sticky", auth: domain.AuthorisationApproved, end: future, current: domain.OccurrenceExpired, want: domain.OccurrenceExpired},
		{name: "denied past end is not expired", auth: domain.AuthorisationDenied, end: past, current: domain.OccurrenceDenied, want: domain.OccurrenceDenied},
		{name: "cancelled past end stays cancelled", auth: domain.AuthorisationApproved, end: past, current: domain.OccurrenceCancelled, want: domain.OccurrenceCancelled},
		{name: "cancelled is sticky under approval", auth: domain.AuthorisationApproved, end: future, current: domain.OccurrenceCancelled, want: domain.OccurrenceCancelled},
		{name: "approval schedules pending", auth: domain.AuthorisationApproved, end: future, current: domain.OccurrencePending, want: domain.OccurrenceScheduled, actions: []ActionKind{ActionOccurrenceScheduled}},
		{name: "approval schedules new occurrence quietly", auth: domain.AuthorisationApproved, end: future, want: domain.OccurrenceScheduled},
		{name: "pending mirrors pending", auth: domain.AuthorisationPending, end: future, want: domain.OccurrencePending},
		{name: "denial mirrors", auth: domain.AuthorisationDenied, end: future, current: domain.OccurrencePending, want: domain.OccurrenceDenied, actions: []ActionKind{ActionOccurrenceDenied}},
		{name: "cancellation mirrors", auth: domain.AuthorisationCancelled, end: future, current: domain.OccurrenceScheduled, want: domain.OccurrenceCancelled, actions: []ActionKind{ActionOccurrenceCancelled}},
		{name: "expired authorisation with future end", auth: domain.AuthorisationExpired, end: future, current: domain.OccurrencePending, want: domain.OccurrenceExpired, actions: []ActionKind{ActionOccurrenceExpired}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, actions := CalculateStatus(tc.auth, tc.end, tc.movements, now, tc.current)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.actions, kinds(actions))
		})
	}
}

func TestCalculateStatusIsIdempotent(t *testing.T) {
	o := domain.Occurrence{ID: "occ-1", End: now.Add(-time.Hour), Movements: []domain.Movement{movement(domain.DirectionOut)}, Status: domain.OccurrenceInProgress}

	first := Recalculate(&o, domain.AuthorisationApproved, now)
	require.Equal(t, []ActionKind{ActionOccurrenceMarkedOverdue}, kinds(first))
	assert.Equal(t, domain.OccurrenceOverdue, o.Status)

	second := Recalculate(&o, domain.AuthorisationApproved, now)
	assert.Empty(t, second)
	assert.Equal(t, domain.OccurrenceOverdue, o.Status)
}

func TestScheduledThroughCompletedScenario(t *testing.T) {
	o := domain.Occurrence{ID: "occ-1", End: now.Add(time.Hour), Status: domain.OccurrencePending}
	Recalculate(&o, domain.AuthorisationApproved, now)
	require.Equal(t, domain.OccurrenceScheduled, o.Status)

	o.Movements = append(o.Movements, movement(domain.DirectionOut))
	Recalculate(&o, domain.AuthorisationApproved, now)
	require.Equal(t, domain.OccurrenceInProgress, o.Status)

	o.Movements = append(o.Movements, movement(domain.DirectionIn))
	Recalculate(&o, domain.AuthorisationApproved, now)
	assert.Equal(t, domain.OccurrenceCompleted, o.Status)
}

func TestCancelOccurrence(t *testing.T) {
	t.Run("overrides movement derived status", func(t *testing.T) {
		o := domain.Occurrence{ID: "occ-1", Status: domain.OccurrenceOverdue, Movements: []domain.Movement{movement(domain.DirectionOut)}}
		actions, err := CancelOccurrence(&o, "absconded")
		require.NoError(t, err)
		assert.Equal(t, []ActionKind{ActionOccurrenceCancelled}, kinds(actions))
		assert.Equal(t, domain.OccurrenceCancelled, o.Status)
		assert.True(t, o.CancelledExplicitly)

		assert.Empty(t, Recalculate(&o, domain.AuthorisationApproved, now))
		assert.Equal(t, domain.OccurrenceCancelled, o.Status)
		o.Movements = append(o.Movements, movement(domain.DirectionIn))
		assert.Empty(t, Recalculate(&o, domain.AuthorisationApproved, now))
		assert.Equal(t, domain.OccurrenceCancelled, o.Status)
	})
	t.Run("repeat cancel is a no-op", func(t *testing.T) {
		o := domain.Occurrence{ID: "occ-1", Status: domain.OccurrenceCancelled}
		actions, err := CancelOccurrence(&o, "")
		require.NoError(t, err)
		assert.Empty(t, actions)
	})
	t.Run("completed cannot be cancelled", func(t *testing.T) {
		o := domain.Occurrence{ID: "occ-1", Status: domain.OccurrenceCompleted}
		_, err := CancelOccurrence(&o, "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestDeniedKeepsMovementDerivedStatus(t *testing.T) {
	o := domain.Occurrence{ID: "occ-1", End: now.Add(time.Hour), Status: domain.OccurrencePending, Movements: []domain.Movement{movement(domain.DirectionOut)}}
	Recalculate(&o, domain.AuthorisationPending, now)
	require.Equal(t, domain.OccurrenceInProgress, o.Status)

	assert.Empty(t, Recalculate(&o, domain.AuthorisationDenied, now))
	assert.Equal(t, domain.OccurrenceInProgress, o.Status)

	later := now.Add(2 * time.Hour)
	assert.Equal(t, []ActionKind{ActionOccurrenceMarkedOverdue}, kinds(Recalculate(&o, domain.AuthorisationDenied, later)))
	assert.Equal(t, domain.OccurrenceOverdue, o.Status)
}

func TestRescheduleClearsStickyCancellation(t *testing.T) {
	o := domain.Occurrence{ID: "occ-1", Start: now, End: now.Add(time.Hour), Status: domain.OccurrenceCancelled, CancelledExplicitly: true}
	actions, err := Reschedule(&o, now.Add(24*time.Hour), now.Add(25*time.Hour), "new date")
	require.NoError(t, err)
	assert.Equal(t, []ActionKind{ActionOccurrenceRescheduled}, kinds(actions))
	assert.Equal(t, domain.OccurrencePending, o.Status)
	assert.False(t, o.CancelledExplicitly)

	next := Recalculate(&o, domain.AuthorisationApproved, now)
	assert.Equal(t, domain.OccurrenceScheduled, o.Status)
	assert.Equal(t, []ActionKind{ActionOccurrenceScheduled}, kinds(next))
}

func TestRescheduleRefusedOnceMoved(t *testing.T) {
	o := domain.Occurrence{ID: "occ-1", Start: now, End: now.Add(time.Hour), Status: domain.OccurrenceInProgress, Movements: []domain.Movement{movement(domain.DirectionOut)}}
	_, err := Reschedule(&o, now.Add(time.Hour), now.Add(2*time.Hour), "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	o = domain.Occurrence{ID: "occ-2", Start: now, End: now.Add(time.Hour), Status: domain.OccurrenceScheduled}
	_, err = Reschedule(&o, now.Add(time.Hour), now, "")
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestCorrectMovementKeepsDirection(t *testing.T) {
	m := domain.Movement{ID: "m-1", Direction: domain.DirectionOut, Location: "HOSP", AbsenceReason: "R15"}
	assert.Empty(t, CorrectMovement(&m, "HOSP", "R15", ""))
	actions := CorrectMovement(&m, "CLINIC", "R15", "wrong location")
	assert.Equal(t, []ActionKind{ActionMovementCorrected}, kinds(actions))
	assert.Equal(t, domain.DirectionOut, m.Direction)
	assert.Equal(t, "CLINIC", m.Location)
}
