package absence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapline/internal/domain"
)

var now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func pendingAuthorisation() domain.Authorisation {
	return domain.Authorisation{
		ID:               "auth-1",
		PersonIdentifier: "A1234BC",
		Start:            now,
		End:              now.Add(72 * time.Hour),
		Status:           domain.AuthorisationPending,
		Categorisation:   domain.Categorisation{AbsenceReason: "R15"},
	}
}

func TestAuthorisationTransitions(t *testing.T) {
	type transitionFunc func(*domain.Authorisation, string) ([]Action, error)
	cases := []struct {
		name    string
		from    domain.AuthorisationStatus
		op      transitionFunc
		want    domain.AuthorisationStatus
		actions int
		wantErr bool
	}{
		{name: "approve pending", from: domain.AuthorisationPending, op: Approve, want: domain.AuthorisationApproved, actions: 1},
		{name: "approve approved is a no-op", from: domain.AuthorisationApproved, op: Approve, want: domain.AuthorisationApproved},
		{name: "deny pending", from: domain.AuthorisationPending, op: Deny, want: domain.AuthorisationDenied, actions: 1},
		{name: "deny approved", from: domain.AuthorisationApproved, op: Deny, want: domain.AuthorisationApproved, wantErr: true},
		{name: "cancel pending", from: domain.AuthorisationPending, op: Cancel, want: domain.AuthorisationCancelled, actions: 1},
		{name: "cancel cancelled is a no-op", from: domain.AuthorisationCancelled, op: Cancel, want: domain.AuthorisationCancelled},
		{name: "approve expired", from: domain.AuthorisationExpired, op: Approve, want: domain.AuthorisationExpired, wantErr: true},
		{name: "approve denied", from: domain.AuthorisationDenied, op: Approve, want: domain.AuthorisationDenied, wantErr: true},
		{name: "defer pending is a no-op", from: domain.AuthorisationPending, op: Defer, want: domain.AuthorisationPending},
		{name: "defer approved", from: domain.AuthorisationApproved, op: Defer, want: domain.AuthorisationApproved, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := pendingAuthorisation()
			a.Status = tc.from
			actions, err := tc.op(&a, "because")
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransition))
				var ite InvalidTransitionError
				require.ErrorAs(t, err, &ite)
				assert.Equal(t, string(tc.from), ite.From)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tc.want, a.Status)
			assert.Len(t, actions, tc.actions)
			if tc.actions > 0 {
				assert.Equal(t, "because", actions[0].Reason)
			}
		})
	}
}

func TestExpireOnlyFiresForPending(t *testing.T) {
	a := pendingAuthorisation()
	actions := Expire(&a)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionAuthorisationExpired, actions[0].Kind)
	assert.Equal(t, domain.AuthorisationExpired, a.Status)

	approved := pendingAuthorisation()
	approved.Status = domain.AuthorisationApproved
	assert.Empty(t, Expire(&approved))
	assert.Equal(t, domain.AuthorisationApproved, approved.Status)
}

func TestPermitsOccurrences(t *testing.T) {
	for status, want := range map[domain.AuthorisationStatus]bool{
		domain.AuthorisationPending:   true,
		domain.AuthorisationApproved:  true,
		domain.AuthorisationDenied:    false,
		domain.AuthorisationCancelled: false,
		domain.AuthorisationExpired:   false,
	} {
		a := domain.Authorisation{Status: status}
		assert.Equal(t, want, PermitsOccurrences(a), status)
	}
}

func TestApplyDateRange(t *testing.T) {
	t.Run("unchanged range stages nothing", func(t *testing.T) {
		a := pendingAuthorisation()
		actions, err := ApplyDateRange(&a, a.Start, a.End, now, "")
		require.NoError(t, err)
		assert.Empty(t, actions)
	})
	t.Run("end in the past expires a pending authorisation", func(t *testing.T) {
		a := pendingAuthorisation()
		actions, err := ApplyDateRange(&a, now.Add(-48*time.Hour), now.Add(-time.Hour), now, "shortened")
		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, ActionAuthorisationDateRangeChanged, actions[0].Kind)
		assert.Equal(t, ActionAuthorisationExpired, actions[1].Kind)
		assert.Equal(t, domain.AuthorisationExpired, a.Status)
	})
	t.Run("end in the past leaves an approved authorisation", func(t *testing.T) {
		a := pendingAuthorisation()
		a.Status = domain.AuthorisationApproved
		actions, err := ApplyDateRange(&a, now.Add(-48*time.Hour), now.Add(-time.Hour), now, "")
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, domain.AuthorisationApproved, a.Status)
	})
	t.Run("inverted range", func(t *testing.T) {
		a := pendingAuthorisation()
		_, err := ApplyDateRange(&a, now, now.Add(-time.Hour), now, "")
		assert.ErrorIs(t, err, ErrInvalidRange)
	})
}

func TestSpanContains(t *testing.T) {
	occurrences := []domain.Occurrence{
		{Start: now.Add(2 * time.Hour), End: now.Add(4 * time.Hour)},
		{Start: now.Add(time.Hour), End: now.Add(3 * time.Hour)},
	}
	span, ok := SpanOf(occurrences)
	require.True(t, ok)
	assert.Equal(t, now.Add(time.Hour), span.Start)
	assert.Equal(t, now.Add(4*time.Hour), span.End)

	assert.True(t, Span{Start: now, End: now.Add(5 * time.Hour)}.Contains(span))
	assert.False(t, Span{Start: now, End: now.Add(3 * time.Hour)}.Contains(span))

	_, ok = SpanOf(nil)
	assert.False(t, ok)
}

func TestChangeDetectionSuppressesNoOps(t *testing.T) {
	a := pendingAuthorisation()
	a.Accompaniment = "U"
	a.Transport = "CAR"
	a.Comments = "note"

	assert.Empty(t, ApplyAccompaniment(&a, "U", ""))
	assert.Empty(t, ApplyTransport(&a, "CAR", ""))
	assert.Empty(t, ApplyComments(&a, "note", ""))
	assert.Empty(t, ApplyCategorisation(&a, a.Categorisation, a.ReasonPath, ""))

	require.Len(t, ApplyAccompaniment(&a, "P", ""), 1)
	assert.Equal(t, "P", a.Accompaniment)
	require.Len(t, ApplyTransport(&a, "TAX", ""), 1)
	require.Len(t, ApplyComments(&a, "new note", ""), 1)

	path := domain.ReasonPath{{Domain: domain.DomainAbsenceReason, Code: "R15"}}
	require.Len(t, ApplyCategorisation(&a, a.Categorisation, path, ""), 1)
	assert.Empty(t, ApplyCategorisation(&a, a.Categorisation, path, ""))
}
