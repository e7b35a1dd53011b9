package absence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapline/internal/domain"
)

var allActionKinds = []ActionKind{
	ActionAuthorisationCreated, ActionAuthorisationApproved, ActionAuthorisationDenied,
	ActionAuthorisationCancelled, ActionAuthorisationDeferred, ActionAuthorisationExpired,
	ActionAuthorisationDateRangeChanged, ActionAuthorisationRecategorised,
	ActionAuthorisationAccompanimentChanged, ActionAuthorisationTransportChanged,
	ActionOccurrenceCreated, ActionOccurrenceScheduled, ActionOccurrenceMarkedOverdue,
	ActionOccurrenceExpired, ActionOccurrenceCancelled, ActionOccurrenceDenied,
	ActionOccurrenceRescheduled, ActionOccurrenceLocationChanged,
	ActionOccurrenceAccompanimentChanged, ActionOccurrenceTransportChanged,
	ActionMovementDeparted, ActionMovementReturned, ActionMovementCorrected,
}

func TestEveryPublishedActionMapsToAnEvent(t *testing.T) {
	ref := EntityRef{Kind: EntityOccurrence, ID: "occ-1", PersonIdentifier: "A1234BC"}
	for _, kind := range allActionKinds {
		evt, ok := EventFor(ref, Action{Kind: kind}, domain.SourceNOMIS)
		require.True(t, ok, kind)
		assert.NotEmpty(t, evt.Type, kind)
		assert.Equal(t, "occ-1", evt.EntityID)
		assert.Equal(t, "A1234BC", evt.PersonIdentifier)
		assert.Equal(t, domain.SourceNOMIS, evt.Source)
	}
	for _, kind := range []ActionKind{ActionAuthorisationCommentsChanged, ActionOccurrenceCommentsChanged, "unknown"} {
		_, ok := EventFor(ref, Action{Kind: kind}, domain.SourceDPS)
		assert.False(t, ok, kind)
	}
}

func TestDrainDeduplicatesAndClears(t *testing.T) {
	uow := NewUnitOfWork("")
	assert.Equal(t, domain.SourceDPS, uow.Source())

	occ := EntityRef{Kind: EntityOccurrence, ID: "occ-1", PersonIdentifier: "A1234BC"}
	auth := EntityRef{Kind: EntityAuthorisation, ID: "auth-1", PersonIdentifier: "A1234BC"}
	uow.Stage(auth, Action{Kind: ActionAuthorisationApproved, Reason: "ok"})
	uow.Stage(occ,
		Action{Kind: ActionOccurrenceLocationChanged},
		Action{Kind: ActionOccurrenceTransportChanged},
		Action{Kind: ActionOccurrenceCommentsChanged},
	)
	require.Equal(t, 4, uow.Pending())

	drained := uow.Drain()
	assert.Len(t, drained.Actions, 4)
	require.Len(t, drained.Events, 2)
	assert.Equal(t, EventAuthorisationApproved, drained.Events[0].Type)
	assert.Equal(t, EventOccurrenceChanged, drained.Events[1].Type)

	assert.Zero(t, uow.Pending())
	again := uow.Drain()
	assert.Empty(t, again.Actions)
	assert.Empty(t, again.Events)
}

func TestNoOpMutationDrainsNothing(t *testing.T) {
	uow := NewUnitOfWork(domain.SourceDPS)
	a := pendingAuthorisation()
	a.Transport = "CAR"
	uow.Stage(AuthorisationRef(a), ApplyTransport(&a, "CAR", "")...)
	drained := uow.Drain()
	assert.Empty(t, drained.Actions)
	assert.Empty(t, drained.Events)
}

func TestSameEventFromDifferentEntitiesIsKept(t *testing.T) {
	uow := NewUnitOfWork(domain.SourceDPS)
	uow.Stage(EntityRef{Kind: EntityOccurrence, ID: "occ-1", PersonIdentifier: "A1234BC"}, Action{Kind: ActionOccurrenceScheduled})
	uow.Stage(EntityRef{Kind: EntityOccurrence, ID: "occ-2", PersonIdentifier: "A1234BC"}, Action{Kind: ActionOccurrenceScheduled})
	assert.Len(t, uow.Drain().Events, 2)
}
