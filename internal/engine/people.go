package engine

import (
	"context"
	"database/sql"
	"fmt"

	"tapline/internal/domain"
)

// InboundActor is recorded against changes driven by inbound notifications.
var InboundActor = Actor{ID: "system:inbound", Source: domain.SourceNOMIS}

// UpdatePerson refreshes the local person summary. A message id that was
// already processed is skipped and reported as not applied.
func (e Engine) UpdatePerson(ctx context.Context, messageID string, p domain.Person) (bool, error) {
	if p.Identifier == "" {
		return false, fmt.Errorf("person identifier is required")
	}
	return e.inbound(ctx, messageID, "person.updated", func(tx *sql.Tx) error {
		p.UpdatedAt = e.now()
		return e.Repo.UpsertPersonTx(ctx, tx, p)
	})
}

// MergeResult counts the rows moved onto the surviving person.
type MergeResult struct {
	Authorisations int   `json:"authorisations"`
	Occurrences    int   `json:"occurrences"`
	Movements      int64 `json:"movements"`
	Applied        bool  `json:"applied"`
}

// MergePerson moves every authorisation, occurrence and movement of from
// onto to and drops the local summary of from. Each moved authorisation and
// occurrence gets an audit row; no domain events are published.
func (e Engine) MergePerson(ctx context.Context, messageID, from, to string) (MergeResult, error) {
	var res MergeResult
	if from == "" || to == "" {
		return res, fmt.Errorf("both person identifiers are required")
	}
	if from == to {
		return res, fmt.Errorf("cannot merge %s into itself", from)
	}
	applied, err := e.inbound(ctx, messageID, "person.merged", func(tx *sql.Tx) error {
		now := e.now()
		auths, err := e.Repo.ListAuthorisationsForPersonTx(ctx, tx, from)
		if err != nil {
			return err
		}
		for i := range auths {
			a := &auths[i]
			a.PersonIdentifier = to
			a.UpdatedAt = now
			if err := e.Repo.UpdateAuthorisationTx(ctx, tx, a); err != nil {
				return fmt.Errorf("rekey authorisation %s: %w", a.ID, err)
			}
			if err := e.auditMerge(ctx, tx, "authorisation", a.ID, from, to); err != nil {
				return err
			}
		}
		occurrences, err := e.Repo.ListOccurrencesForPersonTx(ctx, tx, from)
		if err != nil {
			return err
		}
		for i := range occurrences {
			o := &occurrences[i]
			o.PersonIdentifier = to
			o.UpdatedAt = now
			if err := e.Repo.UpdateOccurrenceTx(ctx, tx, o); err != nil {
				return fmt.Errorf("rekey occurrence %s: %w", o.ID, err)
			}
			if err := e.auditMerge(ctx, tx, "occurrence", o.ID, from, to); err != nil {
				return err
			}
		}
		moved, err := e.Repo.RekeyMovementsTx(ctx, tx, from, to, now)
		if err != nil {
			return err
		}
		res.Authorisations, res.Occurrences, res.Movements = len(auths), len(occurrences), moved
		return e.Repo.DeletePersonTx(ctx, tx, from)
	})
	res.Applied = applied
	return res, err
}

func (e Engine) auditMerge(ctx context.Context, tx *sql.Tx, kind, id, from, to string) error {
	_, err := e.Repo.InsertAuditTx(ctx, tx, domain.AuditEntry{
		TS:         e.now(),
		EntityKind: kind,
		EntityID:   id,
		Action:     "person.merged",
		ActorID:    InboundActor.ID,
		Source:     InboundActor.Source,
		Reason:     fmt.Sprintf("%s merged into %s", from, to),
	})
	return err
}

// inbound runs fn once per message id.
func (e Engine) inbound(ctx context.Context, messageID, msgType string, fn func(*sql.Tx) error) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if messageID != "" {
		fresh, err := e.Repo.MarkInboundProcessedTx(ctx, tx, messageID, msgType, e.now())
		if err != nil {
			return false, err
		}
		if !fresh {
			return false, nil
		}
	}
	if err := fn(tx); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
