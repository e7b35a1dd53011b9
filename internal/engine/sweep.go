package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tapline/internal/absence"
	"tapline/internal/config"
	"tapline/internal/domain"
	"tapline/internal/repo"
)

// SweepActor is recorded against changes made by the status sweep.
var SweepActor = Actor{ID: "system:sweep", Source: domain.SourceDPS}

// SweepOptions bound one sweep pass.
type SweepOptions struct {
	Owner    string
	PageSize int
	ClaimTTL time.Duration
}

// SweepResult counts what a sweep pass looked at and changed.
type SweepResult struct {
	Occurrences    int `json:"occurrences"`
	Authorisations int `json:"authorisations"`
	Changed        int `json:"changed"`
	Conflicts      int `json:"conflicts"`
}

// SweepStatuses claims one page of ended occurrences and one page of pending
// authorisations whose window has passed, and recomputes each in its own
// transaction. Rows claimed by another live sweeper are skipped. Version
// conflicts are counted and left for the next pass.
func (e Engine) SweepStatuses(ctx context.Context, opts SweepOptions) (SweepResult, error) {
	if opts.Owner == "" {
		opts.Owner = newID("")
	}
	if opts.PageSize <= 0 || opts.PageSize > config.MaxSweepPage {
		opts.PageSize = config.MaxSweepPage
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 5 * time.Minute
	}
	now := e.now()
	staleBefore := now.Add(-opts.ClaimTTL)
	log := e.logger().WithField("owner", opts.Owner)

	var res SweepResult
	ids, err := e.Repo.ClaimDueOccurrences(ctx, opts.Owner, now, staleBefore, opts.PageSize)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		res.Occurrences++
		changed, err := e.sweepOccurrence(ctx, id)
		if rerr := e.Repo.ReleaseOccurrenceClaim(context.WithoutCancel(ctx), opts.Owner, id); rerr != nil {
			log.WithError(rerr).WithField("entity_id", id).Warn("release occurrence claim")
		}
		if err := res.note(changed, err); err != nil {
			return res, fmt.Errorf("sweep occurrence %s: %w", id, err)
		}
	}

	ids, err = e.Repo.ClaimExpiredAuthorisations(ctx, opts.Owner, now, staleBefore, opts.PageSize)
	if err != nil {
		return res, err
	}
	for _, id := range ids {
		res.Authorisations++
		changed, err := e.sweepAuthorisation(ctx, id)
		if rerr := e.Repo.ReleaseAuthorisationClaim(context.WithoutCancel(ctx), opts.Owner, id); rerr != nil {
			log.WithError(rerr).WithField("entity_id", id).Warn("release authorisation claim")
		}
		if err := res.note(changed, err); err != nil {
			return res, fmt.Errorf("sweep authorisation %s: %w", id, err)
		}
	}
	if res.Changed > 0 || res.Conflicts > 0 {
		log.WithFields(logrus.Fields{
			"occurrences":    res.Occurrences,
			"authorisations": res.Authorisations,
			"changed":        res.Changed,
			"conflicts":      res.Conflicts,
		}).Info("status sweep")
	}
	return res, nil
}

func (r *SweepResult) note(changed bool, err error) error {
	switch {
	case errors.Is(err, repo.ErrConflict), errors.Is(err, repo.ErrNotFound):
		r.Conflicts++
		return nil
	case err != nil:
		return err
	case changed:
		r.Changed++
	}
	return nil
}

func (e Engine) sweepOccurrence(ctx context.Context, id string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	o, err := e.Repo.GetOccurrenceTx(ctx, tx, id)
	if err != nil {
		return false, err
	}
	a, err := e.Repo.GetAuthorisationTx(ctx, tx, o.AuthorisationID)
	if err != nil {
		return false, err
	}
	now := e.now()
	before := o.Status
	actions := absence.Recalculate(&o, a.Status, now)
	if o.Status == before && len(actions) == 0 {
		return false, nil
	}
	uow := absence.NewUnitOfWork(SweepActor.Source)
	uow.Stage(absence.OccurrenceRef(o), actions...)
	o.UpdatedAt = now
	if err := e.Repo.UpdateOccurrenceTx(ctx, tx, &o); err != nil {
		return false, err
	}
	return true, e.commit(ctx, tx, uow, SweepActor)
}

func (e Engine) sweepAuthorisation(ctx context.Context, id string) (bool, error) {
	var changed bool
	_, err := e.mutateAuthorisation(ctx, id, SweepActor, func(tx *sql.Tx, a *domain.Authorisation, uow *absence.UnitOfWork) error {
		if !a.End.Before(e.now()) {
			return nil
		}
		actions := absence.Expire(a)
		if len(actions) == 0 {
			return nil
		}
		changed = true
		uow.Stage(absence.AuthorisationRef(*a), actions...)
		return e.recalculateOccurrences(ctx, tx, uow, *a)
	})
	return changed, err
}
