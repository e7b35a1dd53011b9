package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tapline/internal/absence"
	"tapline/internal/config"
	"tapline/internal/db"
	"tapline/internal/domain"
	"tapline/internal/outbox"
	"tapline/internal/refdata"
	"tapline/internal/repo"
)

// ErrNoSchedule is returned when occurrences are generated for an
// authorisation without a repeat schedule.
var ErrNoSchedule = errors.New("authorisation has no repeat schedule")

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Outbox   outbox.Writer
	Resolver refdata.Resolver
	Config   *config.Config
	Now      func() time.Time
	Logger   *logrus.Entry
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config, catalog refdata.Catalog) Engine {
	return Engine{
		DB:       conn,
		Repo:     repo.Repo{DB: conn, Dialect: dialect},
		Outbox:   outbox.Writer{Dialect: dialect},
		Resolver: refdata.Resolver{Catalog: catalog},
		Config:   cfg,
		Now:      time.Now,
	}
}

// Actor identifies who asked for a change and through which system.
type Actor struct {
	ID     string
	Source domain.Source
}

func (a Actor) source() domain.Source {
	if a.Source == "" {
		return domain.SourceDPS
	}
	return a.Source
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *logrus.Entry {
	if e.Logger != nil {
		return e.Logger
	}
	l := logrus.New()
	l.Out = io.Discard
	return logrus.NewEntry(l)
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// commit drains uow into audit rows and outbox events inside tx, then commits.
func (e Engine) commit(ctx context.Context, tx *sql.Tx, uow *absence.UnitOfWork, actor Actor) error {
	now := e.now()
	drained := uow.Drain()
	for _, s := range drained.Actions {
		if _, err := e.Repo.InsertAuditTx(ctx, tx, domain.AuditEntry{
			TS:         now,
			EntityKind: string(s.Entity.Kind),
			EntityID:   s.Entity.ID,
			Action:     string(s.Action.Kind),
			ActorID:    actor.ID,
			Source:     uow.Source(),
			Reason:     s.Action.Reason,
		}); err != nil {
			return fmt.Errorf("audit %s: %w", s.Action.Kind, err)
		}
	}
	w := e.Outbox
	if w.Now == nil {
		w.Now = e.now
	}
	staged, err := w.Stage(ctx, tx, drained.Events...)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	outbox.Committed(staged)
	for _, evt := range drained.Events {
		e.logger().WithFields(logrus.Fields{
			"event_type": evt.Type,
			"entity_id":  evt.EntityID,
			"person":     evt.PersonIdentifier,
		}).Debug("event staged")
	}
	return nil
}

// requireCode checks a code against the catalog. Empty codes are allowed.
func (e Engine) requireCode(domainName, code string) error {
	if code == "" {
		return nil
	}
	_, err := e.Resolver.Catalog.Get(domainName, code)
	return err
}

// Categorise resolves a partially specified categorisation against the catalog.
func (e Engine) Categorise(c domain.Categorisation) (domain.Categorisation, domain.ReasonPath, error) {
	return e.Resolver.Categorise(c)
}

// ImportReferenceData upserts a reference data seed in one transaction.
func (e Engine) ImportReferenceData(ctx context.Context, seed refdata.Seed) error {
	if _, err := refdata.NewMemoryCatalog(seed.Items, seed.Links); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, item := range seed.Items {
		if err := e.Repo.UpsertReferenceItemTx(ctx, tx, item); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", item.Domain, item.Code, err)
		}
	}
	for _, l := range seed.Links {
		if err := e.Repo.InsertReferenceLinkTx(ctx, tx, l); err != nil {
			return fmt.Errorf("link %s/%s: %w", l.FromDomain, l.FromCode, err)
		}
	}
	return tx.Commit()
}

// LoadCatalog builds a catalog from the stored reference data.
func (e Engine) LoadCatalog(ctx context.Context) (*refdata.MemoryCatalog, error) {
	items, err := e.Repo.ListReferenceData(ctx, "")
	if err != nil {
		return nil, err
	}
	links, err := e.Repo.ListReferenceLinks(ctx)
	if err != nil {
		return nil, err
	}
	return refdata.NewMemoryCatalog(items, links)
}
