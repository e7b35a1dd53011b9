package repo

import (
	"context"
	"database/sql"

	"tapline/internal/domain"
)

func (r Repo) UpsertReferenceItemTx(ctx context.Context, tx *sql.Tx, item domain.ReferenceItem) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO reference_data(domain,code,description,next_domain,active,sequence) VALUES (?,?,?,?,?,?)
ON CONFLICT(domain,code) DO UPDATE SET description=excluded.description, next_domain=excluded.next_domain,
active=excluded.active, sequence=excluded.sequence`),
		item.Domain, item.Code, item.Description, item.NextDomain, item.Active, item.Sequence)
	return err
}

func (r Repo) InsertReferenceLinkTx(ctx context.Context, tx *sql.Tx, l domain.ReferenceLink) error {
	_, err := tx.ExecContext(ctx, r.q(`INSERT INTO reference_data_links(from_domain,from_code,to_domain,to_code) VALUES (?,?,?,?)
ON CONFLICT DO NOTHING`), l.FromDomain, l.FromCode, l.ToDomain, l.ToCode)
	return err
}

// ListReferenceData returns every item, or the items of one domain when
// domainName is set.
func (r Repo) ListReferenceData(ctx context.Context, domainName string) ([]domain.ReferenceItem, error) {
	query := `SELECT domain,code,description,next_domain,active,sequence FROM reference_data`
	var args []any
	if domainName != "" {
		query += ` WHERE domain=?`
		args = append(args, domainName)
	}
	query += ` ORDER BY domain, sequence, code`
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReferenceItem
	for rows.Next() {
		var item domain.ReferenceItem
		if err := rows.Scan(&item.Domain, &item.Code, &item.Description, &item.NextDomain, &item.Active, &item.Sequence); err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func (r Repo) ListReferenceLinks(ctx context.Context) ([]domain.ReferenceLink, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT from_domain,from_code,to_domain,to_code FROM reference_data_links ORDER BY from_domain, from_code, to_domain, to_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ReferenceLink
	for rows.Next() {
		var l domain.ReferenceLink
		if err := rows.Scan(&l.FromDomain, &l.FromCode, &l.ToDomain, &l.ToCode); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) CountReferenceData(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM reference_data`).Scan(&n)
	return n, err
}
