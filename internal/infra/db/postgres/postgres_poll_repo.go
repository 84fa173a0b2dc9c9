package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/repository"
)

var _ repository.PollRepository = (*pollRepo)(nil)

type pollRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewPollRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *pollRepo {
	return &pollRepo{pool: pool, tm: tm}
}

func (r *pollRepo) Save(ctx context.Context, tx repository.Tx, p *model.Poll) error {
	const q = `
INSERT INTO polls (id, kind, linked_job_id, question, options, allows_multiple, resolved_at, resolution, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  resolved_at = EXCLUDED.resolved_at,
  resolution = EXCLUDED.resolution;`
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.Kind, p.LinkedJobID, p.Question, p.Options, p.AllowsMultiple, p.ResolvedAt, p.Resolution, p.CreatedAt)
	return err
}

func (r *pollRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Poll, error) {
	return r.queryOne(ctx, tx, `WHERE id=$1`, id)
}

func (r *pollRepo) FindOpenByJob(ctx context.Context, tx repository.Tx, jobID string) (*model.Poll, error) {
	return r.queryOne(ctx, tx, `WHERE linked_job_id=$1 AND resolved_at IS NULL ORDER BY created_at DESC LIMIT 1`, jobID)
}

func (r *pollRepo) queryOne(ctx context.Context, tx repository.Tx, where string, args ...interface{}) (*model.Poll, error) {
	q := `SELECT id, kind, linked_job_id, question, options, allows_multiple, resolved_at, resolution, created_at FROM polls ` + where + `;`
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}

	p := &model.Poll{}
	err = row.Scan(&p.ID, &p.Kind, &p.LinkedJobID, &p.Question, &p.Options, &p.AllowsMultiple, &p.ResolvedAt, &p.Resolution, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	p.Votes = map[string]int{}
	rows, err := pickRows(ctx, r.pool, tx, `SELECT voter, option_idx FROM poll_votes WHERE poll_id=$1;`, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var voter string
		var idx int
		if err := rows.Scan(&voter, &idx); err != nil {
			return nil, err
		}
		p.Votes[voter] = idx
	}
	return p, rows.Err()
}

func (r *pollRepo) RecordVote(ctx context.Context, tx repository.Tx, pollID, voter string, optionIdx int) error {
	const q = `
INSERT INTO poll_votes (poll_id, voter, option_idx)
VALUES ($1, $2, $3)
ON CONFLICT (poll_id, voter) DO UPDATE SET option_idx = EXCLUDED.option_idx;`
	_, err := execSQL(ctx, r.pool, tx, q, pollID, voter, optionIdx)
	return err
}

// Resolve marks the poll resolved exactly once. A concurrent or repeated
// resolution loses the conditional update and reports ErrAlreadyResolved.
func (r *pollRepo) Resolve(ctx context.Context, tx repository.Tx, pollID, resolution string) error {
	const q = `UPDATE polls SET resolved_at=NOW(), resolution=$2 WHERE id=$1 AND resolved_at IS NULL;`
	tag, err := execSQL(ctx, r.pool, tx, q, pollID, resolution)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		row, err := pickRow(ctx, r.pool, tx, `SELECT 1 FROM polls WHERE id=$1;`, pollID)
		if err != nil {
			return err
		}
		var one int
		if err := row.Scan(&one); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrNotFound
			}
			return err
		}
		return domain.ErrAlreadyResolved
	}
	return nil
}
