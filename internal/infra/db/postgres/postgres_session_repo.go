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

var _ repository.SessionRepository = (*sessionRepo)(nil)

type sessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *sessionRepo {
	return &sessionRepo{pool: pool}
}

const sessionColumns = `id, chat_id, name, status, derived_from, created_at, last_used_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	s := &model.Session{}
	err := row.Scan(&s.ID, &s.ChatID, &s.Name, &s.Status, &s.DerivedFrom, &s.CreatedAt, &s.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *sessionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Session) error {
	const q = `
INSERT INTO sessions (` + sessionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  name = EXCLUDED.name,
  status = EXCLUDED.status,
  last_used_at = EXCLUDED.last_used_at;`
	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.ChatID, s.Name, s.Status, s.DerivedFrom, s.CreatedAt, s.LastUsedAt)
	return err
}

func (r *sessionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Session, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+sessionColumns+` FROM sessions WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanSession(row)
}

func (r *sessionRepo) FindByName(ctx context.Context, tx repository.Tx, chatID int64, name string) (*model.Session, error) {
	const q = `
SELECT ` + sessionColumns + `
FROM sessions
WHERE chat_id=$1 AND LOWER(name)=LOWER($2)
ORDER BY (status <> 'stopped') DESC, last_used_at DESC
LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, chatID, name)
	if err != nil {
		return nil, err
	}
	return scanSession(row)
}

func (r *sessionRepo) ListByChat(ctx context.Context, tx repository.Tx, chatID int64) ([]*model.Session, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT `+sessionColumns+` FROM sessions WHERE chat_id=$1 ORDER BY last_used_at DESC;`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *sessionRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.SessionStatus) error {
	tag, err := execSQL(ctx, r.pool, tx, `UPDATE sessions SET status=$2 WHERE id=$1;`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) Touch(ctx context.Context, tx repository.Tx, id string) error {
	tag, err := execSQL(ctx, r.pool, tx, `UPDATE sessions SET last_used_at=NOW() WHERE id=$1;`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetActiveSession returns "" when the chat has no mapping.
func (r *sessionRepo) GetActiveSession(ctx context.Context, tx repository.Tx, chatID int64) (string, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT session_id FROM chat_active_sessions WHERE chat_id=$1;`, chatID)
	if err != nil {
		return "", err
	}
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func (r *sessionRepo) SetActiveSession(ctx context.Context, tx repository.Tx, chatID int64, sessionID string) error {
	if sessionID == "" {
		_, err := execSQL(ctx, r.pool, tx, `DELETE FROM chat_active_sessions WHERE chat_id=$1;`, chatID)
		return err
	}
	const q = `
INSERT INTO chat_active_sessions (chat_id, session_id)
VALUES ($1, $2)
ON CONFLICT (chat_id) DO UPDATE SET session_id = EXCLUDED.session_id;`
	_, err := execSQL(ctx, r.pool, tx, q, chatID, sessionID)
	return err
}
