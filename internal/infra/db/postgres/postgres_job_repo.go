package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"telegram-agent-runner/internal/domain"
	"telegram-agent-runner/internal/domain/model"
	"telegram-agent-runner/internal/domain/ports/repository"
)

var _ repository.JobRepository = (*jobRepo)(nil)

type jobRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
}

func NewJobRepo(pool *pgxpool.Pool, tm repository.TransactionManager) *jobRepo {
	return &jobRepo{pool: pool, tm: tm}
}

const jobColumns = `
id, chat_id, session_id, prompt, model, reasoning_effort, permission_mode,
approval_mode, search_mode, workdir, state, risk_level, approval_reason,
annotation, pid, exit_code, result_text, error_kind, error_message,
created_at, started_at, finished_at, updated_at`

func scanJob(row pgx.Row) (*model.Job, error) {
	j := &model.Job{}
	var errKind, errMsg *string
	err := row.Scan(
		&j.ID, &j.ChatID, &j.SessionID, &j.Prompt,
		&j.Params.Model, &j.Params.ReasoningEffort, &j.Params.PermissionMode,
		&j.Params.ApprovalMode, &j.Params.SearchMode, &j.Params.Workdir,
		&j.State, &j.RiskLevel, &j.ApprovalReason, &j.Annotation,
		&j.PID, &j.ExitCode, &j.ResultText, &errKind, &errMsg,
		&j.CreatedAt, &j.StartedAt, &j.FinishedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if errKind != nil {
		j.Error = &model.JobError{Kind: model.ErrorKind(*errKind)}
		if errMsg != nil {
			j.Error.Message = *errMsg
		}
	}
	return j, nil
}

func (r *jobRepo) Save(ctx context.Context, tx repository.Tx, job *model.Job) error {
	job.UpdatedAt = time.Now()

	var errKind, errMsg *string
	if job.Error != nil {
		k, m := string(job.Error.Kind), job.Error.Message
		errKind, errMsg = &k, &m
	}

	const q = `
INSERT INTO jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  risk_level = EXCLUDED.risk_level,
  approval_reason = EXCLUDED.approval_reason,
  annotation = EXCLUDED.annotation,
  pid = EXCLUDED.pid,
  exit_code = EXCLUDED.exit_code,
  result_text = EXCLUDED.result_text,
  error_kind = EXCLUDED.error_kind,
  error_message = EXCLUDED.error_message,
  started_at = EXCLUDED.started_at,
  finished_at = EXCLUDED.finished_at,
  updated_at = EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.ChatID, job.SessionID, job.Prompt,
		job.Params.Model, job.Params.ReasoningEffort, job.Params.PermissionMode,
		job.Params.ApprovalMode, job.Params.SearchMode, job.Params.Workdir,
		job.State, job.RiskLevel, job.ApprovalReason, job.Annotation,
		job.PID, job.ExitCode, job.ResultText, errKind, errMsg,
		job.CreatedAt, job.StartedAt, job.FinishedAt, job.UpdatedAt)
	return err
}

func (r *jobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1;`, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *jobRepo) List(ctx context.Context, tx repository.Tx, chatID int64, limit int) ([]*model.Job, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT `+jobColumns+` FROM jobs WHERE chat_id=$1 ORDER BY created_at DESC LIMIT $2;`, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *jobRepo) ListByState(ctx context.Context, tx repository.Tx, states ...model.JobState) ([]*model.Job, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT `+jobColumns+` FROM jobs WHERE state = ANY($1) ORDER BY created_at;`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*model.Job, error) {
	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *jobRepo) CountByState(ctx context.Context, tx repository.Tx) (map[model.JobState]int, error) {
	rows, err := pickRows(ctx, r.pool, tx, `SELECT state, COUNT(*) FROM jobs GROUP BY state;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.JobState]int{}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[model.JobState(state)] = n
	}
	return counts, rows.Err()
}

// UpdateState locks the row, verifies the expected source state and rewrites
// the record. State guards rely on this being the only mutation path.
func (r *jobRepo) UpdateState(ctx context.Context, tx repository.Tx, id string, from, to model.JobState, mutate func(*model.Job)) (*model.Job, error) {
	if tx != nil {
		return r.updateStateIn(ctx, tx, id, from, to, mutate)
	}
	var job *model.Job
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		j, err := r.updateStateIn(ctx, tx, id, from, to, mutate)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

func (r *jobRepo) updateStateIn(ctx context.Context, tx repository.Tx, id string, from, to model.JobState, mutate func(*model.Job)) (*model.Job, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+jobColumns+` FROM jobs WHERE id=$1 FOR UPDATE;`, id)
	if err != nil {
		return nil, err
	}
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if job.State != from {
		return nil, domain.ErrStaleTransition
	}
	if mutate != nil {
		mutate(job)
	}
	job.State = to
	if err := r.Save(ctx, tx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNextRunnable fetches the oldest queued or approved job. Jobs awaiting
// approval are skipped by the state filter, keeping a parked job from ever
// blocking later runnable ones.
func (r *jobRepo) ClaimNextRunnable(ctx context.Context) (*model.Job, error) {
	var job *model.Job
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		const q = `
SELECT ` + jobColumns + `
FROM jobs
WHERE state IN ('queued', 'approved')
ORDER BY created_at, id
LIMIT 1
FOR UPDATE SKIP LOCKED;`
		row, err := pickRow(ctx, r.pool, tx, q)
		if err != nil {
			return err
		}
		j, err := scanJob(row)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *jobRepo) AppendEvent(ctx context.Context, tx repository.Tx, jobID, eventType, detail string) error {
	const q = `INSERT INTO job_events (job_id, type, detail, created_at) VALUES ($1, $2, $3, NOW());`
	_, err := execSQL(ctx, r.pool, tx, q, jobID, eventType, detail)
	return err
}

func (r *jobRepo) ListEvents(ctx context.Context, tx repository.Tx, jobID string, limit int) ([]*model.JobEvent, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT id, job_id, type, detail, created_at FROM job_events WHERE job_id=$1 ORDER BY id LIMIT $2;`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.JobEvent
	for rows.Next() {
		ev := &model.JobEvent{}
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Type, &ev.Detail, &ev.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *jobRepo) AddArtifact(ctx context.Context, tx repository.Tx, a *model.Artifact) error {
	const q = `
INSERT INTO artifacts (job_id, kind, path, extension, size_bytes, sha256)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id;`
	row, err := pickRow(ctx, r.pool, tx, q, a.JobID, a.Kind, a.Path, a.Extension, a.SizeBytes, a.SHA256)
	if err != nil {
		return err
	}
	return row.Scan(&a.ID)
}

func (r *jobRepo) ListArtifacts(ctx context.Context, tx repository.Tx, jobID string) ([]*model.Artifact, error) {
	rows, err := pickRows(ctx, r.pool, tx,
		`SELECT id, job_id, kind, path, extension, size_bytes, sha256 FROM artifacts WHERE job_id=$1 ORDER BY id;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Artifact
	for rows.Next() {
		a := &model.Artifact{}
		if err := rows.Scan(&a.ID, &a.JobID, &a.Kind, &a.Path, &a.Extension, &a.SizeBytes, &a.SHA256); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
