package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, e *Execution) (bool, error) {
	if e.Status == "" {
		e.Status = StatusRunning
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}
	data, err := json.Marshal(e.Context)
	if err != nil {
		return false, fmt.Errorf("marshal context: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO executions (id, session_key, status, state, resume_at, context, started_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.SessionKey, string(e.Status), e.State, e.ResumeAt, data, e.StartedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert execution: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Execution, error) {
	var (
		e           Execution
		status      string
		data        []byte
		failKind    *string
		failMessage *string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, session_key, status, state, resume_at, context, failure_kind, failure_message,
		        started_at, ended_at, updated_at
		 FROM executions WHERE id = $1`, id,
	).Scan(&e.ID, &e.SessionKey, &status, &e.State, &e.ResumeAt, &data, &failKind, &failMessage,
		&e.StartedAt, &e.EndedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}

	e.Status = Status(status)
	if err := json.Unmarshal(data, &e.Context); err != nil {
		return nil, fmt.Errorf("decode context of %s: %w", id, err)
	}
	if failKind != nil {
		e.Failure = &Failure{Kind: FailureKind(*failKind)}
		if failMessage != nil {
			e.Failure.Message = *failMessage
		}
	}
	return &e, nil
}

func (s *PostgresStore) UpdateContext(ctx context.Context, id, state string, resumeAt *time.Time, c Context) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE executions SET state = $2, resume_at = $3, context = $4, updated_at = now()
		 WHERE id = $1 AND status = 'RUNNING'`,
		id, state, resumeAt, data,
	)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrTerminal(ctx, id)
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status, failure *Failure) error {
	var kind, message *string
	if failure != nil {
		k := string(failure.Kind)
		kind, message = &k, &failure.Message
	}
	var endedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		endedAt = &now
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE executions
		 SET status = $2, failure_kind = $3, failure_message = $4, ended_at = $5,
		     resume_at = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'RUNNING'`,
		id, string(status), kind, message, endedAt,
	)
	if err != nil {
		return fmt.Errorf("set status of %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.missOrTerminal(ctx, id)
	}
	return nil
}

func (s *PostgresStore) RunningForSession(ctx context.Context, sessionKey string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM executions
		 WHERE session_key = $1 AND status = 'RUNNING'
		 ORDER BY started_at DESC LIMIT 1`, sessionKey,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("running execution for session: %w", err)
	}
	return id, true, nil
}

func (s *PostgresStore) ListRunning(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM executions WHERE status = 'RUNNING' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list running executions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan running executions: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) missOrTerminal(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM executions WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup execution %s: %w", id, err)
	}
	return ErrTerminal
}
