package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/speechmentor/internal/llm"
)

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) Record(ctx context.Context, e Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO execution_events (execution_id, action, state, details)
		 VALUES ($1, $2, $3, $4)`,
		e.ExecutionID, e.Action, e.State, details,
	)
	if err != nil {
		return fmt.Errorf("insert execution event: %w", err)
	}
	return nil
}

func (s *Service) History(ctx context.Context, executionID string) ([]Event, error) {
	rows, err := s.db.Query(ctx,
		`SELECT execution_id, action, state, details, created_at
		 FROM execution_events WHERE execution_id = $1 ORDER BY id`,
		executionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query execution events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var (
			e       Event
			details []byte
		)
		if err := row.Scan(&e.ExecutionID, &e.Action, &e.State, &details, &e.CreatedAt); err != nil {
			return Event{}, fmt.Errorf("scan execution event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return Event{}, fmt.Errorf("decode event details: %w", err)
			}
		}
		return e, nil
	})
}

func (s *Service) RecordUsage(ctx context.Context, u llm.Usage) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO llm_usage_logs (execution_id, label, provider, model, input_tokens, output_tokens, total_tokens, cost_usd, latency_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		executionFromLabel(u.Label), u.Label, u.Provider, u.Model, u.InputTokens, u.OutputTokens,
		u.InputTokens+u.OutputTokens, u.CostUSD, u.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("insert LLM usage log: %w", err)
	}
	if id := executionFromLabel(u.Label); id != "" {
		return s.Record(ctx, usageEvent(id, u))
	}
	return nil
}
