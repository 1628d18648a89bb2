package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

// ToolStats aggregates the call log for one tool.
type ToolStats struct {
	Tool        string        `json:"tool"`
	Total       int           `json:"total"`
	Failures    int           `json:"failures"`
	AvgDuration time.Duration `json:"avgDurationNs"`
}

// RecordCall appends rec to the call log.
func (s *Store) RecordCall(ctx context.Context, rec tools.CallRecord) error {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_calls (request_id, tool, transport, outcome, status, error, duration_ms, called_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.RequestID, rec.Tool, rec.Transport, rec.Outcome, rec.Status, rec.Error,
		rec.Duration.Milliseconds(), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// ObserveCall implements tools.CallObserver. Failures are logged and never
// reach the caller. The write is detached from ctx so a finished HTTP
// request does not cancel it.
func (s *Store) ObserveCall(ctx context.Context, rec tools.CallRecord) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.RecordCall(wctx, rec); err != nil {
		s.log.Warn("call log write failed", "request_id", rec.RequestID, "tool", rec.Tool, "err", err)
	}
}

// RecentCalls returns up to limit records, newest first.
func (s *Store) RecentCalls(ctx context.Context, limit int) ([]tools.CallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, tool, transport, outcome, status, error, duration_ms, called_at
		FROM tool_calls
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var out []tools.CallRecord
	for rows.Next() {
		var (
			rec        tools.CallRecord
			durationMS int64
			calledAt   string
		)
		if err := rows.Scan(&rec.RequestID, &rec.Tool, &rec.Transport, &rec.Outcome,
			&rec.Status, &rec.Error, &durationMS, &calledAt); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.At, _ = time.Parse(time.RFC3339Nano, calledAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CallStats aggregates the call log per tool, ordered by tool name.
func (s *Store) CallStats(ctx context.Context) ([]ToolStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tool,
		       COUNT(*),
		       SUM(CASE WHEN outcome = ? THEN 0 ELSE 1 END),
		       CAST(AVG(duration_ms) AS INTEGER)
		FROM tool_calls
		GROUP BY tool
		ORDER BY tool
	`, tools.OutcomeOK)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	var out []ToolStats
	for rows.Next() {
		var (
			st    ToolStats
			avgMS int64
		)
		if err := rows.Scan(&st.Tool, &st.Total, &st.Failures, &avgMS); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		st.AvgDuration = time.Duration(avgMS) * time.Millisecond
		out = append(out, st)
	}
	return out, rows.Err()
}

var _ tools.CallObserver = (*Store)(nil)
