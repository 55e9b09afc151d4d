package action

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adjutant/adjutant/internal/state/store"
)

const actionColumns = `id, conversation_id, user_id, capability, params, description, status, batch_id, result, error, executed_at, duration_ms, created_at, updated_at`

// Store persists actions. Status changes go through compare-and-set updates
// so concurrent approvals of the same action settle exactly once.
type Store struct {
	db *store.DB
}

func NewStore(db *store.DB) *Store {
	return &Store{db: db}
}

// Stage inserts the batch as pending in one transaction. Missing ids are
// assigned here, and every action in the batch shares one batch id.
func (s *Store) Stage(ctx context.Context, actions []*Action) error {
	if len(actions) == 0 {
		return nil
	}
	batchID := "bat_" + uuid.NewString()
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)

	tx, err := s.db.SQLDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("action stage: %w", err)
	}
	stmt := s.db.Rebind(`INSERT INTO actions (` + actionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, a := range actions {
		if a.ID == "" {
			a.ID = "act_" + uuid.NewString()
		}
		a.BatchID = batchID
		a.Status = StatusPending
		a.CreatedAt = now
		a.UpdatedAt = now
		paramsJSON, err := json.Marshal(a.Params)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("action stage: marshal params: %w", err)
		}
		if a.Params == nil {
			paramsJSON = []byte("{}")
		}
		_, err = tx.ExecContext(ctx, stmt,
			a.ID, a.ConversationID, a.UserID, a.Capability, string(paramsJSON),
			a.Description, a.Status, a.BatchID, "", "", "", 0, nowStr, nowStr)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("action stage: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("action stage: commit: %w", err)
	}
	return nil
}

// RecordExecuted inserts a settled audit row for an action executed without
// an approval gate.
func (s *Store) RecordExecuted(ctx context.Context, a *Action, result json.RawMessage, d time.Duration) error {
	a.Status = StatusExecuted
	a.Result = result
	a.DurationMs = d.Milliseconds()
	return s.Record(ctx, a)
}

// RecordFailed inserts a failed audit row for an action executed without an
// approval gate.
func (s *Store) RecordFailed(ctx context.Context, a *Action, errMsg string) error {
	a.Status = StatusFailed
	a.Error = errMsg
	return s.Record(ctx, a)
}

// Record inserts an already-settled action, the audit trail for capabilities
// executed without an approval gate.
func (s *Store) Record(ctx context.Context, a *Action) error {
	if a.Status != StatusExecuted && a.Status != StatusFailed {
		return fmt.Errorf("action record: status %q is not terminal", a.Status)
	}
	if a.ID == "" {
		a.ID = "act_" + uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.ExecutedAt = now
	paramsJSON, err := json.Marshal(a.Params)
	if err != nil {
		return fmt.Errorf("action record: marshal params: %w", err)
	}
	if a.Params == nil {
		paramsJSON = []byte("{}")
	}
	_, err = s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`INSERT INTO actions (`+actionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.ConversationID, a.UserID, a.Capability, string(paramsJSON),
		a.Description, a.Status, a.BatchID, string(a.Result), a.Error,
		now.Format(time.RFC3339), a.DurationMs,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("action record: %w", err)
	}
	return nil
}

// Get loads one action by id.
func (s *Store) Get(ctx context.Context, id string) (*Action, error) {
	row := s.db.SQLDB().QueryRowContext(ctx,
		s.db.Rebind(`SELECT `+actionColumns+` FROM actions WHERE id = ?`), id)
	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("action get: %w", err)
	}
	return a, nil
}

// List returns a user's actions, newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, userID, status string, limit, offset int) ([]*Action, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + actionColumns + ` FROM actions WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.SQLDB().QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("action list: %w", err)
	}
	defer rows.Close()

	var out []*Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("action list: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Transition moves an action from one status to another. A compare-and-set
// miss comes back as *StaleTransitionError carrying the status found.
func (s *Store) Transition(ctx context.Context, id, from, to string) error {
	if !legalMove(from, to) {
		return fmt.Errorf("action transition: illegal %s -> %s", from, to)
	}
	res, err := s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`UPDATE actions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`),
		to, time.Now().UTC().Format(time.RFC3339), id, from)
	if err != nil {
		return fmt.Errorf("action transition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return &StaleTransitionError{ID: id, Status: a.Status, Want: from}
}

// MarkExecuted stores the execution result and completes the action.
func (s *Store) MarkExecuted(ctx context.Context, id string, result json.RawMessage, d time.Duration) error {
	return s.settle(ctx, id, StatusExecuted, string(result), "", d)
}

// MarkFailed stores the failure and completes the action.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string, d time.Duration) error {
	return s.settle(ctx, id, StatusFailed, "", errMsg, d)
}

func (s *Store) settle(ctx context.Context, id, status, result, errMsg string, d time.Duration) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`UPDATE actions SET status = ?, result = ?, error = ?, executed_at = ?,
			duration_ms = ?, updated_at = ? WHERE id = ? AND status = ?`),
		status, result, errMsg, now, d.Milliseconds(), now, id, StatusExecuting)
	if err != nil {
		return fmt.Errorf("action settle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return &StaleTransitionError{ID: id, Status: a.Status, Want: StatusExecuting}
}

// Cancel declines a pending action, recording why.
func (s *Store) Cancel(ctx context.Context, id, reason string) error {
	res, err := s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`UPDATE actions SET status = ?, error = ?, updated_at = ?
			WHERE id = ? AND status = ?`),
		StatusCancelled, reason, time.Now().UTC().Format(time.RFC3339), id, StatusPending)
	if err != nil {
		return fmt.Errorf("action cancel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return &StaleTransitionError{ID: id, Status: a.Status, Want: StatusPending}
}

// CountPending reports how many actions are awaiting a decision.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.SQLDB().QueryRowContext(ctx,
		s.db.Rebind(`SELECT COUNT(*) FROM actions WHERE status = ?`), StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("action count pending: %w", err)
	}
	return n, nil
}

// ExpireOlderThan cancels pending actions created before the cutoff and
// reports how many were cancelled.
func (s *Store) ExpireOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`UPDATE actions SET status = ?, error = 'expired', updated_at = ?
			WHERE status = ? AND created_at < ?`),
		StatusCancelled, time.Now().UTC().Format(time.RFC3339),
		StatusPending, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("action expire: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanAction(row interface{ Scan(...any) error }) (*Action, error) {
	var a Action
	var paramsJSON, result, executedAt, createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.ConversationID, &a.UserID, &a.Capability, &paramsJSON,
		&a.Description, &a.Status, &a.BatchID, &result, &a.Error,
		&executedAt, &a.DurationMs, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if paramsJSON != "" {
		_ = json.Unmarshal([]byte(paramsJSON), &a.Params)
	}
	if result != "" {
		a.Result = json.RawMessage(result)
	}
	if executedAt != "" {
		a.ExecutedAt, _ = time.Parse(time.RFC3339, executedAt)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}
