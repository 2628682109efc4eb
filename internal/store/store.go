// Package store persists reminders and the execution ledger through GORM.
//
// Every status transition is a conditional update on the expected previous
// status, so a ledger entry is written at most once per phase and terminal
// entries are never touched again. Timestamps are written in UTC.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pathakanu/callMemo/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultListLimit = 100

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrStaleTransition is returned when a conditional status update matched no row.
	ErrStaleTransition = errors.New("store: execution is not in the expected status")
)

// Store provides reminder and ledger persistence.
type Store struct {
	db *gorm.DB
}

// New wraps an open GORM connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateReminder inserts a reminder. The surrounding application owns reminder CRUD;
// this exists for seeding and administrative tooling.
func (s *Store) CreateReminder(ctx context.Context, r *model.Reminder) error {
	if r.LastExecutedAt != nil {
		t := r.LastExecutedAt.UTC()
		r.LastExecutedAt = &t
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

// GetReminder loads a reminder by id.
func (s *Store) GetReminder(ctx context.Context, id string) (model.Reminder, error) {
	var r model.Reminder
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Reminder{}, ErrNotFound
	}
	if err != nil {
		return model.Reminder{}, fmt.Errorf("get reminder %s: %w", id, err)
	}
	return r, nil
}

// ListScheduledAt returns active reminders scheduled for the given wall-clock minute.
func (s *Store) ListScheduledAt(ctx context.Context, hour, minute int) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND scheduled_hour = ? AND scheduled_minute = ?", true, hour, minute).
		Order("created_at ASC").
		Find(&reminders).Error
	if err != nil {
		return nil, fmt.Errorf("list reminders at %02d:%02d: %w", hour, minute, err)
	}
	return reminders, nil
}

// ListActive returns every active reminder.
func (s *Store) ListActive(ctx context.Context) ([]model.Reminder, error) {
	var reminders []model.Reminder
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&reminders).Error; err != nil {
		return nil, fmt.Errorf("list active reminders: %w", err)
	}
	return reminders, nil
}

// Attempt describes the bookkeeping written after a call attempt.
type Attempt struct {
	At         time.Time
	Deactivate bool
	Failed     bool
}

// RecordAttempt advances lastExecutedAt, increments executionCount and, for
// failed placements, callsErrorCount. One-time reminders are deactivated.
func (s *Store) RecordAttempt(ctx context.Context, reminderID string, a Attempt) error {
	updates := map[string]any{
		"last_executed_at": a.At.UTC(),
		"execution_count":  gorm.Expr("execution_count + ?", 1),
	}
	if a.Deactivate {
		updates["is_active"] = false
	}
	if a.Failed {
		updates["calls_error_count"] = gorm.Expr("calls_error_count + ?", 1)
	}

	res := s.db.WithContext(ctx).Model(&model.Reminder{}).Where("id = ?", reminderID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("record attempt for reminder %s: %w", reminderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Deactivate marks a reminder inactive.
func (s *Store) Deactivate(ctx context.Context, reminderID string) error {
	res := s.db.WithContext(ctx).Model(&model.Reminder{}).Where("id = ?", reminderID).Update("is_active", false)
	if res.Error != nil {
		return fmt.Errorf("deactivate reminder %s: %w", reminderID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePendingExecution writes the pending ledger entry that anchors an attempt.
func (s *Store) CreatePendingExecution(ctx context.Context, r model.Reminder, at time.Time) (model.Execution, error) {
	exec := model.Execution{
		ReminderID:       r.ID,
		UserID:           r.UserID,
		AttemptedAt:      at.UTC(),
		Status:           model.StatusPending,
		ReminderSnapshot: datatypes.NewJSONType(r.Snapshot()),
	}
	if err := s.db.WithContext(ctx).Create(&exec).Error; err != nil {
		return model.Execution{}, fmt.Errorf("create execution for reminder %s: %w", r.ID, err)
	}
	return exec, nil
}

// MarkCallMade moves a pending entry to call-made with the provider's call id.
func (s *Store) MarkCallMade(ctx context.Context, executionID, callID string) error {
	return s.transition(ctx, executionID, model.StatusPending, map[string]any{
		"status":           model.StatusCallMade,
		"external_call_id": callID,
	})
}

// MarkCallError moves a pending entry to the terminal call-error status.
func (s *Store) MarkCallError(ctx context.Context, executionID, message string) error {
	return s.transition(ctx, executionID, model.StatusPending, map[string]any{
		"status":        model.StatusCallError,
		"error_message": message,
	})
}

func (s *Store) transition(ctx context.Context, executionID string, from model.ExecutionStatus, updates map[string]any) error {
	res := s.db.WithContext(ctx).Model(&model.Execution{}).
		Where("id = ? AND status = ?", executionID, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update execution %s: %w", executionID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// ListCallMade returns every entry awaiting reconciliation, oldest first.
func (s *Store) ListCallMade(ctx context.Context) ([]model.Execution, error) {
	var execs []model.Execution
	err := s.db.WithContext(ctx).
		Where("status = ?", model.StatusCallMade).
		Order("attempted_at ASC").
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("list call-made executions: %w", err)
	}
	return execs, nil
}

// Outcome is the terminal result of reconciling a placed call.
type Outcome struct {
	Status          model.ExecutionStatus
	CallWasTaken    bool
	Summary         *string
	DurationSeconds *int
	Cost            *float64
	EndReason       *string
}

// FinalizeExecution writes the terminal status of a call-made entry and
// increments the owning reminder's outcome counter in one transaction.
func (s *Store) FinalizeExecution(ctx context.Context, exec model.Execution, out Outcome) error {
	var counter string
	switch out.Status {
	case model.StatusCallCompleted:
		counter = "calls_taken_count"
	case model.StatusCallNotTaken:
		counter = "calls_not_taken_count"
	default:
		return fmt.Errorf("finalize execution %s: invalid outcome status %q", exec.ID, out.Status)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Execution{}).
			Where("id = ? AND status = ?", exec.ID, model.StatusCallMade).
			Updates(map[string]any{
				"status":                out.Status,
				"call_was_taken":        out.CallWasTaken,
				"call_summary":          out.Summary,
				"call_duration_seconds": out.DurationSeconds,
				"call_cost":             out.Cost,
				"end_reason":            out.EndReason,
			})
		if res.Error != nil {
			return fmt.Errorf("finalize execution %s: %w", exec.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrStaleTransition
		}

		err := tx.Model(&model.Reminder{}).
			Where("id = ?", exec.ReminderID).
			UpdateColumn(counter, gorm.Expr(counter+" + ?", 1)).Error
		if err != nil {
			return fmt.Errorf("increment %s for reminder %s: %w", counter, exec.ReminderID, err)
		}
		return nil
	})
}

// GetExecution loads a ledger entry by id.
func (s *Store) GetExecution(ctx context.Context, id string) (model.Execution, error) {
	var exec model.Execution
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&exec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Execution{}, ErrNotFound
	}
	if err != nil {
		return model.Execution{}, fmt.Errorf("get execution %s: %w", id, err)
	}
	return exec, nil
}

// ExecutionFilter narrows execution history listings. Zero values are ignored.
type ExecutionFilter struct {
	ReminderID string
	UserID     string
	Status     model.ExecutionStatus
	Start      *time.Time
	End        *time.Time
	Limit      int
}

// ListExecutions returns ledger entries newest first, capped at Limit (default 100).
func (s *Store) ListExecutions(ctx context.Context, f ExecutionFilter) ([]model.Execution, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	q := applyScope(s.db.WithContext(ctx).Model(&model.Execution{}), Scope{
		Start:      f.Start,
		End:        f.End,
		UserID:     f.UserID,
		ReminderID: f.ReminderID,
	})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var execs []model.Execution
	if err := q.Order("attempted_at DESC").Limit(limit).Find(&execs).Error; err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}
