package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pathakanu/callMemo/internal/model"
	"gorm.io/gorm"
)

// Scope is the optional filter set shared by reporting queries.
type Scope struct {
	Start      *time.Time
	End        *time.Time
	UserID     string
	ReminderID string
}

// ErrorCount is one row of the most frequent placement errors.
type ErrorCount struct {
	Message string `gorm:"column:message"`
	Count   int64  `gorm:"column:occurrences"`
}

func applyScope(q *gorm.DB, sc Scope) *gorm.DB {
	if sc.Start != nil {
		q = q.Where("attempted_at >= ?", sc.Start.UTC())
	}
	if sc.End != nil {
		q = q.Where("attempted_at <= ?", sc.End.UTC())
	}
	if sc.UserID != "" {
		q = q.Where("user_id = ?", sc.UserID)
	}
	if sc.ReminderID != "" {
		q = q.Where("reminder_id = ?", sc.ReminderID)
	}
	return q
}

// CountByStatus returns the number of ledger entries per status within the scope.
func (s *Store) CountByStatus(ctx context.Context, sc Scope) (map[model.ExecutionStatus]int64, error) {
	var rows []struct {
		Status model.ExecutionStatus `gorm:"column:status"`
		Total  int64                 `gorm:"column:total"`
	}
	err := applyScope(s.db.WithContext(ctx).Model(&model.Execution{}), sc).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count executions by status: %w", err)
	}

	counts := make(map[model.ExecutionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// TopErrors returns the most frequent call-error messages within the scope.
func (s *Store) TopErrors(ctx context.Context, sc Scope, limit int) ([]ErrorCount, error) {
	var rows []ErrorCount
	err := applyScope(s.db.WithContext(ctx).Model(&model.Execution{}), sc).
		Select("error_message AS message, COUNT(*) AS occurrences").
		Where("status = ? AND error_message IS NOT NULL", model.StatusCallError).
		Group("error_message").
		Order("occurrences DESC, message ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("top execution errors: %w", err)
	}
	return rows, nil
}
