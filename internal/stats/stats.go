// Package stats rolls up the execution ledger for reporting.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/pathakanu/callMemo/internal/model"
	"github.com/pathakanu/callMemo/internal/store"
)

const topErrorLimit = 5

// Ledger is the read side the aggregator queries.
type Ledger interface {
	CountByStatus(ctx context.Context, sc store.Scope) (map[model.ExecutionStatus]int64, error)
	TopErrors(ctx context.Context, sc store.Scope, limit int) ([]store.ErrorCount, error)
}

// Filters narrows the rollup. Zero values are ignored.
type Filters struct {
	StartDate  *time.Time
	EndDate    *time.Time
	UserID     string
	ReminderID string
}

// Statistics is the rollup returned to reporting callers.
type Statistics struct {
	Total          int64
	Completed      int64
	NotTaken       int64
	Errors         int64
	CallMade       int64
	Pending        int64
	SuccessRate    float64
	FailureRate    float64
	TopErrors      []store.ErrorCount
	StartDate      *time.Time
	EndDate        *time.Time
	StatusMeanings map[model.ExecutionStatus]string
}

// Aggregator computes Statistics. It only reads.
type Aggregator struct {
	ledger Ledger
}

// New creates an Aggregator.
func New(ledger Ledger) *Aggregator {
	return &Aggregator{ledger: ledger}
}

// GetStatistics returns counts per status, success and failure rates as
// percentages of the total, and the most frequent error messages.
func (a *Aggregator) GetStatistics(ctx context.Context, f Filters) (Statistics, error) {
	sc := store.Scope{Start: f.StartDate, End: f.EndDate, UserID: f.UserID, ReminderID: f.ReminderID}

	counts, err := a.ledger.CountByStatus(ctx, sc)
	if err != nil {
		return Statistics{}, fmt.Errorf("statistics: %w", err)
	}
	topErrors, err := a.ledger.TopErrors(ctx, sc, topErrorLimit)
	if err != nil {
		return Statistics{}, fmt.Errorf("statistics: %w", err)
	}

	s := Statistics{
		Completed:      counts[model.StatusCallCompleted],
		NotTaken:       counts[model.StatusCallNotTaken],
		Errors:         counts[model.StatusCallError],
		CallMade:       counts[model.StatusCallMade],
		Pending:        counts[model.StatusPending],
		TopErrors:      topErrors,
		StartDate:      f.StartDate,
		EndDate:        f.EndDate,
		StatusMeanings: statusMeanings(),
	}
	for _, n := range counts {
		s.Total += n
	}
	if s.Total > 0 {
		s.SuccessRate = percent(s.Completed, s.Total)
		s.FailureRate = percent(s.Errors, s.Total)
	}
	return s, nil
}

func percent(part, total int64) float64 {
	return float64(part) / float64(total) * 100
}

func statusMeanings() map[model.ExecutionStatus]string {
	statuses := []model.ExecutionStatus{
		model.StatusPending,
		model.StatusCallMade,
		model.StatusCallError,
		model.StatusCallNotTaken,
		model.StatusCallCompleted,
	}
	m := make(map[model.ExecutionStatus]string, len(statuses))
	for _, st := range statuses {
		m[st] = st.Description()
	}
	return m
}
