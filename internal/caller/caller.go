// Package caller drives a single reminder through one call attempt:
// pending ledger entry, call placement, ledger outcome, reminder bookkeeping.
package caller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pathakanu/callMemo/internal/logging"
	"github.com/pathakanu/callMemo/internal/model"
	"github.com/pathakanu/callMemo/internal/provider"
	"github.com/pathakanu/callMemo/internal/recurrence"
	"github.com/pathakanu/callMemo/internal/store"
	"github.com/rs/zerolog"
)

var (
	// ErrNotDue means the reminder is not due any more, usually because a
	// concurrent attempt already executed it for this period.
	ErrNotDue = errors.New("caller: reminder is not due")
	// ErrInvalidReminder is returned for reminders that cannot be dialled.
	ErrInvalidReminder = errors.New("caller: invalid reminder")
	// ErrPlacement wraps every call placement failure.
	ErrPlacement = errors.New("caller: call placement failed")
)

// Store is the persistence the orchestrator needs.
type Store interface {
	GetReminder(ctx context.Context, id string) (model.Reminder, error)
	Deactivate(ctx context.Context, reminderID string) error
	CreatePendingExecution(ctx context.Context, r model.Reminder, at time.Time) (model.Execution, error)
	MarkCallMade(ctx context.Context, executionID, callID string) error
	MarkCallError(ctx context.Context, executionID, message string) error
	RecordAttempt(ctx context.Context, reminderID string, a store.Attempt) error
}

// Summarizer produces the spoken summary sentence when a reminder has none.
type Summarizer interface {
	SummarizePurpose(ctx context.Context, purpose string) (string, error)
}

// Options configures the provider request.
type Options struct {
	AssistantID   string
	PhoneNumberID string

	// Timeout bounds each provider call. A timed-out placement is a call-error.
	Timeout  time.Duration
	// Location is where scheduled hours and calendar periods are read.
	Location *time.Location
}

// Orchestrator executes due reminders one attempt at a time per reminder.
type Orchestrator struct {
	store      Store
	placer     provider.CallPlacer
	summarizer Summarizer
	opts       Options
	locks      *keyedMutex
	log        zerolog.Logger
}

// Result describes what one Execute call did.
type Result struct {
	Execution model.Execution
	CallID    string
}

// New creates an orchestrator. summarizer may be nil.
func New(st Store, placer provider.CallPlacer, summarizer Summarizer, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Orchestrator{
		store:      st,
		placer:     placer,
		summarizer: summarizer,
		opts:       opts,
		locks:      newKeyedMutex(),
		log:        logging.Component(log, "caller"),
	}
}

// Execute performs one attempt for the reminder at now. now is read in the
// orchestrator's location whatever zone it carries.
//
// The reminder is reloaded and re-evaluated under a per-reminder lock, so
// concurrent invocations for the same due instant produce exactly one attempt;
// the losers get ErrNotDue. Bookkeeping advances even when placement fails.
func (o *Orchestrator) Execute(ctx context.Context, reminder model.Reminder, now time.Time) (Result, error) {
	now = now.In(o.opts.Location)
	unlock := o.locks.Lock(reminder.ID)
	defer unlock()

	current, err := o.store.GetReminder(ctx, reminder.ID)
	if err != nil {
		return Result{}, fmt.Errorf("load reminder %s: %w", reminder.ID, err)
	}
	log := o.log.With().Str("reminder_id", current.ID).Str("recurrence", string(current.Recurrence)).Logger()

	if recurrence.NeedsDeactivation(current) {
		log.Warn().Msg("one-time reminder still active after execution, deactivating")
		if err := o.store.Deactivate(ctx, current.ID); err != nil {
			return Result{}, fmt.Errorf("deactivate one-time reminder %s: %w", current.ID, err)
		}
		return Result{}, ErrNotDue
	}
	if !recurrence.IsDue(current, now) {
		return Result{}, ErrNotDue
	}
	if err := Validate(current); err != nil {
		return Result{}, err
	}

	exec, err := o.store.CreatePendingExecution(ctx, current, now)
	if err != nil {
		return Result{}, fmt.Errorf("create ledger entry: %w", err)
	}
	log = log.With().Str("execution_id", exec.ID).Logger()

	req := o.buildRequest(ctx, exec.Snapshot(), log)

	placeCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	placed, placeErr := o.placer.PlaceCall(placeCtx, req)
	cancel()

	// The outcome must be recorded even if the caller gave up meanwhile.
	writeCtx := context.WithoutCancel(ctx)

	res := Result{Execution: exec}
	var ledgerErr error
	if placeErr != nil {
		ledgerErr = o.store.MarkCallError(writeCtx, exec.ID, errorMessage(placeErr))
		placeErr = fmt.Errorf("%w: %w", ErrPlacement, placeErr)
		log.Error().Err(placeErr).Msg("call placement failed")
		res.Execution.Status = model.StatusCallError
	} else {
		log.Info().Str("call_id", placed.CallID).Msg("call placed")
		ledgerErr = o.store.MarkCallMade(writeCtx, exec.ID, placed.CallID)
		res.CallID = placed.CallID
		res.Execution.Status = model.StatusCallMade
	}
	if ledgerErr != nil {
		ledgerErr = fmt.Errorf("record call outcome: %w", ledgerErr)
		log.Error().Err(ledgerErr).Msg("ledger update failed")
	}

	bookErr := o.store.RecordAttempt(writeCtx, current.ID, store.Attempt{
		At:         now,
		Deactivate: current.Recurrence == model.RecurrenceOneTime,
		Failed:     placeErr != nil,
	})
	if bookErr != nil {
		bookErr = fmt.Errorf("reminder bookkeeping: %w", bookErr)
		log.Error().Err(bookErr).Msg("reminder bookkeeping failed")
	}

	return res, errors.Join(placeErr, ledgerErr, bookErr)
}

// Validate rejects reminders that cannot be dialled before any ledger entry exists.
func Validate(r model.Reminder) error {
	switch {
	case r.ScheduledHour < 0 || r.ScheduledHour > 23:
		return fmt.Errorf("%w: scheduled hour %d out of range", ErrInvalidReminder, r.ScheduledHour)
	case r.ScheduledMinute < 0 || r.ScheduledMinute > 59:
		return fmt.Errorf("%w: scheduled minute %d out of range", ErrInvalidReminder, r.ScheduledMinute)
	case provider.NormalizePhone(r.PhoneNumber) == "":
		return fmt.Errorf("%w: missing callee phone number", ErrInvalidReminder)
	case r.CalleeName == "":
		return fmt.Errorf("%w: missing callee name", ErrInvalidReminder)
	}
	return nil
}

func (o *Orchestrator) buildRequest(ctx context.Context, snap model.ReminderSnapshot, log zerolog.Logger) provider.PlaceCallRequest {
	return provider.PlaceCallRequest{
		AssistantID:   o.opts.AssistantID,
		PhoneNumberID: o.opts.PhoneNumberID,
		To:            provider.NormalizePhone(snap.PhoneNumber),
		Variables: provider.TemplateVariables{
			CustomerName:     snap.CalleeName,
			ReminderSummary:  o.summary(ctx, snap, log),
			Time:             fmt.Sprintf("at %d:%02d", snap.ScheduledHour, snap.ScheduledMinute),
			ReminderSentence: snap.CallPurpose,
		},
	}
}

func (o *Orchestrator) summary(ctx context.Context, snap model.ReminderSnapshot, log zerolog.Logger) string {
	if snap.PurposeSummary != "" || snap.CallPurpose == "" || o.summarizer == nil {
		return snap.PurposeSummary
	}

	sumCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()
	summary, err := o.summarizer.SummarizePurpose(sumCtx, snap.CallPurpose)
	if err != nil {
		log.Warn().Err(err).Msg("purpose summary failed, using purpose text")
		return snap.CallPurpose
	}
	return summary
}

func errorMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "call placement timed out"
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		return perr.Error()
	}
	return err.Error()
}
