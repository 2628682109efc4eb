package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pathakanu/callMemo/internal/model"
	"github.com/pathakanu/callMemo/internal/store"
	"github.com/pathakanu/callMemo/internal/store/storetest"
)

func strPtr(s string) *string { return &s }

func TestListScheduledAtReturnsActiveMatches(t *testing.T) {
	t.Parallel()
	s, _ := storetest.New(t)
	ctx := context.Background()

	want := storetest.SeedReminder(t, s, model.Reminder{ScheduledHour: 9, ScheduledMinute: 15, IsActive: true, Recurrence: model.RecurrenceDaily})
	storetest.SeedReminder(t, s, model.Reminder{ScheduledHour: 9, ScheduledMinute: 15, IsActive: false, Recurrence: model.RecurrenceDaily})
	storetest.SeedReminder(t, s, model.Reminder{ScheduledHour: 9, ScheduledMinute: 16, IsActive: true, Recurrence: model.RecurrenceDaily})

	got, err := s.ListScheduledAt(ctx, 9, 15)
	if err != nil {
		t.Fatalf("ListScheduledAt returned error: %v", err)
	}
	if len(got) != 1 || got[0].ID != want.ID {
		t.Fatalf("expected only %s, got %+v", want.ID, got)
	}
}

func TestRecordAttemptAdvancesBookkeeping(t *testing.T) {
	t.Parallel()
	s, _ := storetest.New(t)
	ctx := context.Background()
	r := storetest.SeedReminder(t, s, model.Reminder{ScheduledHour: 8, IsActive: true, Recurrence: model.RecurrenceOneTime})

	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	if err := s.RecordAttempt(ctx, r.ID, store.Attempt{At: at, Deactivate: true, Failed: true}); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}

	got, err := s.GetReminder(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReminder returned error: %v", err)
	}
	if got.IsActive || got.ExecutionCount != 1 || got.CallsErrorCount != 1 {
		t.Fatalf("unexpected bookkeeping: %+v", got)
	}
	if got.LastExecutedAt == nil || !got.LastExecutedAt.Equal(at) {
		t.Fatalf("unexpected lastExecutedAt: %v", got.LastExecutedAt)
	}

	if err := s.RecordAttempt(ctx, "missing", store.Attempt{At: at}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExecutionTransitionsAreConditional(t *testing.T) {
	t.Parallel()
	s, _ := storetest.New(t)
	ctx := context.Background()
	r := storetest.SeedReminder(t, s, model.Reminder{ScheduledHour: 8, IsActive: true, Recurrence: model.RecurrenceDaily})

	exec, err := s.CreatePendingExecution(ctx, r, time.Now())
	if err != nil {
		t.Fatalf("CreatePendingExecution returned error: %v", err)
	}
	if exec.Status != model.StatusPending || exec.Snapshot().PhoneNumber != r.PhoneNumber {
		t.Fatalf("unexpected pending execution: %+v", exec)
	}

	if err := s.MarkCallMade(ctx, exec.ID, "call-1"); err != nil {
		t.Fatalf("MarkCallMade returned error: %v", err)
	}
	if err := s.MarkCallError(ctx, exec.ID, "late failure"); !errors.Is(err, store.ErrStaleTransition) {
		t.Fatalf("expected stale transition from call-made, got %v", err)
	}

	got, err := s.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetExecution returned error: %v", err)
	}
	if got.Status != model.StatusCallMade || got.ExternalCallID == nil || *got.ExternalCallID != "call-1" || got.ErrorMessage != nil {
		t.Fatalf("unexpected execution after transitions: %+v", got)
	}
}

func TestSnapshotSurvivesReminderEdits(t *testing.T) {
	t.Parallel()
	s, db := storetest.New(t)
	ctx := context.Background()
	r := storetest.SeedReminder(t, s, model.Reminder{Title: "Before", ScheduledHour: 8, IsActive: true, Recurrence: model.RecurrenceDaily})

	exec, err := s.CreatePendingExecution(ctx, r, time.Now())
	if err != nil {
		t.Fatalf("CreatePendingExecution returned error: %v", err)
	}
	if err := db.Model(&model.Reminder{}).Where("id = ?", r.ID).Update("title", "After").Error; err != nil {
		t.Fatalf("edit reminder: %v", err)
	}

	got, err := s.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetExecution returned error: %v", err)
	}
	if got.Snapshot().Title != "Before" {
		t.Fatalf("snapshot changed with reminder edit: %+v", got.Snapshot())
	}
}

func TestFinalizeExecutionWritesOnceAndCounts(t *testing.T) {
	t.Parallel()
	s, _ := storetest.New(t)
	ctx := context.Background()
	r := storetest.SeedReminder(t, s, model.Reminder{ScheduledHour: 8, IsActive: true, Recurrence: model.RecurrenceDaily})

	exec, err := s.CreatePendingExecution(ctx, r, time.Now())
	if err != nil {
		t.Fatalf("CreatePendingExecution returned error: %v", err)
	}
	if err := s.MarkCallMade(ctx, exec.ID, "call-9"); err != nil {
		t.Fatalf("MarkCallMade returned error: %v", err)
	}

	duration := 42
	out := store.Outcome{Status: model.StatusCallCompleted, CallWasTaken: true, Summary: strPtr("done"), DurationSeconds: &duration}
	if err := s.FinalizeExecution(ctx, exec, out); err != nil {
		t.Fatalf("FinalizeExecution returned error: %v", err)
	}
	if err := s.FinalizeExecution(ctx, exec, store.Outcome{Status: model.StatusCallNotTaken}); !errors.Is(err, store.ErrStaleTransition) {
		t.Fatalf("expected terminal entry to be immutable, got %v", err)
	}

	got, err := s.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetExecution returned error: %v", err)
	}
	if got.Status != model.StatusCallCompleted || got.CallWasTaken == nil || !*got.CallWasTaken || *got.CallDurationSeconds != 42 {
		t.Fatalf("unexpected finalized execution: %+v", got)
	}

	rem, err := s.GetReminder(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReminder returned error: %v", err)
	}
	if rem.CallsTakenCount != 1 || rem.CallsNotTakenCount != 0 {
		t.Fatalf("unexpected counters: %+v", rem)
	}
}

func TestFinalizeExecutionRejectsNonTerminalOutcome(t *testing.T) {
	t.Parallel()
	s, _ := storetest.New(t)
	if err := s.FinalizeExecution(context.Background(), model.Execution{ID: "x"}, store.Outcome{Status: model.StatusCallError}); err == nil {
		t.Fatalf("expected error for call-error outcome")
	}
}

func TestListExecutionsFilters(t *testing.T) {
	t.Parallel()
	s, _ := storetest.New(t)
	ctx := context.Background()
	a := storetest.SeedReminder(t, s, model.Reminder{UserID: "u1", ScheduledHour: 8, IsActive: true, Recurrence: model.RecurrenceDaily})
	b := storetest.SeedReminder(t, s, model.Reminder{UserID: "u2", ScheduledHour: 8, IsActive: true, Recurrence: model.RecurrenceDaily})

	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := s.CreatePendingExecution(ctx, a, base.AddDate(0, 0, i)); err != nil {
			t.Fatalf("seed execution: %v", err)
		}
	}
	other, err := s.CreatePendingExecution(ctx, b, base)
	if err != nil {
		t.Fatalf("seed execution: %v", err)
	}
	if err := s.MarkCallError(ctx, other.ID, "boom"); err != nil {
		t.Fatalf("MarkCallError returned error: %v", err)
	}

	byReminder, err := s.ListExecutions(ctx, store.ExecutionFilter{ReminderID: a.ID})
	if err != nil {
		t.Fatalf("ListExecutions returned error: %v", err)
	}
	if len(byReminder) != 3 || !byReminder[0].AttemptedAt.After(byReminder[2].AttemptedAt) {
		t.Fatalf("expected 3 executions newest first, got %+v", byReminder)
	}

	start := base.AddDate(0, 0, 1)
	ranged, err := s.ListExecutions(ctx, store.ExecutionFilter{UserID: "u1", Start: &start, Limit: 1})
	if err != nil {
		t.Fatalf("ListExecutions returned error: %v", err)
	}
	if len(ranged) != 1 || !ranged[0].AttemptedAt.Equal(base.AddDate(0, 0, 2)) {
		t.Fatalf("unexpected ranged result: %+v", ranged)
	}

	failed, err := s.ListExecutions(ctx, store.ExecutionFilter{Status: model.StatusCallError})
	if err != nil {
		t.Fatalf("ListExecutions returned error: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != other.ID {
		t.Fatalf("unexpected status filter result: %+v", failed)
	}
}
