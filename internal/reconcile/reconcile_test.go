package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pathakanu/callMemo/internal/model"
	"github.com/pathakanu/callMemo/internal/provider"
	"github.com/pathakanu/callMemo/internal/store"
	"github.com/pathakanu/callMemo/internal/store/storetest"
	"github.com/rs/zerolog"
)

type fakeFetcher struct {
	mu       sync.Mutex
	statuses map[string]provider.CallStatus
	fetched  []string
}

func (f *fakeFetcher) FetchCallStatus(_ context.Context, callID string) (provider.CallStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, callID)
	status, ok := f.statuses[callID]
	if !ok {
		return provider.CallStatus{}, &provider.Error{Provider: "fake", Op: "fetch call", StatusCode: 503, Message: "unavailable"}
	}
	return status, nil
}

func timePtr(t time.Time) *time.Time { return &t }

func TestClassify(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(95*time.Second + 700*time.Millisecond)
	cost := 0.12

	cases := []struct {
		name   string
		status provider.CallStatus
		want   model.ExecutionStatus
	}{
		{"answered", provider.CallStatus{StartedAt: &start, EndedAt: &end, Summary: "Reminded.", Transcript: "AI: Hi there Ada!", Cost: &cost, EndReason: "customer-ended-call"}, model.StatusCallCompleted},
		{"never started", provider.CallStatus{Summary: "Reminded.", Transcript: "hi there"}, model.StatusCallNotTaken},
		{"no summary", provider.CallStatus{StartedAt: &start, Transcript: "hi there"}, model.StatusCallNotTaken},
		{"voicemail", provider.CallStatus{StartedAt: &start, Summary: "Left message.", Transcript: "The person you are calling is unavailable"}, model.StatusCallNotTaken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.status, "hi there")
			if got.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got.Status)
			}
			if tc.want == model.StatusCallNotTaken && (got.CallWasTaken || got.Summary != nil || got.DurationSeconds != nil) {
				t.Fatalf("not-taken outcome carries call details: %+v", got)
			}
		})
	}

	got := Classify(cases[0].status, "hi there")
	if got.DurationSeconds == nil || *got.DurationSeconds != 95 {
		t.Fatalf("expected floored duration 95, got %v", got.DurationSeconds)
	}
	if *got.Summary != "Reminded." || *got.EndReason != "customer-ended-call" || *got.Cost != cost || !got.CallWasTaken {
		t.Fatalf("unexpected completed outcome: %+v", got)
	}

	noEnd := cases[0].status
	noEnd.EndedAt = nil
	if got := Classify(noEnd, "hi there"); got.DurationSeconds != nil {
		t.Fatalf("expected nil duration without end time, got %d", *got.DurationSeconds)
	}
}

func seedCallMade(t *testing.T, st *store.Store, r model.Reminder, callID string) model.Execution {
	t.Helper()
	ctx := context.Background()
	exec, err := st.CreatePendingExecution(ctx, r, time.Now())
	if err != nil {
		t.Fatalf("seed execution: %v", err)
	}
	if err := st.MarkCallMade(ctx, exec.ID, callID); err != nil {
		t.Fatalf("mark call made: %v", err)
	}
	exec, err = st.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("reload execution: %v", err)
	}
	return exec
}

func TestReconcileBatchFinalizesAndContinuesPastFailures(t *testing.T) {
	t.Parallel()
	st, _ := storetest.New(t)
	ctx := context.Background()
	r := storetest.SeedReminder(t, st, model.Reminder{ScheduledHour: 9, IsActive: true, Recurrence: model.RecurrenceDaily})

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{statuses: map[string]provider.CallStatus{
		"answered":  {StartedAt: &start, EndedAt: timePtr(start.Add(time.Minute)), Summary: "ok", Transcript: "Hi there"},
		"voicemail": {StartedAt: &start, Summary: "vm", Transcript: "leave a message"},
	}}

	answered := seedCallMade(t, st, r, "answered")
	voicemail := seedCallMade(t, st, r, "voicemail")
	unreachable := seedCallMade(t, st, r, "unreachable")
	placeholder := seedCallMade(t, st, r, "call-error")
	malformed := seedCallMade(t, st, r, "not a call id!")

	w := New(st, fetcher, Options{Concurrency: 2, RatePerSec: 100, Timeout: time.Second}, zerolog.Nop())
	sum := w.ReconcileBatch(ctx, []model.Execution{answered, voicemail, unreachable, placeholder, malformed})

	want := Summary{Examined: 5, Completed: 1, NotTaken: 1, Skipped: 2, Failed: 1}
	if sum != want {
		t.Fatalf("expected %+v, got %+v", want, sum)
	}
	if len(fetcher.fetched) != 3 {
		t.Fatalf("expected 3 provider lookups, got %v", fetcher.fetched)
	}

	for id, status := range map[string]model.ExecutionStatus{
		answered.ID:    model.StatusCallCompleted,
		voicemail.ID:   model.StatusCallNotTaken,
		unreachable.ID: model.StatusCallMade,
		placeholder.ID: model.StatusCallMade,
		malformed.ID:   model.StatusCallMade,
	} {
		got, err := st.GetExecution(ctx, id)
		if err != nil {
			t.Fatalf("GetExecution returned error: %v", err)
		}
		if got.Status != status {
			t.Fatalf("execution %s: expected %s, got %s", id, status, got.Status)
		}
	}

	rem, err := st.GetReminder(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReminder returned error: %v", err)
	}
	if rem.CallsTakenCount != 1 || rem.CallsNotTakenCount != 1 {
		t.Fatalf("unexpected counters: taken=%d not_taken=%d", rem.CallsTakenCount, rem.CallsNotTakenCount)
	}
}

func TestReconcileBatchLeavesTerminalEntriesAlone(t *testing.T) {
	t.Parallel()
	st, _ := storetest.New(t)
	ctx := context.Background()
	r := storetest.SeedReminder(t, st, model.Reminder{ScheduledHour: 9, IsActive: true, Recurrence: model.RecurrenceDaily})

	start := time.Now()
	fetcher := &fakeFetcher{statuses: map[string]provider.CallStatus{
		"call-1": {StartedAt: &start, Summary: "ok", Transcript: "hi there"},
	}}
	exec := seedCallMade(t, st, r, "call-1")
	w := New(st, fetcher, Options{RatePerSec: 100}, zerolog.Nop())

	if sum := w.ReconcileBatch(ctx, []model.Execution{exec}); sum.Completed != 1 {
		t.Fatalf("first batch did not complete: %+v", sum)
	}
	// A stale copy of the entry handed in again must not touch the row or counters.
	if sum := w.ReconcileBatch(ctx, []model.Execution{exec}); sum.Failed != 1 {
		t.Fatalf("expected stale entry to fail, got %+v", sum)
	}

	rem, err := st.GetReminder(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetReminder returned error: %v", err)
	}
	if rem.CallsTakenCount != 1 {
		t.Fatalf("expected counter to stay at 1, got %d", rem.CallsTakenCount)
	}
}

func TestReconcileBatchStopsWaitingWhenCancelled(t *testing.T) {
	t.Parallel()
	st, _ := storetest.New(t)
	r := storetest.SeedReminder(t, st, model.Reminder{ScheduledHour: 9, IsActive: true, Recurrence: model.RecurrenceDaily})
	exec := seedCallMade(t, st, r, "call-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &fakeFetcher{}
	sum := New(st, fetcher, Options{}, zerolog.Nop()).ReconcileBatch(ctx, []model.Execution{exec})
	if sum.Failed != 1 || len(fetcher.fetched) != 0 {
		t.Fatalf("expected cancelled batch to fail without fetching, got %+v", sum)
	}
	if _, err := st.GetExecution(context.Background(), exec.ID); errors.Is(err, store.ErrNotFound) {
		t.Fatalf("execution vanished")
	}
}
