// Package reconcile finalizes call-made ledger entries from the provider's call status.
package reconcile

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/pathakanu/callMemo/internal/logging"
	"github.com/pathakanu/callMemo/internal/model"
	"github.com/pathakanu/callMemo/internal/provider"
	"github.com/pathakanu/callMemo/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// placeholderCallID is written by some legacy paths instead of a real call id.
const placeholderCallID = "call-error"

// Finalizer writes terminal ledger outcomes.
type Finalizer interface {
	FinalizeExecution(ctx context.Context, exec model.Execution, out store.Outcome) error
}

// Options tunes a Worker. Zero values fall back to defaults.
type Options struct {
	Concurrency int
	RatePerSec  int
	Timeout     time.Duration
	// Greeting is the fragment a human-answered transcript contains.
	Greeting string
}

// Summary counts what one batch did.
type Summary struct {
	Examined  int
	Completed int
	NotTaken  int
	Skipped   int
	Failed    int
}

// Worker reconciles ledger entries against a provider.
type Worker struct {
	store   Finalizer
	fetcher provider.CallStatusFetcher
	opts    Options
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New creates a Worker.
func New(st Finalizer, fetcher provider.CallStatusFetcher, opts Options, log zerolog.Logger) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if strings.TrimSpace(opts.Greeting) == "" {
		opts.Greeting = "hi there"
	}
	return &Worker{
		store:   st,
		fetcher: fetcher,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		log:     logging.Component(log, "reconcile"),
	}
}

// ReconcileBatch examines every call-made entry once. A failure on one entry
// leaves it call-made for the next batch and never stops its siblings.
func (w *Worker) ReconcileBatch(ctx context.Context, execs []model.Execution) Summary {
	var (
		mu  sync.Mutex
		sum Summary
	)
	count := func(fn func(*Summary)) {
		mu.Lock()
		fn(&sum)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(w.opts.Concurrency)
	for _, exec := range execs {
		count(func(s *Summary) { s.Examined++ })

		callID, ok := reconcilable(exec)
		if !ok {
			w.log.Warn().Str("execution_id", exec.ID).Str("status", string(exec.Status)).Msg("skipping entry without a usable call id")
			count(func(s *Summary) { s.Skipped++ })
			continue
		}

		g.Go(func() error {
			status, err := w.reconcileOne(ctx, exec, callID)
			count(func(s *Summary) {
				switch {
				case err != nil:
					s.Failed++
				case status == model.StatusCallCompleted:
					s.Completed++
				default:
					s.NotTaken++
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	w.log.Info().
		Int("examined", sum.Examined).
		Int("completed", sum.Completed).
		Int("not_taken", sum.NotTaken).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Msg("reconciliation batch finished")
	return sum
}

func (w *Worker) reconcileOne(ctx context.Context, exec model.Execution, callID string) (model.ExecutionStatus, error) {
	log := w.log.With().Str("execution_id", exec.ID).Str("call_id", callID).Logger()

	if err := w.limiter.Wait(ctx); err != nil {
		log.Warn().Err(err).Msg("rate limiter wait aborted")
		return "", err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	status, err := w.fetcher.FetchCallStatus(fetchCtx, callID)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("fetch call status failed, will retry next batch")
		return "", err
	}

	out := Classify(status, w.opts.Greeting)
	if err := w.store.FinalizeExecution(ctx, exec, out); err != nil {
		if errors.Is(err, store.ErrStaleTransition) {
			log.Warn().Msg("entry already finalized")
		} else {
			log.Error().Err(err).Msg("finalize execution failed")
		}
		return "", err
	}

	log.Info().Str("outcome", string(out.Status)).Msg("execution finalized")
	return out.Status, nil
}

func reconcilable(exec model.Execution) (string, bool) {
	if exec.Status != model.StatusCallMade || exec.ExternalCallID == nil {
		return "", false
	}
	id := *exec.ExternalCallID
	if id == placeholderCallID || !provider.ValidCallID(id) {
		return "", false
	}
	return id, true
}

// Classify maps a provider call status to a terminal outcome.
//
// A call counts as taken only when it started, produced an analysis summary
// and its transcript contains greeting (case-insensitive). Anything else,
// voicemail included, is not taken.
func Classify(status provider.CallStatus, greeting string) store.Outcome {
	taken := status.StartedAt != nil &&
		strings.TrimSpace(status.Summary) != "" &&
		strings.Contains(strings.ToLower(status.Transcript), strings.ToLower(strings.TrimSpace(greeting)))
	if !taken {
		return store.Outcome{Status: model.StatusCallNotTaken}
	}

	out := store.Outcome{
		Status:       model.StatusCallCompleted,
		CallWasTaken: true,
		Summary:      optional(status.Summary),
		Cost:         status.Cost,
		EndReason:    optional(status.EndReason),
	}
	if status.EndedAt != nil {
		seconds := int(math.Floor(status.EndedAt.Sub(*status.StartedAt).Seconds()))
		out.DurationSeconds = &seconds
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
