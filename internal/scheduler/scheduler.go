// Package scheduler drives the minute execution tick and the hourly
// reconciliation tick. Each trigger skips a run while its previous run is
// still in flight.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pathakanu/callMemo/internal/caller"
	"github.com/pathakanu/callMemo/internal/logging"
	"github.com/pathakanu/callMemo/internal/model"
	"github.com/pathakanu/callMemo/internal/reconcile"
	"github.com/pathakanu/callMemo/internal/recurrence"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Store lists the reminders and ledger entries the ticks work on.
type Store interface {
	ListScheduledAt(ctx context.Context, hour, minute int) ([]model.Reminder, error)
	ListActive(ctx context.Context) ([]model.Reminder, error)
	ListCallMade(ctx context.Context) ([]model.Execution, error)
}

// Executor runs one reminder attempt.
type Executor interface {
	Execute(ctx context.Context, reminder model.Reminder, now time.Time) (caller.Result, error)
}

// Reconciler finalizes a batch of call-made entries.
type Reconciler interface {
	ReconcileBatch(ctx context.Context, execs []model.Execution) reconcile.Summary
}

// Options configures the cron triggers.
type Options struct {
	Location   *time.Location
	MinuteSpec string
	HourlySpec string
}

// TickSummary counts what one minute tick did.
type TickSummary struct {
	Due      int
	Executed int
	Skipped  int
	Failed   int
}

// Upcoming is an active reminder together with its next due minute.
type Upcoming struct {
	Reminder model.Reminder
	At       time.Time
}

// Driver owns the cron scheduler.
type Driver struct {
	store      Store
	executor   Executor
	reconciler Reconciler
	opts       Options
	log        zerolog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	now    func() time.Time
}

// New creates a Driver. It does nothing until Start is called.
func New(st Store, executor Executor, reconciler Reconciler, opts Options, log zerolog.Logger) *Driver {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.MinuteSpec == "" {
		opts.MinuteSpec = "* * * * *"
	}
	if opts.HourlySpec == "" {
		opts.HourlySpec = "0 * * * *"
	}
	return &Driver{
		store:      st,
		executor:   executor,
		reconciler: reconciler,
		opts:       opts,
		log:        logging.Component(log, "scheduler"),
		now:        time.Now,
	}
}

// Start registers both triggers and starts the cron loop. Jobs run with a
// context derived from ctx that is cancelled by Stop.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cron != nil {
		return errors.New("scheduler: already started")
	}

	cl := cronLogger{log: d.log}
	c := cron.New(
		cron.WithLocation(d.opts.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(d.opts.MinuteSpec, func() {
		d.RunMinuteTick(jobCtx, d.now())
	}); err != nil {
		cancel()
		return fmt.Errorf("scheduler: minute tick spec %q: %w", d.opts.MinuteSpec, err)
	}
	if _, err := c.AddFunc(d.opts.HourlySpec, func() {
		if _, err := d.RunHourlyTick(jobCtx); err != nil {
			d.log.Error().Err(err).Msg("hourly tick failed")
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("scheduler: hourly tick spec %q: %w", d.opts.HourlySpec, err)
	}

	c.Start()
	d.cron = c
	d.cancel = cancel
	d.log.Info().Str("minute_spec", d.opts.MinuteSpec).Str("hourly_spec", d.opts.HourlySpec).Str("location", d.opts.Location.String()).Msg("scheduler started")
	return nil
}

// Stop halts both triggers and waits for running jobs until ctx expires.
// In-flight jobs are cancelled if they outlive ctx.
func (d *Driver) Stop(ctx context.Context) {
	d.mu.Lock()
	c, cancel := d.cron, d.cancel
	d.cron, d.cancel = nil, nil
	d.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		d.log.Warn().Msg("scheduler jobs still running at shutdown, cancelling")
	}
	cancel()
	d.log.Info().Msg("scheduler stopped")
}

// ListDueReminders returns the active reminders due at now.
func (d *Driver) ListDueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	now = now.In(d.opts.Location)
	candidates, err := d.store.ListScheduledAt(ctx, now.Hour(), now.Minute())
	if err != nil {
		return nil, err
	}

	due := candidates[:0]
	for _, r := range candidates {
		if recurrence.IsDue(r, now) {
			due = append(due, r)
		}
	}
	return due, nil
}

// RunMinuteTick executes every reminder due at now, one after another.
func (d *Driver) RunMinuteTick(ctx context.Context, now time.Time) TickSummary {
	now = now.In(d.opts.Location)
	log := d.log.With().Str("tick", "minute").Time("now", now).Logger()

	due, err := d.ListDueReminders(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("list due reminders failed")
		return TickSummary{}
	}

	sum := TickSummary{Due: len(due)}
	for _, r := range due {
		if ctx.Err() != nil {
			log.Warn().Int("remaining", len(due)-sum.Executed-sum.Skipped-sum.Failed).Msg("tick cancelled")
			break
		}
		_, err := d.executor.Execute(ctx, r, now)
		switch {
		case err == nil:
			sum.Executed++
		case errors.Is(err, caller.ErrNotDue):
			sum.Skipped++
		case errors.Is(err, caller.ErrInvalidReminder):
			sum.Failed++
			log.Warn().Err(err).Str("reminder_id", r.ID).Msg("reminder rejected")
		default:
			sum.Failed++
			log.Error().Err(err).Str("reminder_id", r.ID).Msg("reminder execution failed")
		}
	}

	if sum.Due > 0 {
		log.Info().Int("due", sum.Due).Int("executed", sum.Executed).Int("skipped", sum.Skipped).Int("failed", sum.Failed).Msg("minute tick finished")
	}
	return sum
}

// RunHourlyTick hands every call-made entry to the reconciler.
func (d *Driver) RunHourlyTick(ctx context.Context) (reconcile.Summary, error) {
	execs, err := d.store.ListCallMade(ctx)
	if err != nil {
		return reconcile.Summary{}, err
	}
	if len(execs) == 0 {
		d.log.Debug().Msg("nothing to reconcile")
		return reconcile.Summary{}, nil
	}
	return d.reconciler.ReconcileBatch(ctx, execs), nil
}

// ListUpcoming returns active reminders that will be due within window of now,
// soonest first.
func (d *Driver) ListUpcoming(ctx context.Context, now time.Time, window time.Duration) ([]Upcoming, error) {
	now = now.In(d.opts.Location)
	active, err := d.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	var upcoming []Upcoming
	for _, r := range active {
		if at, ok := recurrence.UpcomingWithin(r, now, window); ok {
			upcoming = append(upcoming, Upcoming{Reminder: r, At: at})
		}
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].At.Before(upcoming[j].At)
	})
	return upcoming, nil
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
