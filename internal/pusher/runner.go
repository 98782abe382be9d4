package pusher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"xbk-pusher/internal/feed"
	"xbk-pusher/internal/notify"
	"xbk-pusher/internal/state"
)

// ErrBusy is returned when a cycle is requested while another one runs.
var ErrBusy = errors.New("cycle already running")

var (
	metricCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pusher_cycles_total",
		Help: "The total number of poll cycles by outcome",
	}, []string{"outcome"})

	metricCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pusher_cycle_duration_seconds",
		Help:    "Duration of completed poll cycles",
		Buckets: prometheus.DefBuckets,
	})

	metricNewItems = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pusher_new_items_total",
		Help: "The total number of new items found",
	})
)

// Filter decides which fetched items are new and owns the dedup window.
type Filter interface {
	Filter(ctx context.Context, items []feed.Item) (state.Batch, error)
	Reset(ctx context.Context) error
}

type Notifier interface {
	Notify(ctx context.Context, items []feed.Item) error
}

type Options struct {
	Interval time.Duration
	// SkipInitialBatch records the first reseeded batch of the process as a
	// baseline without notifying.
	SkipInitialBatch bool
	CleanupTimeout   time.Duration
}

// Status is a snapshot of the runner for the ops endpoint.
type Status struct {
	Phase        string        `json:"phase"`
	Cycles       int64         `json:"cycles"`
	LastRun      time.Time     `json:"last_run,omitzero"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastOutcome  string        `json:"last_outcome,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	LastNew      int           `json:"last_new"`
}

// Runner drives fetch, filter and notify on a fixed interval. Only one cycle
// runs at a time; a tick that lands on a running cycle is skipped.
type Runner struct {
	source   feed.Source
	filter   Filter
	notifier Notifier
	opts     Options

	cycleMu   sync.Mutex
	baselined bool // guarded by cycleMu

	phase atomic.Int32

	statusMu sync.RWMutex
	status   Status

	shutdownOnce sync.Once
}

func NewRunner(source feed.Source, filter Filter, notifier Notifier, opts Options) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 5 * time.Second
	}
	return &Runner{
		source:   source,
		filter:   filter,
		notifier: notifier,
		opts:     opts,
	}
}

func (r *Runner) Phase() Phase {
	return Phase(r.phase.Load())
}

func (r *Runner) setPhase(p Phase) {
	r.phase.Store(int32(p))
}

func (r *Runner) Status() Status {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	s := r.status
	s.Phase = r.Phase().String()
	return s
}

// Run executes one cycle right away, then one per interval until ctx is
// done. The dedup window is cleared before it returns.
func (r *Runner) Run(ctx context.Context) error {
	defer r.Shutdown()

	logger := slog.Default()
	clog := cronLogger{logger: logger}

	r.runScheduled(ctx)

	c := cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog)),
	)
	c.Schedule(cron.Every(r.opts.Interval), cron.FuncJob(func() {
		r.runScheduled(ctx)
	}))
	c.Start()

	<-ctx.Done()
	logger.Info("Stopping scheduler")
	<-c.Stop().Done()
	return nil
}

func (r *Runner) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := r.RunCycle(ctx); err != nil {
		if errors.Is(err, ErrBusy) {
			slog.Warn("Previous cycle still running, skipping tick")
			return
		}
		slog.Error("Cycle failed", "outcome", outcome(err), "error", err)
	}
}

// RunCycle performs a single fetch, filter and notify pass.
func (r *Runner) RunCycle(ctx context.Context) error {
	if !r.cycleMu.TryLock() {
		metricCycles.WithLabelValues("skipped").Inc()
		return ErrBusy
	}
	defer r.cycleMu.Unlock()
	defer r.setPhase(PhaseIdle)

	start := time.Now()
	n, err := r.cycle(ctx)
	elapsed := time.Since(start)

	result := outcome(err)
	metricCycles.WithLabelValues(result).Inc()
	metricCycleDuration.Observe(elapsed.Seconds())

	r.statusMu.Lock()
	r.status.Cycles++
	r.status.LastRun = start
	r.status.LastDuration = elapsed
	r.status.LastOutcome = result
	r.status.LastNew = n
	r.status.LastError = ""
	if err != nil {
		r.status.LastError = err.Error()
	}
	r.statusMu.Unlock()

	return err
}

func (r *Runner) cycle(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.setPhase(PhaseFetching)
	items, err := r.source.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}

	r.setPhase(PhaseFiltering)
	batch, err := r.filter.Filter(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("filter: %w", err)
	}
	first := !r.baselined
	r.baselined = true

	logger := slog.With("fetched", len(items), "new", len(batch.Items), "reseeded", batch.Reseeded)
	if len(batch.Items) == 0 {
		logger.Debug("No new items")
		return 0, nil
	}
	if first && batch.Reseeded && r.opts.SkipInitialBatch {
		logger.Info("Recorded initial batch without notifying")
		return 0, nil
	}

	logger.Info("Found new items")
	metricNewItems.Add(float64(len(batch.Items)))

	r.setPhase(PhaseNotifying)
	if err := r.notifier.Notify(ctx, batch.Items); err != nil {
		return len(batch.Items), fmt.Errorf("notify: %w", err)
	}
	return len(batch.Items), nil
}

// Shutdown clears the dedup window. It waits for a running cycle, runs once,
// and only logs failures.
func (r *Runner) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.cycleMu.Lock()
		defer r.cycleMu.Unlock()

		r.setPhase(PhaseCleanup)
		defer r.setPhase(PhaseStopped)

		ctx, cancel := context.WithTimeout(context.Background(), r.opts.CleanupTimeout)
		defer cancel()

		if err := r.filter.Reset(ctx); err != nil {
			slog.Error("Failed to clear dedup window", "error", err)
			return
		}
		slog.Info("Cleared dedup window")
	})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBusy):
		return "skipped"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, feed.ErrFetch):
		return "fetch_error"
	case errors.Is(err, state.ErrStoreUnavailable):
		return "store_error"
	case errors.Is(err, notify.ErrDelivery):
		return "notify_error"
	default:
		return "error"
	}
}
