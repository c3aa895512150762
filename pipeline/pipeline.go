package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/dcshock/scrapepipe/cache"
	"github.com/dcshock/scrapepipe/fetch"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrStop ends a run early without failing it. Return it (or wrap it) from
// any stage function or yield it from a generator: the pipeline stops pulling,
// runs cleanup and reports the run as StateStoppedEarly with no error.
var ErrStop = errors.New("pipeline stopped")

var errAborted = errors.New("pipeline run aborted by panic")

// IsStop reports whether err is or wraps ErrStop.
func IsStop(err error) bool { return errors.Is(err, ErrStop) }

// State is the lifecycle state of a run.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateExhausted
	StateStoppedEarly
	StateFailed
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExhausted:
		return "exhausted"
	case StateStoppedEarly:
		return "stopped_early"
	case StateFailed:
		return "failed"
	case StateCleanedUp:
		return "cleaned_up"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StageStats counts the values that entered and left one stage.
type StageStats struct {
	Index int
	Name  string
	Kind  Kind
	In    int
	Out   int
}

// Stats summarizes a run. State is the terminal state reached before cleanup
// (exhausted, stopped early or failed).
type Stats struct {
	RunID    string
	Pipeline string
	Replay   bool
	State    State
	Items    int
	Elapsed  time.Duration
	Stages   []StageStats
}

// Observer is notified around each run, e.g. to log it or persist it to a
// run table. BeforeRun is called before any stage is built; an error fails
// the run. AfterRun is called once the run has ended, whatever the outcome,
// with the run's error (nil for exhausted and stopped-early runs).
type Observer interface {
	BeforeRun(ctx context.Context, run *Run) error
	AfterRun(ctx context.Context, run *Run, stats Stats, runErr error) error
}

// MultiObserver fans out to several observers in order. BeforeRun stops at
// the first error; AfterRun calls every observer and joins their errors.
type MultiObserver []Observer

func (m MultiObserver) BeforeRun(ctx context.Context, run *Run) error {
	for _, o := range m {
		if err := o.BeforeRun(ctx, run); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiObserver) AfterRun(ctx context.Context, run *Run, stats Stats, runErr error) error {
	var errs []error
	for _, o := range m {
		if err := o.AfterRun(ctx, run, stats, runErr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunOptions configures one run. All fields are optional.
type RunOptions struct {
	// RunID overrides the generated UUID.
	RunID string
	// Logger receives run and fetch logs; default no-op.
	Logger *zap.Logger
	// Observer is notified before and after the run.
	Observer Observer
	// CacheDir holds the replay store file <CacheDir>/<Name>.store when the
	// pipeline is in replay mode and Store is nil. Default ".".
	CacheDir string
	// Store replaces the replay store file. The caller keeps ownership.
	Store cache.Store
	// ResetCache recreates the replay store file before the run.
	ResetCache bool
	// FetchOptions are appended to the run's fetcher options.
	FetchOptions []fetch.Option
	// Each is called by Pipeline.Run for every value. Returning ErrStop
	// stops the run cleanly; any other error fails it.
	Each func(v any) error
}

// Pipeline composes stages into one lazy stream.
type Pipeline struct {
	// Name identifies the pipeline in logs and namespaces its replay cache.
	Name string
	// Replay serves fetches from the replay store and records live ones.
	Replay bool
	// Stages builds the ordered stage list for one run. The first stage must
	// be a source and no later stage may be one.
	Stages func(run *Run) ([]Stage, error)
	// BeforeRun and AfterRun are optional pipeline-level hooks, called after
	// the run's fetcher exists and before it is closed.
	BeforeRun func(ctx context.Context, run *Run) error
	AfterRun  func(ctx context.Context, run *Run, runErr error) error
}

// Run is the state of one pipeline execution. Stages reach it through the
// builder argument or RunFromContext.
type Run struct {
	ID       string
	Pipeline string
	Replay   bool

	logger   *zap.Logger
	fetcher  *fetch.Fetcher
	store    cache.Store
	ownStore bool
	state    State
	started  time.Time
	items    int
	stages   []*StageStats
}

// Fetcher returns the run's HTTP session. It exists from BeforeRun on.
func (r *Run) Fetcher() *fetch.Fetcher { return r.fetcher }

// Logger returns the run-scoped logger (with run_id and pipeline fields).
func (r *Run) Logger() *zap.Logger { return r.logger }

// State returns the current lifecycle state.
func (r *Run) State() State { return r.state }

func (r *Run) stats() Stats {
	s := Stats{
		RunID:    r.ID,
		Pipeline: r.Pipeline,
		Replay:   r.Replay,
		State:    r.state,
		Items:    r.items,
		Stages:   make([]StageStats, len(r.stages)),
	}
	if !r.started.IsZero() {
		s.Elapsed = time.Since(r.started)
	}
	for i, st := range r.stages {
		s.Stages[i] = *st
	}
	return s
}

type runKey struct{}

// RunFromContext returns the run a stage function is executing in.
func RunFromContext(ctx context.Context) (*Run, bool) {
	r, ok := ctx.Value(runKey{}).(*Run)
	return r, ok
}

// FetcherFromContext returns the fetcher of the run in ctx.
func FetcherFromContext(ctx context.Context) (*fetch.Fetcher, error) {
	r, ok := RunFromContext(ctx)
	if !ok || r.fetcher == nil {
		return nil, errors.New("no pipeline run in context")
	}
	return r.fetcher, nil
}

// Values returns the pipeline's output as a lazy sequence. Nothing happens
// until the sequence is ranged over; each range is an independent run. A
// failed run ends with one (nil, err) pair. Cleanup (hooks, observer,
// fetcher, store) runs when the sequence ends, including when the consumer
// breaks out of the loop.
func (p *Pipeline) Values(ctx context.Context, opts *RunOptions) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		p.drive(ctx, opts, yield, nil)
	}
}

// Run drives the pipeline to completion, calling opts.Each per value, and
// returns the run's stats. An Each error other than ErrStop fails the run.
func (p *Pipeline) Run(ctx context.Context, opts *RunOptions) (Stats, error) {
	if opts == nil {
		opts = &RunOptions{}
	}
	stats, runErr := p.drive(ctx, opts, func(any, error) bool { return true }, opts.Each)

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fields := []zap.Field{
		zap.String("run_id", stats.RunID),
		zap.String("pipeline", stats.Pipeline),
		zap.Stringer("state", stats.State),
		zap.Int("items", stats.Items),
		zap.Duration("elapsed", stats.Elapsed),
	}
	if runErr != nil {
		logger.Error("pipeline run failed", append(fields, zap.Error(runErr))...)
	} else {
		logger.Info("pipeline run finished", fields...)
	}
	return stats, runErr
}

// Iterator is a pull-style view of a run.
type Iterator struct {
	next     func() (any, error, bool)
	stop     func()
	err      error
	closeErr error
	done     bool
	stats    Stats
}

// Pull starts a run that advances one value per Next call. Close must be
// called when the caller is done, exhausted or not.
func (p *Pipeline) Pull(ctx context.Context, opts *RunOptions) *Iterator {
	it := &Iterator{}
	it.next, it.stop = iter.Pull2(iter.Seq2[any, error](func(yield func(any, error) bool) {
		it.stats, it.closeErr = p.drive(ctx, opts, yield, nil)
	}))
	return it
}

// Next returns the next value, or false when the run has ended (see Err).
func (it *Iterator) Next() (any, bool) {
	if it.done {
		return nil, false
	}
	v, err, ok := it.next()
	if !ok {
		it.done = true
		return nil, false
	}
	if err != nil {
		it.err = err
		it.done = true
		it.stop()
		return nil, false
	}
	return v, true
}

// Err returns the run's error once Next has returned false.
func (it *Iterator) Err() error { return it.err }

// Close ends the run, running cleanup if it has not happened yet. It returns
// the run's error unless Err already reported it.
func (it *Iterator) Close() error {
	it.done = true
	it.stop()
	if it.err != nil {
		return nil
	}
	return it.closeErr
}

// Stats returns the run's stats. They are final after Close or after Next
// returned false.
func (it *Iterator) Stats() Stats { return it.stats }

func (p *Pipeline) newRun(opts *RunOptions) *Run {
	id := opts.RunID
	if id == "" {
		id = uuid.New().String()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Run{
		ID:       id,
		Pipeline: p.Name,
		Replay:   p.Replay,
		logger:   logger.With(zap.String("run_id", id), zap.String("pipeline", p.Name)),
		state:    StateCreated,
	}
}

// drive executes one run and returns its stats and error. Values go to each
// when it is set and to yield otherwise. An error from each fails the run
// unless it is ErrStop. The run's error, if any, is also yielded last, after
// cleanup, unless the consumer already stopped listening.
func (p *Pipeline) drive(ctx context.Context, opts *RunOptions, yield func(any, error) bool, each func(any) error) (Stats, error) {
	if opts == nil {
		opts = &RunOptions{}
	}
	run := p.newRun(opts)
	run.started = time.Now()
	run.state = StateRunning
	ctx = context.WithValue(ctx, runKey{}, run)
	defer func() {
		// Only reached with a state other than CleanedUp when the consumer
		// or a stage panicked.
		if run.state != StateCleanedUp {
			run.state = StateFailed
			p.cleanup(ctx, run, opts, run.stats(), errAborted)
			run.state = StateCleanedUp
		}
	}()

	abandoned := false
	runErr := p.start(ctx, run, opts)
	if runErr == nil {
		var stream iter.Seq2[any, error]
		stream, runErr = p.compose(ctx, run)
		if runErr == nil {
			run.logger.Debug("pipeline run started", zap.Bool("replay", run.Replay), zap.Int("stages", len(run.stages)))
			for v, err := range stream {
				if err != nil {
					runErr = err
					break
				}
				if err := ctx.Err(); err != nil {
					runErr = err
					break
				}
				run.items++
				if each != nil {
					if err := each(v); err != nil {
						runErr = err
						break
					}
					continue
				}
				if !yield(v, nil) {
					abandoned = true
					break
				}
			}
		}
	}

	switch {
	case runErr != nil && IsStop(runErr):
		runErr = nil
		run.state = StateStoppedEarly
	case runErr != nil:
		run.state = StateFailed
	case abandoned:
		run.state = StateStoppedEarly
	default:
		run.state = StateExhausted
	}

	stats := run.stats()
	if err := p.cleanup(ctx, run, opts, stats, runErr); err != nil && runErr == nil {
		runErr = err
		if !abandoned {
			stats.State = StateFailed
		}
	}
	run.state = StateCleanedUp

	if runErr != nil && !abandoned {
		yield(nil, runErr)
	}
	return stats, runErr
}

// start opens the replay store and fetcher, then calls the before hooks.
func (p *Pipeline) start(ctx context.Context, run *Run, opts *RunOptions) error {
	fetchOpts := []fetch.Option{fetch.WithLogger(run.logger)}
	if p.Replay {
		switch {
		case opts.Store != nil:
			run.store = opts.Store
		default:
			dir := opts.CacheDir
			if dir == "" {
				dir = "."
			}
			store, err := cache.Open(cache.Path(dir, p.Name), opts.ResetCache)
			if err != nil {
				return err
			}
			run.store, run.ownStore = store, true
		}
		fetchOpts = append(fetchOpts, fetch.WithStore(run.store, p.Name))
	}
	run.fetcher = fetch.New(append(fetchOpts, opts.FetchOptions...)...)

	if opts.Observer != nil {
		if err := opts.Observer.BeforeRun(ctx, run); err != nil {
			return fmt.Errorf("before run: %w", err)
		}
	}
	if p.BeforeRun != nil {
		if err := p.BeforeRun(ctx, run); err != nil {
			return fmt.Errorf("before run: %w", err)
		}
	}
	return nil
}

// compose builds the stage chain. It only wires iterators; no stage function
// runs until the chain is pulled.
func (p *Pipeline) compose(ctx context.Context, run *Run) (iter.Seq2[any, error], error) {
	if p.Stages == nil {
		return nil, errors.New("pipeline has no stages")
	}
	stages, err := p.Stages(run)
	if err != nil {
		return nil, fmt.Errorf("build stages: %w", err)
	}
	if len(stages) == 0 {
		return nil, errors.New("pipeline has no stages")
	}

	var stream iter.Seq2[any, error]
	for i, s := range stages {
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("stage %d (%s): %w", i, s.name, err)
		}
		if i == 0 && s.kind != KindSource {
			return nil, fmt.Errorf("stage 0 (%s): first stage must be a source, got %s", s.name, s.kind)
		}
		if i > 0 && s.kind == KindSource {
			return nil, fmt.Errorf("stage %d (%s): only the first stage may be a source", i, s.name)
		}
		st := &StageStats{Index: i, Name: s.name, Kind: s.kind}
		run.stages = append(run.stages, st)
		stream = s.apply(ctx, i, stream, st)
	}
	return stream, nil
}

// cleanup runs the after hooks and releases the fetcher and store. Every step
// runs even when an earlier one fails; the first error is returned. The hooks
// see ctx without its cancellation so a cancelled run is still recorded.
func (p *Pipeline) cleanup(ctx context.Context, run *Run, opts *RunOptions, stats Stats, runErr error) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	if p.AfterRun != nil {
		if err := p.AfterRun(ctx, run, runErr); err != nil {
			errs = append(errs, fmt.Errorf("after run: %w", err))
		}
	}
	if opts.Observer != nil {
		if err := opts.Observer.AfterRun(ctx, run, stats, runErr); err != nil {
			errs = append(errs, fmt.Errorf("after run: %w", err))
		}
	}
	if run.fetcher != nil {
		if err := run.fetcher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if run.ownStore {
		if err := run.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	run.logger.Warn("pipeline cleanup failed", zap.Errors("errors", errs))
	return errs[0]
}
