// Package runner implements the Supervisor: the component that spawns the
// worker pool, feeds it the input stream exactly one record per idle
// worker, and drives the run to completion or to a signaled stop. It is
// grounded on original_source/runner.py's JobRunner, translating its
// single-threaded select()-driven loop into one reader goroutine per
// worker fanning results into a shared channel the main loop selects on --
// Go's idiomatic substitute for multiplexed readiness waiting.
package runner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tjper/multirunner/internal/log"
	"github.com/tjper/multirunner/internal/runner/coordinator"
	"github.com/tjper/multirunner/internal/runner/sink"
	"github.com/tjper/multirunner/internal/runner/source"
	"github.com/tjper/multirunner/internal/runner/stats"
	"github.com/tjper/multirunner/internal/runner/worker"
	"github.com/tjper/multirunner/internal/runnerspec"

	ierrors "github.com/tjper/multirunner/internal/errors"
)

// Stats summarizes a completed (or signaled-off) run, the Go analogue of
// the original implementation's end-of-run log_stats call.
type Stats struct {
	ItemsProcessed int
	TimeElapsed    time.Duration
	WorkersAtExit  int
	SignaledOff    bool
	Forced         bool
	Average        stats.Average
}

// Options configures a Supervisor.
type Options struct {
	Logger           *log.Logger
	Registries       runnerspec.Registries
	Spec             runnerspec.JobSpec
	NumWorkers       int
	TerminateTimeout time.Duration
	ReadTimeout      time.Duration
	ReplaceOnDeath   bool
	StatsInterval    time.Duration
}

// Supervisor owns the worker pool for one run: spawning, seeding, the main
// read/reseed loop, broken-worker replacement, and shutdown.
type Supervisor struct {
	logger           *log.Logger
	registries       runnerspec.Registries
	spec             runnerspec.JobSpec
	numWorkers       int
	terminateTimeout time.Duration
	readTimeout      time.Duration

	resolved *runnerspec.Resolved

	// mu guards workers and replaceOnDeath: the Run loop goroutine mutates
	// them, while the stats observer goroutine and an optional telemetry
	// server read them concurrently. No I/O is ever performed while mu is
	// held.
	mu             sync.Mutex
	workers        map[string]*worker.Worker
	replaceOnDeath bool

	itemsProcessed atomic.Int64

	statsObserver *stats.Observer
}

// New creates a Supervisor. Call Setup before Seed, and Seed before Run.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		logger:           opts.Logger,
		registries:       opts.Registries,
		spec:             opts.Spec,
		numWorkers:       opts.NumWorkers,
		terminateTimeout: opts.TerminateTimeout,
		readTimeout:      opts.ReadTimeout,
		workers:          make(map[string]*worker.Worker),
		replaceOnDeath:   opts.ReplaceOnDeath,
	}
	s.statsObserver = stats.NewObserver(opts.StatsInterval, s.livePIDs, s.onSampleError)
	return s
}

// StatsCollector exposes the running CPU/RSS collector, e.g. for a
// telemetry server to report mid-run snapshots.
func (s *Supervisor) StatsCollector() *stats.Collector { return s.statsObserver.Collector() }

// ItemsProcessed returns the number of records completed so far; safe to
// call concurrently with Run, e.g. from a telemetry server.
func (s *Supervisor) ItemsProcessed() int64 { return s.itemsProcessed.Load() }

// WorkerCount returns the number of live workers; safe to call
// concurrently with Run.
func (s *Supervisor) WorkerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *Supervisor) livePIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pids := make([]int, 0, len(s.workers))
	for _, w := range s.workers {
		pids = append(pids, w.PID())
	}
	return pids
}

func (s *Supervisor) onSampleError(pid int, err error) {
	s.logger.Debugf("stats sample failed for pid %d: %v", pid, err)
}

func (s *Supervisor) putWorker(w *worker.Worker) {
	s.mu.Lock()
	s.workers[w.ID.String()] = w
	s.mu.Unlock()
}

func (s *Supervisor) getWorker(id string) (*worker.Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	return w, ok
}

func (s *Supervisor) deleteWorker(id string) {
	s.mu.Lock()
	delete(s.workers, id)
	s.mu.Unlock()
}

func (s *Supervisor) snapshotWorkers() []*worker.Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out
}

func (s *Supervisor) setReplaceOnDeath(v bool) {
	s.mu.Lock()
	s.replaceOnDeath = v
	s.mu.Unlock()
}

func (s *Supervisor) canReplace() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceOnDeath
}

// Setup resolves the JobSpec against the registries and spawns NumWorkers
// workers. If any spawn fails (handshake rejection or process-launch
// error), every worker already spawned is hard-terminated and the error is
// returned; a partially-formed pool is never handed to Seed/Run (spec.md
// error kind 1/2).
func (s *Supervisor) Setup() (*ierrors.Failure, error) {
	resolved, failure := s.spec.Resolve(s.registries)
	if failure != nil {
		return failure, nil
	}
	s.resolved = resolved

	for i := 0; i < s.numWorkers; i++ {
		w, failure, err := worker.Spawn(resolved.Argv, resolved.Payload)
		if err != nil || failure != nil {
			s.abortAll()
			if err != nil {
				return nil, fmt.Errorf("spawning worker %d/%d: %w", i+1, s.numWorkers, err)
			}
			return failure, nil
		}
		s.putWorker(w)
		s.logger.Debugf("spawned worker pid=%d (%d/%d)", w.PID(), i+1, s.numWorkers)
	}

	return nil, nil
}

func (s *Supervisor) abortAll() {
	s.mu.Lock()
	snapshot := make([]*worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		snapshot = append(snapshot, w)
	}
	s.workers = make(map[string]*worker.Worker)
	s.mu.Unlock()

	for _, w := range snapshot {
		_ = w.Hard()
		_ = w.Wait(s.terminateTimeout)
	}
}

// Seed writes one input record to every worker in the pool. If src is
// exhausted before every worker has a record, the surplus workers are
// hard-terminated and removed, and further replacement-on-death is
// disabled (there is nothing left to feed a replacement).
func (s *Supervisor) Seed(src *source.Source) {
	for _, w := range s.snapshotWorkers() {
		line, ok := src.Next()
		if !ok {
			_ = w.Hard()
			_ = w.Wait(s.terminateTimeout)
			s.deleteWorker(w.ID.String())
			s.setReplaceOnDeath(false)
			continue
		}
		if err := w.WriteRecord(line); err != nil {
			src.PushBack(line)
			_ = w.Hard()
			_ = w.Wait(s.terminateTimeout)
			s.deleteWorker(w.ID.String())
			continue
		}
		w.MarkBusy()
	}
}

// readerMsg is one worker's result, fanned into the main loop's results
// channel by its dedicated reader goroutine.
type readerMsg struct {
	workerID string
	line     string
	err      error
}

func (s *Supervisor) startReader(w *worker.Worker, results chan<- readerMsg) {
	id := w.ID.String()
	go func() {
		for {
			line, err := w.ReadLine()
			results <- readerMsg{workerID: id, line: line, err: err}
			if err != nil {
				return
			}
		}
	}()
}

// Run drives the pool to completion: for every result a worker produces,
// it is written to out, the worker is re-seeded from src (or torn down, if
// src is exhausted), and a worker whose stdin write fails is treated as
// dead and, if replacement is still enabled, replaced with a freshly
// spawned and seeded one. Run returns once every worker has been torn
// down, or immediately once a forceful (second) signal is observed via
// coord.
func (s *Supervisor) Run(ctx context.Context, src *source.Source, out *sink.Sink, coord *coordinator.Coordinator) (Stats, error) {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopObserver := func() { stopOnce.Do(func() { close(stop) }) }

	g.Go(func() error {
		s.statsObserver.Run(stop)
		return nil
	})

	var result Stats
	g.Go(func() error {
		defer stopObserver()
		var err error
		result, err = s.drive(gctx, src, out, coord, start, stopObserver)
		return err
	})

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

// drive runs the main read/reseed select loop on the calling goroutine,
// fed by one reader goroutine per worker. It is run under an errgroup
// alongside the stats observer so a stop channel ties their lifetimes
// together, matching the original implementation's single JobRunner loop
// sharing state with its stats-sampling thread. stopObserver is called the
// moment the first (graceful) or second (forced) signal is observed, so the
// stats observer goroutine stops sampling at the interrupt rather than
// riding out the rest of the drain -- matching handle_sigint's immediate
// kill_monitoring_thread() call in the original implementation.
func (s *Supervisor) drive(ctx context.Context, src *source.Source, out *sink.Sink, coord *coordinator.Coordinator, start time.Time, stopObserver func()) (Stats, error) {
	initial := s.snapshotWorkers()
	results := make(chan readerMsg, len(initial)*2+2)
	for _, w := range initial {
		s.startReader(w, results)
	}

	graceful := false
	forced := false

	gracefulC := coord.Done()
	forcedC := coord.Forced()

runLoop:
	for s.WorkerCount() > 0 {
		var timeoutC <-chan time.Time
		if s.readTimeout > 0 {
			timeoutC = time.After(s.readTimeout)
		}

		select {
		case <-ctx.Done():
			break runLoop

		case <-forcedC:
			forced = true
			stopObserver()
			break runLoop

		case <-gracefulC:
			graceful = true
			s.setReplaceOnDeath(false)
			stopObserver()
			gracefulC = nil
			continue

		case <-timeoutC:
			continue

		case msg := <-results:
			w, live := s.getWorker(msg.workerID)
			if !live {
				// Stray message from a worker already torn down by this loop.
				continue
			}

			if msg.err == nil {
				if err := out.Write(msg.line); err != nil {
					s.logger.Errorf("writing result: %v", err)
				}
				s.itemsProcessed.Add(1)
				w.MarkReady()
			}

			if graceful {
				s.retireWorker(w)
				continue
			}

			line, ok := src.Next()
			if !ok {
				s.setReplaceOnDeath(false)
				s.retireWorker(w)
				continue
			}

			if err := w.WriteRecord(line); err != nil {
				src.PushBack(line)
				s.handleBrokenWorker(w, src, results)
				continue
			}
			w.MarkBusy()
		}
	}

	if forced {
		for _, w := range s.snapshotWorkers() {
			_ = w.Hard()
			_ = w.Wait(s.terminateTimeout)
			s.deleteWorker(w.ID.String())
		}
	}

	return Stats{
		ItemsProcessed: int(s.itemsProcessed.Load()),
		TimeElapsed:    time.Since(start),
		WorkersAtExit:  s.WorkerCount(),
		SignaledOff:    graceful || forced,
		Forced:         forced,
		Average:        s.statsObserver.Collector().Aggregate(),
	}, nil
}

// retireWorker tears down a worker once its input is exhausted: it is
// signaled to exit via stdin EOF (conforming workers exit on their own),
// then killed (Wait's SIGKILL escalation) if it doesn't within
// terminateTimeout.
func (s *Supervisor) retireWorker(w *worker.Worker) {
	_ = w.CloseStdin()
	_ = w.Wait(s.terminateTimeout)
	s.deleteWorker(w.ID.String())
}

// handleBrokenWorker tears down a worker whose stdin write failed (it died
// between emitting its previous result and receiving its next record) and,
// if replacement is still enabled, spawns and seeds a replacement in its
// place. A replacement spawn or seed failure disables further replacement
// for the remainder of the run, matching the original implementation's
// one-strike replace_on_death bookkeeping.
func (s *Supervisor) handleBrokenWorker(w *worker.Worker, src *source.Source, results chan<- readerMsg) {
	_ = w.Hard()
	_ = w.Wait(s.terminateTimeout)
	s.deleteWorker(w.ID.String())

	if !s.canReplace() || s.resolved == nil {
		return
	}

	replacement, failure, err := worker.Spawn(s.resolved.Argv, s.resolved.Payload)
	if err != nil || failure != nil {
		s.logger.Warnf("replacement worker failed to start, disabling further replacement: %v / %v", err, failure)
		s.setReplaceOnDeath(false)
		return
	}

	line, ok := src.Next()
	if !ok {
		_ = replacement.Hard()
		_ = replacement.Wait(s.terminateTimeout)
		s.setReplaceOnDeath(false)
		return
	}

	if err := replacement.WriteRecord(line); err != nil {
		src.PushBack(line)
		_ = replacement.Hard()
		_ = replacement.Wait(s.terminateTimeout)
		s.logger.Warnf("replacement worker died before first seed, disabling further replacement")
		s.setReplaceOnDeath(false)
		return
	}

	replacement.MarkBusy()
	s.putWorker(replacement)
	s.startReader(replacement, results)
}
