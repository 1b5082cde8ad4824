// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runs manages asynchronous runs.
//
// # Description
//
// A Registry starts each run on its own goroutine with a cancellable,
// time-bounded context, keeps finished runs in memory for inspection, and
// fans state snapshots out to subscribers such as websocket clients.
//
// A run moves through phases. Start runs the first one, an auto-run or a
// generate-only run. Test and Reset start later phases on the same run once
// the previous phase has finished. Every phase ends with a Done event, after
// which subscribers are closed and must subscribe again for the next phase.
//
// Runs live only in memory. The oldest finished runs are evicted once the
// registry holds more than Config.Retention runs.
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use.
package runs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianForge/services/forge/datatypes"
	"github.com/AleutianAI/AleutianForge/services/forge/operations"
	"github.com/AleutianAI/AleutianForge/services/forge/workflow"
	"github.com/google/uuid"
)

// ErrRunNotFound is returned for unknown or evicted run IDs.
var ErrRunNotFound = errors.New("run not found")

// ErrShuttingDown is returned by Start, Test and Reset after Shutdown.
var ErrShuttingDown = errors.New("run registry is shutting down")

// ErrRunBusy is returned by Test and Reset while a phase is still running.
var ErrRunBusy = errors.New("run is still in progress")

const (
	// DefaultRunTimeout bounds one run phase, including model backoff.
	DefaultRunTimeout = 10 * time.Minute

	// DefaultRetention is the number of runs kept in memory.
	DefaultRetention = 100

	// subscriberBuffer is the per-subscriber event backlog.
	subscriberBuffer = 32
)

// Config controls a Registry.
type Config struct {
	Workflow  workflow.Config
	Timeout   time.Duration
	Retention int
}

// Metrics is the subset of observability.ForgeMetrics the registry uses.
type Metrics interface {
	workflow.Recorder
	RunStarted()
	RunEnded()
}

// Registry owns all asynchronous runs.
type Registry struct {
	ops     operations.Operations
	cfg     Config
	metrics Metrics

	mu      sync.RWMutex
	runs    map[string]*entry
	order   []string
	closed  bool
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
}

// NewRegistry creates a Registry. metrics may be nil.
func NewRegistry(ops operations.Operations, cfg Config, metrics Metrics) *Registry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRunTimeout
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Registry{
		ops:     ops,
		cfg:     cfg,
		metrics: metrics,
		runs:    make(map[string]*entry),
		baseCtx: ctx,
		stop:    stop,
	}
}

// Start validates req and launches a run in the background.
//
// # Description
//
// The default mode generates, tests and fixes. RunModeGenerate stops at
// "generated"; call Test to continue.
//
// # Outputs
//
//   - datatypes.RunResponse: The run's initial snapshot.
//   - error: operations.ValidationError for bad input, ErrShuttingDown after
//     Shutdown.
func (g *Registry) Start(req datatypes.RunRequest) (datatypes.RunResponse, error) {
	in := workflow.GenerateInput{
		Requirement: req.Requirement,
		Language:    req.Language,
		Framework:   req.Framework,
	}
	opIn := operations.GenerateInput{Requirement: in.Requirement, Language: in.Language, Framework: in.Framework}
	if err := opIn.Validate(); err != nil {
		return datatypes.RunResponse{}, err
	}

	wfCfg := g.cfg.Workflow
	if req.MaxIterations != nil {
		wfCfg.MaxIterations = *req.MaxIterations
	}

	e := newEntry(uuid.NewString())
	opts := []workflow.Option{workflow.WithObserver(e.publish)}
	if g.metrics != nil {
		opts = append(opts, workflow.WithRecorder(g.metrics))
	}
	e.run = workflow.New(g.ops, wfCfg, opts...)

	phase := e.run.AutoRun
	if req.Mode == datatypes.RunModeGenerate {
		phase = e.run.Generate
	}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return datatypes.RunResponse{}, ErrShuttingDown
	}
	ctx, cancel := context.WithTimeout(g.baseCtx, g.cfg.Timeout)
	e.cancel = cancel
	g.runs[e.id] = e
	g.order = append(g.order, e.id)
	g.evictLocked()
	g.wg.Add(1)
	g.mu.Unlock()

	slog.Info("Starting run", "run_id", e.id, "language", req.Language,
		"mode", req.Mode, "max_iterations", wfCfg.MaxIterations)
	g.launch(ctx, cancel, e, func(ctx context.Context) error { return phase(ctx, in) })

	return e.snapshot(), nil
}

// Test re-tests a finished run and runs the fix loop again.
//
// # Description
//
// Unless req.Continue is set the run gets a fresh fix budget. A non-empty
// req.Code replaces the run's code first, for hand-edited code.
//
// # Outputs
//
//   - datatypes.RunResponse: The snapshot as the test phase starts.
//   - error: ErrRunNotFound, ErrRunBusy while a phase is running,
//     workflow.ErrNoCode before anything was generated, or ErrShuttingDown.
func (g *Registry) Test(id string, req datatypes.TestRunRequest) (datatypes.RunResponse, error) {
	e, err := g.lookup(id)
	if err != nil {
		return datatypes.RunResponse{}, err
	}
	ctx, cancel, err := g.rearm(e, func(s datatypes.WorkflowState) error {
		if s.Code == "" {
			return workflow.ErrNoCode
		}
		return nil
	})
	if err != nil {
		return datatypes.RunResponse{}, err
	}

	slog.Info("Testing run", "run_id", id, "continue", req.Continue, "edited", req.Code != "")
	opts := workflow.TestOptions{Continue: req.Continue, Code: req.Code}
	g.launch(ctx, cancel, e, func(ctx context.Context) error { return e.run.Test(ctx, opts) })
	return e.snapshot(), nil
}

// Reset returns a finished run to idle, clearing its code and results.
func (g *Registry) Reset(id string) (datatypes.RunResponse, error) {
	e, err := g.lookup(id)
	if err != nil {
		return datatypes.RunResponse{}, err
	}
	_, cancel, err := g.rearm(e, nil)
	if err != nil {
		return datatypes.RunResponse{}, err
	}
	defer g.wg.Done()
	defer cancel()

	e.run.Reset()
	e.finish()
	slog.Info("Run reset", "run_id", id)
	return e.snapshot(), nil
}

// rearm opens a new phase on a finished run. check, when set, sees the
// current state and may refuse the phase. On success the caller must
// release the WaitGroup slot rearm took.
func (g *Registry) rearm(e *entry, check func(datatypes.WorkflowState) error) (context.Context, context.CancelFunc, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil, nil, ErrShuttingDown
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finishedAt == nil {
		return nil, nil, ErrRunBusy
	}
	if check != nil {
		if err := check(e.run.State()); err != nil {
			return nil, nil, err
		}
	}
	ctx, cancel := context.WithTimeout(g.baseCtx, g.cfg.Timeout)
	e.cancel = cancel
	e.finishedAt = nil
	e.done = make(chan struct{})
	g.wg.Add(1)
	return ctx, cancel, nil
}

// launch runs one phase on its own goroutine and finishes the entry after.
func (g *Registry) launch(ctx context.Context, cancel context.CancelFunc, e *entry, phase func(context.Context) error) {
	if g.metrics != nil {
		g.metrics.RunStarted()
	}
	go func() {
		defer g.wg.Done()
		defer cancel()
		err := phase(ctx)
		if err != nil {
			slog.Warn("Run ended with error", "run_id", e.id, "error", err)
		}
		if g.metrics != nil {
			g.metrics.RunEnded()
		}
		e.finish()
		slog.Info("Run finished", "run_id", e.id, "step", e.run.State().Step)
	}()
}

// Get returns a run's current snapshot.
func (g *Registry) Get(id string) (datatypes.RunResponse, error) {
	e, err := g.lookup(id)
	if err != nil {
		return datatypes.RunResponse{}, err
	}
	return e.snapshot(), nil
}

// Cancel stops a run's current phase at its next suspend point. Cancelling a
// finished run is a no-op.
func (g *Registry) Cancel(id string) error {
	e, err := g.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	cancel()
	slog.Info("Run cancelled", "run_id", id)
	return nil
}

// Subscribe streams snapshots of a run.
//
// # Description
//
// The channel first receives the current state, then one event per
// transition, and is closed after the current phase's final event. Slow subscribers may
// miss intermediate events but the channel is always closed when the run
// finishes. Call the returned function to unsubscribe early.
func (g *Registry) Subscribe(id string) (<-chan datatypes.RunEvent, func(), error) {
	e, err := g.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := e.subscribe()
	return ch, unsubscribe, nil
}

// Wait blocks until the run's current phase finishes or ctx is done.
func (g *Registry) Wait(ctx context.Context, id string) (datatypes.RunResponse, error) {
	e, err := g.lookup(id)
	if err != nil {
		return datatypes.RunResponse{}, err
	}
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	select {
	case <-done:
		return e.snapshot(), nil
	case <-ctx.Done():
		return e.snapshot(), ctx.Err()
	}
}

// Shutdown cancels every run and waits for their goroutines, or until ctx
// is done.
func (g *Registry) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.stop()

	finished := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Registry) lookup(id string) (*entry, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return e, nil
}

// evictLocked drops the oldest finished runs above the retention limit.
// Runs still in progress are never evicted.
func (g *Registry) evictLocked() {
	excess := len(g.order) - g.cfg.Retention
	if excess <= 0 {
		return
	}
	kept := g.order[:0]
	for _, id := range g.order {
		if excess > 0 && g.runs[id].isDone() {
			delete(g.runs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	g.order = kept
}

// =============================================================================
// Entry
// =============================================================================

type entry struct {
	id        string
	run       *workflow.Run
	createdAt time.Time

	// mu guards everything below. cancel and done are replaced per phase.
	mu          sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	seq         int
	finishedAt  *time.Time
	subscribers map[int]chan datatypes.RunEvent
	nextSub     int
}

func newEntry(id string) *entry {
	return &entry{
		id:          id,
		createdAt:   time.Now().UTC(),
		done:        make(chan struct{}),
		subscribers: make(map[int]chan datatypes.RunEvent),
	}
}

func (e *entry) isDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finishedAt != nil
}

// publish is the workflow observer.
func (e *entry) publish(state datatypes.WorkflowState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	e.broadcastLocked(datatypes.RunEvent{RunID: e.id, Seq: e.seq, State: state})
}

func (e *entry) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.run.State()
	now := time.Now().UTC()
	e.finishedAt = &now
	e.seq++
	e.broadcastLocked(datatypes.RunEvent{RunID: e.id, Seq: e.seq, State: state, Done: true})
	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
	close(e.done)
}

func (e *entry) broadcastLocked(ev datatypes.RunEvent) {
	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			slog.Warn("Dropping run event for slow subscriber", "run_id", e.id, "seq", ev.Seq)
		}
	}
}

func (e *entry) subscribe() (<-chan datatypes.RunEvent, func()) {
	ch := make(chan datatypes.RunEvent, subscriberBuffer)

	// The run's state lock is only ever taken inside e.mu, never around it.
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.run.State()
	done := e.finishedAt != nil
	ch <- datatypes.RunEvent{RunID: e.id, Seq: e.seq, State: state, Done: done}
	if done {
		close(ch)
		return ch, func() {}
	}

	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if c, ok := e.subscribers[id]; ok {
				close(c)
				delete(e.subscribers, id)
			}
		})
	}
}

func (e *entry) snapshot() datatypes.RunResponse {
	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.run.State()
	resp := datatypes.RunResponse{
		RunID:     e.id,
		State:     state,
		Done:      e.finishedAt != nil,
		CreatedAt: e.createdAt,
	}
	if e.finishedAt != nil {
		t := *e.finishedAt
		resp.FinishedAt = &t
	}
	return resp
}
