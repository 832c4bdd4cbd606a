// Package scheduler is the per-agent Scheduler and TimeBridge of spec §4.7:
// step-count and wall-clock triggers that fire callbacks onto the
// orchestrator's serialized dispatch queue, typically to send a reminder
// message. Grounded on the teacher's internal/cron.Scheduler — the ticker
// loop, WithLogger/WithNow-style functional options, and mutex-guarded job
// list are adapted directly from there — generalized from a multi-job,
// config-driven cron runner into a single agent's lightweight step/time
// trigger registry.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Dispatch enqueues task to run on the orchestrator's single dispatch
// queue, so scheduler callbacks never run concurrently with a model turn.
type Dispatch func(task func())

// Handle identifies a registered trigger so it can be cancelled.
type Handle string

type everyStepsRule struct {
	id        Handle
	n         int
	lastFired int
	cb        func(stepCount int)
}

type timeRule struct {
	id      Handle
	kind    string // "at" or "every"
	at      time.Time
	every   time.Duration
	nextRun time.Time
	cb      func()
}

// cronRule fires according to a standard five-field cron expression,
// parsed by robfig/cron/v3 — distinct from timeRule since a cron
// schedule's next occurrence depends on calendar fields (day-of-week,
// day-of-month) a fixed interval can't express.
type cronRule struct {
	id       Handle
	schedule cron.Schedule
	nextRun  time.Time
	cb       func()
}

// Scheduler fires registered triggers for a single agent.
type Scheduler struct {
	bridge   TimeBridge
	dispatch Dispatch
	logger   *slog.Logger

	mu         sync.Mutex
	stepCount  int
	everySteps []*everyStepsRule
	timeRules  []*timeRule
	cronRules  []*cronRule

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger overrides the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scheduler driven by bridge, dispatching fired callbacks
// through dispatch.
func New(bridge TimeBridge, dispatch Dispatch, opts ...Option) *Scheduler {
	s := &Scheduler{
		bridge:   bridge,
		dispatch: dispatch,
		logger:   slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EverySteps registers cb to fire every n completed model turns.
func (s *Scheduler) EverySteps(n int, cb func(stepCount int)) Handle {
	id := Handle(uuid.NewString())
	s.mu.Lock()
	s.everySteps = append(s.everySteps, &everyStepsRule{id: id, n: n, cb: cb})
	s.mu.Unlock()
	return id
}

// At registers cb to fire once, at time t on the bridge's clock.
func (s *Scheduler) At(t time.Time, cb func()) Handle {
	id := Handle(uuid.NewString())
	s.mu.Lock()
	s.timeRules = append(s.timeRules, &timeRule{id: id, kind: "at", at: t, nextRun: t, cb: cb})
	s.mu.Unlock()
	return id
}

// Every registers cb to fire repeatedly, once per interval d.
func (s *Scheduler) Every(d time.Duration, cb func()) Handle {
	id := Handle(uuid.NewString())
	s.mu.Lock()
	s.timeRules = append(s.timeRules, &timeRule{id: id, kind: "every", every: d, nextRun: s.bridge.Now().Add(d), cb: cb})
	s.mu.Unlock()
	return id
}

// Cron registers cb to fire according to a standard five-field cron
// expression ("minute hour dom month dow"), evaluated against the
// bridge's clock rather than the wall clock directly, so it advances
// correctly under VirtualTimeBridge in tests too.
func (s *Scheduler) Cron(expr string, cb func()) (Handle, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return "", fmt.Errorf("scheduler: parse cron expression %q: %w", expr, err)
	}
	id := Handle(uuid.NewString())
	s.mu.Lock()
	s.cronRules = append(s.cronRules, &cronRule{id: id, schedule: schedule, nextRun: schedule.Next(s.bridge.Now()), cb: cb})
	s.mu.Unlock()
	return id, nil
}

// Cancel removes a previously registered trigger by handle. It is a no-op
// if the handle is unknown (already fired-once "at" triggers remove
// themselves).
func (s *Scheduler) Cancel(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.everySteps {
		if r.id == h {
			s.everySteps = append(s.everySteps[:i], s.everySteps[i+1:]...)
			return
		}
	}
	for i, r := range s.timeRules {
		if r.id == h {
			s.timeRules = append(s.timeRules[:i], s.timeRules[i+1:]...)
			return
		}
	}
	for i, r := range s.cronRules {
		if r.id == h {
			s.cronRules = append(s.cronRules[:i], s.cronRules[i+1:]...)
			return
		}
	}
}

// AdvanceStep reports that the orchestrator completed one model turn,
// firing any everySteps rule now due.
func (s *Scheduler) AdvanceStep() {
	s.mu.Lock()
	s.stepCount++
	count := s.stepCount
	var due []*everyStepsRule
	for _, r := range s.everySteps {
		if r.n <= 0 {
			continue
		}
		if count-r.lastFired >= r.n {
			r.lastFired = count
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	for _, r := range due {
		cb := r.cb
		s.dispatch(func() { cb(count) })
	}
}

// Start begins the wall/virtual-clock ticking loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticks := s.bridge.Tick(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case now, ok := <-ticks:
				if !ok {
					return
				}
				s.runDueTimeRules(now)
				s.runDueCronRules(now)
			}
		}
	}()
	return nil
}

// Stop cancels the ticking loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runDueTimeRules(now time.Time) {
	s.mu.Lock()
	var due []*timeRule
	var remaining []*timeRule
	for _, r := range s.timeRules {
		if now.Before(r.nextRun) {
			remaining = append(remaining, r)
			continue
		}
		due = append(due, r)
		if r.kind == "every" {
			r.nextRun = now.Add(r.every)
			remaining = append(remaining, r)
		}
		// "at" rules fire once and are dropped.
	}
	s.timeRules = remaining
	s.mu.Unlock()

	for _, r := range due {
		cb := r.cb
		s.dispatch(func() { cb() })
	}
}

func (s *Scheduler) runDueCronRules(now time.Time) {
	s.mu.Lock()
	var due []*cronRule
	for _, r := range s.cronRules {
		if !now.Before(r.nextRun) {
			due = append(due, r)
			r.nextRun = r.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, r := range due {
		cb := r.cb
		s.dispatch(func() { cb() })
	}
}
