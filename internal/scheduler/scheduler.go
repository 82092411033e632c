// Package scheduler implements the cron scheduler (C8): a single sleeper
// goroutine wakes for the next due agent instead of polling every entry on
// a flat tick, tracks each entry's next/last fire time and last result, and
// supports hot add/update/remove of entries as agent files are created,
// edited, or deleted, per spec.md §4.8.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Runner executes one scheduled firing of an agent. The scheduler only
// tracks the error for LastResult; it never inspects it otherwise.
type Runner func(ctx context.Context, agentPath string) error

// maxLookaheadMinutes bounds the forward walk computeNextFireAt performs to
// find the next minute a cron expression is due. A standard 5-field
// expression always recurs within a year, so one year of minutes (plus a
// day's slack for leap years) is a safe ceiling.
const maxLookaheadMinutes = 366*24*60 + 1

// entry is one agent's schedule registration, carrying the
// {agentPath, expression, nextFireAt, lastFireAt, lastResult} data model
// spec.md's schedule section names.
type entry struct {
	agentPath  string
	expr       string
	nextFireAt time.Time
	lastFireAt time.Time
	lastResult string // "ok", an error message, or "" before the first firing
	running    bool
	index      int // heap.Interface bookkeeping; -1 when not in the heap
}

// entryHeap is a min-heap of *entry ordered by nextFireAt. Only idle
// entries live in the heap; an entry is popped out while its run is in
// flight and pushed back in (with a freshly computed nextFireAt) once it
// completes, so the heap head is always the true next actionable entry.
type entryHeap []*entry

func (h entryHeap) Len() int          { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].nextFireAt.Before(h[j].nextFireAt) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler wakes for the next due agent and fires at most one concurrent
// run per agent (invariant: a schedule never fires twice concurrently).
type Scheduler struct {
	runner Runner
	gron   gronx.Gronx
	idle   time.Duration // sleep ceiling when the heap is empty
	wake   chan struct{}

	mu     sync.Mutex
	heap   entryHeap
	byPath map[string]*entry

	logger *slog.Logger
}

// DefaultTick is the idle-sleep ceiling used when no entry is registered,
// so Run still wakes periodically to notice a newly added schedule even if
// Add's wake signal were ever missed.
const DefaultTick = 15 * time.Second

// New builds a Scheduler that calls runner for every due entry. idle <= 0
// uses DefaultTick.
func New(runner Runner, idle time.Duration, logger *slog.Logger) *Scheduler {
	if idle <= 0 {
		idle = DefaultTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner: runner,
		gron:   gronx.New(),
		idle:   idle,
		wake:   make(chan struct{}, 1),
		byPath: make(map[string]*entry),
		logger: logger,
	}
}

// computeNextFireAt returns the earliest minute start, beginning with the
// minute that contains from, that satisfies expr; the result can be up to
// 59s before from, so an expression matching from's own minute is due at
// once. Cron resolves to the minute, so
// this walks forward one minute at a time rather than depending on a
// provider-specific "next tick" API beyond the IsDue check already used
// elsewhere in this package.
func (s *Scheduler) computeNextFireAt(expr string, from time.Time) (time.Time, error) {
	t := from.Truncate(time.Minute)
	for i := 0; i < maxLookaheadMinutes; i++ {
		ok, err := s.gron.IsDue(expr, t)
		if err != nil {
			return time.Time{}, err
		}
		if ok {
			return t, nil
		}
		t = t.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no due time found for %q within the lookahead window", expr)
}

// notifyWake nudges Run to recheck its sleep deadline; safe to call with or
// without s.mu held, and a no-op if a wake is already pending.
func (s *Scheduler) notifyWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Add registers agentPath under cron expression expr. Returns an error if
// expr is not a valid cron expression, per spec.md's "schedule" field
// validation at load time.
func (s *Scheduler) Add(agentPath, expr string) error {
	if !gronx.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q for %s", expr, agentPath)
	}
	next, err := s.computeNextFireAt(expr, time.Now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byPath[agentPath]; ok && old.index >= 0 {
		heap.Remove(&s.heap, old.index)
	}
	e := &entry{agentPath: agentPath, expr: expr, nextFireAt: next, index: -1}
	s.byPath[agentPath] = e
	heap.Push(&s.heap, e)
	s.notifyWake()
	return nil
}

// Update replaces an existing entry's cron expression and recomputes its
// next fire time, preserving lastFireAt/lastResult (used when an agent
// file is edited under hot reload, per spec.md §4.8 "schedule changes take
// effect on the next tick"). An entry currently running has its new
// nextFireAt picked up once the in-flight run completes and it rejoins the
// heap.
func (s *Scheduler) Update(agentPath, expr string) error {
	if !gronx.IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q for %s", expr, agentPath)
	}
	next, err := s.computeNextFireAt(expr, time.Now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byPath[agentPath]
	if !ok {
		e = &entry{agentPath: agentPath, index: -1}
		s.byPath[agentPath] = e
	}
	e.expr = expr
	e.nextFireAt = next
	if e.index >= 0 {
		heap.Fix(&s.heap, e.index)
	} else if !e.running {
		heap.Push(&s.heap, e)
	}
	s.notifyWake()
	return nil
}

// RemoveByAgentPath drops an entry, e.g. when an agent file's schedule
// field is removed or the file is deleted. An in-flight run is left to
// finish; it simply won't rejoin the heap afterward.
func (s *Scheduler) RemoveByAgentPath(agentPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byPath[agentPath]
	if !ok {
		return
	}
	if e.index >= 0 {
		heap.Remove(&s.heap, e.index)
	}
	delete(s.byPath, agentPath)
}

// ScheduleInfo is the read-only view List returns.
type ScheduleInfo struct {
	AgentPath  string
	Expr       string
	Running    bool
	NextFireAt time.Time
	LastFireAt time.Time
	LastResult string
}

// List returns a snapshot of every registered entry.
func (s *Scheduler) List() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.byPath))
	for _, e := range s.byPath {
		out = append(out, ScheduleInfo{
			AgentPath:  e.agentPath,
			Expr:       e.expr,
			Running:    e.running,
			NextFireAt: e.nextFireAt,
			LastFireAt: e.lastFireAt,
			LastResult: e.lastResult,
		})
	}
	return out
}

// Run sleeps until the heap's earliest nextFireAt, fires whatever is due,
// and repeats, waking early whenever Add/Update signals a change that
// might move the head. It is meant to be run in its own goroutine by the
// caller.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		wait := s.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case now := <-timer.C:
			s.fireDue(ctx, now)
		}
	}
}

// nextWait returns how long Run should sleep: until the heap head's
// nextFireAt, or s.idle if the heap is empty.
func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heap) == 0 {
		return s.idle
	}
	d := time.Until(s.heap[0].nextFireAt)
	if d < 0 {
		return 0
	}
	return d
}

// fireDue pops every heap entry whose nextFireAt has arrived and fires it.
// A due entry is removed from the heap for the duration of its run, which
// is what enforces "a schedule never fires twice concurrently" — it simply
// isn't a candidate again until fire() pushes it back in.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	var due []*entry
	s.mu.Lock()
	for len(s.heap) > 0 && !s.heap[0].nextFireAt.After(now) {
		e := heap.Pop(&s.heap).(*entry)
		e.running = true
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		go s.fire(ctx, e, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *entry, firedAt time.Time) {
	s.logger.Info("scheduler.run.start", "agent", e.agentPath, "expr", e.expr)
	err := s.runner(ctx, e.agentPath)

	s.mu.Lock()
	e.running = false
	e.lastFireAt = firedAt
	if err != nil {
		e.lastResult = err.Error()
	} else {
		e.lastResult = "ok"
	}
	// Recompute forward from just past this firing so nextFireAt advances
	// monotonically (spec.md's S6) instead of re-matching the same minute.
	if still, ok := s.byPath[e.agentPath]; ok && still == e {
		next, nextErr := s.computeNextFireAt(e.expr, firedAt.Add(time.Minute))
		if nextErr == nil {
			e.nextFireAt = next
			heap.Push(&s.heap, e)
		} else {
			s.logger.Error("scheduler.rearm_failed", "agent", e.agentPath, "error", nextErr)
		}
	}
	s.mu.Unlock()
	s.notifyWake()

	if err != nil {
		s.logger.Error("scheduler.run.failed", "agent", e.agentPath, "error", err)
		return
	}
	s.logger.Info("scheduler.run.done", "agent", e.agentPath)
}
