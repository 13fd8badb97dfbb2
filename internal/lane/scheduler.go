// Package lane implements the Lane Scheduler (C4): per-session FIFO
// queues dispatched round-robin under a global concurrency cap, with
// disjoint queue-overload error codes for "never got a slot" versus
// "gave up waiting".
package lane

import (
	"sync"
	"time"

	"surfwright/internal/diagnostics"
	"surfwright/internal/types"
)

// Config holds the Lean v1 scheduling parameters.
type Config struct {
	PerLaneConcurrency int
	GlobalActiveCap    int
	PerLaneQueueCap    int
	WaitBudget         time.Duration
}

// DefaultConfig returns the spec's Lean v1 defaults: serial per-session
// lanes, 8 concurrently active lanes, 8 deep per-lane queues, a 2s wait
// budget.
func DefaultConfig() Config {
	return Config{
		PerLaneConcurrency: 1,
		GlobalActiveCap:    8,
		PerLaneQueueCap:    8,
		WaitBudget:         2 * time.Second,
	}
}

// pending wraps a queued work item with the scheduler-side bookkeeping
// needed to settle it exactly once, whether by dispatch, wait-timeout, or
// cancellation.
type pending struct {
	work    *types.QueuedWork
	timer   *time.Timer
	doneCh  chan struct{}
	settled bool
}

// settle marks p settled, stopping its wait timer and waking its
// cancellation watcher. Returns false if p was already settled by a
// racing timeout/dispatch/cancel. Caller holds the scheduler's lock.
func (p *pending) settle() bool {
	if p.settled {
		return false
	}
	p.settled = true
	if p.timer != nil {
		p.timer.Stop()
	}
	close(p.doneCh)
	return true
}

// lane is one FIFO queue plus its concurrency accounting.
type lane struct {
	key    string
	queue  []*pending
	active int
}

// Scheduler is the process-wide lane dispatcher. One Scheduler per daemon
// process; all lanes share its global active cap.
type Scheduler struct {
	cfg     Config
	metrics *diagnostics.Collector

	mu       sync.Mutex
	lanes    map[string]*lane
	order    []string // insertion order, used for round-robin fairness
	rrCursor int
	active   int
}

// New builds a Scheduler. metrics may be nil in tests.
func New(cfg Config, metrics *diagnostics.Collector) *Scheduler {
	if cfg.PerLaneConcurrency <= 0 {
		cfg.PerLaneConcurrency = 1
	}
	if cfg.GlobalActiveCap <= 0 {
		cfg.GlobalActiveCap = 8
	}
	if cfg.PerLaneQueueCap <= 0 {
		cfg.PerLaneQueueCap = 8
	}
	if cfg.WaitBudget <= 0 {
		cfg.WaitBudget = 2 * time.Second
	}
	return &Scheduler{
		cfg:     cfg,
		metrics: metrics,
		lanes:   make(map[string]*lane),
	}
}

// Enqueue admits work onto its lane (types.QueuedWork.LaneKey), rejecting
// immediately if the lane's queue is already at cap. A work item that
// neither gets dispatched nor is cancelled within the wait budget is
// rejected with E_DAEMON_QUEUE_TIMEOUT; these two outcomes are mutually
// exclusive by construction — a work item is removed from its queue
// before either fires, under the same lock.
func (s *Scheduler) Enqueue(w *types.QueuedWork) error {
	s.mu.Lock()

	l := s.laneFor(w.LaneKey)
	if len(l.queue) >= s.cfg.PerLaneQueueCap {
		s.mu.Unlock()
		s.metricReject("saturated")
		return types.NewError(types.ErrDaemonQueueSaturated, true,
			"lane %q queue depth %d at cap", w.LaneKey, s.cfg.PerLaneQueueCap)
	}

	p := &pending{work: w, doneCh: make(chan struct{})}
	l.queue = append(l.queue, p)
	s.observeDepth(l)

	p.timer = time.AfterFunc(s.cfg.WaitBudget, func() { s.onWaitExpired(l, p) })

	go func() {
		select {
		case <-w.Context().Done():
			s.onCancelled(l, p)
		case <-p.doneCh:
		}
	}()

	s.dispatchLocked()
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) rr() int { return s.rrCursor }

func (s *Scheduler) rrAdvance(dispatchedIdx int) {
	n := len(s.order)
	if n == 0 {
		return
	}
	s.rrCursor = (dispatchedIdx + 1) % n
}

func (s *Scheduler) laneFor(key string) *lane {
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{key: key}
		s.lanes[key] = l
		s.order = append(s.order, key)
	}
	return l
}

// dispatchLocked dispatches as many runnable lanes as the global cap
// allows, in round-robin order starting just after the last lane
// dispatched. Caller holds s.mu.
func (s *Scheduler) dispatchLocked() {
	n := len(s.order)
	if n == 0 {
		return
	}
	for i := 0; i < n && s.active < s.cfg.GlobalActiveCap; i++ {
		idx := (s.rr() + i) % n
		key := s.order[idx]
		l := s.lanes[key]
		if l == nil || len(l.queue) == 0 || l.active >= s.cfg.PerLaneConcurrency {
			continue
		}
		p := l.queue[0]
		l.queue = l.queue[1:]
		s.observeDepth(l)

		if !p.settle() {
			// Already settled by a timeout/cancel race; skip and retry
			// this slot without consuming a dispatch.
			i--
			continue
		}

		l.active++
		s.active++
		s.rrAdvance(idx)
		s.runDispatched(l, p)
	}
}

// runDispatched executes one dispatched work item off the scheduler
// goroutine and frees its slot on completion.
func (s *Scheduler) runDispatched(l *lane, p *pending) {
	w := p.work
	waitMs := time.Since(w.EnqueuedAt)
	s.observeWait(waitMs)

	go func() {
		result, err := w.Run(w.Context())
		w.Complete(result, err)

		s.mu.Lock()
		l.active--
		s.active--
		s.dispatchLocked()
		s.mu.Unlock()
	}()
}

// onWaitExpired rejects a still-queued item once its wait budget elapses.
func (s *Scheduler) onWaitExpired(l *lane, p *pending) {
	s.mu.Lock()
	if !p.settle() {
		s.mu.Unlock()
		return
	}
	removeFromQueue(l, p)
	s.observeDepth(l)
	s.mu.Unlock()

	s.metricReject("timeout")
	p.work.Complete(nil, types.NewError(types.ErrDaemonQueueTimeout, true,
		"lane %q wait budget %s exceeded", l.key, s.cfg.WaitBudget))
}

// onCancelled removes a still-queued item whose context was cancelled
// before dispatch. The work completes with the context's error as mapped
// by AsCoreError (E_INTERNAL), not a queue-overload code, and no reject
// metric is recorded: cancellation is the caller's own choice.
func (s *Scheduler) onCancelled(l *lane, p *pending) {
	s.mu.Lock()
	if !p.settle() {
		s.mu.Unlock()
		return
	}
	removeFromQueue(l, p)
	s.observeDepth(l)
	s.mu.Unlock()

	p.work.Complete(nil, types.AsCoreError(p.work.Context().Err()))
}

func removeFromQueue(l *lane, target *pending) {
	for i, p := range l.queue {
		if p == target {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) observeDepth(l *lane) {
	if s.metrics != nil {
		s.metrics.QueueDepth.WithLabelValues(l.key).Set(float64(len(l.queue)))
	}
}

func (s *Scheduler) observeWait(d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveQueueWait(d)
	}
}

func (s *Scheduler) metricReject(reason string) {
	if s.metrics != nil {
		s.metrics.QueueRejects.WithLabelValues(reason).Inc()
	}
}
