// Package runtimepool implements the Session Runtime Pool (C3): a cache of
// live CDP connections keyed by session authority, with strict state
// machine transitions, LRU eviction among idle entries, lease accounting,
// and circuit-breaker-guarded reconnect.
package runtimepool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"surfwright/internal/diagnostics"
	"surfwright/internal/logging"
	"surfwright/internal/types"
)

// Config tunes the pool. Defaults match the Lean v1 parameters.
type Config struct {
	MaxEntries               int
	TimeoutHardCloseThreshold int
	WarmTimeout              time.Duration
	Headless                 bool
}

// DefaultConfig returns the Lean v1 defaults: 64 cached entries, two
// timeout strikes before a hard close, a 20s warm budget.
func DefaultConfig() Config {
	return Config{
		MaxEntries:                64,
		TimeoutHardCloseThreshold: 2,
		WarmTimeout:               20 * time.Second,
		Headless:                  true,
	}
}

// entryHandle pairs a types.RuntimeEntry with the live chromedp contexts
// backing it and the bookkeeping needed for coalescing and LRU eviction.
type entryHandle struct {
	types.RuntimeEntry

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	warmCh  chan struct{} // closed when a warming attempt finishes
	breaker *gobreaker.CircuitBreaker

	idleElem *list.Element // non-nil iff eligible for LRU eviction
}

// Pool is the process-wide runtime cache. One Pool per daemon process.
type Pool struct {
	cfg     Config
	metrics *diagnostics.Collector
	sink    *diagnostics.Sink

	mu      sync.Mutex
	entries map[string]*entryHandle
	idle    *list.List // front = least recently used
}

// New builds a Pool. metrics/sink may be nil in tests that don't care
// about observability.
func New(cfg Config, metrics *diagnostics.Collector, sink *diagnostics.Sink) *Pool {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 64
	}
	if cfg.TimeoutHardCloseThreshold <= 0 {
		cfg.TimeoutHardCloseThreshold = 2
	}
	if cfg.WarmTimeout <= 0 {
		cfg.WarmTimeout = 20 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		metrics: metrics,
		sink:    sink,
		entries: make(map[string]*entryHandle),
		idle:    list.New(),
	}
}

// Lease is a borrowed CDP connection. Callers MUST call Release exactly
// once when done.
type Lease struct {
	pool    *Pool
	key     string // empty for uncached leases
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	cached  bool
}

// Context returns the chromedp-ready context for issuing CDP commands.
func (l *Lease) Context() context.Context { return l.ctx }

// Release returns the lease. For a cached entry this decrements
// borrowCount and closes a draining entry once it goes idle; for an
// uncached (overflow or draining-bypass) lease it tears the connection
// down immediately.
func (l *Lease) Release() {
	l.once.Do(func() {
		if !l.cached {
			if l.cancel != nil {
				l.cancel()
			}
			return
		}
		l.pool.release(l.key)
	})
}

// Acquire resolves the (sessionId, cdpOrigin) pair to a live CDP lease,
// per the spec's acquire() contract.
func (p *Pool) Acquire(ctx context.Context, sessionID, cdpOrigin string, timeout time.Duration) (*Lease, error) {
	key := types.RuntimeEntryKey(sessionID, cdpOrigin)

	for {
		p.mu.Lock()
		eh, ok := p.entries[key]
		if ok {
			if eh.SessionID != sessionID || eh.CDPOrigin != cdpOrigin {
				p.mu.Unlock()
				p.recordIsolationBreak(key, sessionID, cdpOrigin)
				return nil, types.NewError(types.ErrRuntimePoolSessionMismatch, false,
					"cached runtime %s does not match requested (session=%q origin=%q)", key, sessionID, cdpOrigin)
			}

			switch eh.State {
			case types.RuntimeReady:
				p.borrow(eh)
				p.mu.Unlock()
				p.metricInc(func(c *diagnostics.Collector) { c.PoolCacheHit.Inc() })
				return p.leaseFor(eh), nil

			case types.RuntimeWarming:
				waitCh := eh.warmCh
				p.mu.Unlock()
				select {
				case <-waitCh:
					continue // state settled; loop re-evaluates
				case <-ctx.Done():
					return nil, types.AsCoreError(ctx.Err())
				}

			case types.RuntimeDegraded:
				p.transition(eh, types.RuntimeWarming)
				p.mu.Unlock()
				p.metricInc(func(c *diagnostics.Collector) { c.PoolReconnectAttempt.Inc() })
				if err := p.warm(ctx, eh); err != nil {
					return nil, err
				}
				p.metricInc(func(c *diagnostics.Collector) { c.PoolReconnectSuccess.Inc() })
				continue

			case types.RuntimeClosed:
				delete(p.entries, key)
				p.removeIdle(eh)
				p.mu.Unlock()
				continue

			case types.RuntimeDraining:
				p.mu.Unlock()
				return p.acquireUncached(ctx, sessionID, cdpOrigin)
			}
		}

		// No cached entry: make room if necessary, then create fresh.
		if len(p.entries) >= p.cfg.MaxEntries {
			if !p.evictOneIdleLocked() {
				p.mu.Unlock()
				p.metricInc(func(c *diagnostics.Collector) {
					c.RuntimePoolOverflow.WithLabelValues("all_busy").Inc()
				})
				return p.acquireUncached(ctx, sessionID, cdpOrigin)
			}
			p.metricInc(func(c *diagnostics.Collector) {
				c.RuntimePoolEvictions.WithLabelValues("lru_capacity").Inc()
			})
		}

		eh = &entryHandle{
			RuntimeEntry: types.RuntimeEntry{
				Key:       key,
				SessionID: sessionID,
				CDPOrigin: cdpOrigin,
				State:     types.RuntimeAbsent,
				CreatedAt: time.Now(),
			},
			warmCh: make(chan struct{}),
		}
		eh.breaker = newReconnectBreaker(key)
		p.entries[key] = eh
		p.transition(eh, types.RuntimeWarming)
		p.mu.Unlock()

		p.metricInc(func(c *diagnostics.Collector) { c.PoolCacheMiss.Inc() })
		if err := p.warm(ctx, eh); err != nil {
			return nil, err
		}
		continue
	}
}

// acquireUncached builds a one-off connection outside the cache, used for
// draining-bypass and capacity-overflow paths. It still counts against
// isolation accounting at the caller's discretion but never enters the map.
func (p *Pool) acquireUncached(ctx context.Context, sessionID, cdpOrigin string) (*Lease, error) {
	allocCtx, allocCancel := newAllocator(ctx, cdpOrigin, p.cfg.Headless)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, types.NewError(types.ErrRuntimePoolWarmFailed, true, "uncached warm failed: %v", err)
	}
	cancel := func() {
		tabCancel()
		allocCancel()
	}
	return &Lease{ctx: tabCtx, cancel: cancel, cached: false}, nil
}

// warm drives an entry through warming -> ready|absent, coalescing
// concurrent callers on the same key through eh.warmCh.
func (p *Pool) warm(ctx context.Context, eh *entryHandle) error {
	warmCtx, cancel := context.WithTimeout(ctx, p.cfg.WarmTimeout)
	defer cancel()

	_, err := eh.breaker.Execute(func() (any, error) {
		allocCtx, allocCancel := newAllocator(warmCtx, eh.CDPOrigin, p.cfg.Headless)
		tabCtx, tabCancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(tabCtx); err != nil {
			tabCancel()
			allocCancel()
			return nil, err
		}

		p.mu.Lock()
		eh.allocCtx, eh.allocCancel = allocCtx, allocCancel
		eh.tabCtx, eh.tabCancel = tabCtx, tabCancel
		eh.CreatedAt = time.Now()
		p.transition(eh, types.RuntimeReady)
		// Do not borrow here: the entry has idleElem == nil so nothing can
		// evict it before the caller's loop re-enters the RuntimeReady case
		// and takes the single borrow there.
		ch := eh.warmCh
		eh.warmCh = make(chan struct{})
		p.mu.Unlock()
		close(ch)
		return nil, nil
	})

	if err != nil {
		p.mu.Lock()
		p.transition(eh, types.RuntimeAbsent)
		delete(p.entries, eh.Key)
		p.removeIdle(eh)
		ch := eh.warmCh
		p.mu.Unlock()
		close(ch)
		return types.NewError(types.ErrRuntimePoolWarmFailed, true, "warm %s: %v", eh.Key, err)
	}
	return nil
}

// leaseFor builds a cached Lease bound to eh's current tab context.
// Caller must already hold eh.BorrowCount incremented.
func (p *Pool) leaseFor(eh *entryHandle) *Lease {
	return &Lease{pool: p, key: eh.Key, ctx: eh.tabCtx, cached: true}
}

// borrow increments BorrowCount and removes the entry from the idle LRU,
// if present. Caller holds p.mu.
func (p *Pool) borrow(eh *entryHandle) {
	eh.BorrowCount++
	eh.LastUsedAt = time.Now()
	p.removeIdle(eh)
}

// release handles Lease.Release for a cached entry.
func (p *Pool) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	eh, ok := p.entries[key]
	if !ok {
		return
	}
	if eh.BorrowCount > 0 {
		eh.BorrowCount--
	}
	eh.LastUsedAt = time.Now()

	switch eh.State {
	case types.RuntimeReady:
		if eh.BorrowCount == 0 {
			p.markIdle(eh)
		}
	case types.RuntimeDraining:
		if eh.BorrowCount == 0 {
			delete(p.entries, key)
			p.closeEntryLocked(eh)
		}
	}
}

// markIdle pushes eh to the back (most-recently-used end) of the idle
// list. Caller holds p.mu.
func (p *Pool) markIdle(eh *entryHandle) {
	if eh.idleElem != nil {
		return
	}
	eh.idleElem = p.idle.PushBack(eh)
}

// removeIdle removes eh from the idle list if present. Caller holds p.mu.
func (p *Pool) removeIdle(eh *entryHandle) {
	if eh.idleElem == nil {
		return
	}
	p.idle.Remove(eh.idleElem)
	eh.idleElem = nil
}

// evictOneIdleLocked evicts the least-recently-used idle ready entry, if
// any exists. Callers count the eviction under their own reason label.
// Caller holds p.mu.
func (p *Pool) evictOneIdleLocked() bool {
	front := p.idle.Front()
	if front == nil {
		return false
	}
	eh := front.Value.(*entryHandle)
	p.removeIdle(eh)
	delete(p.entries, eh.Key)
	p.closeEntryLocked(eh)
	return true
}

// closeEntryLocked tears down the live connection and marks the entry
// closed then absent. Caller holds p.mu; the actual cancel calls happen
// synchronously since chromedp teardown is cheap (context cancellation).
func (p *Pool) closeEntryLocked(eh *entryHandle) {
	if eh.State != types.RuntimeDraining && eh.State != types.RuntimeClosed {
		p.transition(eh, types.RuntimeDraining)
	}
	if eh.State != types.RuntimeClosed {
		p.transition(eh, types.RuntimeClosed)
	}
	if eh.tabCancel != nil {
		eh.tabCancel()
	}
	if eh.allocCancel != nil {
		eh.allocCancel()
	}
	p.transition(eh, types.RuntimeAbsent)
}

// HandleTimeout implements handleTimeout(entry, bestEffortCancel): a
// ready entry observed stale transitions to degraded; a best-effort
// cancel is attempted; repeated strikes force a hard close.
func (p *Pool) HandleTimeout(key string, bestEffortCancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	eh, ok := p.entries[key]
	if !ok || eh.State != types.RuntimeReady {
		return
	}
	p.removeIdle(eh)
	p.transition(eh, types.RuntimeDegraded)
	eh.TimeoutStrikes++

	if bestEffortCancel != nil {
		bestEffortCancel()
	}

	if eh.TimeoutStrikes >= p.cfg.TimeoutHardCloseThreshold {
		delete(p.entries, key)
		p.closeEntryLocked(eh)
		p.metricInc(func(c *diagnostics.Collector) {
			c.PoolForcedReset.WithLabelValues("timeout_strikes").Inc()
		})
	}
}

// DrainColdEntriesOnMemoryPressure evicts up to n oldest idle ready
// entries, oldest-first.
func (p *Pool) DrainColdEntriesOnMemoryPressure(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	evicted := 0
	for evicted < n {
		if !p.evictOneIdleLocked() {
			break
		}
		evicted++
	}
	if evicted > 0 {
		p.metricInc(func(c *diagnostics.Collector) {
			c.RuntimePoolEvictions.WithLabelValues("memory_pressure").Add(float64(evicted))
		})
	}
	return evicted
}

// Snapshot returns an observational copy of every cached entry.
func (p *Pool) Snapshot() []types.RuntimeEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.RuntimeEntry, 0, len(p.entries))
	for _, eh := range p.entries {
		out = append(out, eh.RuntimeEntry)
	}
	return out
}

// transition enforces the state machine adjacency and emits a diagnostics
// event. Caller holds p.mu.
func (p *Pool) transition(eh *entryHandle, to types.RuntimeState) {
	if eh.State != "" && !types.AllowedTransition(eh.State, to) {
		logging.Default().Error("illegal runtime pool transition",
			zap.String("key", eh.Key), zap.String("from", string(eh.State)), zap.String("to", string(to)))
		return
	}
	from := eh.State
	eh.State = to
	if p.sink != nil {
		p.sink.Emit(diagnostics.EventRuntimeTransition, map[string]any{
			"key": eh.Key, "from": string(from), "to": string(to),
		})
	}
}

func (p *Pool) recordIsolationBreak(key, sessionID, cdpOrigin string) {
	p.metricInc(func(c *diagnostics.Collector) { c.SessionIsolationBreaks.Inc() })
	if p.sink != nil {
		p.sink.Emit(diagnostics.EventIsolationBreak, map[string]any{
			"key": key, "sessionId": sessionID, "cdpOrigin": cdpOrigin,
		})
	}
}

func (p *Pool) metricInc(fn func(*diagnostics.Collector)) {
	if p.metrics != nil {
		fn(p.metrics)
	}
}

// newAllocator builds a chromedp allocator context: a remote allocator
// attaching to an existing cdpOrigin when one is given, otherwise a fresh
// headless/headed exec allocator for a managed session.
func newAllocator(ctx context.Context, cdpOrigin string, headless bool) (context.Context, context.CancelFunc) {
	if cdpOrigin != "" {
		return chromedp.NewRemoteAllocator(ctx, cdpOrigin)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	return chromedp.NewExecAllocator(ctx, opts...)
}

// newReconnectBreaker wraps each entry's reconnect attempts so a runtime
// stuck failing warm does not hot-loop CDP connection attempts.
func newReconnectBreaker(key string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("runtimepool-%s", key),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}
