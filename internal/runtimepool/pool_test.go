package runtimepool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surfwright/internal/types"
)

func newTestEntry(key, sessionID string, state types.RuntimeState) *entryHandle {
	return &entryHandle{
		RuntimeEntry: types.RuntimeEntry{
			Key:       key,
			SessionID: sessionID,
			State:     state,
			CreatedAt: time.Now(),
		},
		warmCh:  make(chan struct{}),
		breaker: newReconnectBreaker(key),
	}
}

func TestAcquireRejectsSessionMismatch(t *testing.T) {
	p := New(DefaultConfig(), nil, nil)
	eh := newTestEntry("session:s1", "s1", types.RuntimeReady)
	p.entries[eh.Key] = eh

	_, err := p.Acquire(context.Background(), "s1", "ws://other-origin", time.Second)
	require.Error(t, err)
	ce := types.AsCoreError(err)
	assert.Equal(t, types.ErrRuntimePoolSessionMismatch, ce.Code)
}

func TestReadyEntryGrantsLeaseAndIncrementsBorrow(t *testing.T) {
	p := New(DefaultConfig(), nil, nil)
	eh := newTestEntry("session:s1", "s1", types.RuntimeReady)
	p.entries[eh.Key] = eh

	lease, err := p.Acquire(context.Background(), "s1", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, eh.BorrowCount)

	lease.Release()
	assert.Equal(t, 0, eh.BorrowCount)
}

func TestMarkIdleThenEvictLRUOrder(t *testing.T) {
	p := New(DefaultConfig(), nil, nil)
	a := newTestEntry("session:a", "a", types.RuntimeReady)
	b := newTestEntry("session:b", "b", types.RuntimeReady)
	p.entries[a.Key] = a
	p.entries[b.Key] = b

	p.mu.Lock()
	p.markIdle(a)
	p.markIdle(b)
	p.mu.Unlock()

	p.mu.Lock()
	ok := p.evictOneIdleLocked()
	p.mu.Unlock()
	require.True(t, ok)

	_, stillThere := p.entries[a.Key]
	assert.False(t, stillThere, "least-recently-marked-idle entry should be evicted first")
	_, bStillThere := p.entries[b.Key]
	assert.True(t, bStillThere)
}

func TestBorrowedEntryNeverEvicted(t *testing.T) {
	p := New(DefaultConfig(), nil, nil)
	eh := newTestEntry("session:a", "a", types.RuntimeReady)
	eh.BorrowCount = 1
	p.entries[eh.Key] = eh
	// Never marked idle because borrowed.

	p.mu.Lock()
	ok := p.evictOneIdleLocked()
	p.mu.Unlock()
	assert.False(t, ok)
	assert.Contains(t, p.entries, eh.Key)
}

func TestHandleTimeoutHardClosesAfterThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TimeoutHardCloseThreshold = 2
	p := New(cfg, nil, nil)
	eh := newTestEntry("session:a", "a", types.RuntimeReady)
	p.entries[eh.Key] = eh

	p.HandleTimeout(eh.Key, nil)
	_, stillThere := p.entries[eh.Key]
	assert.True(t, stillThere, "first strike should only degrade, not close")
	assert.Equal(t, types.RuntimeDegraded, eh.State)

	// Second strike requires the entry to be ready again; simulate a
	// reconnect bringing it back before it times out a second time.
	p.mu.Lock()
	p.transition(eh, types.RuntimeWarming)
	p.transition(eh, types.RuntimeReady)
	p.mu.Unlock()

	p.HandleTimeout(eh.Key, nil)
	_, stillThere = p.entries[eh.Key]
	assert.False(t, stillThere, "second strike should hard-close and remove the entry")
}

func TestReleaseClosesDrainingEntryOnlyWhenIdle(t *testing.T) {
	p := New(DefaultConfig(), nil, nil)
	eh := newTestEntry("session:a", "a", types.RuntimeReady)
	eh.BorrowCount = 2
	p.entries[eh.Key] = eh

	p.mu.Lock()
	p.transition(eh, types.RuntimeDraining)
	p.mu.Unlock()

	p.release(eh.Key)
	_, stillThere := p.entries[eh.Key]
	assert.True(t, stillThere, "draining entry with outstanding borrows must not close")
	assert.Equal(t, 1, eh.BorrowCount)

	p.release(eh.Key)
	_, stillThere = p.entries[eh.Key]
	assert.False(t, stillThere, "draining entry closes once borrowCount reaches zero")
}

func TestOverflowWhenAllEntriesBusy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 1
	p := New(cfg, nil, nil)
	eh := newTestEntry("session:a", "a", types.RuntimeReady)
	eh.BorrowCount = 1 // busy, not eligible for eviction
	p.entries[eh.Key] = eh

	p.mu.Lock()
	full := len(p.entries) >= p.cfg.MaxEntries
	evicted := false
	if full {
		evicted = p.evictOneIdleLocked()
	}
	p.mu.Unlock()

	assert.True(t, full)
	assert.False(t, evicted)
}
