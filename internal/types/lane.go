package types

import (
	"context"
	"time"
)

// ControlDefaultLane is the fallback lane key for control-class requests
// that carry neither a sessionId nor a cdpOrigin.
const ControlDefaultLane = "control:default"

// LaneKey resolves the spec's precedence sessionId -> cdpOrigin ->
// "control:default".
func LaneKey(sessionID, cdpOrigin string) string {
	if sessionID != "" {
		return sessionID
	}
	if cdpOrigin != "" {
		return cdpOrigin
	}
	return ControlDefaultLane
}

// QueuedWork is one unit of lane-scheduled work. Once Enqueue accepts it,
// Complete is invoked exactly once: with the dispatch outcome, a queue
// wait-timeout error, or the context error after cancellation.
type QueuedWork struct {
	LaneKey      string
	EnqueuedAt   time.Time
	WaitDeadline time.Time
	Run          func(ctx context.Context) (any, error)
	Complete     func(result any, err error)
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewQueuedWork builds a work item bound to ctx; cancelling ctx dequeues
// it cleanly without affecting other lanes.
func NewQueuedWork(ctx context.Context, laneKey string, waitBudget time.Duration, run func(ctx context.Context) (any, error)) *QueuedWork {
	runCtx, cancel := context.WithCancel(ctx)
	return &QueuedWork{
		LaneKey:      laneKey,
		EnqueuedAt:   time.Now(),
		WaitDeadline: time.Now().Add(waitBudget),
		Run:          run,
		ctx:          runCtx,
		cancel:       cancel,
	}
}

// Context returns the work item's run-scoped context.
func (w *QueuedWork) Context() context.Context { return w.ctx }

// Cancel releases the work item's context; safe to call multiple times.
func (w *QueuedWork) Cancel() {
	if w.cancel != nil {
		w.cancel()
	}
}
