// Package trigger implements C2, the Event Trigger: it consumes the
// request log's change stream, filters for transitions into APPROVED,
// and dispatches each matching request to a bounded worker pool for
// processing (spec §4.2).
package trigger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/healthlake/erasure-orchestrator/internal/requestlog"
)

// Handler processes one erasure request end to end. It is supplied by
// the orchestrator package; trigger only decides which requests to run
// it for and how many to run concurrently.
type Handler func(ctx context.Context, requestID string)

// Dispatcher filters change-stream events and runs Handler for each
// request that transitions into APPROVED, bounded by a fixed worker
// pool.
type Dispatcher struct {
	handler Handler
	logger  *slog.Logger
	pool    *ants.PoolWithFunc
	wg      sync.WaitGroup
}

// NewDispatcher builds a Dispatcher with workerCount concurrent workers.
// A panic inside Handler is logged and does not take down the pool or
// the process.
func NewDispatcher(workerCount int, handler Handler, logger *slog.Logger) (*Dispatcher, error) {
	if workerCount <= 0 {
		workerCount = 4
	}
	d := &Dispatcher{handler: handler, logger: logger}

	pool, err := ants.NewPoolWithFunc(workerCount, func(arg any) {
		defer d.wg.Done()
		task := arg.(dispatchTask)
		d.handler(task.ctx, task.requestID)
	}, ants.WithPanicHandler(func(v any) {
		d.logger.Error("erasure worker panic", "recovered", v)
	}))
	if err != nil {
		return nil, err
	}
	d.pool = pool
	return d, nil
}

type dispatchTask struct {
	ctx       context.Context
	requestID string
}

// Run consumes events until ctx is cancelled or events is closed,
// dispatching exactly the events this component is responsible for
// reacting to (spec §4.2): an insert or modification whose new image's
// status is APPROVED and whose prior image, if any, was not APPROVED.
// Every other event is ignored.
func (d *Dispatcher) Run(ctx context.Context, events <-chan requestlog.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !shouldDispatch(ev) {
				continue
			}
			d.submit(ctx, ev.NewImage.RequestID)
		}
	}
}

// shouldDispatch reasserts the APPROVED-transition filter defensively at
// the consumer (spec §4.2), rather than trusting any filtering the
// stream source may already apply.
func shouldDispatch(ev requestlog.ChangeEvent) bool {
	if ev.NewImage == nil {
		return false
	}
	if ev.NewImage.Status != requestlog.StatusApproved {
		return false
	}
	if ev.OldImage != nil && ev.OldImage.Status == requestlog.StatusApproved {
		return false // already APPROVED before this event; not a transition
	}
	return true
}

func (d *Dispatcher) submit(ctx context.Context, requestID string) {
	d.wg.Add(1)
	err := d.pool.Invoke(dispatchTask{ctx: ctx, requestID: requestID})
	if err != nil {
		d.wg.Done()
		d.logger.Error("failed to dispatch request", "request_id", requestID, "error", err)
	}
}

// Stop waits for in-flight handlers to finish and releases the pool.
func (d *Dispatcher) Stop() {
	d.wg.Wait()
	d.pool.Release()
}
