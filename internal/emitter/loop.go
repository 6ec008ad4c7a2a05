package emitter

import (
	"context"
	stderrors "errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/snowtrail/snowtrail/internal/notify"
	"github.com/snowtrail/snowtrail/internal/payload"
	"github.com/snowtrail/snowtrail/internal/store"
	"github.com/snowtrail/snowtrail/pkg/types"
)

// cycleOutcome summarises one drain cycle.
type cycleOutcome struct {
	requests  int
	succeeded int
	failed    int
	deleted   int
	oversize  int
	storeErr  bool
}

// empty is true when there was nothing to send.
func (o cycleOutcome) empty() bool { return o.requests == 0 && !o.storeErr }

// totalFailure is true when the cycle made no progress at all.
func (o cycleOutcome) totalFailure() bool {
	return o.storeErr || (o.requests > 0 && o.succeeded == 0)
}

// runConsumer moves queued payloads into the store until q is closed and
// empty.
func (e *Emitter) runConsumer(q *Queue) {
	defer e.wg.Done()
	for {
		p, ok := q.Dequeue()
		if !ok {
			return
		}
		e.persist(context.Background(), p)
	}
}

// runLoop drains the store whenever it holds rows, sleeping on the wake
// channel when it is empty and for FailInterval after a failed cycle.
func (e *Emitter) runLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}

		count, err := e.store.Count(ctx)
		if err != nil {
			// Rows may be pending; retry after FailInterval rather than
			// waiting for the next Add.
			e.logger.Error("failed to count events", "error", err)
			if !e.pause(ctx) {
				return
			}
			continue
		}
		if count == 0 {
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
				continue
			}
		}

		// A cycle that has started is allowed to finish after Stop.
		e.sending.Store(true)
		out := e.cycle(context.WithoutCancel(ctx))
		e.sending.Store(false)

		if out.totalFailure() && !e.pause(ctx) {
			return
		}
	}
}

// pause waits FailInterval. It returns false when ctx ends first.
func (e *Emitter) pause(ctx context.Context) bool {
	interval := e.config().FailInterval
	e.stats.paused.Add(1)
	e.logger.Warn("emission cycle failed, pausing", "interval", interval)
	select {
	case <-ctx.Done():
		return false
	case <-e.after(interval):
		return true
	}
}

// persist writes p to the store and wakes the loop. A full store drops p.
func (e *Emitter) persist(ctx context.Context, p *payload.Payload) {
	if _, err := e.store.Add(ctx, p); err != nil {
		e.stats.dropped.Add(1)
		if !stderrors.Is(err, store.ErrStoreFull) {
			e.logger.Error("failed to persist event", "error", err)
		}
		e.notifier.Publish(notify.Notification{Type: notify.EventDropped})
		return
	}
	e.stats.added.Add(1)

	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// drain runs cycles until the store is empty or a cycle fails completely.
func (e *Emitter) drain(ctx context.Context) {
	for ctx.Err() == nil {
		out := e.cycle(ctx)
		if out.empty() || out.totalFailure() {
			return
		}
	}
}

// cycle sends up to SendLimit rows and deletes the ones that were
// delivered. Rows whose requests failed stay in the store.
func (e *Emitter) cycle(ctx context.Context) cycleOutcome {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	cfg := e.config()
	ctx, span := e.tracer.Start(ctx, "emitter.drain", trace.WithAttributes(
		attribute.String("emitter.method", string(cfg.Method)),
		attribute.Int("emitter.send_limit", cfg.SendLimit),
	))
	defer span.End()

	var out cycleOutcome

	rows, err := e.store.Range(ctx, cfg.SendLimit)
	if err != nil {
		out.storeErr = true
		span.RecordError(err)
		span.SetStatus(codes.Error, "range failed")
		e.logger.Error("failed to read events", "error", err)
		e.publishCycle(ctx, out)
		return out
	}
	if len(rows) == 0 {
		return out
	}

	results := e.sender.Send(ctx, cfg, rows)
	out.requests = len(results)

	var delivered []types.RowID
	for _, r := range results {
		switch {
		case r.Oversize:
			out.oversize += len(r.RowIDs)
			out.succeeded++
			delivered = append(delivered, r.RowIDs...)
		case r.Success:
			out.succeeded++
			delivered = append(delivered, r.RowIDs...)
			e.stats.sent.Add(int64(len(r.RowIDs)))
		default:
			out.failed++
			e.stats.failed.Add(int64(len(r.RowIDs)))
			e.logger.Debug("request failed", "rows", len(r.RowIDs), "status", r.StatusCode, "error", r.Err)
		}
	}

	if len(delivered) > 0 {
		if err := e.store.Delete(ctx, delivered); err != nil {
			// Rows stay in the store and are sent again after the pause.
			out.storeErr = true
			span.RecordError(err)
			e.logger.Error("failed to delete delivered events", "rows", len(delivered), "error", err)
		} else {
			out.deleted = len(delivered)
		}
	}

	e.stats.requests.Add(int64(out.requests))
	e.stats.oversize.Add(int64(out.oversize))
	e.stats.cycles.Add(1)

	span.SetAttributes(
		attribute.Int("emitter.rows", len(rows)),
		attribute.Int("emitter.requests", out.requests),
		attribute.Int("emitter.succeeded", out.succeeded),
		attribute.Int("emitter.failed", out.failed),
	)
	switch {
	case out.storeErr:
		span.SetStatus(codes.Error, "delete failed")
	case out.totalFailure():
		span.SetStatus(codes.Error, "all requests failed")
	}

	e.logger.Debug("emission cycle complete",
		"rows", len(rows),
		"requests", out.requests,
		"succeeded", out.succeeded,
		"failed", out.failed,
		"oversize", out.oversize,
	)
	e.publishCycle(ctx, out)
	return out
}

func (e *Emitter) publishCycle(ctx context.Context, out cycleOutcome) {
	n := notify.Notification{
		Type:      notify.CycleCompleted,
		Requests:  out.requests,
		Succeeded: out.succeeded,
		Failed:    out.failed,
		Deleted:   out.deleted,
		Oversize:  out.oversize,
	}
	if out.totalFailure() {
		n.Type = notify.CycleFailed
	}
	if pending, err := e.store.Count(ctx); err == nil {
		n.Pending = pending
	}
	e.notifier.Publish(n)
}
