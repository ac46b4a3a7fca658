package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/LeventeLantos/lead-relay/internal/metrics"
)

var ErrDrainInProgress = errors.New("queue drain already in progress")

// DrainResult counts one drain. A drain stops at the first message it finds
// the gateway unavailable for, so StillPending is 0 or 1 and is not a backlog
// size; read QueueStatus for that.
type DrainResult struct {
	Processed    int `json:"processed"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	StillPending int `json:"still_pending"`
}

// ProcessQueue makes one delivery attempt for each of up to maxMessages
// eligible queued messages. Only one drain runs at a time; a concurrent call
// returns ErrDrainInProgress without touching the queue.
func (d *Dispatcher) ProcessQueue(ctx context.Context, maxMessages int) (DrainResult, error) {
	var res DrainResult

	if !d.draining.CompareAndSwap(false, true) {
		return res, ErrDrainInProgress
	}
	defer d.draining.Store(false)

	for i := 0; i < maxMessages; i++ {
		msg := d.store.DequeueNext(ctx, d.opts.MaxAttempts)
		if msg == nil {
			break
		}

		if res.Processed > 0 {
			if err := sleepCtx(ctx, d.opts.DrainDelay); err != nil {
				return res, err
			}
		}
		res.Processed++

		avail := d.prober.Check(ctx)
		if !avail.Available {
			// the same row would come straight back, so stop here
			res.StillPending++
			slog.Info("drain paused, gateway unavailable", "reason", avail.Reason, "id", msg.ID)
			break
		}

		out := d.send(ctx, msg.Recipient, msg.Body)
		if out.OK() {
			if err := d.store.MarkSent(ctx, msg.ID); err != nil {
				slog.Error("mark sent failed", "id", msg.ID, "err", err)
			}
			res.Sent++
			d.sent(ctx, msg.Recipient, out.MessageID())
			metrics.Drained("sent")
			continue
		}

		if err := d.store.MarkFailed(ctx, msg.ID, out.Reason); err != nil {
			slog.Error("mark failed failed", "id", msg.ID, "err", err)
		}
		res.Failed++
		metrics.Drained("failed")
		slog.Warn("queued message attempt failed", "id", msg.ID, "attempts", msg.Attempts+1, "reason", out.Reason)
	}

	if res.Processed > 0 {
		slog.Info("queue drained",
			"processed", res.Processed,
			"sent", res.Sent,
			"failed", res.Failed,
			"still_pending", res.StillPending,
		)
	}
	return res, nil
}

func (d *Dispatcher) Draining() bool { return d.draining.Load() }
