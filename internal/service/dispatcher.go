package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/LeventeLantos/lead-relay/internal/availability"
	"github.com/LeventeLantos/lead-relay/internal/client"
	"github.com/LeventeLantos/lead-relay/internal/metrics"
	"github.com/LeventeLantos/lead-relay/internal/model"
	"github.com/LeventeLantos/lead-relay/internal/repo"
)

type Gateway interface {
	Send(ctx context.Context, recipient, body string) client.Outcome
}

type Prober interface {
	Check(ctx context.Context) availability.Availability
}

type State string

const (
	Delivered State = "delivered"
	Queued    State = "queued"
	Rejected  State = "rejected"
)

type SendRequest struct {
	Recipient string
	Body      string
	Priority  int
	UseQueue  bool
	Metadata  map[string]any
}

type Result struct {
	State     State           `json:"state"`
	Success   bool            `json:"success"`
	Queued    bool            `json:"queued"`
	Attempts  int             `json:"attempts"`
	MessageID string          `json:"message_id,omitempty"`
	QueueID   int64           `json:"queue_id,omitempty"`
	Error     string          `json:"error,omitempty"`
	Outcome   *client.Outcome `json:"outcome,omitempty"`

	// Err is set only when the queue could not record the message.
	Err error `json:"-"`
}

type Options struct {
	MaxRetries   int
	MaxAttempts  int
	RetryDelay   time.Duration
	DrainDelay   time.Duration
	MaxBodyRunes int
}

func (o *Options) setDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = model.DefaultMaxAttempts
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = o.MaxAttempts
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.DrainDelay < 0 {
		o.DrainDelay = 0
	}
	if o.MaxBodyRunes <= 0 {
		o.MaxBodyRunes = 4096
	}
}

// DefaultOptions carries the production delays. The zero Options value
// means no delays at all.
func DefaultOptions() Options {
	return Options{
		MaxRetries:   model.DefaultMaxAttempts,
		MaxAttempts:  model.DefaultMaxAttempts,
		RetryDelay:   5 * time.Second,
		DrainDelay:   time.Second,
		MaxBodyRunes: 4096,
	}
}

// Dispatcher decides, per message, whether to send now, retry, queue or
// give up. It also drains the queue it feeds.
type Dispatcher struct {
	gateway Gateway
	prober  Prober
	store   repo.QueueStore
	opts    Options

	draining atomic.Bool

	onSent func(ctx context.Context, recipient, messageID string) error
}

func NewDispatcher(gateway Gateway, prober Prober, store repo.QueueStore, opts Options) *Dispatcher {
	opts.setDefaults()
	return &Dispatcher{
		gateway: gateway,
		prober:  prober,
		store:   store,
		opts:    opts,
	}
}

// WithSentHook registers a callback run after every successful delivery.
// Hook errors are logged and never change the result.
func (d *Dispatcher) WithSentHook(fn func(ctx context.Context, recipient, messageID string) error) *Dispatcher {
	d.onSent = fn
	return d
}

func (d *Dispatcher) SendWithRetry(ctx context.Context, req SendRequest) Result {
	res := d.sendWithRetry(ctx, req)
	metrics.DispatchResult(string(res.State))
	return res
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, req SendRequest) Result {
	if n := utf8.RuneCountInString(req.Body); n > d.opts.MaxBodyRunes {
		out := client.Outcome{
			Kind:   client.ClientError,
			Reason: fmt.Sprintf("body exceeds %d chars", d.opts.MaxBodyRunes),
		}
		return Result{State: Rejected, Error: out.Reason, Outcome: &out}
	}

	avail := d.prober.Check(ctx)
	if !avail.Available {
		reason := fmt.Sprintf("gateway unavailable (%s): %s", avail.Reason, avail.Message)
		if req.UseQueue {
			return d.enqueue(ctx, req, reason, 0, nil)
		}
		return Result{State: Rejected, Error: reason}
	}

	var (
		last     client.Outcome
		attempts int
	)
	for attempts < d.opts.MaxRetries {
		attempts++
		last = d.send(ctx, req.Recipient, req.Body)

		switch last.Kind {
		case client.Success:
			id := last.MessageID()
			d.sent(ctx, req.Recipient, id)
			return Result{
				State:     Delivered,
				Success:   true,
				Attempts:  attempts,
				MessageID: id,
				Outcome:   &last,
			}

		case client.TransientFailure:
			slog.Warn("send attempt failed",
				"recipient", req.Recipient,
				"attempt", attempts,
				"max", d.opts.MaxRetries,
				"reason", last.Reason,
			)
			if attempts < d.opts.MaxRetries {
				if err := sleepCtx(ctx, d.opts.RetryDelay); err != nil {
					return d.exhausted(ctx, req, last, attempts)
				}
			}

		default:
			slog.Error("send rejected by gateway",
				"recipient", req.Recipient,
				"outcome", last.Kind.String(),
				"reason", last.Reason,
			)
			return Result{State: Rejected, Attempts: attempts, Error: last.Reason, Outcome: &last}
		}
	}

	return d.exhausted(ctx, req, last, attempts)
}

func (d *Dispatcher) exhausted(ctx context.Context, req SendRequest, last client.Outcome, attempts int) Result {
	if !req.UseQueue {
		return Result{State: Rejected, Attempts: attempts, Error: last.Reason, Outcome: &last}
	}

	meta := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	meta["last_error"] = last.Reason
	req.Metadata = meta

	res := d.enqueue(ctx, req, last.Reason, attempts, &last)
	return res
}

func (d *Dispatcher) enqueue(ctx context.Context, req SendRequest, reason string, attempts int, last *client.Outcome) Result {
	params := repo.EnqueueParams{
		Recipient: req.Recipient,
		Body:      req.Body,
		Priority:  req.Priority,
		Metadata:  req.Metadata,
	}
	if last != nil {
		lastErr := last.Reason
		params.LastError = &lastErr
	}

	// the caller may already be gone, the row must still land
	id, err := d.store.Enqueue(context.WithoutCancel(ctx), params)
	if err != nil {
		slog.Error("enqueue failed", "recipient", req.Recipient, "err", err)
		return Result{
			State:    Rejected,
			Attempts: attempts,
			Error:    fmt.Sprintf("queue unavailable: %v (after: %s)", err, reason),
			Outcome:  last,
			Err:      err,
		}
	}

	return Result{
		State:    Queued,
		Queued:   true,
		Attempts: attempts,
		QueueID:  id,
		Error:    reason,
		Outcome:  last,
	}
}

func (d *Dispatcher) send(ctx context.Context, recipient, body string) client.Outcome {
	start := time.Now()
	out := d.gateway.Send(ctx, recipient, body)
	metrics.GatewayCall(out.Kind.String(), time.Since(start).Seconds())
	return out
}

func (d *Dispatcher) sent(ctx context.Context, recipient, messageID string) {
	if d.onSent == nil {
		return
	}
	if err := d.onSent(ctx, recipient, messageID); err != nil {
		slog.Warn("sent hook failed", "recipient", recipient, "err", err)
	}
}

func (d *Dispatcher) ScheduleMessage(ctx context.Context, recipient, body string, when time.Time, priority int) (int64, error) {
	return d.store.Enqueue(ctx, repo.EnqueueParams{
		Recipient:    recipient,
		Body:         body,
		Priority:     priority,
		ScheduledFor: &when,
	})
}

type QueueStatus struct {
	Stats        model.QueueStats          `json:"queue_stats"`
	Draining     bool                      `json:"is_processing"`
	Availability availability.Availability `json:"availability"`
}

func (d *Dispatcher) QueueStatus(ctx context.Context) QueueStatus {
	stats := d.store.Stats(ctx)
	metrics.QueueDepth(stats.Pending, stats.Sent, stats.Failed)
	return QueueStatus{
		Stats:        stats,
		Draining:     d.Draining(),
		Availability: d.prober.Check(ctx),
	}
}

// Pending is the number of rows still waiting for delivery.
func (d *Dispatcher) Pending(ctx context.Context) int {
	return d.store.Stats(ctx).Pending
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
