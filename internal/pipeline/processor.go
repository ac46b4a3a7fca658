package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/LeventeLantos/lead-relay/internal/analyzer"
	"github.com/LeventeLantos/lead-relay/internal/metrics"
	"github.com/LeventeLantos/lead-relay/internal/model"
	"github.com/LeventeLantos/lead-relay/internal/recipients"
	"github.com/LeventeLantos/lead-relay/internal/service"
)

const (
	PriorityUrgent  = 1
	PriorityWelcome = 3
	PriorityNormal  = 5

	opportunisticDrain = 10
)

type Dispatcher interface {
	SendWithRetry(ctx context.Context, req service.SendRequest) service.Result
	ProcessQueue(ctx context.Context, maxMessages int) (service.DrainResult, error)
	Pending(ctx context.Context) int
}

type Notifier interface {
	NotifyUndelivered(ctx context.Context, recipient, body, reason string) error
}

type Kind string

const (
	KindWelcome Kind = "welcome"
	KindGroup   Kind = "group"
	KindPerson  Kind = "person"
)

type Delivery struct {
	Kind      Kind          `json:"kind"`
	Recipient string        `json:"recipient"`
	State     service.State `json:"state"`
	QueueID   int64         `json:"queue_id,omitempty"`
	MessageID string        `json:"message_id,omitempty"`
	Error     string        `json:"error,omitempty"`
	Emailed   bool          `json:"emailed,omitempty"`
}

type Report struct {
	ResponseID   string               `json:"response_id"`
	Analysis     model.Analysis       `json:"analysis"`
	HighPriority bool                 `json:"high_priority"`
	Deliveries   []Delivery           `json:"deliveries"`
	Delivered    int                  `json:"delivered"`
	Queued       int                  `json:"queued"`
	Rejected     int                  `json:"rejected"`
	Drain        *service.DrainResult `json:"drain,omitempty"`
}

// OK is true when nothing was rejected outright. Queued messages count.
func (r Report) OK() bool { return r.Rejected == 0 }

type Processor struct {
	analyzer   analyzer.Analyzer
	resolver   *recipients.Resolver
	dispatcher Dispatcher
	notifier   Notifier
}

// New wires a processor. notifier may be nil, in which case rejected
// messages are only logged.
func New(a analyzer.Analyzer, r *recipients.Resolver, d Dispatcher, n Notifier) *Processor {
	if a == nil {
		a = analyzer.FieldAnalyzer{}
	}
	return &Processor{analyzer: a, resolver: r, dispatcher: d, notifier: n}
}

func (p *Processor) Process(ctx context.Context, resp model.FormResponse) Report {
	rep := Report{ResponseID: resp.ResponseID}

	a, err := p.analyzer.Analyze(ctx, resp)
	if err != nil {
		slog.Warn("lead analysis failed, using raw fields", "response_id", resp.ResponseID, "err", err)
		a, _ = analyzer.FieldAnalyzer{}.Analyze(ctx, resp)
	}
	rep.Analysis = a
	rep.HighPriority = analyzer.IsHighPriority(a.Priority)

	if a.Phone != "" && !p.resolver.IsBlockedPhone(a.Phone) {
		p.deliver(ctx, &rep, KindWelcome, a.Phone, p.resolver.RenderWelcome(a), PriorityWelcome)
	}

	teamPriority := PriorityNormal
	if rep.HighPriority {
		teamPriority = PriorityUrgent
	}
	note := p.resolver.RenderNewLead(resp.ResponseID, a)

	for _, g := range p.resolver.ResolveGroups(ctx, nil, true) {
		p.deliver(ctx, &rep, KindGroup, g, note, teamPriority)
	}
	for _, person := range p.resolver.ResolveTeam(a.Phone) {
		p.deliver(ctx, &rep, KindPerson, person.Phone, note, teamPriority)
	}

	if p.dispatcher.Pending(ctx) > 0 {
		dr, err := p.dispatcher.ProcessQueue(ctx, opportunisticDrain)
		switch {
		case errors.Is(err, service.ErrDrainInProgress):
		case err != nil:
			slog.Warn("opportunistic drain stopped", "err", err)
			rep.Drain = &dr
		default:
			rep.Drain = &dr
		}
	}

	result := "ok"
	if !rep.OK() {
		result = "partial"
	}
	metrics.Lead(result)

	slog.Info("lead processed",
		"response_id", resp.ResponseID,
		"priority", a.Priority,
		"delivered", rep.Delivered,
		"queued", rep.Queued,
		"rejected", rep.Rejected,
	)
	return rep
}

func (p *Processor) deliver(ctx context.Context, rep *Report, kind Kind, recipient, body string, priority int) {
	res := p.dispatcher.SendWithRetry(ctx, service.SendRequest{
		Recipient: recipient,
		Body:      body,
		Priority:  priority,
		UseQueue:  true,
		Metadata: map[string]any{
			"response_id": rep.ResponseID,
			"kind":        string(kind),
		},
	})

	d := Delivery{
		Kind:      kind,
		Recipient: recipient,
		State:     res.State,
		QueueID:   res.QueueID,
		MessageID: res.MessageID,
		Error:     res.Error,
	}

	switch res.State {
	case service.Delivered:
		rep.Delivered++
	case service.Queued:
		rep.Queued++
		slog.Info("message queued for later delivery", "kind", kind, "recipient", recipient, "queue_id", res.QueueID)
	default:
		rep.Rejected++
		slog.Warn("message rejected", "kind", kind, "recipient", recipient, "reason", res.Error)
		d.Emailed = p.escalate(ctx, recipient, body, res.Error)
	}

	rep.Deliveries = append(rep.Deliveries, d)
}

func (p *Processor) escalate(ctx context.Context, recipient, body, reason string) bool {
	if p.notifier == nil {
		return false
	}
	if err := p.notifier.NotifyUndelivered(ctx, recipient, body, reason); err != nil {
		slog.Warn("email fallback failed", "recipient", recipient, "err", err)
		return false
	}
	return true
}
