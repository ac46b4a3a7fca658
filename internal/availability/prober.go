package availability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/LeventeLantos/lead-relay/internal/metrics"
)

const (
	ReasonDisconnected = "disconnected"
	ReasonInUse        = "in_use"
)

type StatusChecker interface {
	Status(ctx context.Context) (int, error)
}

type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	Degraded  bool   `json:"degraded,omitempty"`
	Message   string `json:"message"`
}

// Prober answers whether a send is worth attempting. It is optimistic: only
// an explicit "disconnected" or "in use" answer makes the gateway
// unavailable. Anything it cannot interpret lets the send go ahead.
type Prober struct {
	checker StatusChecker
	timeout time.Duration
}

func NewProber(checker StatusChecker, timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Prober{checker: checker, timeout: timeout}
}

func (p *Prober) Check(ctx context.Context) Availability {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	a := p.check(ctx)
	metrics.GatewayAvailable(a.Available)
	if !a.Available {
		slog.Warn("gateway unavailable", "reason", a.Reason, "message", a.Message)
	} else if a.Degraded {
		slog.Debug("gateway status unknown, proceeding", "message", a.Message)
	}
	return a
}

func (p *Prober) check(ctx context.Context) Availability {
	code, err := p.checker.Status(ctx)
	if err != nil {
		return Availability{
			Available: true,
			Degraded:  true,
			Message:   fmt.Sprintf("could not verify status, trying to send: %v", err),
		}
	}

	switch code {
	case http.StatusOK:
		return Availability{Available: true, Message: "gateway available"}
	case http.StatusNotImplemented:
		return Availability{Available: false, Reason: ReasonDisconnected, Message: "whatsapp disconnected"}
	case http.StatusTooManyRequests:
		return Availability{Available: false, Reason: ReasonInUse, Message: "gateway in use"}
	default:
		return Availability{
			Available: true,
			Degraded:  true,
			Message:   fmt.Sprintf("unknown status %d, trying to send", code),
		}
	}
}
