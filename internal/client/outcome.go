package client

import (
	"encoding/json"
	"fmt"
)

type OutcomeKind int

const (
	Success OutcomeKind = iota
	ClientError
	AuthError
	GatewayOffline
	TransientFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case ClientError:
		return "client_error"
	case AuthError:
		return "auth_error"
	case GatewayOffline:
		return "gateway_offline"
	case TransientFailure:
		return "transient_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

func (k OutcomeKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Outcome is the classified result of one gateway call.
type Outcome struct {
	Kind       OutcomeKind     `json:"kind"`
	Reason     string          `json:"reason,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

func (o Outcome) OK() bool { return o.Kind == Success }

// Retryable is true only for failures that may succeed on a later attempt.
func (o Outcome) Retryable() bool { return o.Kind == TransientFailure }

// MessageID extracts the gateway's message identifier from a successful
// response, if it reported one.
func (o Outcome) MessageID() string {
	if len(o.Raw) == 0 {
		return ""
	}
	var body map[string]any
	if err := json.Unmarshal(o.Raw, &body); err != nil {
		return ""
	}
	for _, key := range []string{"messageId", "message_id", "id"} {
		switch v := body[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
