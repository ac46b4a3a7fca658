package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

type GatewayClient struct {
	baseURL          string
	token            string
	countryCode      string
	client           *http.Client
	discoveryTimeout time.Duration
}

type Option func(*GatewayClient)

func WithTimeout(d time.Duration) Option {
	return func(c *GatewayClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

func WithCountryCode(cc string) Option {
	return func(c *GatewayClient) {
		if cc != "" {
			c.countryCode = cc
		}
	}
}

func WithDiscoveryTimeout(d time.Duration) Option {
	return func(c *GatewayClient) {
		if d > 0 {
			c.discoveryTimeout = d
		}
	}
}

func NewGatewayClient(baseURL, token string, opts ...Option) *GatewayClient {
	c := &GatewayClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		countryCode: DefaultCountryCode,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		discoveryTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *GatewayClient) CountryCode() string { return c.countryCode }

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Send delivers one text message and classifies the result. It never
// returns an error: every failure is described by the Outcome.
func (c *GatewayClient) Send(ctx context.Context, recipient, message string) Outcome {
	reqBody, err := json.Marshal(sendRequest{
		Phone:   NormalizePhone(recipient, c.countryCode),
		Message: message,
	})
	if err != nil {
		return Outcome{Kind: ClientError, Reason: fmt.Sprintf("encode request: %v", err)}
	}

	url := fmt.Sprintf("%s/api/enviar-texto/%s", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return Outcome{Kind: ClientError, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Outcome{Kind: TransientFailure, Reason: fmt.Sprintf("request failed: %v", err)}
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	body, _ := io.ReadAll(resp.Body)

	return classify(resp.StatusCode, body)
}

func classify(status int, body []byte) Outcome {
	out := Outcome{StatusCode: status}

	switch {
	case status >= 200 && status < 300:
		// any 2xx means the gateway took the message; resending would duplicate it
		out.Kind = Success
		if json.Valid(body) {
			out.Raw = json.RawMessage(body)
		}
	case status == http.StatusBadRequest:
		out.Kind = ClientError
		out.Reason = "request rejected: " + gatewayMessage(body, "phone and message are required")
	case status == http.StatusNotFound:
		out.Kind = AuthError
		out.Reason = "invalid token: " + gatewayMessage(body, "token not registered")
	case status == http.StatusNotImplemented:
		out.Kind = GatewayOffline
		out.Reason = "whatsapp disconnected: " +
			gatewayMessage(body, "whatsapp page not open or api disconnected") +
			"; reconnect the session in the gateway panel"
	default:
		out.Kind = TransientFailure
		out.Reason = fmt.Sprintf("HTTP %d: body=%q", status, truncate(string(body), 200))
	}
	return out
}

func gatewayMessage(body []byte, fallback string) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Message != "" {
		return er.Message
	}
	return fallback
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Status performs the gateway health probe and returns the raw status code.
func (c *GatewayClient) Status(ctx context.Context) (int, error) {
	url := fmt.Sprintf("%s/api/status/%s", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var ErrNoGroupEndpoint = errors.New("no group listing endpoint answered")

var groupEndpoints = []string{
	"/api/grupos/",
	"/api/groups/",
	"/api/listar-grupos/",
	"/api/list-groups/",
}

// ListGroups asks the gateway for the connected account's groups. The gateway
// exposes no documented listing endpoint, so a fixed list of candidates is
// tried in order and the first 200 answer wins.
func (c *GatewayClient) ListGroups(ctx context.Context) ([]Group, error) {
	for _, path := range groupEndpoints {
		groups, ok := c.tryGroupEndpoint(ctx, c.baseURL+path+c.token)
		if ok {
			return groups, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, ErrNoGroupEndpoint
}

func (c *GatewayClient) tryGroupEndpoint(ctx context.Context, url string) ([]Group, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.discoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}
	groups, err := decodeGroups(body)
	if err != nil {
		return nil, false
	}
	return groups, true
}

func decodeGroups(body []byte) ([]Group, error) {
	var items []map[string]any
	if err := json.Unmarshal(body, &items); err != nil {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("decode groups: %w", err)
		}
		for _, key := range []string{"grupos", "groups", "data"} {
			raw, ok := wrapped[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(raw, &items); err == nil {
				break
			}
		}
	}

	groups := make([]Group, 0, len(items))
	for _, item := range items {
		id := firstString(item, "id", "groupId", "jid")
		if id == "" {
			continue
		}
		groups = append(groups, Group{
			ID:   id,
			Name: firstString(item, "name", "nome", "subject"),
		})
	}
	return groups, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
