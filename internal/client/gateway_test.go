package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func TestGatewayClient_Send_Success(t *testing.T) {
	t.Parallel()

	type gotReq struct {
		Method      string
		Path        string
		ContentType string
		Body        []byte
	}

	var captured gotReq

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Path = r.URL.Path
		captured.ContentType = r.Header.Get("Content-Type")

		b, _ := ioReadAll(r)
		captured.Body = b

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"messageId":"abc-123"}`))
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL+"/", "tok")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := c.Send(ctx, "(11) 99999-0000", "hello")
	if !out.OK() {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.MessageID() != "abc-123" {
		t.Fatalf("expected messageId %q, got %q", "abc-123", out.MessageID())
	}

	if captured.Method != http.MethodPost {
		t.Fatalf("expected method POST, got %q", captured.Method)
	}
	if captured.Path != "/api/enviar-texto/tok" {
		t.Fatalf("unexpected path %q", captured.Path)
	}
	if captured.ContentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", captured.ContentType)
	}

	var req sendRequest
	if err := json.Unmarshal(captured.Body, &req); err != nil {
		t.Fatalf("failed to decode request json: %v body=%q", err, string(captured.Body))
	}
	if req.Phone != "5511999990000" {
		t.Fatalf("expected phone %q, got %q", "5511999990000", req.Phone)
	}
	if req.Message != "hello" {
		t.Fatalf("expected message %q, got %q", "hello", req.Message)
	}
}

func TestGatewayClient_Send_Classification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		body      string
		kind      OutcomeKind
		retryable bool
		reason    string
	}{
		{"created", http.StatusCreated, `{"id":"m-1"}`, Success, false, ""},
		{"accepted", http.StatusAccepted, `{"success":true}`, Success, false, ""},
		{"no content", http.StatusNoContent, ``, Success, false, ""},
		{"bad request", http.StatusBadRequest, `{"message":"phone missing"}`, ClientError, false, "phone missing"},
		{"invalid token", http.StatusNotFound, ``, AuthError, false, "invalid token"},
		{"disconnected", http.StatusNotImplemented, `{"message":"offline"}`, GatewayOffline, false, "disconnected"},
		{"server error", http.StatusServiceUnavailable, `oops`, TransientFailure, true, `body="oops"`},
		{"rate limited", http.StatusTooManyRequests, ``, TransientFailure, true, "HTTP 429"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			out := NewGatewayClient(srv.URL, "tok").Send(context.Background(), "5511", "hi")
			if out.Kind != tc.kind {
				t.Fatalf("expected kind %v, got %v (%s)", tc.kind, out.Kind, out.Reason)
			}
			if out.Retryable() != tc.retryable {
				t.Fatalf("expected retryable=%v for %v", tc.retryable, out.Kind)
			}
			if out.StatusCode != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, out.StatusCode)
			}
			if !strings.Contains(out.Reason, tc.reason) {
				t.Fatalf("expected reason to contain %q, got %q", tc.reason, out.Reason)
			}
		})
	}
}

func TestClassify_AcceptedKeepsGatewayReply(t *testing.T) {
	t.Parallel()

	out := classify(http.StatusAccepted, []byte(`{"success":true,"message_id":"wamid-9"}`))
	if !out.OK() || out.Retryable() {
		t.Fatalf("expected terminal success for 202, got %+v", out)
	}
	if out.MessageID() != "wamid-9" {
		t.Fatalf("expected message id from 202 body, got %q", out.MessageID())
	}

	out = classify(http.StatusCreated, []byte(`queued`))
	if !out.OK() || out.Raw != nil {
		t.Fatalf("expected success without raw body for non-json 201, got %+v", out)
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"aé", 2, "a"},
		{"ééé", 5, "éé"},
		{"⚠️x", 2, ""},
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.n)
		if got != tc.want {
			t.Fatalf("truncate(%q, %d): expected %q, got %q", tc.in, tc.n, tc.want, got)
		}
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) produced invalid utf-8 %q", tc.in, tc.n, got)
		}
	}

	long := strings.Repeat("ã", 150)
	if got := truncate(long, 200); len(got) != 200 || !utf8.ValidString(got) {
		t.Fatalf("expected 100 whole runes, got %d bytes", len(got))
	}
}

func TestGatewayClient_Send_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewGatewayClient(srv.URL, "tok")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := c.Send(ctx, "5511", "hi")
	if out.Kind != TransientFailure {
		t.Fatalf("expected transient failure, got %v", out.Kind)
	}
	if !strings.Contains(strings.ToLower(out.Reason), "deadline") &&
		!strings.Contains(strings.ToLower(out.Reason), "context") {
		t.Fatalf("expected context/deadline reason, got: %v", out.Reason)
	}
}

func TestGatewayClient_Status(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status/tok" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	code, err := NewGatewayClient(srv.URL, "tok").Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestGatewayClient_ListGroups_FallsThroughCandidates(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		hits []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits = append(hits, r.URL.Path)
		mu.Unlock()

		if r.URL.Path != "/api/listar-grupos/tok" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"jid":"123@g.us","subject":"Sales"},{"name":"no id"}]}`))
	}))
	defer srv.Close()

	groups, err := NewGatewayClient(srv.URL, "tok").ListGroups(context.Background())
	if err != nil {
		t.Fatalf("ListGroups() error: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != "123@g.us" || groups[0].Name != "Sales" {
		t.Fatalf("unexpected groups: %+v", groups)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/api/grupos/tok", "/api/groups/tok", "/api/listar-grupos/tok"}
	if strings.Join(hits, ",") != strings.Join(want, ",") {
		t.Fatalf("expected hits %v, got %v", want, hits)
	}
}

func TestGatewayClient_ListGroups_BareArrayAndNoEndpoint(t *testing.T) {
	t.Parallel()

	arraySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"1@g.us","nome":"Time"},{"groupId":"2@g.us"}]`))
	}))
	defer arraySrv.Close()

	groups, err := NewGatewayClient(arraySrv.URL, "tok").ListGroups(context.Background())
	if err != nil {
		t.Fatalf("ListGroups() error: %v", err)
	}
	if len(groups) != 2 || groups[0].Name != "Time" || groups[1].ID != "2@g.us" {
		t.Fatalf("unexpected groups: %+v", groups)
	}

	deadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer deadSrv.Close()

	if _, err := NewGatewayClient(deadSrv.URL, "tok").ListGroups(context.Background()); err == nil {
		t.Fatalf("expected error when no endpoint answers")
	}
}

func TestNormalizePhone(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw, cc, want string
	}{
		{"(11) 99999-0000", "", "5511999990000"},
		{"+55 11 99999-0000", "55", "5511999990000"},
		{"21999990000", "1", "121999990000"},
		{"120363@g.us", "55", "120363@g.us"},
		{"no digits", "55", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.raw, tc.cc); got != tc.want {
			t.Fatalf("NormalizePhone(%q, %q): expected %q, got %q", tc.raw, tc.cc, tc.want, got)
		}
	}
}

func ioReadAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
