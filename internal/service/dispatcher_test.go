package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeventeLantos/lead-relay/internal/availability"
	"github.com/LeventeLantos/lead-relay/internal/client"
	"github.com/LeventeLantos/lead-relay/internal/model"
	"github.com/LeventeLantos/lead-relay/internal/repo"
	"github.com/LeventeLantos/lead-relay/internal/service"
)

type fakeGateway struct {
	mu       sync.Mutex
	outcomes []client.Outcome
	calls    []string
	block    chan struct{}
}

func (g *fakeGateway) Send(ctx context.Context, recipient, body string) client.Outcome {
	if g.block != nil {
		<-g.block
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, recipient)
	if len(g.outcomes) == 0 {
		return client.Outcome{Kind: client.Success, StatusCode: 200}
	}
	out := g.outcomes[0]
	if len(g.outcomes) > 1 {
		g.outcomes = g.outcomes[1:]
	}
	return out
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

type fakeProber struct {
	mu    sync.Mutex
	avail availability.Availability
}

func (p *fakeProber) Check(ctx context.Context) availability.Availability {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.avail
}

func (p *fakeProber) Set(a availability.Availability) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.avail = a
}

func available() *fakeProber {
	return &fakeProber{avail: availability.Availability{Available: true, Message: "ok"}}
}

func transient(reason string) client.Outcome {
	return client.Outcome{Kind: client.TransientFailure, StatusCode: 503, Reason: reason}
}

func newStore(t *testing.T) *repo.SQLQueueStore {
	t.Helper()
	db, err := repo.Open(context.Background(), repo.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repo.NewSQLQueueStore(db)
}

func testOptions() service.Options {
	return service.Options{
		MaxRetries:  3,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		DrainDelay:  time.Millisecond,
	}
}

func TestSendWithRetry_DeliveredFirstAttempt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	gw := &fakeGateway{outcomes: []client.Outcome{
		{Kind: client.Success, StatusCode: 200, Raw: []byte(`{"success":true,"id":"m-1"}`)},
	}}

	var hooked []string
	d := service.NewDispatcher(gw, available(), store, testOptions()).
		WithSentHook(func(ctx context.Context, recipient, messageID string) error {
			hooked = append(hooked, recipient+"/"+messageID)
			return nil
		})

	res := d.SendWithRetry(ctx, service.SendRequest{Recipient: "5511", Body: "hi", Priority: 5, UseQueue: true})

	assert.Equal(t, service.Delivered, res.State)
	assert.True(t, res.Success)
	assert.False(t, res.Queued)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "m-1", res.MessageID)
	assert.Equal(t, model.QueueStats{}, store.Stats(ctx))
	assert.Equal(t, []string{"5511/m-1"}, hooked)
}

func TestSendWithRetry_TransientExhaustedIsQueued(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	gw := &fakeGateway{outcomes: []client.Outcome{
		transient("HTTP 503: first"),
		transient("HTTP 503: second"),
		transient("HTTP 503: third"),
	}}
	d := service.NewDispatcher(gw, available(), store, testOptions())

	res := d.SendWithRetry(ctx, service.SendRequest{Recipient: "5511", Body: "hi", Priority: 2, UseQueue: true})

	assert.Equal(t, service.Queued, res.State)
	assert.False(t, res.Success)
	assert.True(t, res.Queued)
	assert.Equal(t, 3, res.Attempts)
	assert.NotZero(t, res.QueueID)
	assert.Len(t, gw.Calls(), 3)

	rows, err := store.List(ctx, model.Pending, 10, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rows[0].Attempts)
	assert.Equal(t, 2, rows[0].Priority)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "HTTP 503: third", *rows[0].LastError)
	assert.Equal(t, "HTTP 503: third", rows[0].Metadata["last_error"])
}

func TestSendWithRetry_TransientWithoutQueueIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	gw := &fakeGateway{outcomes: []client.Outcome{transient("HTTP 500")}}
	d := service.NewDispatcher(gw, available(), store, testOptions())

	res := d.SendWithRetry(ctx, service.SendRequest{Recipient: "5511", Body: "hi"})

	assert.Equal(t, service.Rejected, res.State)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 0, store.Stats(ctx).Total)
}

func TestSendWithRetry_DisconnectedIsNeverQueued(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	gw := &fakeGateway{outcomes: []client.Outcome{
		{Kind: client.GatewayOffline, StatusCode: 501, Reason: "whatsapp disconnected: panel closed"},
	}}
	d := service.NewDispatcher(gw, available(), store, testOptions())

	res := d.SendWithRetry(ctx, service.SendRequest{Recipient: "5511", Body: "hi", UseQueue: true})

	assert.Equal(t, service.Rejected, res.State)
	assert.False(t, res.Success)
	assert.False(t, res.Queued)
	assert.Contains(t, res.Error, "disconnected")
	assert.Len(t, gw.Calls(), 1)
	assert.Equal(t, 0, store.Stats(ctx).Total)
}

func TestSendWithRetry_AuthAndClientErrorsStopImmediately(t *testing.T) {
	t.Parallel()

	for _, kind := range []client.OutcomeKind{client.AuthError, client.ClientError} {
		kind := kind
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := newStore(t)
			gw := &fakeGateway{outcomes: []client.Outcome{{Kind: kind, Reason: "nope"}}}
			d := service.NewDispatcher(gw, available(), store, testOptions())

			res := d.SendWithRetry(ctx, service.SendRequest{Recipient: "5511", Body: "hi", UseQueue: true})

			assert.Equal(t, service.Rejected, res.State)
			assert.Equal(t, 1, res.Attempts)
			require.NotNil(t, res.Outcome)
			assert.Equal(t, kind, res.Outcome.Kind)
			assert.Equal(t, 0, store.Stats(ctx).Total)
		})
	}
}

func TestSendWithRetry_UnavailableGateway(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	gw := &fakeGateway{}
	prober := &fakeProber{avail: availability.Availability{Reason: availability.ReasonInUse, Message: "gateway in use"}}
	d := service.NewDispatcher(gw, prober, store, testOptions())

	queued := d.SendWithRetry(ctx, service.SendRequest{Recipient: "5511", Body: "hi", Priority: 3, UseQueue: true})
	assert.Equal(t, service.Queued, queued.State)
	assert.Equal(t, 0, queued.Attempts)

	rejected := d.SendWithRetry(ctx, service.SendRequest{Recipient: "5511", Body: "hi"})
	assert.Equal(t, service.Rejected, rejected.State)
	assert.Contains(t, rejected.Error, "in_use")

	assert.Empty(t, gw.Calls())
	assert.Equal(t, model.QueueStats{Total: 1, Pending: 1}, store.Stats(ctx))
}

func TestSendWithRetry_BodyTooLong(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	gw := &fakeGateway{}
	opts := testOptions()
	opts.MaxBodyRunes = 5
	d := service.NewDispatcher(gw, available(), newStore(t), opts)

	res := d.SendWithRetry(ctx, service.SendRequest{Recipient: "5511", Body: "olá mundo", UseQueue: true})

	assert.Equal(t, service.Rejected, res.State)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, client.ClientError, res.Outcome.Kind)
	assert.Empty(t, gw.Calls())
}

func TestSendWithRetry_CanceledDuringBackoffStillQueues(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	gw := &fakeGateway{outcomes: []client.Outcome{transient("HTTP 502")}}
	opts := testOptions()
	opts.RetryDelay = time.Hour
	d := service.NewDispatcher(gw, available(), store, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := d.SendWithRetry(ctx, service.SendRequest{Recipient: "5511", Body: "hi", UseQueue: true})

	assert.Equal(t, service.Queued, res.State)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, store.Stats(context.Background()).Pending)
}

type brokenStore struct {
	repo.QueueStore
}

func (brokenStore) Enqueue(ctx context.Context, p repo.EnqueueParams) (int64, error) {
	return 0, errors.New("disk full")
}

func TestSendWithRetry_EnqueueFailureIsSurfaced(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{outcomes: []client.Outcome{transient("HTTP 500")}}
	d := service.NewDispatcher(gw, available(), brokenStore{}, testOptions())

	res := d.SendWithRetry(context.Background(), service.SendRequest{Recipient: "5511", Body: "hi", UseQueue: true})

	assert.Equal(t, service.Rejected, res.State)
	require.Error(t, res.Err)
	assert.True(t, strings.HasPrefix(res.Error, "queue unavailable"))
}

func TestScheduleMessageAndQueueStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newStore(t)
	d := service.NewDispatcher(&fakeGateway{}, available(), store, testOptions())

	id, err := d.ScheduleMessage(ctx, "5511", "later", time.Now().Add(time.Hour), 4)
	require.NoError(t, err)
	assert.NotZero(t, id)

	status := d.QueueStatus(ctx)
	assert.Equal(t, 1, status.Stats.Pending)
	assert.False(t, status.Draining)
	assert.True(t, status.Availability.Available)

	res, err := d.ProcessQueue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, service.DrainResult{}, res)
}
