package broker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/domain"
)

type fakeEngine struct {
	mu       sync.Mutex
	ready    bool
	enabled  bool
	calls    []string
	allowed  []string
	failWith error
}

func (e *fakeEngine) Enable(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "enable")
	if !e.ready {
		return domain.ErrEngineNotReady
	}
	if e.failWith != nil {
		return e.failWith
	}
	e.enabled = true
	return nil
}

func (e *fakeEngine) Disable(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, "disable")
	if !e.ready {
		return domain.ErrEngineNotReady
	}
	if e.failWith != nil {
		return e.failWith
	}
	e.enabled = false
	return nil
}

func (e *fakeEngine) Allow(host string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.allowed = append(e.allowed, host)
}

func startBroker(t *testing.T, engine Engine) *Broker {
	t.Helper()
	b := New(engine)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func record(name string, score float64) domain.ReputationRecord {
	return domain.ReputationRecord{Domain: name, RiskScore: score}
}

func TestQueryBeforeDeliveryIsNotReady(t *testing.T) {
	b := startBroker(t, &fakeEngine{ready: true})

	_, err := b.Query(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotReady)
}

func TestLastWriteWins(t *testing.T) {
	b := startBroker(t, &fakeEngine{ready: true})
	ctx := context.Background()

	r1 := record("first.example", 10)
	r2 := domain.ReputationRecord{Domain: "second.example", Malware: true}

	require.NoError(t, b.Deliver(ctx, r1))
	require.NoError(t, b.Deliver(ctx, r2))

	got, err := b.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, r2, got, "query must return the last record, never a merge")
}

func TestQueryReturnsCopy(t *testing.T) {
	b := startBroker(t, &fakeEngine{ready: true})
	ctx := context.Background()

	require.NoError(t, b.Deliver(ctx, record("example.com", 1)))
	got, err := b.Query(ctx)
	require.NoError(t, err)
	got.Domain = "mutated"

	again, err := b.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, "example.com", again.Domain)
}

func TestSetBlockingToggle(t *testing.T) {
	engine := &fakeEngine{ready: true}
	b := startBroker(t, engine)
	ctx := context.Background()

	require.NoError(t, b.SetBlocking(ctx, domain.BlockingDisabled))
	require.NoError(t, b.SetBlocking(ctx, domain.BlockingEnabled))

	mode, err := b.Mode(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockingEnabled, mode)
	assert.True(t, engine.enabled)
	assert.Equal(t, []string{"disable", "enable"}, engine.calls)
}

func TestSetBlockingEngineNotReadyKeepsMode(t *testing.T) {
	engine := &fakeEngine{ready: false}
	b := startBroker(t, engine)
	ctx := context.Background()

	err := b.SetBlocking(ctx, domain.BlockingDisabled)
	assert.ErrorIs(t, err, domain.ErrEngineNotReady)

	mode, err := b.Mode(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockingEnabled, mode)
}

func TestSetBlockingEngineFailureKeepsMode(t *testing.T) {
	engine := &fakeEngine{ready: true, failWith: errors.New("browser gone")}
	b := startBroker(t, engine)
	ctx := context.Background()

	err := b.SetBlocking(ctx, domain.BlockingDisabled)
	require.Error(t, err)

	mode, err := b.Mode(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.BlockingEnabled, mode)
}

func TestSetBlockingWithoutEngine(t *testing.T) {
	b := startBroker(t, nil)
	assert.ErrorIs(t, b.SetBlocking(context.Background(), domain.BlockingDisabled), domain.ErrEngineNotReady)
}

func TestHandleNeedIPInfo(t *testing.T) {
	b := startBroker(t, &fakeEngine{ready: true})
	ctx := context.Background()

	reply := b.Handle(ctx, []byte(`"Need IP Info"`))
	assert.Equal(t, ReplyNotReady, reply.Kind)

	r := record("example.com", 42)
	require.NoError(t, b.Deliver(ctx, r))

	reply = b.Handle(ctx, []byte(`{"text":"Need IP Info"}`))
	require.Equal(t, ReplyRecord, reply.Kind)
	assert.Equal(t, r, *reply.Record)
}

func TestHandleUnknownTextEnablesBlocking(t *testing.T) {
	engine := &fakeEngine{ready: true}
	b := startBroker(t, engine)
	ctx := context.Background()

	require.Equal(t, ReplyOK, b.Handle(ctx, []byte(`{"text":"Disable ad blocking"}`)).Kind)
	assert.False(t, engine.enabled)

	reply := b.Handle(ctx, []byte(`{"text":"please do something"}`))
	assert.Equal(t, ReplyOK, reply.Kind)
	assert.Equal(t, "enabled", reply.Mode)
	assert.True(t, engine.enabled)
}

func TestHandleMalformedRepliesUnrecognized(t *testing.T) {
	engine := &fakeEngine{ready: true}
	b := startBroker(t, engine)

	for _, raw := range []string{``, `{`, `42`, `null`, `{"foo":"bar"}`, `{"text":""}`} {
		reply := b.Handle(context.Background(), []byte(raw))
		assert.Equal(t, ReplyUnrecognized, reply.Kind, "payload %q", raw)
		assert.ErrorIs(t, reply.Err(), domain.ErrUnrecognized)
	}
	assert.Empty(t, engine.calls, "unrecognized messages must not touch the engine")
}

func TestHandleDeliveryAndProceed(t *testing.T) {
	engine := &fakeEngine{ready: true}
	b := startBroker(t, engine)
	ctx := context.Background()

	reply := b.Handle(ctx, []byte(`{"domain":"example.com","unsafe":true,"risk_score":88}`))
	assert.Equal(t, ReplyAccepted, reply.Kind)

	got, err := b.Query(ctx)
	require.NoError(t, err)
	assert.True(t, got.Unsafe)

	reply = b.Handle(ctx, []byte(`{"type":"acuss-denied:proceed-current-site","url":"https://Evil.example/x"}`))
	assert.Equal(t, ReplyOK, reply.Kind)
	assert.Equal(t, []string{"evil.example"}, engine.allowed)
}

func TestRequestsAfterStopFail(t *testing.T) {
	b := New(&fakeEngine{ready: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, b.Run(ctx), context.Canceled)

	_, err := b.Query(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, b.Deliver(context.Background(), record("x", 0)), ErrStopped)
}

func TestConcurrentCallersAreSerialized(t *testing.T) {
	engine := &fakeEngine{ready: true}
	b := startBroker(t, engine)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = b.Deliver(ctx, record("example.com", float64(i)))
			_, _ = b.Query(ctx)
			mode := domain.BlockingEnabled
			if i%2 == 0 {
				mode = domain.BlockingDisabled
			}
			_ = b.SetBlocking(ctx, mode)
		}(i)
	}
	wg.Wait()

	got, err := b.Query(ctx)
	require.NoError(t, err)
	assert.Equal(t, "example.com", got.Domain)
	assert.Len(t, engine.calls, 20)
}
