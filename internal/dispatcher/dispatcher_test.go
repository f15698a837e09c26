package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/replica-harvester/internal/clock/system"
	"github.com/JakeFAU/replica-harvester/internal/harvest"
	"github.com/JakeFAU/replica-harvester/internal/progress"
	"github.com/JakeFAU/replica-harvester/internal/throttle"
)

var testReplica = harvest.NewReplica("http://10.0.0.1:8080")

type step struct {
	code int
	body string
	err  error
}

func ok(info string) step {
	return step{code: http.StatusOK, body: fmt.Sprintf(`{"information":%q}`, info)}
}

// scriptedFetcher replays steps in order and repeats the last one forever.
type scriptedFetcher struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (f *scriptedFetcher) Fetch(_ context.Context, req harvest.FetchRequest) (harvest.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.steps) {
		idx = len(f.steps) - 1
	}
	f.calls++
	s := f.steps[idx]
	if s.err != nil {
		return harvest.FetchResponse{}, s.err
	}
	return harvest.FetchResponse{
		URL:        req.Replica.Address + "/api/data?input=" + req.Item,
		StatusCode: s.code,
		Body:       []byte(s.body),
	}, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixedSelector struct{ replica harvest.Replica }

func (s fixedSelector) Select() harvest.Replica { return s.replica }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) Events() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

type fixture struct {
	dispatcher *FetchDispatcher
	fetcher    *scriptedFetcher
	throttle   *throttle.Throttle
	logs       *observer.ObservedLogs
	events     *recordingEmitter
	spans      *tracetest.SpanRecorder
}

func newFixture(t *testing.T, steps ...step) fixture {
	t.Helper()
	th, err := throttle.New([]harvest.Replica{testReplica}, throttle.Config{Limit: 2})
	require.NoError(t, err)
	core, logs := observer.New(zapcore.DebugLevel)
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	fetcher := &scriptedFetcher{steps: steps}
	events := &recordingEmitter{}
	d := New(
		fixedSelector{replica: testReplica},
		th,
		fetcher,
		system.New(),
		events,
		Config{MaxRetries: 5, AttemptTimeout: time.Second, Tracer: tp.Tracer("test")},
		zap.New(core),
	)
	return fixture{dispatcher: d, fetcher: fetcher, throttle: th, logs: logs, events: events, spans: spans}
}

func TestDispatchRetriesOverloadUntilSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, step{code: 503}, step{code: 503}, ok("X"))
	res := f.dispatcher.Dispatch(context.Background(), "abc")

	require.True(t, res.Delivered())
	assert.Equal(t, "X", res.Payload)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, f.fetcher.Calls())
	assert.Equal(t, 2, f.logs.FilterMessage("attempt failed, retrying").Len())
	assert.Len(t, f.spans.Ended(), 3)
	assert.Zero(t, f.throttle.InFlight(testReplica))

	evts := f.events.Events()
	require.Len(t, evts, 3)
	assert.Equal(t, "retryable", evts[0].Outcome)
	assert.Equal(t, progress.Status5xx, evts[0].StatusClass)
	assert.Equal(t, "success", evts[2].Outcome)
	assert.Equal(t, 3, evts[2].Attempt)
}

func TestDispatchNotFoundExhausts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, step{code: 404})
	res := f.dispatcher.Dispatch(context.Background(), "abc")

	assert.False(t, res.Delivered())
	assert.Equal(t, harvest.ResultExhausted, res.Status)
	assert.Equal(t, 5, res.Attempts)
	assert.True(t, res.NotFound)
	assert.False(t, res.Fatal)
	assert.Equal(t, 5, f.fetcher.Calls())
}

func TestDispatchNotFoundTagFollowsLastOutcome(t *testing.T) {
	t.Parallel()

	f := newFixture(t, step{code: 404}, step{code: 404}, step{code: 404}, step{code: 404}, step{code: 503})
	res := f.dispatcher.Dispatch(context.Background(), "abc")

	assert.Equal(t, harvest.ResultExhausted, res.Status)
	assert.False(t, res.NotFound)
}

func TestDispatchUnexpectedStatusIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, step{code: 500}, ok("never"))
	res := f.dispatcher.Dispatch(context.Background(), "abc")

	assert.Equal(t, harvest.ResultExhausted, res.Status)
	assert.True(t, res.Fatal)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, f.fetcher.Calls())

	fatal := f.logs.FilterMessage("fatal response, abandoning item").All()
	require.Len(t, fatal, 1)
	assert.Equal(t, zapcore.ErrorLevel, fatal[0].Level)
	assert.Equal(t, int64(500), fatal[0].ContextMap()["status_code"])
}

func TestDispatchTransportErrorsRetry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, step{err: errors.New("connection refused")}, ok("Y"))
	res := f.dispatcher.Dispatch(context.Background(), "abc")

	require.True(t, res.Delivered())
	assert.Equal(t, 2, res.Attempts)
	warn := f.logs.FilterMessage("attempt failed, retrying").All()
	require.Len(t, warn, 1)
	assert.Equal(t, "connection refused", warn[0].ContextMap()["error"])
	assert.Equal(t, testReplica.Address, warn[0].ContextMap()["replica"])
}

func TestDispatchMalformedPayloadRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t, step{code: 200, body: `{"info":"x"}`}, step{code: 200, body: `{"information":7}`}, ok("Z"))
	res := f.dispatcher.Dispatch(context.Background(), "abc")

	require.True(t, res.Delivered())
	assert.Equal(t, "Z", res.Payload)
	assert.Equal(t, 3, res.Attempts)
}

func TestDispatchIsIdempotent(t *testing.T) {
	t.Parallel()

	run := func() harvest.Result {
		f := newFixture(t, step{code: 503}, step{code: 404}, ok("same"))
		return f.dispatcher.Dispatch(context.Background(), "abc")
	}
	assert.Equal(t, run(), run())
}

func TestDispatchCanceledRunStopsImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t, ok("X"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.dispatcher.Dispatch(ctx, "abc")
	assert.False(t, res.Delivered())
	assert.Zero(t, res.Attempts)
	assert.Zero(t, f.fetcher.Calls())
}

// slowFetcher blocks until the attempt context expires.
type slowFetcher struct{ calls atomic.Int32 }

func (s *slowFetcher) Fetch(ctx context.Context, _ harvest.FetchRequest) (harvest.FetchResponse, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return harvest.FetchResponse{}, ctx.Err()
}

func TestDispatchAttemptTimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	th, err := throttle.New([]harvest.Replica{testReplica}, throttle.Config{Limit: 1})
	require.NoError(t, err)
	core, logs := observer.New(zapcore.WarnLevel)
	fetcher := &slowFetcher{}
	d := New(fixedSelector{replica: testReplica}, th, fetcher, system.New(), nil,
		Config{MaxRetries: 2, AttemptTimeout: 20 * time.Millisecond}, zap.New(core))

	res := d.Dispatch(context.Background(), "abc")
	assert.Equal(t, harvest.ResultExhausted, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(2), fetcher.calls.Load())
	assert.Contains(t, res.Reason, "attempt timeout")
	assert.Equal(t, 2, logs.Len())
	assert.Zero(t, th.InFlight(testReplica))
}

func TestDispatchDefaults(t *testing.T) {
	t.Parallel()

	d := New(fixedSelector{replica: testReplica}, nil, nil, system.New(), nil, Config{}, nil)
	assert.Equal(t, DefaultMaxRetries, d.MaxRetries())
	assert.Equal(t, DefaultAttemptTimeout, d.cfg.AttemptTimeout)
}

// countingFetcher tracks concurrent calls so the throttle cap can be observed
// through the dispatcher.
type countingFetcher struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (c *countingFetcher) Fetch(context.Context, harvest.FetchRequest) (harvest.FetchResponse, error) {
	n := c.current.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	c.current.Add(-1)
	return harvest.FetchResponse{StatusCode: http.StatusOK, Body: []byte(`{"information":"ok"}`)}, nil
}

func TestDispatchRespectsReplicaCap(t *testing.T) {
	t.Parallel()

	th, err := throttle.New([]harvest.Replica{testReplica}, throttle.Config{Limit: 2})
	require.NoError(t, err)
	fetcher := &countingFetcher{}
	d := New(fixedSelector{replica: testReplica}, th, fetcher, system.New(), nil, Config{}, nil)

	var wg sync.WaitGroup
	for i := range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := d.Dispatch(context.Background(), fmt.Sprintf("item-%d", i))
			if !res.Delivered() {
				t.Errorf("item-%d not delivered: %s", i, res.Reason)
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, fetcher.peak.Load(), int32(2))
	assert.LessOrEqual(t, th.Peak(testReplica), 2)
}
