package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/replica-harvester/internal/harvest"
)

func TestRequestURLEscapesItem(t *testing.T) {
	t.Parallel()

	got := RequestURL(harvest.Replica{Address: "http://r1:8080"}, "a b&c")
	require.Equal(t, "http://r1:8080/api/data?input=a+b%26c", got)
}

func TestFetchReturnsEveryStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusOK, http.StatusNotFound, http.StatusServiceUnavailable, http.StatusTeapot} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != DataPath {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = io.WriteString(w, `{"information":"`+r.URL.Query().Get("input")+`"}`)
		}))

		f := New(Config{UserAgent: "test-agent", Timeout: time.Second})
		resp, err := f.Fetch(context.Background(), harvest.FetchRequest{
			Replica: harvest.Replica{Address: srv.URL},
			Item:    "item-1",
			Attempt: 1,
		})
		srv.Close()

		require.NoError(t, err, "status %d", code)
		require.Equal(t, code, resp.StatusCode)
		require.JSONEq(t, `{"information":"item-1"}`, string(resp.Body))
	}
}

func TestFetchSameURLTwice(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	req := harvest.FetchRequest{Replica: harvest.Replica{Address: srv.URL}, Item: "dup"}
	for i := 0; i < 2; i++ {
		resp, err := f.Fetch(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
	require.Equal(t, int32(2), hits.Load(), "retries of the same item must reach the replica")
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := f.Fetch(context.Background(), harvest.FetchRequest{
		Replica: harvest.Replica{Address: srv.URL},
		Item:    "slow",
	})
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestFetchHonorsContextDeadline(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	resp, err := f.Fetch(ctx, harvest.FetchRequest{
		Replica: harvest.Replica{Address: srv.URL},
		Item:    "slow",
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	require.Zero(t, resp.StatusCode)
	require.Less(t, time.Since(start), time.Second)
}

func TestFetchConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(Config{Timeout: time.Second})
	_, err := f.Fetch(context.Background(), harvest.FetchRequest{
		Replica: harvest.Replica{Address: addr},
		Item:    "x",
	})
	require.Error(t, err)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(Config{})
	_, err := f.Fetch(ctx, harvest.FetchRequest{Replica: harvest.Replica{Address: "http://127.0.0.1:1"}})
	require.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	start := time.Now()
	var result harvest.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	configureCollectorHooks(hooks, start, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusNotFound,
		Body:       []byte("{}"),
		Headers:    &http.Header{},
		Request: &colly.Request{
			URL: mustParseURL(t, "http://r1/api/data?input=x"),
		},
	})
	require.Equal(t, http.StatusNotFound, result.StatusCode)
	require.Equal(t, "{}", string(result.Body))
	require.Equal(t, "http://r1/api/data?input=x", result.URL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestNewDefaultsTimeout(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	require.Equal(t, DefaultTimeout, f.cfg.Timeout)
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
