package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func get(handler http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func drive(h *Health, probe Probe, times int) {
	for _, c := range h.checks[probe] {
		for range times {
			c.run(context.Background())
		}
	}
}

func TestLiveEndpoint_AllPassing(t *testing.T) {
	h := New()
	h.Register(Liveness, "goroutines", Options{}, passing)

	w := get(h.LiveEndpoint)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok","checks":{"goroutines":"ok"}}`, w.Body.String())
}

func TestLiveEndpoint_FailureThreshold(t *testing.T) {
	h := New()
	h.Register(Liveness, "db", Options{}, failing("connection refused"))

	drive(h, Liveness, 2)
	assert.Equal(t, http.StatusOK, get(h.LiveEndpoint).Code, "two failures stay below the default threshold")

	drive(h, Liveness, 1)
	w := get(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"db":"connection refused"}}`, w.Body.String())
}

func TestCheck_Recovers(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := New()
	h.Register(Liveness, "flaky", Options{FailureThreshold: 1, SuccessThreshold: 2}, func(context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	})

	drive(h, Liveness, 1)
	require.Equal(t, http.StatusServiceUnavailable, get(h.LiveEndpoint).Code)

	fail.Store(false)
	drive(h, Liveness, 1)
	assert.Equal(t, http.StatusServiceUnavailable, get(h.LiveEndpoint).Code)
	drive(h, Liveness, 1)
	assert.Equal(t, http.StatusOK, get(h.LiveEndpoint).Code)
}

func TestReadyEndpoint_ManualSwitch(t *testing.T) {
	h := New()
	h.Register(Readiness, "postgres", Options{}, passing)

	w := get(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"unhealthy","checks":{"_readiness":"service is not ready","postgres":"ok"}}`, w.Body.String())
	assert.False(t, h.IsReady())

	h.SetReady(true)
	assert.Equal(t, http.StatusOK, get(h.ReadyEndpoint).Code)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.Equal(t, http.StatusServiceUnavailable, get(h.ReadyEndpoint).Code)
}

func TestReadyEndpoint_OptionalCheck(t *testing.T) {
	h := New()
	h.SetReady(true)
	h.Register(Readiness, "postgres", Options{}, passing)
	h.Register(Readiness, "redis", Options{Optional: true, FailureThreshold: 1}, failing("dial tcp: refused"))

	drive(h, Readiness, 1)

	w := get(h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"postgres":"ok","redis":"dial tcp: refused"}}`, w.Body.String())
	assert.True(t, h.IsReady())
}

func TestStartStop(t *testing.T) {
	var runs atomic.Int32
	h := New()
	h.Register(Readiness, "counted", Options{}, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	h.Stop()
	h.Stop()

	after := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.Register(Liveness, "slow", Options{Timeout: 5 * time.Millisecond, FailureThreshold: 1}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	drive(h, Liveness, 1)

	w := get(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "deadline exceeded")
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	assert.NoError(t, PingCheck(pinger{})(context.Background()))
	assert.Error(t, PingCheck(pinger{err: errors.New("down")})(context.Background()))
	assert.NoError(t, GoroutineCountCheck(1_000_000)(context.Background()))
	assert.Error(t, GoroutineCountCheck(0)(context.Background()))
}
