package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passing() CheckFunc {
	return func(_ context.Context) error { return nil }
}

func failing(msg string) CheckFunc {
	return func(_ context.Context) error { return errors.New(msg) }
}

func getStatus(t *testing.T, endpoint http.HandlerFunc) (int, statusResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))

	var body statusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func TestLiveEndpointAllPassing(t *testing.T) {
	s := New()
	s.AddLivenessCheck("check1", time.Second, passing())
	s.AddLivenessCheck("check2", time.Second, passing())

	code, body := getStatus(t, s.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
}

func TestLiveEndpointFailingCheck(t *testing.T) {
	s := New()
	s.AddLivenessCheck("db", time.Second, failing("connection refused"))

	// Drive the check past the failure threshold.
	ctx := context.Background()
	for range failureThreshold {
		s.liveness[0].run(ctx)
	}

	code, body := getStatus(t, s.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "connection refused", body.Checks["db"])
}

func TestLiveEndpointFailureBelowThreshold(t *testing.T) {
	s := New()
	s.AddLivenessCheck("flaky", time.Second, failing("temporary"))

	ctx := context.Background()
	for range failureThreshold - 1 {
		s.liveness[0].run(ctx)
	}

	code, _ := getStatus(t, s.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code)
}

func TestReadyEndpoint(t *testing.T) {
	s := New()
	s.AddReadinessCheck("db", time.Second, passing())

	code, body := getStatus(t, s.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")

	s.SetReady(true)
	code, body = getStatus(t, s.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)

	s.SetReady(false)
	code, _ = getStatus(t, s.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestReadyEndpointOneFailing(t *testing.T) {
	s := New()
	s.AddReadinessCheck("db", time.Second, passing())
	s.AddReadinessCheck("cache", time.Second, failing("cache miss"))
	s.SetReady(true)

	ctx := context.Background()
	for range failureThreshold {
		s.readiness[1].run(ctx)
	}

	code, body := getStatus(t, s.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "cache")
	assert.NotContains(t, body.Checks, "db")
}

func TestIsReady(t *testing.T) {
	s := New()
	s.AddReadinessCheck("db", time.Second, passing())

	assert.False(t, s.IsReady())
	s.SetReady(true)
	assert.True(t, s.IsReady())
	s.SetReady(false)
	assert.False(t, s.IsReady())
}

func TestProbeRecovery(t *testing.T) {
	down := true
	s := New()
	s.AddLivenessCheck("flaky", time.Second, func(_ context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	p := s.liveness[0]
	ctx := context.Background()

	for range failureThreshold {
		p.run(ctx)
	}
	assert.False(t, p.healthy.Load())

	// One success recovers.
	down = false
	p.run(ctx)
	assert.True(t, p.healthy.Load())
}

func TestStopIsIdempotent(t *testing.T) {
	s := New()
	s.AddLivenessCheck("noop", time.Second, passing())

	s.Start(context.Background(), 100*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	s.AddLivenessCheck("a", time.Second, failing("err"))
	s.AddReadinessCheck("b", time.Second, passing())
	s.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx, 10*time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				s.IsReady()
				getStatus(t, s.LiveEndpoint)
				getStatus(t, s.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()
	s.Stop()
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	assert.NoError(t, PingCheck(stubPinger{})(context.Background()))

	err := PingCheck(stubPinger{err: errors.New("refused")})(context.Background())
	assert.ErrorContains(t, err, "refused")
}

func TestGoroutineCountCheck(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))

	err := GoroutineCountCheck(0)(context.Background())
	assert.ErrorContains(t, err, "exceeds threshold")
}

func TestGCMaxPauseCheck(t *testing.T) {
	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}
