package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingHandler holds requests open until released so tests can pin the
// in-flight count.
type blockingHandler struct {
	entered chan struct{}
	release chan struct{}
}

func newBlockingHandler(n int) *blockingHandler {
	return &blockingHandler{
		entered: make(chan struct{}, n),
		release: make(chan struct{}),
	}
}

func (b *blockingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.entered <- struct{}{}
	<-b.release
	w.WriteHeader(http.StatusOK)
}

func TestThrottlePerIPCap(t *testing.T) {
	throttle := NewConnectionThrottle(2, 100)
	blocker := newBlockingHandler(2)
	h := throttle.Wrap(blocker)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doRequest(t, h, "10.0.0.1:1234", nil)
		}()
	}
	<-blocker.entered
	<-blocker.entered

	rec := doRequest(t, h, "10.0.0.1:5678", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "too_many_connections", body["error"])
	assert.Equal(t, float64(5), body["retry_after"])

	// A different IP still gets through.
	rec2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec2, req)
		close(done)
	}()
	<-blocker.entered

	close(blocker.release)
	wg.Wait()
	<-done
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestThrottleTotalCap(t *testing.T) {
	throttle := NewConnectionThrottle(10, 1)
	blocker := newBlockingHandler(1)
	h := throttle.Wrap(blocker)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		doRequest(t, h, "10.0.0.1:1234", nil)
	}()
	<-blocker.entered

	rec := doRequest(t, h, "10.0.0.2:1234", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	close(blocker.release)
	wg.Wait()

	// Slot freed after the in-flight request finished.
	blocker2 := newBlockingHandler(1)
	h2 := throttle.Wrap(blocker2)
	close(blocker2.release)
	assert.Equal(t, http.StatusOK, doRequest(t, h2, "10.0.0.3:1234", nil).Code)
}

func TestThrottleStats(t *testing.T) {
	throttle := NewConnectionThrottle(10, 100)
	blocker := newBlockingHandler(1)
	h := throttle.Wrap(blocker)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		doRequest(t, h, "10.0.0.1:1234", nil)
	}()
	<-blocker.entered

	stats := throttle.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 100, stats.MaxTotal)
	assert.Equal(t, 10, stats.MaxPerIP)
	assert.Equal(t, 1, stats.PerIP["10.0.0.1"])

	close(blocker.release)
	wg.Wait()

	stats = throttle.Stats()
	assert.Equal(t, 0, stats.Total)
	assert.Empty(t, stats.PerIP)
}
