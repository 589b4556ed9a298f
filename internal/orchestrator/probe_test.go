package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastProber() *Prober {
	p := NewProber(zap.NewNop())
	p.interval = 10 * time.Millisecond
	p.budget = 500 * time.Millisecond
	return p
}

func TestProbeReadyWhenPipelineLoaded(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/abc/runsync", r.URL.Path)
		if atomic.AddInt32(&calls, 1) < 3 {
			w.Write([]byte(`{"status":"IN_PROGRESS"}`))
			return
		}
		w.Write([]byte(`{"status":"OK","pipeline_loaded":true}`))
	}))
	defer server.Close()

	ready := fastProber().WaitReady(context.Background(), "dep_1", server.URL+"/v2/abc/run", "rpa_key", nil)
	assert.True(t, ready)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestProbeReadyFromNestedOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"COMPLETED","output":{"pipeline_loaded":true}}`))
	}))
	defer server.Close()

	assert.True(t, fastProber().WaitReady(context.Background(), "dep_1", server.URL+"/v2/abc/run", "", nil))
}

func TestProbeTimesOutWhileWarming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"IN_QUEUE"}`))
	}))
	defer server.Close()

	assert.False(t, fastProber().WaitReady(context.Background(), "dep_1", server.URL+"/v2/abc/run", "", nil))
}

func TestProbeFailedRunIsInformationalOnly(t *testing.T) {
	// A FAILED probe response must not stop the monitor; the worker callback
	// remains the authority on failure. The failure is still reported so it
	// lands in the deployment log.
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Write([]byte(`{"status":"FAILED","error":"transient"}`))
			return
		}
		w.Write([]byte(`{"status":"OK","pipeline_loaded":true}`))
	}))
	defer server.Close()

	var warnings []string
	warn := func(message string) { warnings = append(warnings, message) }
	assert.True(t, fastProber().WaitReady(context.Background(), "dep_1", server.URL+"/v2/abc/run", "", warn))
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "transient")
}

func TestProbeStopsOnCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"RUNNING"}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	p := fastProber()
	p.budget = time.Minute
	done := make(chan bool, 1)
	go func() { done <- p.WaitReady(ctx, "dep_1", server.URL+"/v2/abc/run", "", nil) }()

	select {
	case ready := <-done:
		assert.False(t, ready)
	case <-time.After(2 * time.Second):
		t.Fatal("probe did not observe cancellation")
	}
}
