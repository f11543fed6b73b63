// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package console_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"github.com/cercinaai/Xtracto-io/pipeline/console"
	"github.com/cercinaai/Xtracto-io/pipeline/supervisor"
)

// fakeStages records start/stop calls.
type fakeStages struct {
	running map[string]bool
	started []string
	stopped []string
}

func newFakeStages() *fakeStages {
	return &fakeStages{running: map[string]bool{}}
}

func (f *fakeStages) Start(name string) (bool, error) {
	if f.running[name] {
		return true, nil
	}
	f.running[name] = true
	f.started = append(f.started, name)
	return false, nil
}

func (f *fakeStages) Stop(name string) (bool, error) {
	if !f.running[name] {
		return false, nil
	}
	f.running[name] = false
	f.stopped = append(f.stopped, name)
	return true, nil
}

func (f *fakeStages) Status() []supervisor.State {
	var out []supervisor.State
	for name, running := range f.running {
		out = append(out, supervisor.State{Name: name, Running: running})
	}
	return out
}

type fakeWorkers struct {
	instances int
}

func (f *fakeWorkers) SetInstances(n int) error {
	if n < 1 || n > 10 {
		return errs.New("instances must be between 1 and 10, got %d", n)
	}
	f.instances = n
	return nil
}

func get(t *testing.T, handler http.Handler, path string) (int, map[string]any) {
	t.Helper()
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	return recorder.Code, body
}

func TestStartStopRoutes(t *testing.T) {
	t.Parallel()

	stages := newFakeStages()
	workers := &fakeWorkers{}
	server := console.NewServer(zaptest.NewLogger(t), stages, workers, console.Config{})
	handler := server.Handler()

	code, body := get(t, handler, "/api/v1/scrape/leboncoin/100_pages")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "started", body["status"])
	require.Equal(t, []string{"first_scraper"}, stages.started)

	// starting again reports running instead of relaunching
	code, body = get(t, handler, "/api/v1/scrape/leboncoin/100_pages")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "running", body["status"])
	require.Len(t, stages.started, 1)

	code, body = get(t, handler, "/api/v1/stop/100_pages")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "stopped", body["status"])

	code, body = get(t, handler, "/api/v1/stop/100_pages")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "idle", body["status"])

	// stop also accepts the stage name itself
	stages.running["loop_scraper"] = true
	code, body = get(t, handler, "/api/v1/stop/loop_scraper")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "stopped", body["status"])
}

func TestUnknownTask(t *testing.T) {
	t.Parallel()

	server := console.NewServer(zaptest.NewLogger(t), newFakeStages(), &fakeWorkers{}, console.Config{})

	code, body := get(t, server.Handler(), "/api/v1/scrape/leboncoin/nonsense")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "error", body["status"])

	code, body = get(t, server.Handler(), "/api/v1/stop/nonsense")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "error", body["status"])
}

func TestProcessAndTransferInstances(t *testing.T) {
	t.Parallel()

	stages := newFakeStages()
	workers := &fakeWorkers{}
	server := console.NewServer(zaptest.NewLogger(t), stages, workers, console.Config{})
	handler := server.Handler()

	code, _ := get(t, handler, "/api/v1/scrape/leboncoin/process_and_transfer?instances=8")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 8, workers.instances)

	code, body := get(t, handler, "/api/v1/scrape/leboncoin/process_and_transfer?instances=11")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "error", body["status"])

	code, body = get(t, handler, "/api/v1/scrape/leboncoin/process_and_transfer?instances=zero")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "error", body["status"])

	// without the parameter the worker count is left alone
	code, _ = get(t, handler, "/api/v1/scrape/leboncoin/process_and_transfer")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 8, workers.instances)
}

func TestStatusAndHealth(t *testing.T) {
	t.Parallel()

	stages := newFakeStages()
	stages.running["loop_scraper"] = true
	server := console.NewServer(zaptest.NewLogger(t), stages, &fakeWorkers{}, console.Config{})

	code, body := get(t, server.Handler(), "/api/v1/status")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "success", body["status"])
	require.NotEmpty(t, body["stages"])

	code, body = get(t, server.Handler(), "/api/v1/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "success", body["status"])
	require.NotEmpty(t, body["time"])
}
