package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/pregelflow/internal/config"
	"github.com/flowgraph/pregelflow/internal/infrastructure/metrics"
	"github.com/flowgraph/pregelflow/pkg/flowgraph"
)

func newTestServer(t *testing.T) (*httptest.Server, *flowgraph.Runtime) {
	t.Helper()
	cfg := config.Default()
	cfg.Graphs = []string{filepath.Join("testdata", "counter.yaml"), filepath.Join("testdata", "review.yaml")}
	rt, err := flowgraph.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	ts := httptest.NewServer(NewServer(rt, metrics.Default().Handler()).Handler())
	t.Cleanup(ts.Close)
	return ts, rt
}

func get(t *testing.T, ts *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestServer_Health(t *testing.T) {
	ts, _ := newTestServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, get(t, ts, "/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Metrics(t *testing.T) {
	ts, rt := newTestServer(t)
	_, err := rt.Run(context.Background(), &flowgraph.RunRequest{Graph: "counter", ThreadID: "m"})
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sb strings.Builder
	_, err = io.Copy(&sb, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, sb.String(), "go_goroutines")
	assert.Contains(t, sb.String(), metrics.Namespace+"_supersteps_total")
}

func TestServer_Graphs(t *testing.T) {
	ts, _ := newTestServer(t)

	var list []graphView
	require.Equal(t, http.StatusOK, get(t, ts, "/graphs", &list))
	require.Len(t, list, 2)
	assert.Equal(t, "counter", list[0].Name)
	assert.Equal(t, "review", list[1].Name)
	assert.Empty(t, list[0].Channels)

	var one graphView
	require.Equal(t, http.StatusOK, get(t, ts, "/graphs/review", &one))
	assert.Equal(t, "draft", one.Entry)
	assert.Equal(t, []string{"publish"}, one.InterruptBefore)
	require.Len(t, one.Nodes, 2)
	assert.Equal(t, []string{"published"}, one.Nodes[1].Writes)

	var e map[string]string
	assert.Equal(t, http.StatusNotFound, get(t, ts, "/graphs/absent", &e))
	assert.Contains(t, e["error"], "absent")
}

func TestServer_StateAndHistory(t *testing.T) {
	ts, rt := newTestServer(t)
	resp, err := rt.Run(context.Background(), &flowgraph.RunRequest{Graph: "review", ThreadID: "doc"})
	require.NoError(t, err)

	var state flowgraph.StateView
	require.Equal(t, http.StatusOK, get(t, ts, "/graphs/review/threads/doc/state", &state))
	assert.Equal(t, resp.CheckpointID, state.CheckpointID)
	assert.Equal(t, []string{"publish"}, state.Next)
	assert.Equal(t, "v1", state.Values["draft"])

	var first flowgraph.StateView
	require.Equal(t, http.StatusOK, get(t, ts, "/graphs/review/threads/doc/state?checkpoint_id="+state.ParentID, &first))
	assert.Equal(t, []string{"draft"}, first.Next)

	var history []flowgraph.StateView
	require.Equal(t, http.StatusOK, get(t, ts, "/graphs/review/threads/doc/history", &history))
	assert.Len(t, history, 2)

	require.Equal(t, http.StatusOK, get(t, ts, "/graphs/review/threads/doc/history?source=input", &history))
	require.Len(t, history, 1)
	assert.Equal(t, first.CheckpointID, history[0].CheckpointID)

	require.Equal(t, http.StatusOK, get(t, ts, "/graphs/review/threads/doc/history?limit=1", &history))
	assert.Len(t, history, 1)

	require.Equal(t, http.StatusOK, get(t, ts, "/graphs/review/threads/other/history", &history))
	assert.Empty(t, history)
}

func TestServer_Errors(t *testing.T) {
	ts, _ := newTestServer(t)
	tests := []struct {
		path string
		code int
	}{
		{"/graphs/review/threads/none/state", http.StatusNotFound},
		{"/graphs/absent/threads/t/state", http.StatusNotFound},
		{"/graphs/review/threads/t/history?limit=x", http.StatusBadRequest},
		{"/graphs/review/threads/t/history?source=bogus", http.StatusBadRequest},
		{"/graphs/review/threads/t/history?limit=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var e map[string]string
			assert.Equal(t, tt.code, get(t, ts, tt.path, &e))
			assert.NotEmpty(t, e["error"])
		})
	}
}

func TestServer_RejectsWrites(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/graphs", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_ActiveRuns(t *testing.T) {
	ts, _ := newTestServer(t)
	var runs []flowgraph.RunInfo
	require.Equal(t, http.StatusOK, get(t, ts, "/runs", &runs))
	assert.Empty(t, runs)
}
