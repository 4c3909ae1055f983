package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridline-data/apex.replay/internal/config"
	"github.com/gridline-data/apex.replay/internal/replaylog"
	"github.com/gridline-data/apex.replay/internal/session"
	"github.com/gridline-data/apex.replay/internal/telemetry"
)

func testServer(t *testing.T) (*session.Manager, *httptest.Server) {
	t.Helper()
	gen := telemetry.NewSyntheticProvider(1)
	gen.Drivers = 4
	gen.Laps = 2
	store, err := replaylog.NewStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.EmptyReplayConfig()
	m := session.NewManager(gen, store, nil, cfg)
	srv := httptest.NewServer(NewServer(m, store, nil, cfg).ServeMux())
	t.Cleanup(srv.Close)
	return m, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func waitReady(t *testing.T, m *session.Manager, id string) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		s, err := m.Get(id)
		require.NoError(t, err)
		switch s.State() {
		case session.StateReady:
			return
		case session.StateError:
			t.Fatalf("load failed: %s", s.Snapshot().Message)
		}
		select {
		case <-deadline:
			t.Fatal("session never became READY")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	_, srv := testServer(t)

	resp := postJSON(t, srv.URL+"/api/sessions",
		map[string]any{"year": 2024, "round": 6, "session_type": "R"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	decode(t, resp, &out)
	assert.Equal(t, "2024_6_R", out["session_id"])
	// Creation responses carry no loading state; that flows over the
	// websocket.
	assert.NotContains(t, out, "state")
}

func TestCreateSessionValidation(t *testing.T) {
	t.Parallel()
	_, srv := testServer(t)

	for _, body := range []map[string]any{
		{"round": 6, "session_type": "R"},
		{"year": 2024, "session_type": "R"},
		{"year": 2024, "round": 6},
	} {
		resp := postJSON(t, srv.URL+"/api/sessions", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %v", body)
	}
}

func TestGetSessionStatus(t *testing.T) {
	t.Parallel()
	m, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/sessions/2024_6_R")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	postJSON(t, srv.URL+"/api/sessions",
		map[string]any{"year": 2024, "round": 6, "session_type": "R"})
	waitReady(t, m, "2024_6_R")

	resp, err = http.Get(srv.URL + "/api/sessions/2024_6_R")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		SessionID string `json:"session_id"`
		State     string `json:"state"`
		Frames    int    `json:"frames"`
	}
	decode(t, resp, &status)
	assert.Equal(t, "2024_6_R", status.SessionID)
	assert.Equal(t, "READY", status.State)
	assert.Greater(t, status.Frames, 0)
}

func TestLapAndSectorTimes(t *testing.T) {
	t.Parallel()
	m, srv := testServer(t)
	postJSON(t, srv.URL+"/api/sessions",
		map[string]any{"year": 2024, "round": 6, "session_type": "R"})
	waitReady(t, m, "2024_6_R")

	t.Run("laps for one driver", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/telemetry/laps",
			map[string]any{"session_id": "2024_6_R", "drivers": []string{"VER"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			Laps map[string][]struct {
				Lap       int    `json:"lap"`
				LapTimeMs int64  `json:"lap_time_ms"`
				Tyre      string `json:"tyre"`
			} `json:"laps"`
		}
		decode(t, resp, &out)
		require.Contains(t, out.Laps, "VER")
		require.NotEmpty(t, out.Laps["VER"])
		assert.Equal(t, 1, out.Laps["VER"][0].Lap)
		assert.Greater(t, out.Laps["VER"][0].LapTimeMs, int64(0))
		assert.NotEmpty(t, out.Laps["VER"][0].Tyre)
	})

	t.Run("sectors default to all drivers", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/telemetry/sectors",
			map[string]any{"session_id": "2024_6_R"})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out struct {
			Sectors map[string][]struct {
				Sector1Ms int64 `json:"sector_1_ms"`
			} `json:"sectors"`
		}
		decode(t, resp, &out)
		assert.Len(t, out.Sectors, 4)
	})

	t.Run("unknown session", func(t *testing.T) {
		resp := postJSON(t, srv.URL+"/api/telemetry/laps",
			map[string]any{"session_id": "2099_1_R"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCacheEndpoints(t *testing.T) {
	t.Parallel()
	m, srv := testServer(t)
	postJSON(t, srv.URL+"/api/sessions",
		map[string]any{"year": 2024, "round": 6, "session_type": "R"})
	waitReady(t, m, "2024_6_R")

	// The archive is written asynchronously after READY.
	deadline := time.After(10 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/api/cache/stats")
		require.NoError(t, err)
		var stats struct {
			Archives int `json:"archives"`
		}
		decode(t, resp, &stats)
		resp.Body.Close()
		if stats.Archives == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("archive never appeared")
		case <-time.After(20 * time.Millisecond):
		}
	}

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/cache", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]int
	decode(t, resp, &out)
	assert.Equal(t, 1, out["removed"])
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	_, srv := testServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsExposed(t *testing.T) {
	t.Parallel()
	_, srv := testServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	_, srv := testServer(t)
	postJSON(t, srv.URL+"/api/sessions",
		map[string]any{"year": 2024, "round": 6, "session_type": "R"})
	postJSON(t, srv.URL+"/api/sessions",
		map[string]any{"year": 2024, "round": 7, "session_type": "R"})

	resp, err := http.Get(srv.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var out []struct {
		SessionID string `json:"session_id"`
	}
	decode(t, resp, &out)
	require.Len(t, out, 2)
	assert.Equal(t, "2024_6_R", out[0].SessionID)
	assert.Equal(t, "2024_7_R", out[1].SessionID)
}
