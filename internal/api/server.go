// Package api exposes the HTTP surface: session creation and status,
// the websocket replay endpoint, lap telemetry queries, cache
// administration and operational pages.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridline-data/apex.replay/internal/config"
	"github.com/gridline-data/apex.replay/internal/db"
	"github.com/gridline-data/apex.replay/internal/monitoring"
	"github.com/gridline-data/apex.replay/internal/replay"
	"github.com/gridline-data/apex.replay/internal/replaylog"
	"github.com/gridline-data/apex.replay/internal/session"
	"github.com/gridline-data/apex.replay/internal/telemetry"
)

// Server wires the HTTP routes over the session manager.
type Server struct {
	manager *session.Manager
	store   *replaylog.Store
	db      *db.DB
	ws      *replay.Handler
}

// NewServer builds the API server. store and database may be nil; the
// cache and chart endpoints then report 404.
func NewServer(manager *session.Manager, store *replaylog.Store, database *db.DB, cfg *config.ReplayConfig) *Server {
	return &Server{
		manager: manager,
		store:   store,
		db:      database,
		ws:      replay.NewHandler(manager, cfg),
	}
}

// ServeMux returns the route table.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", s.createSession)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.getSession)
	mux.Handle("GET /ws/replay/{id}", s.ws)

	mux.HandleFunc("POST /api/telemetry/laps", s.lapTimes)
	mux.HandleFunc("POST /api/telemetry/sectors", s.sectorTimes)

	mux.HandleFunc("GET /api/cache/stats", s.cacheStats)
	mux.HandleFunc("DELETE /api/cache", s.clearCache)

	mux.HandleFunc("GET /charts/loads", s.loadChart)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Tagf("HTTP", "write response: %v", err)
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// createSessionRequest identifies the session to load.
type createSessionRequest struct {
	Year    int    `json:"year"`
	Round   int    `json:"round"`
	Type    string `json:"session_type"`
	Refresh bool   `json:"refresh"`
}

// createSession registers a session and schedules its load. The
// response carries only the id; clients follow progress over the
// websocket, not by polling this endpoint.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if req.Year < 1950 || req.Round < 1 || req.Type == "" {
		s.writeJSONError(w, http.StatusBadRequest, "year, round and session_type are required")
		return
	}

	key := telemetry.SessionKey{Year: req.Year, Round: req.Round, Type: req.Type}
	var sess *session.Session
	if req.Refresh {
		sess = s.manager.Refresh(key)
	} else {
		sess = s.manager.GetOrCreate(key)
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.Key.String()})
}

type sessionStatus struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	Frames    int    `json:"frames,omitempty"`
}

func statusOf(sess *session.Session) sessionStatus {
	snap := sess.Snapshot()
	return sessionStatus{
		SessionID: sess.Key.String(),
		State:     snap.State.String(),
		Progress:  snap.Progress,
		Message:   snap.Message,
		Frames:    sess.FrameCount(),
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, statusOf(sess))
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.manager.Sessions()
	out := make([]sessionStatus, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, statusOf(sess))
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SessionID < out[b].SessionID })
	s.writeJSON(w, http.StatusOK, out)
}

// telemetryRequest selects drivers within a loaded session.
type telemetryRequest struct {
	SessionID string   `json:"session_id"`
	Drivers   []string `json:"drivers,omitempty"`
}

// readySession resolves a telemetry request to a READY session.
func (s *Server) readySession(w http.ResponseWriter, r *http.Request) (*session.Session, *telemetryRequest, bool) {
	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return nil, nil, false
	}
	sess, err := s.manager.Get(req.SessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "session not found")
		return nil, nil, false
	}
	if sess.State() != session.StateReady {
		s.writeJSONError(w, http.StatusConflict,
			fmt.Sprintf("session is %s, not READY", sess.State()))
		return nil, nil, false
	}
	return sess, &req, true
}

// selectTimings filters lap timings to the requested drivers, or all
// drivers when the filter is empty.
func selectTimings(meta *telemetry.Metadata, drivers []string) map[string][]telemetry.LapTiming {
	if len(drivers) == 0 {
		return meta.LapTimings
	}
	out := make(map[string][]telemetry.LapTiming, len(drivers))
	for _, code := range drivers {
		if t, ok := meta.LapTimings[code]; ok {
			out[code] = t
		}
	}
	return out
}

// lapTimes returns per-lap times and tyre compounds.
func (s *Server) lapTimes(w http.ResponseWriter, r *http.Request) {
	sess, req, ok := s.readySession(w, r)
	if !ok {
		return
	}
	meta := sess.Result().Metadata
	type lapRow struct {
		Lap       int    `json:"lap"`
		LapTimeMs int64  `json:"lap_time_ms"`
		Tyre      string `json:"tyre,omitempty"`
	}
	out := make(map[string][]lapRow)
	for code, timings := range selectTimings(&meta, req.Drivers) {
		rows := make([]lapRow, 0, len(timings))
		for _, t := range timings {
			rows = append(rows, lapRow{Lap: t.Lap, LapTimeMs: t.LapTimeMs, Tyre: t.Tyre})
		}
		out[code] = rows
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session_id": req.SessionID, "laps": out})
}

// sectorTimes returns per-lap sector splits.
func (s *Server) sectorTimes(w http.ResponseWriter, r *http.Request) {
	sess, req, ok := s.readySession(w, r)
	if !ok {
		return
	}
	meta := sess.Result().Metadata
	type sectorRow struct {
		Lap       int   `json:"lap"`
		Sector1Ms int64 `json:"sector_1_ms"`
		Sector2Ms int64 `json:"sector_2_ms"`
		Sector3Ms int64 `json:"sector_3_ms"`
	}
	out := make(map[string][]sectorRow)
	for code, timings := range selectTimings(&meta, req.Drivers) {
		rows := make([]sectorRow, 0, len(timings))
		for _, t := range timings {
			rows = append(rows, sectorRow{
				Lap:       t.Lap,
				Sector1Ms: t.Sector1Ms,
				Sector2Ms: t.Sector2Ms,
				Sector3Ms: t.Sector3Ms,
			})
		}
		out[code] = rows
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"session_id": req.SessionID, "sectors": out})
}

func (s *Server) cacheStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSONError(w, http.StatusNotFound, "cache disabled")
		return
	}
	stats, err := s.store.Stats()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("cache stats: %v", err))
		return
	}
	resp := map[string]any{"archives": stats.Archives, "total_bytes": stats.TotalBytes}
	if s.db != nil {
		if entries, err := s.db.CacheEntries(); err == nil {
			resp["entries"] = entries
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSONError(w, http.StatusNotFound, "cache disabled")
		return
	}
	removed, err := s.store.Clear()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("clear cache: %v", err))
		return
	}
	if s.db != nil {
		if err := s.db.ClearCacheEntries(); err != nil {
			monitoring.Tagf("DB", "clear cache index: %v", err)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
