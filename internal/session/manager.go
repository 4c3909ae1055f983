package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gridline-data/apex.replay/internal/codec"
	"github.com/gridline-data/apex.replay/internal/config"
	"github.com/gridline-data/apex.replay/internal/db"
	"github.com/gridline-data/apex.replay/internal/metrics"
	"github.com/gridline-data/apex.replay/internal/monitoring"
	"github.com/gridline-data/apex.replay/internal/replaylog"
	"github.com/gridline-data/apex.replay/internal/telemetry"
)

// ErrSessionNotFound is returned by Get for an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrLoadTimeout marks a load that exceeded the configured deadline.
var ErrLoadTimeout = errors.New("session load timed out")

// Manager owns every live session and runs their loads.
type Manager struct {
	provider telemetry.Provider
	store    *replaylog.Store
	db       *db.DB
	cfg      *config.ReplayConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wires the session manager. store and database may be nil
// in tests; caching and history recording are then skipped.
func NewManager(provider telemetry.Provider, store *replaylog.Store, database *db.DB, cfg *config.ReplayConfig) *Manager {
	return &Manager{
		provider: provider,
		store:    store,
		db:       database,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// GetOrCreate returns the session for key, creating it and scheduling
// its load on first sight. A session stuck in ERROR stays stuck;
// clients retry a failed load through Refresh.
func (m *Manager) GetOrCreate(key telemetry.SessionKey) *Session {
	id := key.String()

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		s = New(key)
		m.sessions[id] = s
		metrics.SessionsCreated.WithLabelValues(key.Type).Inc()
	}
	m.mu.Unlock()

	s.ScheduleLoad(func() { m.load(s) })
	return s
}

// Refresh drops the cached archive and any live session for key, then
// creates a fresh session and schedules a full reload.
func (m *Manager) Refresh(key telemetry.SessionKey) *Session {
	if m.store != nil {
		if err := m.store.Delete(key); err != nil {
			monitoring.Tagf("SESSION", "%s: cache delete failed: %v", key, err)
		}
	}
	if m.db != nil {
		if err := m.db.DeleteCacheEntry(key.String()); err != nil {
			monitoring.Tagf("DB", "%s: cache index delete failed: %v", key, err)
		}
	}

	m.mu.Lock()
	delete(m.sessions, key.String())
	m.mu.Unlock()

	return m.GetOrCreate(key)
}

// Sessions returns a snapshot of all live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func ptr[T any](v T) *T { return &v }

// load drives one session from INIT to READY or ERROR. Runs once per
// session, on its own goroutine.
func (m *Manager) load(s *Session) {
	start := time.Now()
	timeout := time.Duration(m.cfg.GetLoadTimeoutSecs()) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.EmitProgress(ptr(StateLoading), ptr(0), ptr("Starting telemetry load..."))
	monitoring.Tagf("SESSION", "%s: load started", s.Key)

	// Cache first.
	if m.store != nil {
		if res, err := m.store.Load(s.Key); err == nil {
			metrics.CacheHits.Inc()
			m.finish(s, res, start, "cache")
			return
		} else if !errors.Is(err, replaylog.ErrCacheMiss) {
			monitoring.Tagf("SESSION", "%s: cache read failed, reloading: %v", s.Key, err)
		}
	}
	metrics.CacheMisses.Inc()

	res, err := m.process(ctx, s)
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w after %s: %v", ErrLoadTimeout, timeout, err)
		}
		m.fail(s, start, err)
		return
	}

	// Persist asynchronously; playback readiness does not wait on disk.
	if m.store != nil {
		go m.persist(s.Key, res)
	}

	m.finish(s, res, start, "provider")
}

// process fetches raw telemetry and runs the pipeline, forwarding
// progress. Provider progress maps to 0-30, pipeline to 30-95.
func (m *Manager) process(ctx context.Context, s *Session) (*telemetry.Result, error) {
	fetchProgress := func(p int, msg string) {
		if p > 30 {
			p = 30
		}
		s.EmitProgress(nil, ptr(p), ptr(msg))
	}
	raw, err := m.provider.Fetch(ctx, s.Key, fetchProgress)
	if err != nil {
		return nil, fmt.Errorf("fetch telemetry: %w", err)
	}

	opts := telemetry.Options{
		Workers:          m.cfg.GetWorkers(),
		HysteresisMeters: m.cfg.GetHysteresisMeters(),
		RetireWindowSecs: m.cfg.GetRetireWindowSecs(),
	}
	pipeProgress := func(p int, msg string) {
		scaled := 30 + p*65/100
		s.EmitProgress(nil, ptr(scaled), ptr(msg))
	}
	res, err := telemetry.Process(ctx, raw, opts, pipeProgress)
	if err != nil {
		return nil, fmt.Errorf("process telemetry: %w", err)
	}
	return res, nil
}

// finish installs the result and flips the session READY.
func (m *Manager) finish(s *Session, res *telemetry.Result, start time.Time, source string) {
	encoded, err := codec.PreEncode(res.Frames, m.cfg.GetPreEncodeBudget())
	if err != nil {
		m.fail(s, start, fmt.Errorf("pre-encode frames: %w", err))
		return
	}
	elapsed := time.Since(start)
	s.setResult(res, encoded, elapsed.Seconds())

	s.EmitProgress(ptr(StateLoading), ptr(100), ptr("Ready for playback"))
	s.EmitProgress(ptr(StateReady), nil, nil)

	metrics.LoadDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	m.record(s, source, elapsed, len(res.Frames), nil)
	monitoring.Tagf("SESSION", "%s: ready from %s in %s (%d frames)",
		s.Key, source, elapsed.Round(time.Millisecond), len(res.Frames))
}

func (m *Manager) fail(s *Session, start time.Time, err error) {
	metrics.LoadFailures.Inc()
	s.EmitProgress(ptr(StateError), ptr(0), ptr(fmt.Sprintf("Load failed: %v", err)))
	m.record(s, "provider", time.Since(start), 0, err)
	monitoring.Tagf("SESSION", "%s: load failed: %v", s.Key, err)
}

// persist writes the archive and updates the cache index.
func (m *Manager) persist(key telemetry.SessionKey, res *telemetry.Result) {
	if err := m.store.Save(key, res); err != nil {
		monitoring.Tagf("SESSION", "%s: cache save failed: %v", key, err)
		return
	}
	if m.db == nil {
		return
	}
	entry := db.CacheEntry{
		SessionID: key.String(),
		Version:   replaylog.PipelineVersion,
		SizeBytes: m.store.Size(key),
		Frames:    len(res.Frames),
	}
	if err := m.db.UpsertCacheEntry(entry); err != nil {
		monitoring.Tagf("DB", "%s: cache index update failed: %v", key, err)
	}
}

func (m *Manager) record(s *Session, source string, elapsed time.Duration, frames int, loadErr error) {
	if m.db == nil {
		return
	}
	rec := db.LoadRecord{
		SessionID:  s.Key.String(),
		Source:     source,
		DurationMs: elapsed.Milliseconds(),
		Frames:     frames,
	}
	if loadErr != nil {
		rec.Err = loadErr.Error()
	}
	if err := m.db.RecordLoad(rec); err != nil {
		monitoring.Tagf("DB", "%s: load history write failed: %v", s.Key, err)
	}
}
