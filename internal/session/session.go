// Package session orchestrates telemetry loads and hands playback data
// to the streaming gateway.
//
// A Session moves INIT → LOADING → READY (or ERROR) exactly once.
// Progress flows to subscribers over per-subscriber channels; a
// subscriber that arrives after the load finished is caught up from the
// session's remembered state rather than missing the transition.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridline-data/apex.replay/internal/codec"
	"github.com/gridline-data/apex.replay/internal/monitoring"
	"github.com/gridline-data/apex.replay/internal/telemetry"
)

// State is the load lifecycle state of a session.
type State int

const (
	StateInit State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateLoading:
		return "LOADING"
	case StateReady:
		return "READY"
	case StateError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Update is one progress snapshot delivered to subscribers.
type Update struct {
	State          State
	Progress       int
	Message        string
	ElapsedSeconds int // whole seconds since the load was scheduled
}

// subscriberBuffer sizes the per-subscriber channel. Progress is
// throttled upstream, so a small buffer absorbs bursts; a full buffer
// drops the update rather than blocking the loader.
const subscriberBuffer = 16

// Session is one loaded (or loading) telemetry session.
type Session struct {
	Key telemetry.SessionKey

	mu          sync.Mutex
	state       State
	progress    int
	message     string
	result      *telemetry.Result
	encoded     [][]byte // pre-encoded frames, nil when over budget
	loadStart   time.Time
	loadSeconds float64
	subscribers map[uuid.UUID]chan Update

	loadOnce sync.Once
}

// New returns a session in the INIT state.
func New(key telemetry.SessionKey) *Session {
	return &Session{
		Key:         key,
		state:       StateInit,
		subscribers: make(map[uuid.UUID]chan Update),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// snapshotLocked builds an Update from the current fields. Callers hold
// s.mu.
func (s *Session) snapshotLocked() Update {
	elapsed := 0
	if !s.loadStart.IsZero() {
		elapsed = int(time.Since(s.loadStart).Seconds())
	}
	return Update{
		State:          s.state,
		Progress:       s.progress,
		Message:        s.message,
		ElapsedSeconds: elapsed,
	}
}

// Snapshot returns the current state, progress and message.
func (s *Session) Snapshot() Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// EmitProgress updates any combination of state, progress and message
// and fans the new snapshot out to subscribers. Nil arguments leave the
// corresponding field untouched; an explicit pointer to the zero value
// still updates it.
func (s *Session) EmitProgress(state *State, progress *int, message *string) {
	s.mu.Lock()
	if state != nil {
		s.state = *state
	}
	if progress != nil {
		s.progress = *progress
	}
	if message != nil {
		s.message = *message
	}
	snap := s.snapshotLocked()
	subs := make([]chan Update, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Subscriber is not draining; drop rather than stall the load.
		}
	}
}

// Subscribe registers a progress listener and returns its id and
// channel. A subscriber joining after the load finished receives the
// terminal snapshot immediately; one joining mid-load receives the
// current snapshot so its progress bar starts in the right place.
func (s *Session) Subscribe() (uuid.UUID, <-chan Update) {
	id := uuid.New()
	ch := make(chan Update, subscriberBuffer)

	s.mu.Lock()
	s.subscribers[id] = ch
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if snap.State != StateInit {
		if snap.State == StateReady {
			// Catch-up pair: a completed loading bar, then readiness.
			ch <- Update{
				State:          StateLoading,
				Progress:       100,
				Message:        snap.Message,
				ElapsedSeconds: snap.ElapsedSeconds,
			}
		}
		ch <- snap
	}
	return id, ch
}

// SubscriberCount reports how many progress listeners are registered.
func (s *Session) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Unsubscribe removes a listener. Safe to call with an unknown id.
func (s *Session) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	delete(s.subscribers, id)
	s.mu.Unlock()
}

// ScheduleLoad runs load exactly once for the session lifetime, in its
// own goroutine. Later calls are no-ops regardless of outcome, so a
// failed load stays failed until the session object is replaced.
func (s *Session) ScheduleLoad(load func()) {
	s.loadOnce.Do(func() {
		s.mu.Lock()
		s.loadStart = time.Now()
		s.mu.Unlock()
		go load()
	})
}

// setResult installs the pipeline output and optional pre-encoded
// frames. Called by the manager before the READY transition.
func (s *Session) setResult(res *telemetry.Result, encoded [][]byte, seconds float64) {
	s.mu.Lock()
	s.result = res
	s.encoded = encoded
	s.loadSeconds = seconds
	s.mu.Unlock()
}

// LoadSeconds returns how long the load took, or 0 before READY. A
// cache hit reports near-zero.
func (s *Session) LoadSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSeconds
}

// Result returns the pipeline output, or nil before READY.
func (s *Session) Result() *telemetry.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// FrameCount returns the number of playable frames.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return 0
	}
	return len(s.result.Frames)
}

// EncodedFrame returns the wire bytes for frame i, from the pre-encoded
// set when available and encoding on demand otherwise. Returns nil for
// an out-of-range index.
func (s *Session) EncodedFrame(i int) []byte {
	s.mu.Lock()
	res, encoded := s.result, s.encoded
	s.mu.Unlock()

	if res == nil || i < 0 || i >= len(res.Frames) {
		return nil
	}
	if encoded != nil {
		return encoded[i]
	}
	b, err := codec.EncodeFrame(i, &res.Frames[i])
	if err != nil {
		monitoring.Tagf("SESSION", "%s: encode frame %d: %v", s.Key, i, err)
		return nil
	}
	return b
}
