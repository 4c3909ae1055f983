package replay

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/gridline-data/apex.replay/internal/config"
	"github.com/gridline-data/apex.replay/internal/metrics"
	"github.com/gridline-data/apex.replay/internal/monitoring"
	"github.com/gridline-data/apex.replay/internal/session"
	"github.com/gridline-data/apex.replay/internal/telemetry"
)

// waitPoll is how often the loading wait loop re-checks session state
// between progress updates.
const waitPoll = 500 * time.Millisecond

// Handler serves websocket playback connections.
type Handler struct {
	manager  *session.Manager
	cfg      *config.ReplayConfig
	upgrader websocket.Upgrader
}

// NewHandler returns a gateway over the session manager.
func NewHandler(manager *session.Manager, cfg *config.ReplayConfig) *Handler {
	return &Handler{
		manager: manager,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Replay data is not sensitive; clients connect from any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the session stream. The
// handler goroutine is the sole websocket writer; a reader goroutine
// forwards client control messages over a channel.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Tagf("WS", "upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	id := r.PathValue("id")
	s, err := h.manager.Get(id)
	if err != nil {
		h.sendError(conn, "Session not found")
		return
	}

	if !h.waitReady(conn, s) {
		return
	}

	res := s.Result()
	ready := ReadyMessage{
		Type:          TypeReady,
		Metadata:      res.Metadata,
		TrackStatuses: res.TrackStatuses,
		Qualifying:    res.Qualifying,
		TotalFrames:   s.FrameCount(),
	}
	complete := CompleteMessage{
		Type:            TypeLoadingComplete,
		Frames:          s.FrameCount(),
		ElapsedSeconds:  int(s.LoadSeconds()),
		LoadTimeSeconds: s.LoadSeconds(),
	}
	if err := conn.WriteJSON(&complete); err != nil {
		return
	}
	if err := conn.WriteJSON(&ready); err != nil {
		return
	}

	// Qualifying sessions deliver everything in the ready message; there
	// is no frame stream to drive.
	if res.Qualifying != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return
	}

	h.stream(conn, s)
}

// waitReady relays load progress until the session is READY. Returns
// false when the connection should close instead of streaming.
func (h *Handler) waitReady(conn *websocket.Conn, s *session.Session) bool {
	id, updates := s.Subscribe()
	defer s.Unsubscribe(id)

	interval := time.Duration(h.cfg.GetProgressIntervalMs()) * time.Millisecond
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	if interval <= 0 {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}

	deadline := time.Duration(h.cfg.GetLoadTimeoutSecs()) * time.Second
	timeout := time.NewTimer(deadline)
	defer timeout.Stop()
	poll := time.NewTicker(waitPoll)
	defer poll.Stop()

	for {
		var u session.Update
		select {
		case u = <-updates:
		case <-poll.C:
			u = s.Snapshot()
		case <-timeout.C:
			h.sendError(conn, "Session load timed out")
			return false
		}

		switch u.State {
		case session.StateReady:
			return true
		case session.StateError:
			h.sendError(conn, u.Message)
			return false
		case session.StateLoading:
			// Throttle intermediate updates; the terminal 100% always goes
			// out so clients never stick at 99%.
			if u.Progress < 100 && !limiter.Allow() {
				continue
			}
			msg := ProgressMessage{
				Type:           TypeLoadingProgress,
				Progress:       u.Progress,
				Message:        u.Message,
				ElapsedSeconds: u.ElapsedSeconds,
			}
			if err := conn.WriteJSON(&msg); err != nil {
				return false
			}
		}
	}
}

// stream runs the playback loop until the client disconnects.
func (h *Handler) stream(conn *websocket.Conn, s *session.Session) {
	ctrl := make(chan ControlMessage, 8)
	done := make(chan struct{})
	go readControls(conn, ctrl, done)

	tickHz := h.cfg.GetPlaybackTickHz()
	tick := time.Second / time.Duration(tickHz)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	// Frames advance by speed * framesPerTick per tick, decoupling the
	// render cadence from the 25 Hz frame cadence.
	framesPerTick := float64(telemetry.FrameRateHz) / float64(tickHz)

	total := s.FrameCount()
	cursor := 0.0
	speed := 1.0
	playing := false
	lastSent := -1

	for {
		select {
		case <-done:
			return

		case msg := <-ctrl:
			switch msg.Action {
			case ActionPlay:
				playing = true
				if msg.Speed != nil {
					speed = *msg.Speed
				}
			case ActionPause:
				playing = false
			case ActionSpeed:
				speed = *msg.Speed
			case ActionSeek:
				frame := *msg.Frame
				if frame >= total {
					frame = total - 1
				}
				cursor = float64(frame)
				// Force a resend even when seeking to the current frame.
				lastSent = -1
			}

		case <-ticker.C:
			if playing {
				cursor += speed * framesPerTick
			}
			i := int(cursor)
			if i >= total {
				// Past the end: clamp and pause on the final frame.
				i = total - 1
				cursor = float64(i)
				playing = false
			}
			if i == lastSent || i < 0 {
				continue
			}
			payload := s.EncodedFrame(i)
			if payload == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
				return
			}
			metrics.FramesSent.Inc()
			lastSent = i
		}
	}
}

// readControls feeds parsed client commands to the playback loop. Runs
// until the connection drops; invalid messages are logged and skipped.
func readControls(conn *websocket.Conn, ctrl chan<- ControlMessage, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				monitoring.Tagf("WS", "read: %v", err)
			}
			return
		}
		msg, err := ParseControl(data)
		if err != nil {
			monitoring.Tagf("WS", "ignoring control: %v", err)
			continue
		}
		select {
		case ctrl <- msg:
		default:
			// Client is spamming controls faster than ticks; drop extras.
		}
	}
}

func (h *Handler) sendError(conn *websocket.Conn, msg string) {
	conn.WriteJSON(&ErrorMessage{Type: TypeLoadingError, Error: msg})
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
