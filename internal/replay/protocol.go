// Package replay streams session frames to websocket clients.
//
// Server-to-client traffic is JSON text messages for lifecycle events
// and binary CBOR messages for frames. Client-to-server traffic is JSON
// control messages. Malformed control messages are ignored; the stream
// is never torn down by client input.
package replay

import (
	"encoding/json"
	"fmt"

	"github.com/gridline-data/apex.replay/internal/telemetry"
)

// Server-to-client message types.
const (
	TypeLoadingProgress = "loading_progress"
	TypeLoadingComplete = "loading_complete"
	TypeLoadingError    = "loading_error"
	TypeReady           = "ready"
)

// ProgressMessage reports load progress while a session is LOADING.
type ProgressMessage struct {
	Type           string `json:"type"`
	Progress       int    `json:"progress"`
	Message        string `json:"message,omitempty"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

// CompleteMessage signals that loading finished and frames follow.
type CompleteMessage struct {
	Type            string  `json:"type"`
	Frames          int     `json:"frames"`
	ElapsedSeconds  int     `json:"elapsed_seconds"`
	LoadTimeSeconds float64 `json:"load_time_seconds"`
}

// ErrorMessage reports a terminal load failure. The connection closes
// after it is sent.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ReadyMessage carries everything a client needs before the first
// frame: session metadata, track status intervals and, for qualifying
// sessions, the full per-segment lap data.
type ReadyMessage struct {
	Type          string                    `json:"type"`
	Metadata      telemetry.Metadata        `json:"metadata"`
	TrackStatuses []telemetry.TrackStatus   `json:"track_statuses,omitempty"`
	Qualifying    *telemetry.QualifyingData `json:"qualifying,omitempty"`
	TotalFrames   int                       `json:"total_frames"`
}

// Control actions accepted from clients.
const (
	ActionPlay  = "play"
	ActionPause = "pause"
	ActionSeek  = "seek"
	ActionSpeed = "speed"
)

// ControlMessage is one playback command from a client.
type ControlMessage struct {
	Action string   `json:"action"`
	Speed  *float64 `json:"speed,omitempty"`
	Frame  *int     `json:"frame,omitempty"`
}

// ParseControl decodes and validates one client control message.
func ParseControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlMessage{}, fmt.Errorf("malformed control message: %w", err)
	}
	switch msg.Action {
	case ActionPlay:
		// Speed rides along on play; absent means "keep the current rate".
		if msg.Speed != nil && *msg.Speed <= 0 {
			return ControlMessage{}, fmt.Errorf("speed requires a positive multiplier")
		}
	case ActionPause:
	case ActionSeek:
		if msg.Frame == nil || *msg.Frame < 0 {
			return ControlMessage{}, fmt.Errorf("seek requires a non-negative frame")
		}
	case ActionSpeed:
		if msg.Speed == nil || *msg.Speed <= 0 {
			return ControlMessage{}, fmt.Errorf("speed requires a positive multiplier")
		}
	default:
		return ControlMessage{}, fmt.Errorf("unknown action %q", msg.Action)
	}
	return msg, nil
}
