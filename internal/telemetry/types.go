// Package telemetry transforms raw per-driver lap samples into a dense,
// timeline-aligned frame sequence ready for streaming.
//
// The pipeline runs in five stages: per-driver lap concatenation,
// circuit length derivation, uniform-timeline resampling, race-progress
// computation with pit freeze, and frame assembly with position
// ordering. See Process for the entry point.
package telemetry

import (
	"fmt"
	"strconv"
	"strings"
)

// Frame cadence. The timeline is sampled at 25 Hz.
const (
	FrameRateHz = 25
	FrameStep   = 1.0 / float64(FrameRateHz)
)

// DefaultCircuitLength is used when no fastest lap is available to
// derive the real length from.
const DefaultCircuitLength = 5000.0

// Track status codes as delivered by race control.
const (
	TrackGreen     = "1"
	TrackYellow    = "2"
	TrackSafetyCar = "4"
	TrackRedFlag   = "5"
	TrackVSC       = "6"
	TrackVSCEnding = "7"
)

// SessionKey identifies one session: season year, round number and
// session type ("R" race, "S" sprint, "Q" qualifying).
type SessionKey struct {
	Year int    `json:"year" cbor:"year"`
	Round int   `json:"round" cbor:"round"`
	Type string `json:"session_type" cbor:"session_type"`
}

// String renders the canonical session id, e.g. "2024_6_R".
func (k SessionKey) String() string {
	return fmt.Sprintf("%d_%d_%s", k.Year, k.Round, k.Type)
}

// ParseSessionKey parses a session id of the form "2024_6_R".
func ParseSessionKey(id string) (SessionKey, error) {
	parts := strings.SplitN(id, "_", 3)
	if len(parts) != 3 {
		return SessionKey{}, fmt.Errorf("invalid session id %q", id)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return SessionKey{}, fmt.Errorf("invalid year in session id %q", id)
	}
	round, err := strconv.Atoi(parts[1])
	if err != nil {
		return SessionKey{}, fmt.Errorf("invalid round in session id %q", id)
	}
	if parts[2] == "" {
		return SessionKey{}, fmt.Errorf("missing session type in session id %q", id)
	}
	return SessionKey{Year: year, Round: round, Type: parts[2]}, nil
}

// IsQualifying reports whether the key names a qualifying session.
func (k SessionKey) IsQualifying() bool {
	return k.Type == "Q" || k.Type == "SQ"
}

// DriverStatus is the per-frame state of one driver.
type DriverStatus string

const (
	StatusRunning DriverStatus = "Running"
	StatusInPit   DriverStatus = "InPit"
	StatusRetired DriverStatus = "Retired"
)

// RGB is a driver colour.
type RGB [3]uint8

// DriverSample is the state of one driver at one timeline sample.
type DriverSample struct {
	X            float64      `cbor:"x"`
	Y            float64      `cbor:"y"`
	Dist         float64      `cbor:"dist"`
	RelDist      float64      `cbor:"rel_dist"`
	RaceProgress float64      `cbor:"race_progress"`
	Lap          int          `cbor:"lap"`
	Tyre         string       `cbor:"tyre"`
	Speed        float64      `cbor:"speed"`
	Gear         int          `cbor:"gear"`
	DRS          int          `cbor:"drs"`
	Throttle     float64      `cbor:"throttle"`
	Brake        float64      `cbor:"brake"`
	RPM          float64      `cbor:"rpm"`
	Position     int          `cbor:"position"`
	Status       DriverStatus `cbor:"status"`

	// Timing fields are optional; zero means not available.
	LapTimeMs int64 `cbor:"lap_time,omitempty"`
	Sector1Ms int64 `cbor:"sector1,omitempty"`
	Sector2Ms int64 `cbor:"sector2,omitempty"`
	Sector3Ms int64 `cbor:"sector3,omitempty"`
}

// Weather is an optional per-frame weather snapshot.
type Weather struct {
	AirTemp   float64 `cbor:"air_temp" json:"air_temp"`
	TrackTemp float64 `cbor:"track_temp" json:"track_temp"`
	WindSpeed float64 `cbor:"wind_speed" json:"wind_speed"`
	RainState int     `cbor:"rain_state" json:"rain_state"`
}

// Frame is one timeline sample carrying every entrant's state.
// Across consecutive frames T increases by exactly FrameStep.
type Frame struct {
	T         float64                 `cbor:"t"`
	LeaderLap int                     `cbor:"lap"`
	Drivers   map[string]DriverSample `cbor:"drivers"`
	Weather   *Weather                `cbor:"weather,omitempty"`
}

// TrackStatus is one race-control status interval. EndTime is nil for
// an interval that never closed (ran to session end).
type TrackStatus struct {
	StartTime float64  `cbor:"start_time" json:"start_time"`
	EndTime   *float64 `cbor:"end_time,omitempty" json:"end_time,omitempty"`
	Status    string   `cbor:"status" json:"status"`
}

// Covers reports whether the interval contains time t.
func (ts TrackStatus) Covers(t float64) bool {
	if t < ts.StartTime {
		return false
	}
	return ts.EndTime == nil || t < *ts.EndTime
}

// NeutralizedAt reports whether any safety car, VSC or red flag interval
// covers time t. Position hysteresis is disabled during these windows.
func NeutralizedAt(statuses []TrackStatus, t float64) bool {
	for _, ts := range statuses {
		switch ts.Status {
		case TrackSafetyCar, TrackRedFlag, TrackVSC, TrackVSCEnding:
			if ts.Covers(t) {
				return true
			}
		}
	}
	return false
}

// PitBox is an axis-aligned bounding box of the pit lane in track local
// units, used to derive InPit when the provider has no explicit flag.
type PitBox struct {
	MinX float64 `cbor:"min_x" json:"min_x"`
	MaxX float64 `cbor:"max_x" json:"max_x"`
	MinY float64 `cbor:"min_y" json:"min_y"`
	MaxY float64 `cbor:"max_y" json:"max_y"`
}

// Contains reports whether (x, y) lies inside the box.
func (p *PitBox) Contains(x, y float64) bool {
	if p == nil {
		return false
	}
	return x >= p.MinX && x <= p.MaxX && y >= p.MinY && y <= p.MaxY
}

// LapTiming is per-lap timing for one driver, retained for the lap
// telemetry API.
type LapTiming struct {
	Lap       int    `cbor:"lap" json:"lap"`
	LapTimeMs int64  `cbor:"lap_time,omitempty" json:"lap_time_ms,omitempty"`
	Sector1Ms int64  `cbor:"sector1,omitempty" json:"sector_1_ms,omitempty"`
	Sector2Ms int64  `cbor:"sector2,omitempty" json:"sector_2_ms,omitempty"`
	Sector3Ms int64  `cbor:"sector3,omitempty" json:"sector_3_ms,omitempty"`
	Tyre      string `cbor:"tyre,omitempty" json:"tyre,omitempty"`
}

// Metadata is the immutable-after-load session metadata bundle.
type Metadata struct {
	Year          int                    `cbor:"year" json:"year"`
	Round         int                    `cbor:"round" json:"round"`
	SessionType   string                 `cbor:"session_type" json:"session_type"`
	TotalLaps     int                    `cbor:"total_laps" json:"total_laps"`
	RaceStartTime float64                `cbor:"race_start_time" json:"race_start_time"`
	CircuitLength float64                `cbor:"circuit_length" json:"circuit_length"`
	DriverColors  map[string]RGB         `cbor:"driver_colors" json:"driver_colors"`
	DriverNumbers map[string]int         `cbor:"driver_numbers" json:"driver_numbers"`
	DriverTeams   map[string]string      `cbor:"driver_teams" json:"driver_teams"`
	TrackGeometry [][2]float64           `cbor:"track_geometry" json:"track_geometry"`
	PitLane       *PitBox                `cbor:"pit_lane,omitempty" json:"pit_lane,omitempty"`
	LapTimings    map[string][]LapTiming `cbor:"lap_timings,omitempty" json:"lap_timings,omitempty"`
}

// Result is the pipeline output for one session load.
type Result struct {
	Frames        []Frame
	Metadata      Metadata
	TrackStatuses []TrackStatus
	Qualifying    *QualifyingData
}
