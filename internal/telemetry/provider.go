package telemetry

import "context"

// ProgressFunc reports load progress in [0,100] with a human message.
// Implementations must tolerate nil.
type ProgressFunc func(progress int, message string)

// Provider is the upstream telemetry source. It is treated as an opaque
// fetch returning per-lap samples; network details, retries and upstream
// formats live behind this interface.
type Provider interface {
	Fetch(ctx context.Context, key SessionKey, progress ProgressFunc) (*RawSession, error)
}

// LapData holds the raw sample arrays for one lap of one driver. All
// slices are the same length; Time is session time in seconds and must
// be non-decreasing within the lap.
type LapData struct {
	Number    int
	StartTime float64
	LapTimeMs int64
	Sector1Ms int64
	Sector2Ms int64
	Sector3Ms int64
	Tyre      string

	Time     []float64
	X        []float64
	Y        []float64
	Dist     []float64 // distance from lap start, metres
	Speed    []float64 // km/h
	Throttle []float64 // [0,100]
	Brake    []float64 // [0,100]
	RPM      []float64
	Gear     []int
	DRS      []int

	// InPit is the provider's explicit pit flag. Nil when the provider
	// has none; the pipeline then falls back to pit-lane geometry.
	InPit []bool
}

// Samples returns the number of samples in the lap.
func (l *LapData) Samples() int { return len(l.Time) }

// RawDriver is one entrant's raw telemetry.
type RawDriver struct {
	Code   string
	Number int
	Team   string
	Color  RGB
	Laps   []LapData
}

// WeatherSample is one upstream weather observation.
type WeatherSample struct {
	Time      float64
	AirTemp   float64
	TrackTemp float64
	WindSpeed float64
	RainState int
}

// RawSegment is one qualifying segment's raw data: each driver's fastest
// lap in the segment.
type RawSegment struct {
	Duration float64
	Fastest  map[string]*LapData
}

// RawSession is everything the provider returns for one session.
// Optional maps may be nil; the pipeline degrades gracefully.
type RawSession struct {
	Key     SessionKey
	Drivers map[string]*RawDriver

	GridPositions       map[string]int // optional
	FinalClassification map[string]int // optional
	// LapPositions maps lap number to the authoritative order at the
	// moment the leader crossed the line on that lap. Optional.
	LapPositions map[int]map[string]int

	TrackStatuses []TrackStatus
	Weather       []WeatherSample

	TotalLaps     int
	RaceStartTime float64
	TrackGeometry [][2]float64
	PitLane       *PitBox

	// Segments is set for qualifying sessions; Drivers lap data is then
	// ignored in favour of the per-segment fastest laps.
	Segments map[string]*RawSegment
}
