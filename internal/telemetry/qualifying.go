package telemetry

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"
)

// QualiFrame is one sample of a qualifying fastest lap, on a per-segment
// timeline that starts at zero.
type QualiFrame struct {
	T        float64 `cbor:"t" json:"t"`
	X        float64 `cbor:"x" json:"x"`
	Y        float64 `cbor:"y" json:"y"`
	Dist     float64 `cbor:"dist" json:"dist"`
	RelDist  float64 `cbor:"rel_dist" json:"rel_dist"`
	Speed    float64 `cbor:"speed" json:"speed"`
	Throttle float64 `cbor:"throttle" json:"throttle"`
	Brake    float64 `cbor:"brake" json:"brake"`
	RPM      float64 `cbor:"rpm" json:"rpm"`
	Gear     int     `cbor:"gear" json:"gear"`
	DRS      int     `cbor:"drs" json:"drs"`
}

// QualifyingLap is one driver's fastest lap in one segment.
type QualifyingLap struct {
	LapTimeMs int64        `cbor:"lap_time_ms" json:"lap_time_ms"`
	Tyre      string       `cbor:"tyre,omitempty" json:"tyre,omitempty"`
	Frames    []QualiFrame `cbor:"frames" json:"frames"`
}

// QualifyingSegment is one of Q1/Q2/Q3.
type QualifyingSegment struct {
	Duration float64                   `cbor:"duration" json:"duration"`
	Drivers  map[string]*QualifyingLap `cbor:"drivers" json:"drivers"`
}

// QualifyingData is the segment-keyed result for qualifying sessions.
// The gateway does not frame-stream qualifying; clients interpolate
// these laps locally.
type QualifyingData struct {
	Segments map[string]*QualifyingSegment `cbor:"segments" json:"segments"`
}

// processQualifying resamples each driver's fastest lap per segment onto
// a per-segment timeline starting at t=0.
func processQualifying(ctx context.Context, raw *RawSession, opts Options, emit ProgressFunc) (*Result, error) {
	if len(raw.Segments) == 0 {
		return nil, fmt.Errorf("session %s: qualifying session has no segments", raw.Key)
	}

	emit(10, "Processing qualifying segments")

	data := &QualifyingData{Segments: make(map[string]*QualifyingSegment, len(raw.Segments))}

	names := make([]string, 0, len(raw.Segments))
	for name := range raw.Segments {
		names = append(names, name)
	}
	sort.Strings(names)

	done := 0
	for _, name := range names {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		seg := raw.Segments[name]
		out := &QualifyingSegment{
			Duration: seg.Duration,
			Drivers:  make(map[string]*QualifyingLap, len(seg.Fastest)),
		}
		for code, lap := range seg.Fastest {
			ql, err := resampleQualifyingLap(code, lap)
			if err != nil {
				return nil, fmt.Errorf("segment %s: %w", name, err)
			}
			out.Drivers[code] = ql
		}
		data.Segments[name] = out

		done++
		emit(10+done*80/len(names), fmt.Sprintf("Processed %s", name))
	}

	meta := Metadata{
		Year:          raw.Key.Year,
		Round:         raw.Key.Round,
		SessionType:   raw.Key.Type,
		RaceStartTime: 0,
		CircuitLength: circuitLength(raw),
		DriverColors:  make(map[string]RGB, len(raw.Drivers)),
		DriverNumbers: make(map[string]int, len(raw.Drivers)),
		DriverTeams:   make(map[string]string, len(raw.Drivers)),
		TrackGeometry: raw.TrackGeometry,
		PitLane:       raw.PitLane,
	}
	for code, d := range raw.Drivers {
		meta.DriverColors[code] = d.Color
		meta.DriverNumbers[code] = d.Number
		meta.DriverTeams[code] = d.Team
	}

	emit(95, "Qualifying processed")
	return &Result{
		Metadata:      meta,
		TrackStatuses: raw.TrackStatuses,
		Qualifying:    data,
	}, nil
}

// resampleQualifyingLap interpolates one lap onto a timeline starting at
// zero. The same monotonicity rules as the race pipeline apply.
func resampleQualifyingLap(code string, lap *LapData) (*QualifyingLap, error) {
	if err := validateLap(code, lap); err != nil {
		return nil, err
	}

	n := lap.Samples()
	xs := make([]float64, 0, n)
	keep := make([]int, 0, n)
	for i := 0; i < n; i++ {
		t := lap.Time[i] - lap.Time[0]
		if len(xs) > 0 && t <= xs[len(xs)-1] {
			continue
		}
		xs = append(xs, t)
		keep = append(keep, i)
	}
	if len(xs) < 2 {
		return nil, fmt.Errorf("driver %s lap %d: fewer than two usable samples", code, lap.Number)
	}

	pick := func(src []float64) []float64 {
		out := make([]float64, len(keep))
		for j, i := range keep {
			out[j] = src[i]
		}
		return out
	}
	pickInt := func(src []int) []float64 {
		out := make([]float64, len(keep))
		for j, i := range keep {
			out[j] = float64(src[i])
		}
		return out
	}

	fit := func(name string, ys []float64) (*interp.PiecewiseLinear, error) {
		var pl interp.PiecewiseLinear
		if err := pl.Fit(xs, ys); err != nil {
			return nil, fmt.Errorf("driver %s lap %d: fit %s: %w", code, lap.Number, name, err)
		}
		return &pl, nil
	}

	lapLen := lap.Dist[n-1]
	if lapLen <= 0 {
		lapLen = DefaultCircuitLength
	}

	chans := map[string][]float64{
		"x": pick(lap.X), "y": pick(lap.Y), "dist": pick(lap.Dist),
		"speed": pick(lap.Speed), "throttle": pick(lap.Throttle),
		"brake": pick(lap.Brake), "rpm": pick(lap.RPM),
		"gear": pickInt(lap.Gear), "drs": pickInt(lap.DRS),
	}
	predictors := make(map[string]*interp.PiecewiseLinear, len(chans))
	for name, ys := range chans {
		pl, err := fit(name, ys)
		if err != nil {
			return nil, err
		}
		predictors[name] = pl
	}

	span := xs[len(xs)-1]
	m := int(math.Ceil(span/FrameStep)) + 1
	frames := make([]QualiFrame, m)
	for i := 0; i < m; i++ {
		t := float64(i) * FrameStep
		rel := predictors["dist"].Predict(t) / lapLen
		if rel < 0 {
			rel = 0
		} else if rel > 1 {
			rel = 1
		}
		frames[i] = QualiFrame{
			T:        t,
			X:        predictors["x"].Predict(t),
			Y:        predictors["y"].Predict(t),
			Dist:     predictors["dist"].Predict(t),
			RelDist:  rel,
			Speed:    predictors["speed"].Predict(t),
			Throttle: predictors["throttle"].Predict(t),
			Brake:    predictors["brake"].Predict(t),
			RPM:      predictors["rpm"].Predict(t),
			Gear:     clampInt(int(math.Round(predictors["gear"].Predict(t))), 0, 8),
			DRS:      int(math.Round(predictors["drs"].Predict(t))),
		}
	}

	return &QualifyingLap{
		LapTimeMs: lap.LapTimeMs,
		Tyre:      lap.Tyre,
		Frames:    frames,
	}, nil
}
