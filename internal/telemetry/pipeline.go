package telemetry

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gridline-data/apex.replay/internal/monitoring"
)

// Options tunes the pipeline. Zero values select defaults.
type Options struct {
	// Workers bounds the parallel per-driver stages. Defaults to
	// min(GOMAXPROCS, driver count).
	Workers int
	// HysteresisMeters is the race-progress gap below which a position
	// swap is suppressed. Defaults to 5.
	HysteresisMeters float64
	// RetireWindowSecs is how long a car must be stationary before it
	// counts as retired. Defaults to 10.
	RetireWindowSecs float64
}

func (o Options) workers(drivers int) int {
	w := o.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	if drivers > 0 && w > drivers {
		w = drivers
	}
	if w < 1 {
		w = 1
	}
	return w
}

func (o Options) hysteresis() float64 {
	if o.HysteresisMeters == 0 {
		return 5.0
	}
	if o.HysteresisMeters < 0 {
		return 0
	}
	return o.HysteresisMeters
}

func (o Options) retireWindow() float64 {
	if o.RetireWindowSecs <= 0 {
		return 10.0
	}
	return o.RetireWindowSecs
}

// Process runs the full pipeline over a raw session. Progress callbacks
// carry monotonically non-decreasing percentages. Any per-driver failure
// fails the whole load.
//
// All times in the result are relative to the earliest driver sample:
// frame i sits at t = i·Δt.
func Process(ctx context.Context, raw *RawSession, opts Options, progress ProgressFunc) (*Result, error) {
	emit := func(p int, msg string) {
		if progress != nil {
			progress(p, msg)
		}
	}

	if raw.Key.IsQualifying() || raw.Segments != nil {
		return processQualifying(ctx, raw, opts, emit)
	}
	if len(raw.Drivers) == 0 {
		return nil, fmt.Errorf("session %s: no drivers", raw.Key)
	}

	// Stage 1: per-driver lap concatenation, in parallel.
	emit(5, "Extracting driver telemetry")
	channels, err := concatAll(ctx, raw, opts)
	if err != nil {
		return nil, err
	}
	emit(35, "Driver telemetry extracted")

	// Stage 2: circuit length from the fastest lap.
	circuit := circuitLength(raw)
	emit(40, "Derived circuit length")

	// Stage 3: resample onto the global timeline.
	tMin, tMax := timeBounds(channels)
	timeline := buildTimeline(tMin, tMax)
	emit(45, "Resampling onto global timeline")
	resampled, err := resampleAll(ctx, channels, tMin, timeline, circuit, opts)
	if err != nil {
		return nil, err
	}
	emit(70, "Channels resampled")

	// Stage 4: race progress with pit freeze; retirement detection.
	raceStart := raw.RaceStartTime - tMin
	for _, r := range resampled {
		computeRaceProgress(r, circuit, raw.PitLane)
		detectRetirement(r, timeline, raceStart, opts.retireWindow())
	}
	emit(80, "Computed race progress")

	// Stage 5: frame assembly and position ordering.
	emit(85, "Assembling frames")
	frames := assembleFrames(&assembleInput{
		drivers:       resampled,
		timeline:      timeline,
		circuit:       circuit,
		raceStart:     raceStart,
		totalLaps:     raw.TotalLaps,
		grid:          raw.GridPositions,
		classified:    raw.FinalClassification,
		lapPositions:  raw.LapPositions,
		trackStatuses: shiftStatuses(raw.TrackStatuses, tMin),
		weather:       shiftWeather(raw.Weather, tMin),
		hysteresis:    opts.hysteresis(),
	})
	emit(95, "Frames assembled")

	result := &Result{
		Frames:        frames,
		Metadata:      buildMetadata(raw, circuit, raceStart, channels),
		TrackStatuses: shiftStatuses(raw.TrackStatuses, tMin),
	}
	monitoring.Tagf("PIPELINE", "session %s: %d frames, %d drivers, circuit %.0fm",
		raw.Key, len(frames), len(resampled), circuit)
	return result, nil
}

// concatAll runs stage 1 across all drivers on the worker pool.
// Completion order is unordered; the result map is keyed by driver code.
func concatAll(ctx context.Context, raw *RawSession, opts Options) (map[string]*driverChannels, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers(len(raw.Drivers)))

	var mu sync.Mutex
	out := make(map[string]*driverChannels, len(raw.Drivers))

	for code, d := range raw.Drivers {
		code, d := code, d
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("driver %s: extraction panic: %v", code, r)
				}
			}()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ch, err := concatDriver(d)
			if err != nil {
				return err
			}
			mu.Lock()
			out[code] = ch
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// resampleAll runs stage 3 across all drivers on the worker pool.
func resampleAll(ctx context.Context, channels map[string]*driverChannels, tMin float64, timeline []float64, circuit float64, opts Options) (map[string]*resampledDriver, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers(len(channels)))

	var mu sync.Mutex
	out := make(map[string]*resampledDriver, len(channels))

	for code, ch := range channels {
		code, ch := code, ch
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("driver %s: resample panic: %v", code, r)
				}
			}()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r, err := resampleDriver(ch, tMin, timeline, circuit)
			if err != nil {
				return err
			}
			mu.Lock()
			out[code] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// timeBounds returns the earliest first timestamp and the latest last
// timestamp across all drivers.
func timeBounds(channels map[string]*driverChannels) (tMin, tMax float64) {
	first := true
	for _, ch := range channels {
		if first {
			tMin, tMax = ch.firstTime, ch.lastTime
			first = false
			continue
		}
		if ch.firstTime < tMin {
			tMin = ch.firstTime
		}
		if ch.lastTime > tMax {
			tMax = ch.lastTime
		}
	}
	return tMin, tMax
}

func shiftStatuses(statuses []TrackStatus, tMin float64) []TrackStatus {
	out := make([]TrackStatus, len(statuses))
	for i, ts := range statuses {
		shifted := TrackStatus{StartTime: ts.StartTime - tMin, Status: ts.Status}
		if ts.EndTime != nil {
			end := *ts.EndTime - tMin
			shifted.EndTime = &end
		}
		out[i] = shifted
	}
	sort.Slice(out, func(a, b int) bool { return out[a].StartTime < out[b].StartTime })
	return out
}

func shiftWeather(samples []WeatherSample, tMin float64) []WeatherSample {
	out := make([]WeatherSample, len(samples))
	for i, w := range samples {
		w.Time -= tMin
		out[i] = w
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Time < out[b].Time })
	return out
}

func buildMetadata(raw *RawSession, circuit, raceStart float64, channels map[string]*driverChannels) Metadata {
	meta := Metadata{
		Year:          raw.Key.Year,
		Round:         raw.Key.Round,
		SessionType:   raw.Key.Type,
		TotalLaps:     raw.TotalLaps,
		RaceStartTime: raceStart,
		CircuitLength: circuit,
		DriverColors:  make(map[string]RGB, len(raw.Drivers)),
		DriverNumbers: make(map[string]int, len(raw.Drivers)),
		DriverTeams:   make(map[string]string, len(raw.Drivers)),
		TrackGeometry: raw.TrackGeometry,
		PitLane:       raw.PitLane,
		LapTimings:    make(map[string][]LapTiming, len(channels)),
	}
	for code, d := range raw.Drivers {
		meta.DriverColors[code] = d.Color
		meta.DriverNumbers[code] = d.Number
		meta.DriverTeams[code] = d.Team
	}
	for code, ch := range channels {
		meta.LapTimings[code] = ch.timings
	}
	return meta
}
