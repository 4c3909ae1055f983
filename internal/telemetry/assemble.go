package telemetry

import (
	"math"
	"sort"

	"github.com/gridline-data/apex.replay/internal/monitoring"
)

// speedStoppedKmh is the threshold under which a car counts as
// stationary for retirement detection.
const speedStoppedKmh = 0.5

// distRegressEpsilon is the tolerated per-frame backwards motion in
// accumulated distance before a warning is logged.
const distRegressEpsilon = 1e-3

// detectRetirement marks the timeline index at which the driver counts
// as retired: stationary for at least windowSecs after the race start.
// Once set it never clears.
func detectRetirement(r *resampledDriver, timeline []float64, raceStart, windowSecs float64) {
	need := int(math.Ceil(windowSecs / FrameStep))
	if need < 1 {
		need = 1
	}
	run := 0
	for i := range timeline {
		if timeline[i] <= raceStart {
			run = 0
			continue
		}
		if r.speed[i] < speedStoppedKmh && r.status[i] != StatusInPit {
			run++
			if run >= need {
				r.retiredAt = i - need + 1
				return
			}
		} else {
			run = 0
		}
	}
}

// assembleInput bundles everything frame assembly needs.
type assembleInput struct {
	drivers       map[string]*resampledDriver
	timeline      []float64
	circuit       float64
	raceStart     float64
	totalLaps     int
	grid          map[string]int
	classified    map[string]int
	lapPositions  map[int]map[string]int
	trackStatuses []TrackStatus
	weather       []WeatherSample
	hysteresis    float64
}

// assembleFrames builds the ordered frame sequence. Ordering per frame:
//
//   - before the race start with known grid positions: grid order,
//     tiebreak descending race progress;
//   - after the leader completes the final lap with an official
//     classification: classified order;
//   - otherwise: descending race progress with alphabetic tiebreak,
//     stabilised by position hysteresis outside neutralised intervals.
//
// Retired drivers leave the active sort, are appended in retirement
// order and never re-enter.
func assembleFrames(in *assembleInput) []Frame {
	codes := make([]string, 0, len(in.drivers))
	for code := range in.drivers {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	finishLine := float64(in.totalLaps) * in.circuit
	frames := make([]Frame, len(in.timeline))

	prevRank := make(map[string]int, len(codes))
	var retiredOrder []string
	retiredSet := make(map[string]bool, len(codes))
	prevLeaderLap := 0

	for i, t := range in.timeline {
		var active []string
		for _, code := range codes {
			d := in.drivers[code]
			if d.retiredAt >= 0 && i >= d.retiredAt {
				if !retiredSet[code] {
					retiredSet[code] = true
					retiredOrder = append(retiredOrder, code)
				}
				continue
			}
			active = append(active, code)
		}

		rp := func(code string) float64 { return in.drivers[code].raceProgress[i] }

		leaderProgress := 0.0
		for _, code := range active {
			if p := rp(code); p > leaderProgress {
				leaderProgress = p
			}
		}

		switch {
		case t < in.raceStart && len(in.grid) > 0:
			sort.SliceStable(active, func(a, b int) bool {
				ga, oka := in.grid[active[a]]
				gb, okb := in.grid[active[b]]
				if oka != okb {
					return oka
				}
				if oka && okb && ga != gb {
					return ga < gb
				}
				if pa, pb := rp(active[a]), rp(active[b]); pa != pb {
					return pa > pb
				}
				return active[a] < active[b]
			})

		case len(in.classified) > 0 && in.totalLaps > 0 && leaderProgress >= finishLine:
			sort.SliceStable(active, func(a, b int) bool {
				ca, oka := in.classified[active[a]]
				cb, okb := in.classified[active[b]]
				if oka != okb {
					return oka
				}
				if oka && okb && ca != cb {
					return ca < cb
				}
				return active[a] < active[b]
			})

		default:
			sort.SliceStable(active, func(a, b int) bool {
				if pa, pb := rp(active[a]), rp(active[b]); pa != pb {
					return pa > pb
				}
				return active[a] < active[b]
			})
			if in.hysteresis > 0 && !NeutralizedAt(in.trackStatuses, t) {
				suppressNarrowSwaps(active, rp, prevRank, in.hysteresis)
			}
		}

		// Lap-anchor validation: when the leader starts a new lap and the
		// provider recorded the official order at that crossing, snap to it.
		leaderLap := 1
		if len(active) > 0 {
			leaderLap = in.drivers[active[0]].lap[i]
		}
		if leaderLap > prevLeaderLap {
			if anchor, ok := in.lapPositions[leaderLap]; ok {
				applyLapAnchor(active, anchor)
			}
		}
		prevLeaderLap = leaderLap

		drivers := make(map[string]DriverSample, len(codes))
		pos := 1
		for _, code := range active {
			drivers[code] = sampleAt(in.drivers[code], i, pos, false)
			prevRank[code] = pos
			pos++
		}
		for _, code := range retiredOrder {
			drivers[code] = sampleAt(in.drivers[code], i, pos, true)
			pos++
		}

		if i > 0 {
			warnDistRegression(in.drivers, frames[i-1].Drivers, drivers, i)
		}

		frames[i] = Frame{
			T:         t,
			LeaderLap: leaderLap,
			Drivers:   drivers,
			Weather:   weatherAt(in.weather, t),
		}
	}

	return frames
}

// suppressNarrowSwaps undoes adjacent position changes whose progress
// gap is inside the hysteresis band: when two neighbours sit closer
// than the band and their order reverses last frame's, last frame's
// order is kept. Runs after the progress sort so the comparator stays a
// strict ordering. Swaps repeat until settled; each one removes an
// adjacent inversion against the previous ranking, so the loop
// terminates.
func suppressNarrowSwaps(active []string, rp func(string) float64, prevRank map[string]int, hysteresis float64) {
	for swapped := true; swapped; {
		swapped = false
		for i := 0; i+1 < len(active); i++ {
			a, b := active[i], active[i+1]
			ra, oka := prevRank[a]
			rb, okb := prevRank[b]
			if !oka || !okb || ra < rb {
				continue
			}
			if math.Abs(rp(a)-rp(b)) < hysteresis {
				active[i], active[i+1] = b, a
				swapped = true
			}
		}
	}
}

// applyLapAnchor reorders active in place by the authoritative positions
// recorded at a lap crossing. Drivers without an anchored position keep
// their relative order after the anchored ones.
func applyLapAnchor(active []string, anchor map[string]int) {
	sort.SliceStable(active, func(a, b int) bool {
		pa, oka := anchor[active[a]]
		pb, okb := anchor[active[b]]
		if oka != okb {
			return oka
		}
		if oka && okb {
			return pa < pb
		}
		return false
	})
}

// sampleAt materialises one driver's sample for frame index i.
func sampleAt(d *resampledDriver, i, position int, retired bool) DriverSample {
	status := d.status[i]
	if retired {
		status = StatusRetired
	}
	s := DriverSample{
		X:            d.x[i],
		Y:            d.y[i],
		Dist:         d.dist[i],
		RelDist:      d.relDist[i],
		RaceProgress: d.raceProgress[i],
		Lap:          d.lap[i],
		Tyre:         d.tyreAt(i),
		Speed:        d.speed[i],
		Gear:         d.gear[i],
		DRS:          d.drs[i],
		Throttle:     d.throttle[i],
		Brake:        d.brake[i],
		RPM:          d.rpm[i],
		Position:     position,
		Status:       status,
	}
	for _, lt := range d.timings {
		if lt.Lap == d.lap[i] {
			s.LapTimeMs = lt.LapTimeMs
			s.Sector1Ms = lt.Sector1Ms
			s.Sector2Ms = lt.Sector2Ms
			s.Sector3Ms = lt.Sector3Ms
			break
		}
	}
	return s
}

// warnDistRegression logs (without failing) when a running driver's
// accumulated distance moves backwards by more than the epsilon.
func warnDistRegression(drivers map[string]*resampledDriver, prev, cur map[string]DriverSample, frame int) {
	for code, s := range cur {
		if s.Status != StatusRunning {
			continue
		}
		p, ok := prev[code]
		if !ok {
			continue
		}
		if p.Dist-s.Dist > distRegressEpsilon {
			monitoring.Tagf("PIPELINE", "driver %s dist regressed %.4fm at frame %d",
				code, p.Dist-s.Dist, frame)
		}
	}
}

// weatherAt returns the most recent weather sample at or before t, or
// nil when none applies.
func weatherAt(samples []WeatherSample, t float64) *Weather {
	var latest *WeatherSample
	for i := range samples {
		if samples[i].Time <= t {
			latest = &samples[i]
		} else {
			break
		}
	}
	if latest == nil {
		return nil
	}
	return &Weather{
		AirTemp:   latest.AirTemp,
		TrackTemp: latest.TrackTemp,
		WindSpeed: latest.WindSpeed,
		RainState: latest.RainState,
	}
}
