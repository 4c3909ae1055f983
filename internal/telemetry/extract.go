package telemetry

import (
	"fmt"
	"sort"
)

// driverChannels is the column-oriented result of concatenating one
// driver's laps. All slices share the same length. Times are raw session
// seconds; the resampling stage shifts them onto the global timeline.
type driverChannels struct {
	code string

	time    []float64
	x       []float64
	y       []float64
	lapDist []float64 // distance from lap start
	dist    []float64 // accumulated race distance
	speed   []float64
	throttle []float64
	brake   []float64
	rpm     []float64
	lap     []int
	gear    []int
	drs     []int
	inPit   []bool // nil when the provider has no pit flag

	tyreByLap map[int]string
	timings   []LapTiming

	firstTime float64
	lastTime  float64
}

// validateLap checks one lap's arrays for shape and time monotonicity.
func validateLap(code string, l *LapData) error {
	n := l.Samples()
	if n == 0 {
		return fmt.Errorf("driver %s lap %d: empty telemetry", code, l.Number)
	}
	for name, length := range map[string]int{
		"x": len(l.X), "y": len(l.Y), "dist": len(l.Dist),
		"speed": len(l.Speed), "throttle": len(l.Throttle),
		"brake": len(l.Brake), "rpm": len(l.RPM),
		"gear": len(l.Gear), "drs": len(l.DRS),
	} {
		if length != n {
			return fmt.Errorf("driver %s lap %d: channel %s has %d samples, want %d",
				code, l.Number, name, length, n)
		}
	}
	if l.InPit != nil && len(l.InPit) != n {
		return fmt.Errorf("driver %s lap %d: in_pit has %d samples, want %d",
			code, l.Number, len(l.InPit), n)
	}
	for i := 1; i < n; i++ {
		if l.Time[i] < l.Time[i-1] {
			return fmt.Errorf("driver %s lap %d: time regresses at sample %d (%.3f -> %.3f)",
				code, l.Number, i, l.Time[i-1], l.Time[i])
		}
	}
	return nil
}

// concatDriver bundles a driver's laps into (start_time, arrays)
// intervals, sorts them by start time and concatenates. Sorting happens
// at lap granularity only; a concatenate-then-argsort pass over the full
// sample arrays is deliberately avoided.
func concatDriver(d *RawDriver) (*driverChannels, error) {
	if len(d.Laps) == 0 {
		return nil, fmt.Errorf("driver %s: no laps", d.Code)
	}

	laps := make([]*LapData, len(d.Laps))
	total := 0
	hasPitFlag := false
	for i := range d.Laps {
		l := &d.Laps[i]
		if err := validateLap(d.Code, l); err != nil {
			return nil, err
		}
		laps[i] = l
		total += l.Samples()
		if l.InPit != nil {
			hasPitFlag = true
		}
	}

	sort.Slice(laps, func(i, j int) bool { return laps[i].StartTime < laps[j].StartTime })

	ch := &driverChannels{
		code:      d.Code,
		time:      make([]float64, 0, total),
		x:         make([]float64, 0, total),
		y:         make([]float64, 0, total),
		lapDist:   make([]float64, 0, total),
		dist:      make([]float64, 0, total),
		speed:     make([]float64, 0, total),
		throttle:  make([]float64, 0, total),
		brake:     make([]float64, 0, total),
		rpm:       make([]float64, 0, total),
		lap:       make([]int, 0, total),
		gear:      make([]int, 0, total),
		drs:       make([]int, 0, total),
		tyreByLap: make(map[int]string, len(laps)),
	}
	if hasPitFlag {
		ch.inPit = make([]bool, 0, total)
	}

	distOffset := 0.0
	for k, l := range laps {
		if k > 0 {
			prev := laps[k-1]
			if l.Time[0] < prev.Time[len(prev.Time)-1] {
				return nil, fmt.Errorf("driver %s: lap %d starts at %.3f before lap %d ends at %.3f",
					d.Code, l.Number, l.Time[0], prev.Number, prev.Time[len(prev.Time)-1])
			}
		}

		for i := 0; i < l.Samples(); i++ {
			// Equal consecutive timestamps carry no new information and
			// would break strict monotonicity required by interpolation.
			if n := len(ch.time); n > 0 && l.Time[i] <= ch.time[n-1] {
				continue
			}
			ch.time = append(ch.time, l.Time[i])
			ch.x = append(ch.x, l.X[i])
			ch.y = append(ch.y, l.Y[i])
			ch.lapDist = append(ch.lapDist, l.Dist[i])
			ch.dist = append(ch.dist, distOffset+l.Dist[i])
			ch.speed = append(ch.speed, l.Speed[i])
			ch.throttle = append(ch.throttle, l.Throttle[i])
			ch.brake = append(ch.brake, l.Brake[i])
			ch.rpm = append(ch.rpm, l.RPM[i])
			ch.lap = append(ch.lap, l.Number)
			ch.gear = append(ch.gear, l.Gear[i])
			ch.drs = append(ch.drs, l.DRS[i])
			if hasPitFlag {
				inPit := false
				if l.InPit != nil {
					inPit = l.InPit[i]
				}
				ch.inPit = append(ch.inPit, inPit)
			}
		}

		distOffset += l.Dist[l.Samples()-1]
		ch.tyreByLap[l.Number] = l.Tyre
		ch.timings = append(ch.timings, LapTiming{
			Lap:       l.Number,
			LapTimeMs: l.LapTimeMs,
			Sector1Ms: l.Sector1Ms,
			Sector2Ms: l.Sector2Ms,
			Sector3Ms: l.Sector3Ms,
			Tyre:      l.Tyre,
		})
	}

	if len(ch.time) < 2 {
		return nil, fmt.Errorf("driver %s: fewer than two usable samples", d.Code)
	}
	for i := 1; i < len(ch.time); i++ {
		if ch.time[i] <= ch.time[i-1] {
			return nil, fmt.Errorf("driver %s: concatenated time array not monotonic at %d", d.Code, i)
		}
	}

	ch.firstTime = ch.time[0]
	ch.lastTime = ch.time[len(ch.time)-1]
	return ch, nil
}

// circuitLength derives the circuit length from the fastest lap's total
// lap distance, falling back to DefaultCircuitLength.
func circuitLength(raw *RawSession) float64 {
	var bestMs int64
	var length float64
	for _, d := range raw.Drivers {
		for i := range d.Laps {
			l := &d.Laps[i]
			if l.LapTimeMs <= 0 || l.Samples() == 0 {
				continue
			}
			if bestMs == 0 || l.LapTimeMs < bestMs {
				bestMs = l.LapTimeMs
				length = l.Dist[l.Samples()-1]
			}
		}
	}
	if length <= 0 {
		return DefaultCircuitLength
	}
	return length
}
