package telemetry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// resampledDriver holds one driver's channels interpolated onto the
// global timeline. Slices are timeline-length.
type resampledDriver struct {
	code string

	x            []float64
	y            []float64
	dist         []float64
	relDist      []float64
	speed        []float64
	throttle     []float64
	brake        []float64
	rpm          []float64
	raceProgress []float64
	lap          []int
	gear         []int
	drs          []int
	inPit        []bool
	status       []DriverStatus

	tyreByLap map[int]string
	timings   []LapTiming

	// firstIdx and lastIdx bound the timeline indices covered by the
	// driver's observed samples. Outside that range channels hold the
	// nearest endpoint, except speed/throttle/brake/rpm which are zeroed
	// past lastIdx so the retirement detector can fire.
	firstIdx int
	lastIdx  int

	retiredAt int // timeline index of retirement, or -1
}

// buildTimeline returns the uniform global timeline: timeline[i] = i*Δt
// for i in [0, ceil((tMax-tMin)/Δt)).
func buildTimeline(tMin, tMax float64) []float64 {
	span := tMax - tMin
	if span <= 0 {
		return []float64{0}
	}
	n := int(math.Ceil(span / FrameStep))
	if n < 1 {
		n = 1
	}
	timeline := make([]float64, n)
	for i := range timeline {
		timeline[i] = float64(i) * FrameStep
	}
	return timeline
}

// fitChannel fits a piecewise-linear predictor over (xs, ys).
func fitChannel(xs, ys []float64) (*interp.PiecewiseLinear, error) {
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, err
	}
	return &pl, nil
}

// resampleDriver interpolates every channel of ch onto the timeline.
// The concatenated time array is already strictly increasing, so no
// argsort is needed before fitting.
func resampleDriver(ch *driverChannels, tMin float64, timeline []float64, circuit float64) (*resampledDriver, error) {
	n := len(ch.time)
	xs := make([]float64, n)
	for i, t := range ch.time {
		xs[i] = t - tMin
	}

	floatChannels := map[string][]float64{
		"x": ch.x, "y": ch.y, "lap_dist": ch.lapDist, "dist": ch.dist,
		"speed": ch.speed, "throttle": ch.throttle, "brake": ch.brake, "rpm": ch.rpm,
	}
	predictors := make(map[string]*interp.PiecewiseLinear, len(floatChannels))
	for name, ys := range floatChannels {
		pl, err := fitChannel(xs, ys)
		if err != nil {
			return nil, fmt.Errorf("driver %s: fit %s: %w", ch.code, name, err)
		}
		predictors[name] = pl
	}

	intChannels := map[string][]int{"lap": ch.lap, "gear": ch.gear, "drs": ch.drs}
	intPredictors := make(map[string]*interp.PiecewiseLinear, len(intChannels))
	for name, vs := range intChannels {
		ys := make([]float64, n)
		for i, v := range vs {
			ys[i] = float64(v)
		}
		pl, err := fitChannel(xs, ys)
		if err != nil {
			return nil, fmt.Errorf("driver %s: fit %s: %w", ch.code, name, err)
		}
		intPredictors[name] = pl
	}

	var pitPredictor *interp.PiecewiseLinear
	if ch.inPit != nil {
		ys := make([]float64, n)
		for i, p := range ch.inPit {
			if p {
				ys[i] = 1
			}
		}
		pl, err := fitChannel(xs, ys)
		if err != nil {
			return nil, fmt.Errorf("driver %s: fit in_pit: %w", ch.code, err)
		}
		pitPredictor = pl
	}

	m := len(timeline)
	r := &resampledDriver{
		code:         ch.code,
		x:            make([]float64, m),
		y:            make([]float64, m),
		dist:         make([]float64, m),
		relDist:      make([]float64, m),
		speed:        make([]float64, m),
		throttle:     make([]float64, m),
		brake:        make([]float64, m),
		rpm:          make([]float64, m),
		raceProgress: make([]float64, m),
		lap:          make([]int, m),
		gear:         make([]int, m),
		drs:          make([]int, m),
		status:       make([]DriverStatus, m),
		tyreByLap:    ch.tyreByLap,
		timings:      ch.timings,
		firstIdx:     0,
		lastIdx:      m - 1,
		retiredAt:    -1,
	}
	if pitPredictor != nil {
		r.inPit = make([]bool, m)
	}

	first, last := xs[0], xs[n-1]
	r.firstIdx = int(math.Ceil(first / FrameStep))
	if r.firstIdx < 0 {
		r.firstIdx = 0
	}
	r.lastIdx = int(math.Floor(last / FrameStep))
	if r.lastIdx > m-1 {
		r.lastIdx = m - 1
	}

	for i, t := range timeline {
		r.x[i] = predictors["x"].Predict(t)
		r.y[i] = predictors["y"].Predict(t)
		r.dist[i] = predictors["dist"].Predict(t)

		rel := predictors["lap_dist"].Predict(t) / circuit
		if rel < 0 {
			rel = 0
		} else if rel > 1 {
			rel = 1
		}
		r.relDist[i] = rel

		if i > r.lastIdx {
			// Past the observed range the car is stationary; holding the
			// last speed would mask a retirement.
			r.speed[i] = 0
			r.throttle[i] = 0
			r.brake[i] = 0
			r.rpm[i] = 0
		} else {
			r.speed[i] = predictors["speed"].Predict(t)
			r.throttle[i] = predictors["throttle"].Predict(t)
			r.brake[i] = predictors["brake"].Predict(t)
			r.rpm[i] = predictors["rpm"].Predict(t)
		}

		r.lap[i] = int(math.Round(intPredictors["lap"].Predict(t)))
		if r.lap[i] < 1 {
			r.lap[i] = 1
		}
		r.gear[i] = clampInt(int(math.Round(intPredictors["gear"].Predict(t))), 0, 8)
		r.drs[i] = int(math.Round(intPredictors["drs"].Predict(t)))
		if pitPredictor != nil {
			r.inPit[i] = pitPredictor.Predict(t) >= 0.5
		}
		r.status[i] = StatusRunning
	}

	return r, nil
}

// tyreAt returns the compound for the lap the driver is on at index i.
func (r *resampledDriver) tyreAt(i int) string {
	if tyre, ok := r.tyreByLap[r.lap[i]]; ok {
		return tyre
	}
	return ""
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
