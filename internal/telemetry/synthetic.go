package telemetry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

// syntheticCodes are plausible driver codes used by the synthetic
// provider, in grid order.
var syntheticCodes = []string{
	"VER", "NOR", "LEC", "PIA", "SAI", "HAM", "RUS", "PER",
	"ALO", "STR", "GAS", "OCO", "ALB", "TSU", "HUL", "MAG",
	"BOT", "ZHO", "SAR", "RIC",
}

var syntheticTeams = []string{
	"Red Bull", "McLaren", "Ferrari", "McLaren", "Ferrari", "Mercedes",
	"Mercedes", "Red Bull", "Aston Martin", "Aston Martin", "Alpine",
	"Alpine", "Williams", "RB", "Haas", "Haas", "Sauber", "Sauber",
	"Williams", "RB",
}

// SyntheticProvider generates deterministic synthetic sessions for dev
// mode and tests. The generated data honours the provider contract: per
// driver, laps in chronological order with non-decreasing sample times.
type SyntheticProvider struct {
	Drivers    int     // entrants, capped at len(syntheticCodes)
	Laps       int     // race laps
	LapSeconds float64 // nominal lap time
	SampleHz   float64 // raw sample cadence (below 25 Hz to exercise interpolation)
	Seed       int64

	// WithRetirement stops the last entrant at 60% distance.
	WithRetirement bool
	// WithPitStops routes every third entrant through the pit lane once.
	WithPitStops bool
}

// NewSyntheticProvider returns a generator with dev-mode defaults.
func NewSyntheticProvider(seed int64) *SyntheticProvider {
	return &SyntheticProvider{
		Drivers:        8,
		Laps:           5,
		LapSeconds:     90,
		SampleHz:       5,
		Seed:           seed,
		WithRetirement: true,
		WithPitStops:   true,
	}
}

const (
	syntheticCircuitLen = 4800.0
	syntheticRaceStart  = 5.0
)

// trackXY maps a lap distance to track-local coordinates on a closed
// elliptical circuit.
func trackXY(lapDist float64) (x, y float64) {
	theta := 2 * math.Pi * lapDist / syntheticCircuitLen
	return 900 * math.Cos(theta), 600 * math.Sin(theta)
}

// syntheticPitBox covers the section of track near theta=0 used as the
// pit lane by the generator.
func syntheticPitBox() *PitBox {
	return &PitBox{MinX: 880, MaxX: 920, MinY: -80, MaxY: 80}
}

// Fetch implements Provider.
func (g *SyntheticProvider) Fetch(ctx context.Context, key SessionKey, progress ProgressFunc) (*RawSession, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if progress != nil {
		progress(0, "Generating synthetic telemetry")
	}

	nDrivers := g.Drivers
	if nDrivers <= 0 {
		nDrivers = 8
	}
	if nDrivers > len(syntheticCodes) {
		nDrivers = len(syntheticCodes)
	}

	raw := &RawSession{
		Key:           key,
		Drivers:       make(map[string]*RawDriver, nDrivers),
		GridPositions: make(map[string]int, nDrivers),
		TotalLaps:     g.laps(),
		RaceStartTime: syntheticRaceStart,
		PitLane:       syntheticPitBox(),
	}

	for i := 0; i < 240; i++ {
		d := syntheticCircuitLen * float64(i) / 240
		x, y := trackXY(d)
		raw.TrackGeometry = append(raw.TrackGeometry, [2]float64{x, y})
	}

	rng := rand.New(rand.NewSource(g.Seed))
	raceLen := g.lapSeconds() * float64(g.laps())

	for i := 0; i < nDrivers; i++ {
		code := syntheticCodes[i]
		raw.GridPositions[code] = i + 1
		d := &RawDriver{
			Code:   code,
			Number: i + 1,
			Team:   syntheticTeams[i],
			Color:  RGB{uint8(30 * i), uint8(255 - 12*i), uint8(60 + 9*i)},
		}
		retireAt := -1.0
		if g.WithRetirement && i == nDrivers-1 {
			retireAt = syntheticRaceStart + 0.6*raceLen
		}
		pitLap := 0
		if g.WithPitStops && i%3 == 1 {
			pitLap = g.laps()/2 + 1
		}
		d.Laps = g.generateLaps(rng, i, retireAt, pitLap)
		raw.Drivers[code] = d
	}

	// One safety car window mid-race, green otherwise.
	scStart := syntheticRaceStart + 0.4*raceLen
	scEnd := scStart + g.lapSeconds()
	raw.TrackStatuses = []TrackStatus{
		{StartTime: 0, EndTime: &scStart, Status: TrackGreen},
		{StartTime: scStart, EndTime: &scEnd, Status: TrackSafetyCar},
		{StartTime: scEnd, Status: TrackGreen},
	}

	for t := 0.0; t < syntheticRaceStart+raceLen; t += 60 {
		raw.Weather = append(raw.Weather, WeatherSample{
			Time:      t,
			AirTemp:   24 + rng.Float64(),
			TrackTemp: 38 + 2*rng.Float64(),
			WindSpeed: 3 + rng.Float64(),
		})
	}

	if key.IsQualifying() {
		raw.Segments = g.generateSegments(raw, rng)
	}

	if progress != nil {
		progress(30, "Synthetic telemetry ready")
	}
	return raw, nil
}

func (g *SyntheticProvider) laps() int {
	if g.Laps <= 0 {
		return 5
	}
	return g.Laps
}

func (g *SyntheticProvider) lapSeconds() float64 {
	if g.LapSeconds <= 0 {
		return 90
	}
	return g.LapSeconds
}

func (g *SyntheticProvider) sampleStep() float64 {
	hz := g.SampleHz
	if hz <= 0 {
		hz = 5
	}
	return 1 / hz
}

// generateLaps integrates one driver around the circuit and splits the
// trajectory at lap boundaries.
func (g *SyntheticProvider) generateLaps(rng *rand.Rand, idx int, retireAt float64, pitLap int) []LapData {
	pace := 1 + 0.004*float64(idx) + 0.002*rng.Float64()
	vAvg := syntheticCircuitLen / (g.lapSeconds() * pace) // m/s
	dt := g.sampleStep()

	tyres := []string{"SOFT", "MEDIUM", "HARD"}
	laps := make([]LapData, 0, g.laps())
	var cur LapData
	startLap := func(n int, t float64) {
		tyre := tyres[idx%len(tyres)]
		if pitLap > 0 && n > pitLap {
			tyre = tyres[(idx+1)%len(tyres)]
		}
		cur = LapData{Number: n, StartTime: t, Tyre: tyre}
	}

	s := 0.0
	lapNum := 1
	startLap(lapNum, syntheticRaceStart)
	totalDist := syntheticCircuitLen * float64(g.laps())
	stopped := false

	for t := syntheticRaceStart; s < totalDist; t += dt {
		if retireAt > 0 && t >= retireAt {
			stopped = true
		}

		v := vAvg * (1 + 0.15*math.Sin(2*math.Pi*3*s/syntheticCircuitLen))
		inPit := false
		if pitLap > 0 && lapNum == pitLap {
			lapDist := s - float64(lapNum-1)*syntheticCircuitLen
			if lapDist < 200 {
				v = vAvg * 0.35
				inPit = true
			}
		}
		if stopped {
			v = 0
		}

		lapDist := s - float64(lapNum-1)*syntheticCircuitLen
		x, y := trackXY(lapDist)
		throttle := 60 + 40*math.Sin(2*math.Pi*5*s/syntheticCircuitLen)
		if throttle < 0 {
			throttle = 0
		}
		brake := 0.0
		if throttle < 20 {
			brake = 80
		}
		gear := clampInt(3+int(4*v/vAvg/1.2), 0, 8)
		drs := 0
		if lapDist > 0.7*syntheticCircuitLen && !inPit {
			drs = 12
		}
		if stopped {
			throttle, brake, gear, drs = 0, 0, 0, 0
		}

		cur.Time = append(cur.Time, t)
		cur.X = append(cur.X, x)
		cur.Y = append(cur.Y, y)
		cur.Dist = append(cur.Dist, lapDist)
		cur.Speed = append(cur.Speed, v*3.6)
		cur.Throttle = append(cur.Throttle, throttle)
		cur.Brake = append(cur.Brake, brake)
		cur.RPM = append(cur.RPM, 4000+7000*v/vAvg/1.2)
		cur.Gear = append(cur.Gear, gear)
		cur.DRS = append(cur.DRS, drs)
		if pitLap > 0 {
			cur.InPit = append(cur.InPit, inPit)
		}

		if stopped {
			// A handful of stationary samples, then the feed goes dark.
			if len(cur.Time) > 0 && t-retireAt > 15 {
				break
			}
			continue
		}

		s += v * dt
		if s >= float64(lapNum)*syntheticCircuitLen && lapNum < g.laps() {
			cur.LapTimeMs = int64((t - cur.StartTime) * 1000)
			third := cur.LapTimeMs / 3
			cur.Sector1Ms, cur.Sector2Ms, cur.Sector3Ms = third, third, cur.LapTimeMs-2*third
			laps = append(laps, cur)
			lapNum++
			startLap(lapNum, t+dt)
		}
	}

	if len(cur.Time) > 0 {
		if cur.LapTimeMs == 0 {
			cur.LapTimeMs = int64((cur.Time[len(cur.Time)-1] - cur.StartTime) * 1000)
		}
		laps = append(laps, cur)
	}
	return laps
}

// generateSegments builds Q1/Q2/Q3 from each driver's best generated lap.
func (g *SyntheticProvider) generateSegments(raw *RawSession, rng *rand.Rand) map[string]*RawSegment {
	segments := make(map[string]*RawSegment, 3)
	cut := []int{len(raw.Drivers), len(raw.Drivers) * 3 / 4, len(raw.Drivers) / 2}
	for si, name := range []string{"Q1", "Q2", "Q3"} {
		seg := &RawSegment{
			Duration: 900 - 300*float64(si),
			Fastest:  make(map[string]*LapData),
		}
		n := 0
		for _, code := range syntheticCodes {
			d, ok := raw.Drivers[code]
			if !ok || len(d.Laps) == 0 {
				continue
			}
			if n >= cut[si] {
				break
			}
			best := &d.Laps[0]
			for i := range d.Laps {
				l := &d.Laps[i]
				if l.LapTimeMs > 0 && (best.LapTimeMs == 0 || l.LapTimeMs < best.LapTimeMs) {
					best = l
				}
			}
			seg.Fastest[code] = best
			n++
		}
		segments[name] = seg
	}
	return segments
}

var _ Provider = (*SyntheticProvider)(nil)

// String describes the generator configuration for logs.
func (g *SyntheticProvider) String() string {
	return fmt.Sprintf("synthetic(drivers=%d laps=%d)", g.Drivers, g.Laps)
}
