package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeLap builds a constant-speed lap: n samples, dt apart, covering
// lapLen metres from startTime.
func makeLap(number int, startTime float64, n int, dt, lapLen float64) LapData {
	l := LapData{
		Number:    number,
		StartTime: startTime,
		Tyre:      "SOFT",
		Time:      make([]float64, n),
		X:         make([]float64, n),
		Y:         make([]float64, n),
		Dist:      make([]float64, n),
		Speed:     make([]float64, n),
		Throttle:  make([]float64, n),
		Brake:     make([]float64, n),
		RPM:       make([]float64, n),
		Gear:      make([]int, n),
		DRS:       make([]int, n),
	}
	for i := 0; i < n; i++ {
		frac := float64(i) / float64(n-1)
		l.Time[i] = startTime + float64(i)*dt
		l.X[i] = frac * 100
		l.Y[i] = frac * 50
		l.Dist[i] = frac * lapLen
		l.Speed[i] = 200
		l.Throttle[i] = 80
		l.Brake[i] = 0
		l.RPM[i] = 10000
		l.Gear[i] = 6
	}
	return l
}

func TestValidateLap(t *testing.T) {
	t.Parallel()

	t.Run("valid lap passes", func(t *testing.T) {
		t.Parallel()
		l := makeLap(1, 0, 10, 0.2, 1000)
		assert.NoError(t, validateLap("VER", &l))
	})

	t.Run("empty lap rejected", func(t *testing.T) {
		t.Parallel()
		l := LapData{Number: 3}
		err := validateLap("VER", &l)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty telemetry")
	})

	t.Run("channel length mismatch rejected", func(t *testing.T) {
		t.Parallel()
		l := makeLap(1, 0, 10, 0.2, 1000)
		l.Speed = l.Speed[:5]
		err := validateLap("VER", &l)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "speed")
	})

	t.Run("time regression within lap rejected", func(t *testing.T) {
		t.Parallel()
		l := makeLap(1, 0, 10, 0.2, 1000)
		l.Time[5] = l.Time[3]
		err := validateLap("VER", &l)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "regresses")
	})

	t.Run("equal consecutive times allowed", func(t *testing.T) {
		t.Parallel()
		l := makeLap(1, 0, 10, 0.2, 1000)
		l.Time[5] = l.Time[4]
		assert.NoError(t, validateLap("VER", &l))
	})
}

func TestConcatDriver(t *testing.T) {
	t.Parallel()

	t.Run("laps sorted by start time", func(t *testing.T) {
		t.Parallel()
		d := &RawDriver{Code: "VER", Laps: []LapData{
			makeLap(2, 10, 10, 0.2, 1000),
			makeLap(1, 0, 10, 0.2, 1000),
		}}
		ch, err := concatDriver(d)
		require.NoError(t, err)
		assert.Equal(t, 1, ch.lap[0])
		assert.Equal(t, 2, ch.lap[len(ch.lap)-1])
		for i := 1; i < len(ch.time); i++ {
			assert.Greater(t, ch.time[i], ch.time[i-1])
		}
	})

	t.Run("accumulated distance spans laps", func(t *testing.T) {
		t.Parallel()
		d := &RawDriver{Code: "VER", Laps: []LapData{
			makeLap(1, 0, 10, 0.2, 1000),
			makeLap(2, 2, 10, 0.2, 1000),
		}}
		ch, err := concatDriver(d)
		require.NoError(t, err)
		last := ch.dist[len(ch.dist)-1]
		assert.InDelta(t, 2000, last, 1e-9)
	})

	t.Run("duplicate boundary timestamps deduped", func(t *testing.T) {
		t.Parallel()
		l1 := makeLap(1, 0, 10, 0.2, 1000)
		// Lap 2 starts at exactly lap 1's final timestamp.
		l2 := makeLap(2, l1.Time[9], 10, 0.2, 1000)
		d := &RawDriver{Code: "VER", Laps: []LapData{l1, l2}}
		ch, err := concatDriver(d)
		require.NoError(t, err)
		assert.Len(t, ch.time, 19)
		for i := 1; i < len(ch.time); i++ {
			assert.Greater(t, ch.time[i], ch.time[i-1])
		}
	})

	t.Run("overlapping laps rejected", func(t *testing.T) {
		t.Parallel()
		d := &RawDriver{Code: "VER", Laps: []LapData{
			makeLap(1, 0, 10, 0.2, 1000),
			makeLap(2, 1.0, 10, 0.2, 1000), // starts mid lap 1
		}}
		_, err := concatDriver(d)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "before lap")
	})

	t.Run("no laps rejected", func(t *testing.T) {
		t.Parallel()
		_, err := concatDriver(&RawDriver{Code: "VER"})
		assert.Error(t, err)
	})

	t.Run("timings and tyres recorded per lap", func(t *testing.T) {
		t.Parallel()
		l1 := makeLap(1, 0, 10, 0.2, 1000)
		l1.LapTimeMs = 90000
		l1.Sector1Ms = 30000
		l2 := makeLap(2, 2, 10, 0.2, 1000)
		l2.Tyre = "HARD"
		d := &RawDriver{Code: "VER", Laps: []LapData{l1, l2}}
		ch, err := concatDriver(d)
		require.NoError(t, err)
		require.Len(t, ch.timings, 2)
		assert.Equal(t, int64(90000), ch.timings[0].LapTimeMs)
		assert.Equal(t, int64(30000), ch.timings[0].Sector1Ms)
		assert.Equal(t, "HARD", ch.tyreByLap[2])
	})
}

func TestCircuitLength(t *testing.T) {
	t.Parallel()

	t.Run("uses fastest lap distance", func(t *testing.T) {
		t.Parallel()
		slow := makeLap(1, 0, 10, 0.2, 5100)
		slow.LapTimeMs = 95000
		fast := makeLap(2, 2, 10, 0.2, 5050)
		fast.LapTimeMs = 88000
		raw := &RawSession{Drivers: map[string]*RawDriver{
			"VER": {Code: "VER", Laps: []LapData{slow, fast}},
		}}
		assert.InDelta(t, 5050, circuitLength(raw), 1e-9)
	})

	t.Run("falls back without timed laps", func(t *testing.T) {
		t.Parallel()
		raw := &RawSession{Drivers: map[string]*RawDriver{
			"VER": {Code: "VER", Laps: []LapData{makeLap(1, 0, 10, 0.2, 5100)}},
		}}
		assert.Equal(t, DefaultCircuitLength, circuitLength(raw))
	})
}
