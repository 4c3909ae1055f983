package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTimeline(t *testing.T) {
	t.Parallel()

	t.Run("uniform spacing", func(t *testing.T) {
		t.Parallel()
		tl := buildTimeline(100, 104)
		require.Len(t, tl, 100)
		for i := 1; i < len(tl); i++ {
			assert.InDelta(t, FrameStep, tl[i]-tl[i-1], 1e-12)
		}
		assert.Equal(t, 0.0, tl[0])
	})

	t.Run("fractional span rounds up", func(t *testing.T) {
		t.Parallel()
		tl := buildTimeline(0, 1.01)
		assert.Len(t, tl, 26)
	})

	t.Run("zero span yields one frame", func(t *testing.T) {
		t.Parallel()
		assert.Len(t, buildTimeline(5, 5), 1)
	})
}

func TestResampleDriver(t *testing.T) {
	t.Parallel()

	// Two laps of linear motion sampled at 5 Hz; linear interpolation
	// onto the 25 Hz timeline must reproduce the underlying line.
	d := &RawDriver{Code: "VER", Laps: []LapData{
		makeLap(1, 0, 11, 0.2, 1000),
		makeLap(2, 2.2, 11, 0.2, 1000),
	}}
	ch, err := concatDriver(d)
	require.NoError(t, err)

	timeline := buildTimeline(ch.firstTime, ch.lastTime)
	r, err := resampleDriver(ch, ch.firstTime, timeline, 1000)
	require.NoError(t, err)

	t.Run("slices are timeline length", func(t *testing.T) {
		t.Parallel()
		assert.Len(t, r.dist, len(timeline))
		assert.Len(t, r.speed, len(timeline))
		assert.Len(t, r.lap, len(timeline))
	})

	t.Run("accumulated distance follows the source line", func(t *testing.T) {
		t.Parallel()
		// Lap 1 covers [0,2.0]s at 500 m/s; lap 2 covers [2.2,4.2]s.
		for i, tt := range timeline {
			if i > r.lastIdx {
				break
			}
			var want float64
			switch {
			case tt <= 2.0:
				want = 500 * tt
			case tt < 2.2:
				// Inside the inter-lap gap interpolation runs between the
				// endpoints; just require monotonicity there.
				assert.GreaterOrEqual(t, r.dist[i], r.dist[i-1])
				continue
			default:
				want = 1000 + 500*(tt-2.2)
			}
			assert.InDelta(t, want, r.dist[i], 1e-6, "frame %d at t=%.2f", i, tt)
		}
	})

	t.Run("rel dist stays in unit range", func(t *testing.T) {
		t.Parallel()
		for i := range timeline {
			assert.GreaterOrEqual(t, r.relDist[i], 0.0)
			assert.LessOrEqual(t, r.relDist[i], 1.0)
		}
	})

	t.Run("integer channels rounded", func(t *testing.T) {
		t.Parallel()
		for i := range timeline {
			assert.Equal(t, 6, r.gear[i])
			assert.True(t, r.lap[i] == 1 || r.lap[i] == 2)
		}
	})

	t.Run("speed zeroed past last observation", func(t *testing.T) {
		t.Parallel()
		// Extend the timeline past the driver's data.
		long := buildTimeline(ch.firstTime, ch.lastTime+2)
		rr, err := resampleDriver(ch, ch.firstTime, long, 1000)
		require.NoError(t, err)
		require.Less(t, rr.lastIdx, len(long)-1)
		for i := rr.lastIdx + 1; i < len(long); i++ {
			assert.Zero(t, rr.speed[i])
			assert.Zero(t, rr.throttle[i])
			assert.Zero(t, rr.rpm[i])
		}
		// Positions hold the last observed location.
		assert.InDelta(t, rr.x[rr.lastIdx], rr.x[len(long)-1], 1e-9)
	})

	t.Run("pit flag interpolates at half threshold", func(t *testing.T) {
		t.Parallel()
		lap := makeLap(1, 0, 11, 0.2, 1000)
		lap.InPit = make([]bool, 11)
		for i := 4; i <= 7; i++ {
			lap.InPit[i] = true
		}
		pd := &RawDriver{Code: "PER", Laps: []LapData{lap}}
		pch, err := concatDriver(pd)
		require.NoError(t, err)
		tl := buildTimeline(pch.firstTime, pch.lastTime)
		pr, err := resampleDriver(pch, pch.firstTime, tl, 1000)
		require.NoError(t, err)
		require.NotNil(t, pr.inPit)
		// Sample 5 sits at t=1.0 which is frame 25.
		assert.True(t, pr.inPit[25])
		assert.False(t, pr.inPit[0])
	})
}

func TestClampInt(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, clampInt(-3, 0, 8))
	assert.Equal(t, 8, clampInt(11, 0, 8))
	assert.Equal(t, 5, clampInt(5, 0, 8))
}

func TestTimelineStepIsExact(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 0.04, FrameStep, 1e-12)
	assert.Equal(t, 25, FrameRateHz)
	assert.True(t, math.Abs(FrameStep*float64(FrameRateHz)-1.0) < 1e-12)
}
