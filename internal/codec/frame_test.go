package codec

import (
	"math"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridline-data/apex.replay/internal/telemetry"
)

func sampleFrame() *telemetry.Frame {
	return &telemetry.Frame{
		T:         12.48,
		LeaderLap: 3,
		Drivers: map[string]telemetry.DriverSample{
			"VER": {
				X: 120.5, Y: -44.25, Dist: 11240.5, RelDist: 0.248,
				RaceProgress: 11240.5, Lap: 3, Tyre: "MEDIUM",
				Speed: 287.4, Gear: 7, DRS: 12, Throttle: 99.2, Brake: 0,
				RPM: 11250, Position: 1, Status: telemetry.StatusRunning,
				LapTimeMs: 92345, Sector1Ms: 30100, Sector2Ms: 31000, Sector3Ms: 31245,
			},
			"NOR": {
				X: 88, Y: 12, Dist: 11180, RelDist: 0.236,
				RaceProgress: 11180, Lap: 3, Tyre: "HARD",
				Speed: 284.0, Gear: 7, Throttle: 98, RPM: 11100,
				Position: 2, Status: telemetry.StatusRunning,
			},
		},
		Weather: &telemetry.Weather{AirTemp: 24.5, TrackTemp: 39.1, WindSpeed: 3.2},
	}
}

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()
	f := sampleFrame()

	b, err := EncodeFrame(17, f)
	require.NoError(t, err)

	got, idx, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, 17, idx)
	if diff := cmp.Diff(f, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	t.Parallel()
	f := sampleFrame()

	b1, err := EncodeFrame(0, f)
	require.NoError(t, err)

	// Re-encoding a decoded frame must be byte-identical; canonical key
	// ordering removes map iteration order from the wire format.
	decoded, _, err := DecodeFrame(b1)
	require.NoError(t, err)
	b2, err := EncodeFrame(0, decoded)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	for i := 0; i < 20; i++ {
		b, err := EncodeFrame(0, f)
		require.NoError(t, err)
		assert.Equal(t, b1, b)
	}
}

func TestNonFiniteValuesCoerced(t *testing.T) {
	t.Parallel()
	f := sampleFrame()
	d := f.Drivers["VER"]
	d.Speed = math.NaN()
	d.Throttle = math.Inf(1)
	d.RPM = math.Inf(-1)
	f.Drivers["VER"] = d

	b, err := EncodeFrame(0, f)
	require.NoError(t, err)
	got, _, err := DecodeFrame(b)
	require.NoError(t, err)

	assert.Zero(t, got.Drivers["VER"].Speed)
	assert.Zero(t, got.Drivers["VER"].Throttle)
	assert.Zero(t, got.Drivers["VER"].RPM)
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	t.Parallel()
	payload := map[string]any{
		"frame_index": 4,
		"t":           0.16,
		"lap":         1,
		"drivers": map[string]any{
			"VER": map[string]any{
				"x": 1.0, "y": 2.0, "speed": 300.0,
				"future_channel": "ignored",
			},
		},
		"schema_hint": 99,
	}
	b, err := cbor.Marshal(payload)
	require.NoError(t, err)

	f, idx, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, 4, idx)
	assert.Equal(t, 300.0, f.Drivers["VER"].Speed)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, _, err := DecodeFrame([]byte{0xff, 0x00, 0x13})
	assert.Error(t, err)
}

func TestClampOversizedInts(t *testing.T) {
	t.Parallel()
	f := sampleFrame()
	d := f.Drivers["VER"]
	d.Gear = 4000
	d.Lap = 100000
	f.Drivers["VER"] = d

	b, err := EncodeFrame(0, f)
	require.NoError(t, err)
	got, _, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, int(math.MaxInt8), got.Drivers["VER"].Gear)
	assert.Equal(t, int(math.MaxInt16), got.Drivers["VER"].Lap)
}

func TestPreEncode(t *testing.T) {
	t.Parallel()

	frames := make([]telemetry.Frame, 10)
	for i := range frames {
		frames[i] = *sampleFrame()
		frames[i].T = float64(i) * telemetry.FrameStep
	}

	t.Run("within budget", func(t *testing.T) {
		t.Parallel()
		encoded, err := PreEncode(frames, 50)
		require.NoError(t, err)
		require.Len(t, encoded, 10)
		for i, b := range encoded {
			_, idx, err := DecodeFrame(b)
			require.NoError(t, err)
			assert.Equal(t, i, idx)
		}
	})

	t.Run("over budget returns nil", func(t *testing.T) {
		t.Parallel()
		encoded, err := PreEncode(frames, 5)
		require.NoError(t, err)
		assert.Nil(t, encoded)
	})

	t.Run("zero budget means unlimited", func(t *testing.T) {
		t.Parallel()
		encoded, err := PreEncode(frames, 0)
		require.NoError(t, err)
		assert.Len(t, encoded, 10)
	})
}
