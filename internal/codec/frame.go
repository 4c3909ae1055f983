// Package codec encodes frames into the compact binary wire format.
//
// Frames travel as CBOR maps with short string keys. Encoding is
// canonical (deterministic key order) so re-encoding a decoded frame is
// byte-identical, and decoding tolerates unknown fields for forward
// compatibility. Non-finite numerics never reach the wire; they are
// coerced to zero.
package codec

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/gridline-data/apex.replay/internal/telemetry"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: dec mode: %v", err))
	}
}

// wireDriver is the per-driver payload. Integer fields use the smallest
// width that covers their domain; CBOR stores them compactly.
type wireDriver struct {
	X            float64 `cbor:"x"`
	Y            float64 `cbor:"y"`
	Speed        float64 `cbor:"speed"`
	Gear         int8    `cbor:"gear"`
	Lap          int16   `cbor:"lap"`
	Position     int8    `cbor:"position"`
	Tyre         string  `cbor:"tyre"`
	Throttle     float64 `cbor:"throttle"`
	Brake        float64 `cbor:"brake"`
	DRS          int8    `cbor:"drs"`
	Dist         float64 `cbor:"dist"`
	RelDist      float64 `cbor:"rel_dist"`
	RaceProgress float64 `cbor:"race_progress"`
	LapTime      int64   `cbor:"lap_time,omitempty"`
	Sector1      int64   `cbor:"sector1,omitempty"`
	Sector2      int64   `cbor:"sector2,omitempty"`
	Sector3      int64   `cbor:"sector3,omitempty"`
	Status       string  `cbor:"status"`
}

type wireWeather struct {
	AirTemp   float64 `cbor:"air_temp"`
	TrackTemp float64 `cbor:"track_temp"`
	WindSpeed float64 `cbor:"wind_speed"`
	RainState int8    `cbor:"rain_state"`
}

type wireFrame struct {
	FrameIndex int                   `cbor:"frame_index"`
	T          float64               `cbor:"t"`
	Lap        int16                 `cbor:"lap"`
	Drivers    map[string]wireDriver `cbor:"drivers"`
	Weather    *wireWeather          `cbor:"weather,omitempty"`
}

// finite coerces non-finite values to zero before they reach the wire.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp8(v int) int8 {
	if v > math.MaxInt8 {
		return math.MaxInt8
	}
	if v < math.MinInt8 {
		return math.MinInt8
	}
	return int8(v)
}

func clamp16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// EncodeFrame encodes one frame with its index into the binary wire
// format.
func EncodeFrame(index int, f *telemetry.Frame) ([]byte, error) {
	wf := wireFrame{
		FrameIndex: index,
		T:          finite(f.T),
		Lap:        clamp16(f.LeaderLap),
		Drivers:    make(map[string]wireDriver, len(f.Drivers)),
	}
	for code, d := range f.Drivers {
		wf.Drivers[code] = wireDriver{
			X:            finite(d.X),
			Y:            finite(d.Y),
			Speed:        finite(d.Speed),
			Gear:         clamp8(d.Gear),
			Lap:          clamp16(d.Lap),
			Position:     clamp8(d.Position),
			Tyre:         d.Tyre,
			Throttle:     finite(d.Throttle),
			Brake:        finite(d.Brake),
			DRS:          clamp8(d.DRS),
			Dist:         finite(d.Dist),
			RelDist:      finite(d.RelDist),
			RaceProgress: finite(d.RaceProgress),
			LapTime:      d.LapTimeMs,
			Sector1:      d.Sector1Ms,
			Sector2:      d.Sector2Ms,
			Sector3:      d.Sector3Ms,
			Status:       string(d.Status),
		}
	}
	if f.Weather != nil {
		wf.Weather = &wireWeather{
			AirTemp:   finite(f.Weather.AirTemp),
			TrackTemp: finite(f.Weather.TrackTemp),
			WindSpeed: finite(f.Weather.WindSpeed),
			RainState: clamp8(f.Weather.RainState),
		}
	}

	b, err := encMode.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", index, err)
	}
	return b, nil
}

// DecodeFrame decodes a binary frame payload. Unknown fields in the
// payload are ignored.
func DecodeFrame(b []byte) (*telemetry.Frame, int, error) {
	var wf wireFrame
	if err := decMode.Unmarshal(b, &wf); err != nil {
		return nil, 0, fmt.Errorf("decode frame: %w", err)
	}

	f := &telemetry.Frame{
		T:         wf.T,
		LeaderLap: int(wf.Lap),
		Drivers:   make(map[string]telemetry.DriverSample, len(wf.Drivers)),
	}
	for code, d := range wf.Drivers {
		f.Drivers[code] = telemetry.DriverSample{
			X:            d.X,
			Y:            d.Y,
			Speed:        d.Speed,
			Gear:         int(d.Gear),
			Lap:          int(d.Lap),
			Position:     int(d.Position),
			Tyre:         d.Tyre,
			Throttle:     d.Throttle,
			Brake:        d.Brake,
			DRS:          int(d.DRS),
			Dist:         d.Dist,
			RelDist:      d.RelDist,
			RaceProgress: d.RaceProgress,
			LapTimeMs:    d.LapTime,
			Sector1Ms:    d.Sector1,
			Sector2Ms:    d.Sector2,
			Sector3Ms:    d.Sector3,
			Status:       telemetry.DriverStatus(d.Status),
		}
	}
	if wf.Weather != nil {
		f.Weather = &telemetry.Weather{
			AirTemp:   wf.Weather.AirTemp,
			TrackTemp: wf.Weather.TrackTemp,
			WindSpeed: wf.Weather.WindSpeed,
			RainState: int(wf.Weather.RainState),
		}
	}
	return f, wf.FrameIndex, nil
}

// PreEncode encodes every frame up-front when the session fits the
// budget, trading memory for a cheaper streaming loop. Returns nil when
// the session exceeds the budget; callers then encode on demand.
func PreEncode(frames []telemetry.Frame, budget int) ([][]byte, error) {
	if budget > 0 && len(frames) > budget {
		return nil, nil
	}
	encoded := make([][]byte, len(frames))
	for i := range frames {
		b, err := EncodeFrame(i, &frames[i])
		if err != nil {
			return nil, err
		}
		encoded[i] = b
	}
	return encoded, nil
}
