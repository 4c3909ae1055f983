package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridline-data/apex.replay/internal/telemetry"
)

func testKey() telemetry.SessionKey {
	return telemetry.SessionKey{Year: 2024, Round: 6, Type: "R"}
}

func TestStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "INIT", StateInit.String())
	assert.Equal(t, "LOADING", StateLoading.String())
	assert.Equal(t, "READY", StateReady.String())
	assert.Equal(t, "ERROR", StateError.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}

func TestEmitProgressNilSemantics(t *testing.T) {
	t.Parallel()
	s := New(testKey())

	s.EmitProgress(ptr(StateLoading), ptr(40), ptr("Resampling"))
	snap := s.Snapshot()
	assert.Equal(t, StateLoading, snap.State)
	assert.Equal(t, 40, snap.Progress)
	assert.Equal(t, "Resampling", snap.Message)

	// Nil leaves a field untouched.
	s.EmitProgress(nil, ptr(55), nil)
	snap = s.Snapshot()
	assert.Equal(t, StateLoading, snap.State)
	assert.Equal(t, 55, snap.Progress)
	assert.Equal(t, "Resampling", snap.Message)

	// An explicit pointer to zero still updates.
	s.EmitProgress(nil, ptr(0), ptr(""))
	snap = s.Snapshot()
	assert.Equal(t, 0, snap.Progress)
	assert.Equal(t, "", snap.Message)
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	t.Parallel()
	s := New(testKey())
	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	// INIT sessions send nothing on subscribe.
	select {
	case u := <-ch:
		t.Fatalf("unexpected update %+v", u)
	default:
	}

	s.EmitProgress(ptr(StateLoading), ptr(10), ptr("Starting"))
	select {
	case u := <-ch:
		assert.Equal(t, StateLoading, u.State)
		assert.Equal(t, 10, u.Progress)
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}

func TestLateJoinerCatchUp(t *testing.T) {
	t.Parallel()
	s := New(testKey())
	s.EmitProgress(ptr(StateLoading), ptr(100), ptr("Ready for playback"))
	s.EmitProgress(ptr(StateReady), nil, nil)

	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	// A joiner after READY sees a completed loading bar, then READY.
	first := <-ch
	assert.Equal(t, StateLoading, first.State)
	assert.Equal(t, 100, first.Progress)
	second := <-ch
	assert.Equal(t, StateReady, second.State)
}

func TestMidLoadJoinerSeesCurrentProgress(t *testing.T) {
	t.Parallel()
	s := New(testKey())
	s.EmitProgress(ptr(StateLoading), ptr(60), ptr("Assembling frames"))

	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	u := <-ch
	assert.Equal(t, StateLoading, u.State)
	assert.Equal(t, 60, u.Progress)
}

func TestElapsedSecondsTracked(t *testing.T) {
	t.Parallel()
	s := New(testKey())

	// Before a load is scheduled there is nothing to measure.
	assert.Zero(t, s.Snapshot().ElapsedSeconds)

	s.ScheduleLoad(func() {})
	time.Sleep(1100 * time.Millisecond)

	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)
	s.EmitProgress(ptr(StateLoading), ptr(50), nil)

	u := <-ch
	assert.GreaterOrEqual(t, u.ElapsedSeconds, 1)
	assert.GreaterOrEqual(t, s.Snapshot().ElapsedSeconds, 1)
}

func TestSlowSubscriberDoesNotBlockEmit(t *testing.T) {
	t.Parallel()
	s := New(testKey())
	id, _ := s.Subscribe() // never drained
	defer s.Unsubscribe(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*4; i++ {
			s.EmitProgress(ptr(StateLoading), ptr(i), nil)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("EmitProgress blocked on a full subscriber")
	}
}

func TestScheduleLoadRunsOnce(t *testing.T) {
	t.Parallel()
	s := New(testKey())

	var mu sync.Mutex
	runs := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ScheduleLoad(func() {
				mu.Lock()
				runs++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, runs)
}

func TestEncodedFrameFallback(t *testing.T) {
	t.Parallel()
	s := New(testKey())
	res := &telemetry.Result{
		Frames: []telemetry.Frame{
			{T: 0, LeaderLap: 1, Drivers: map[string]telemetry.DriverSample{"VER": {Position: 1}}},
			{T: telemetry.FrameStep, LeaderLap: 1, Drivers: map[string]telemetry.DriverSample{"VER": {Position: 1}}},
		},
	}

	t.Run("before result", func(t *testing.T) {
		assert.Nil(t, s.EncodedFrame(0))
	})

	s.setResult(res, nil, 1.5) // over budget: encode on demand

	t.Run("load seconds recorded", func(t *testing.T) {
		assert.Equal(t, 1.5, s.LoadSeconds())
	})

	t.Run("on-demand encode", func(t *testing.T) {
		b := s.EncodedFrame(1)
		require.NotNil(t, b)
	})

	t.Run("out of range", func(t *testing.T) {
		assert.Nil(t, s.EncodedFrame(-1))
		assert.Nil(t, s.EncodedFrame(2))
	})

	t.Run("pre-encoded path", func(t *testing.T) {
		s.setResult(res, [][]byte{{0x01}, {0x02}}, 0)
		assert.Equal(t, []byte{0x02}, s.EncodedFrame(1))
	})
}
