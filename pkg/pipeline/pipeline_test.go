package pipeline

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/itohio/emgstream/pkg/batch"
	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/frame"
	"github.com/itohio/emgstream/pkg/link"
	"github.com/itohio/emgstream/pkg/link/stub"
	"github.com/itohio/emgstream/pkg/sample"
	"github.com/itohio/emgstream/pkg/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness drives a Pipeline with a synthetic 1 kHz clock.
type harness struct {
	p     *Pipeline
	stack *stub.Stack
	mock  *sensor.Mock
	now   uint32
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Transport.Kind = config.TransportStub
	if mutate != nil {
		mutate(cfg)
	}

	state := &link.State{}
	st := stub.New(state.Handler())
	m := sensor.NewMock(&config.MockConfig{Accel: [3]float32{1, 0, -1}, Bio: 2048})

	p, err := New(cfg, m, m, st, state)
	require.NoError(t, err)

	return &harness{p: p, stack: st, mock: m, now: 1}
}

// tick advances one sample period and runs the loop once.
func (h *harness) tick(n int) {
	for range n {
		h.p.Tick(h.now)
		h.now += 1000
	}
}

var scenarioSample = sample.Sample{AccelX: 4096, AccelY: 0, AccelZ: -4096, Bio: 2048}

func TestNew_MissingSensor(t *testing.T) {
	cfg := config.Default()
	state := &link.State{}
	st := stub.New(state.Handler())

	m := sensor.NewMock(nil)
	m.SetConnected(false)
	_, err := New(cfg, m, m, st, state)
	assert.ErrorIs(t, err, sensor.ErrUnavailable)

	_, err = New(cfg, nil, m, st, state)
	assert.ErrorIs(t, err, sensor.ErrUnavailable)

	_, err = New(cfg, sensor.NewMock(nil), nil, st, state)
	assert.ErrorIs(t, err, sensor.ErrUnavailable)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.SequencePolicy = "sometimes"
	state := &link.State{}
	m := sensor.NewMock(nil)

	_, err := New(cfg, m, m, stub.New(state.Handler()), state)
	assert.Error(t, err)
}

func TestTick_ScenarioFrame(t *testing.T) {
	h := newHarness(t, nil)
	h.stack.Connect()

	h.tick(batch.Capacity)

	frames := h.stack.Frames()
	require.Len(t, frames, 1)
	require.Len(t, frames[0], frame.Size)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0xF0}, frames[0][:8])

	seq, samples, err := frame.Decode(frames[0])
	require.NoError(t, err)
	assert.Equal(t, uint16(0), seq)
	for i, s := range samples {
		assert.Equal(t, scenarioSample, s, "sample %d", i)
	}

	assert.Equal(t, uint16(1), h.p.Seq())
	assert.Equal(t, 0, h.p.BatchLen())
	assert.Equal(t, uint32(1), h.p.Stats().Frames)
}

func TestTick_OneSamplePerPeriod(t *testing.T) {
	h := newHarness(t, nil)

	h.p.Tick(h.now)
	h.p.Tick(h.now + 10)
	h.p.Tick(h.now + 999)
	assert.Equal(t, 1, h.p.BatchLen())

	h.p.Tick(h.now + 1000)
	assert.Equal(t, 2, h.p.BatchLen())
}

func TestTick_SequenceIncrementsPerFrame(t *testing.T) {
	h := newHarness(t, nil)
	h.stack.Connect()

	h.tick(5 * batch.Capacity)

	frames := h.stack.Frames()
	require.Len(t, frames, 5)
	for i, f := range frames {
		seq, _, err := frame.Decode(f)
		require.NoError(t, err)
		assert.Equal(t, uint16(i), seq)
	}
}

func TestTick_SequenceWraps(t *testing.T) {
	h := newHarness(t, nil)
	h.stack.Connect()
	h.tick(1)
	h.p.seq = math.MaxUint16

	h.tick(2*batch.Capacity - 1)

	frames := h.stack.Frames()
	require.Len(t, frames, 2)
	seq0, _, _ := frame.Decode(frames[0])
	seq1, _, _ := frame.Decode(frames[1])
	assert.Equal(t, uint16(65535), seq0)
	assert.Equal(t, uint16(0), seq1)
	assert.Equal(t, uint16(1), h.p.Seq())
}

func TestTick_NoFrameWhileDisconnected(t *testing.T) {
	h := newHarness(t, nil)

	h.tick(3 * batch.Capacity)

	assert.Empty(t, h.stack.Frames())
	assert.Zero(t, h.stack.Notified(), "stack must not be touched without a peer")
	assert.Equal(t, uint32(3), h.p.Stats().Dropped)
	assert.Equal(t, uint16(0), h.p.Seq())
	assert.Equal(t, 0, h.p.BatchLen())
}

func TestTick_ReconnectResetsSequence(t *testing.T) {
	h := newHarness(t, nil)
	h.stack.Connect()
	h.tick(3 * batch.Capacity)
	require.Equal(t, uint16(3), h.p.Seq())

	h.stack.Disconnect()
	h.tick(batch.Capacity / 2)
	h.stack.Connect()
	h.tick(1)
	assert.Equal(t, uint16(0), h.p.Seq())

	h.tick(batch.Capacity - 1)
	frames := h.stack.Frames()
	require.Len(t, frames, 4)
	seq, _, err := frame.Decode(frames[3])
	require.NoError(t, err)
	assert.Equal(t, uint16(0), seq)
}

func TestTick_DisconnectMidBatchDiscardsPartial(t *testing.T) {
	h := newHarness(t, nil)
	h.stack.Connect()
	h.tick(4)
	require.Equal(t, 4, h.p.BatchLen())

	// Samples after the disconnect differ so a leaked partial batch would show.
	h.stack.Disconnect()
	h.mock.Set([3]float32{0, 1, 0}, [3]float32{}, 100)
	h.tick(1)
	assert.Empty(t, h.stack.Frames())

	h.stack.Connect()
	h.tick(1)
	assert.Equal(t, 1, h.p.BatchLen(), "batch restarts from zero on reconnect")

	h.tick(batch.Capacity - 1)
	frames := h.stack.Frames()
	require.Len(t, frames, 1)
	seq, samples, err := frame.Decode(frames[0])
	require.NoError(t, err)
	assert.Equal(t, uint16(0), seq)
	want := sample.Sample{AccelY: 4096, Bio: 100}
	for i, s := range samples {
		assert.Equal(t, want, s, "sample %d", i)
	}
}

func TestTick_MissedReconnectStillResets(t *testing.T) {
	h := newHarness(t, nil)
	h.stack.Connect()
	h.tick(batch.Capacity + 4)
	require.Equal(t, uint16(1), h.p.Seq())
	require.Equal(t, 4, h.p.BatchLen())

	// Peer swap entirely between two loop iterations.
	h.stack.Disconnect()
	h.stack.Connect()
	h.tick(1)

	assert.Equal(t, uint16(0), h.p.Seq())
	assert.Equal(t, 1, h.p.BatchLen())
}

func TestTick_ConnectDuringPartialBatchNeverFlushesStale(t *testing.T) {
	h := newHarness(t, nil)
	h.tick(batch.Capacity - 1)

	// The peer arrives after the loop observed the link but before the batch fills.
	h.p.lifecycle.Observe()
	h.stack.Connect()
	h.p.sampleOnce(h.now)

	assert.Empty(t, h.stack.Frames())
	assert.Equal(t, uint32(1), h.p.Stats().Dropped)
}

func TestTick_SequencePolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy string
		want   []uint16
	}{
		{name: "attempt", policy: config.SequenceOnAttempt, want: []uint16{1, 2}},
		{name: "success", policy: config.SequenceOnSuccess, want: []uint16{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(c *config.Config) { c.Transport.SequencePolicy = tt.policy })
			h.stack.Connect()

			h.stack.FailWith(errors.New("tx queue full"))
			h.tick(batch.Capacity)
			h.stack.FailWith(nil)
			h.tick(2 * batch.Capacity)

			frames := h.stack.Frames()
			require.Len(t, frames, 2)
			for i, f := range frames {
				seq, _, err := frame.Decode(f)
				require.NoError(t, err)
				assert.Equal(t, tt.want[i], seq)
			}

			st := h.p.Stats()
			assert.Equal(t, uint32(3), st.Frames)
			assert.Equal(t, uint32(1), st.SendFailures)
		})
	}
}

func TestTick_DeferredAdvertise(t *testing.T) {
	h := newHarness(t, nil)
	h.stack.Connect()
	h.tick(1)

	h.stack.Disconnect()
	disconnectedAt := h.now
	h.tick(1)
	assert.Zero(t, h.stack.Advertised(), "advertising must wait for the settle delay")

	h.p.Tick(disconnectedAt + 499_000)
	assert.Zero(t, h.stack.Advertised())

	h.p.Tick(disconnectedAt + 500_000)
	assert.Equal(t, 1, h.stack.Advertised())

	h.p.Tick(disconnectedAt + 900_000)
	assert.Equal(t, 1, h.stack.Advertised(), "advertise fires once")
}

func TestTick_ReconnectCancelsAdvertise(t *testing.T) {
	h := newHarness(t, nil)
	h.stack.Connect()
	h.tick(1)

	h.stack.Disconnect()
	h.tick(1)
	h.stack.Connect()
	h.tick(1000)

	assert.Zero(t, h.stack.Advertised())
}

func TestTick_SamplingContinuesDuringSettle(t *testing.T) {
	h := newHarness(t, nil)
	h.stack.Connect()
	h.tick(1)
	h.stack.Disconnect()

	h.tick(250)

	assert.Equal(t, uint32(25), h.p.Stats().Dropped)
	assert.Zero(t, h.stack.Advertised())
}

func TestTick_CalibrationGate(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Calibration.Calibrated = false
		c.Calibration.Countdown = 3 * time.Second
	})
	h.stack.Connect()

	h.tick(50)
	assert.Equal(t, 0, h.p.BatchLen())
	assert.True(t, h.p.Gate().Waiting())

	h.p.Gate().Press()
	pressedAt := h.now
	h.tick(1)
	assert.Equal(t, 0, h.p.BatchLen())
	assert.Equal(t, 3, h.p.snapshot(pressedAt).Countdown)

	h.now = pressedAt + 3_000_000
	h.tick(1)
	assert.Equal(t, 1, h.p.BatchLen())
	assert.Empty(t, h.stack.Frames())
}

func TestTick_ReadErrorsSkipSample(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.FailNext(2)

	h.tick(3)

	assert.Equal(t, uint32(2), h.p.Stats().ReadErrors)
	assert.Equal(t, 1, h.p.BatchLen())
}

func TestTick_SaturationCounted(t *testing.T) {
	h := newHarness(t, nil)
	h.mock.Set([3]float32{9, 0, 0}, [3]float32{}, 0)

	h.tick(2)

	assert.Equal(t, uint32(2), h.p.Stats().Saturated)
}

func TestTick_LateTicksCounted(t *testing.T) {
	h := newHarness(t, nil)
	h.p.Tick(0)
	h.p.Tick(5000)

	assert.Equal(t, uint32(1), h.p.Stats().LateTicks)
	assert.Equal(t, 2, h.p.BatchLen(), "missed periods are not replayed")
}

func TestTick_DisplayFeed(t *testing.T) {
	h := newHarness(t, nil)
	h.stack.Connect()

	h.tick(batch.Capacity)

	select {
	case snap := <-h.p.Feed().Snapshots():
		assert.True(t, snap.Connected)
		assert.Equal(t, scenarioSample, snap.Latest)
	default:
		t.Fatal("no snapshot published")
	}
}

func TestDeferred_Wraparound(t *testing.T) {
	var d deferred
	d.schedule(math.MaxUint32-100, 500)

	assert.False(t, d.due(math.MaxUint32))
	assert.False(t, d.due(398))
	assert.True(t, d.due(399))
	assert.False(t, d.due(400))

	d.schedule(0, 10)
	d.cancel()
	assert.False(t, d.due(20))
}

func TestLimiter(t *testing.T) {
	l := limiter{every: 1_000_000}

	assert.True(t, l.allow(5))
	assert.False(t, l.allow(500_000))
	assert.True(t, l.allow(1_000_005))
}
