// Package pipeline runs the acquisition, batching and transport loop and applies
// connection lifecycle effects.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/itohio/emgstream/pkg/batch"
	"github.com/itohio/emgstream/pkg/calibration"
	"github.com/itohio/emgstream/pkg/clock"
	"github.com/itohio/emgstream/pkg/config"
	"github.com/itohio/emgstream/pkg/display"
	"github.com/itohio/emgstream/pkg/frame"
	"github.com/itohio/emgstream/pkg/link"
	"github.com/itohio/emgstream/pkg/sample"
	"github.com/itohio/emgstream/pkg/sensor"
)

// idle is how long Run yields between ticks.
const idle = 100 * time.Microsecond

// Pipeline owns all sampling state. Every method except Gate().Press and the
// stack's connect callback must be called from the single loop that calls Tick.
type Pipeline struct {
	clock     *clock.Clock
	acq       *sensor.Acquisition
	transport *link.Transport
	lifecycle *link.Lifecycle
	gate      *calibration.Gate
	feed      *display.Feed

	batch       batch.Batch
	buf         [frame.Size]byte
	seq         uint16 // next sequence number
	lastSeq     uint16 // last sequence number sent
	onSuccess   bool   // advance seq only on accepted sends
	settle      uint32 // µs before re-advertising
	readvertise deferred

	latest  sample.Sample
	stats   display.Stats
	errLog  limiter
	sendLog limiter
}

// New builds a Pipeline. It fails with sensor.ErrUnavailable when no motion
// sensor is present; callers must not start sampling in that case.
func New(cfg *config.Config, motion sensor.Motion, analog sensor.Analog, stack link.Stack, state *link.State) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	acq, err := sensor.NewAcquisition(motion, analog, sample.NewScaler(&cfg.Scaling))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Pipeline{
		clock:     clock.New(cfg.Sampling.Period),
		acq:       acq,
		transport: link.NewTransport(stack, state),
		lifecycle: link.NewLifecycle(state),
		gate:      calibration.NewGate(&cfg.Calibration),
		feed:      display.NewFeed(cfg.Display.RefreshInterval),
		onSuccess: cfg.Transport.SequencePolicy == config.SequenceOnSuccess,
		settle:    uint32(cfg.Transport.SettleDelay.Microseconds()),
		errLog:    limiter{every: 1_000_000},
		sendLog:   limiter{every: 1_000_000},
	}, nil
}

// Tick runs one loop iteration at nowMicros.
func (p *Pipeline) Tick(nowMicros uint32) {
	switch p.lifecycle.Observe() {
	case link.EdgeConnected:
		// A new peer never sees a stale partial batch or an old sequence.
		p.seq = 0
		p.batch.Reset()
		p.readvertise.cancel()
		log.Println("pipeline: peer connected")
	case link.EdgeDisconnected:
		p.readvertise.schedule(nowMicros, p.settle)
		log.Println("pipeline: peer disconnected")
	}

	if p.readvertise.due(nowMicros) {
		if err := p.transport.Advertise(); err != nil {
			log.Printf("pipeline: re-advertise failed: %v", err)
			p.readvertise.schedule(nowMicros, p.settle)
		}
	}

	if !p.gate.Active(nowMicros) && p.clock.Due(nowMicros) {
		p.sampleOnce(nowMicros)
	}

	p.feed.Offer(nowMicros, func() display.Snapshot { return p.snapshot(nowMicros) })
}

// Run calls Tick until ctx is done.
func (p *Pipeline) Run(ctx context.Context, now func() uint32) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p.Tick(now())
		time.Sleep(idle)
	}
}

func (p *Pipeline) sampleOnce(nowMicros uint32) {
	s, err := p.acq.Read()
	if err != nil {
		p.stats.ReadErrors++
		if p.errLog.allow(nowMicros) {
			log.Printf("pipeline: %v (%d read errors so far)", err, p.stats.ReadErrors)
		}
		return
	}

	p.latest = s
	if p.batch.Push(s) {
		p.flush(nowMicros)
	}
}

// flush sends the full batch if the peer observed this tick is still there, then resets it.
func (p *Pipeline) flush(nowMicros uint32) {
	defer p.batch.Reset()

	if !p.lifecycle.Stable() {
		p.stats.Dropped++
		return
	}

	frame.EncodeTo(p.buf[:], p.seq, &p.batch)
	attempted, err := p.transport.Send(p.buf[:])
	if !attempted {
		p.stats.Dropped++
		return
	}

	p.stats.Frames++
	if err != nil {
		if p.sendLog.allow(nowMicros) {
			log.Printf("pipeline: send seq=%d failed: %v (%d failures so far)", p.seq, err, p.transport.Failures())
		}
		if p.onSuccess {
			return
		}
	}

	p.lastSeq = p.seq
	p.seq++
}

func (p *Pipeline) snapshot(nowMicros uint32) display.Snapshot {
	return display.Snapshot{
		Connected: p.lifecycle.Previous() == link.Connected,
		Seq:       p.lastSeq,
		Latest:    p.latest,
		Countdown: p.gate.Remaining(nowMicros),
		Stats:     p.Stats(),
	}
}

// Stats returns the current counters.
func (p *Pipeline) Stats() display.Stats {
	s := p.stats
	s.SendFailures = p.transport.Failures()
	s.Saturated = p.acq.Saturated()
	s.LateTicks = p.clock.Late()
	return s
}

// Seq returns the sequence number the next frame will carry.
func (p *Pipeline) Seq() uint16 {
	return p.seq
}

// BatchLen returns the current fill index.
func (p *Pipeline) BatchLen() int {
	return p.batch.Len()
}

// Gate returns the calibration gate so the button handler can press it.
func (p *Pipeline) Gate() *calibration.Gate {
	return p.gate
}

// Feed returns the display feed.
func (p *Pipeline) Feed() *display.Feed {
	return p.feed
}
