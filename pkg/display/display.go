// Package display publishes read-only pipeline snapshots at a bounded rate.
package display

import (
	"context"
	"log"
	"time"

	"github.com/itohio/emgstream/pkg/sample"
)

// Stats are the pipeline counters shown to the user.
type Stats struct {
	Frames       uint32 // frames handed to the stack
	Dropped      uint32 // full batches discarded without a peer
	SendFailures uint32 // sends the stack rejected
	ReadErrors   uint32 // sensor reads that failed
	Saturated    uint32 // samples with an out-of-range channel
	LateTicks    uint32 // ticks that fired a full period late
}

// Snapshot is what the display collaborator renders.
type Snapshot struct {
	Connected bool
	Seq       uint16 // last sequence number sent
	Latest    sample.Sample
	Countdown int // calibration seconds remaining, 0 when idle
	Stats     Stats
}

// Feed hands snapshots to a consumer without ever blocking the producer.
// Only the most recent unconsumed snapshot is kept.
type Feed struct {
	interval uint32 // µs
	last     uint32
	started  bool
	ch       chan Snapshot
}

// NewFeed creates a Feed that accepts at most one snapshot per interval.
func NewFeed(interval time.Duration) *Feed {
	return &Feed{
		interval: uint32(interval.Microseconds()),
		ch:       make(chan Snapshot, 1),
	}
}

// Offer publishes build() if the refresh interval has elapsed at nowMicros.
// build is not called otherwise. Only the sampling loop calls Offer.
func (f *Feed) Offer(nowMicros uint32, build func() Snapshot) bool {
	if f.started && nowMicros-f.last < f.interval {
		return false
	}
	f.started = true
	f.last = nowMicros

	snap := build()
	select {
	case f.ch <- snap:
		return true
	default:
	}

	// Replace the stale snapshot the consumer has not picked up.
	select {
	case <-f.ch:
	default:
	}
	select {
	case f.ch <- snap:
	default:
	}
	return true
}

// Snapshots returns the channel the consumer reads from.
func (f *Feed) Snapshots() <-chan Snapshot {
	return f.ch
}

// Log renders snapshots as log lines until ctx is done. It stands in for the
// on-device display on hosts.
func Log(ctx context.Context, f *Feed, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var latest Snapshot
	var have bool
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-f.Snapshots():
			latest, have = s, true
		case <-ticker.C:
			if !have {
				continue
			}
			if latest.Countdown > 0 {
				log.Printf("display: calibrating, %ds", latest.Countdown)
				continue
			}
			l := latest.Latest
			log.Printf("display: conn=%v seq=%d acc=(%d,%d,%d) gyro=(%d,%d,%d) bio=%d frames=%d dropped=%d fail=%d rderr=%d sat=%d late=%d",
				latest.Connected, latest.Seq,
				l.AccelX, l.AccelY, l.AccelZ, l.GyroX, l.GyroY, l.GyroZ, l.Bio,
				latest.Stats.Frames, latest.Stats.Dropped, latest.Stats.SendFailures,
				latest.Stats.ReadErrors, latest.Stats.Saturated, latest.Stats.LateTicks)
		}
	}
}
