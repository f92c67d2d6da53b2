// Package batch accumulates a fixed number of samples for one frame.
package batch

import "github.com/itohio/emgstream/pkg/sample"

// Capacity is the number of samples carried by one frame.
const Capacity = 10

// Batch is a fixed-size group of consecutive samples.
// Only the sampling loop pushes; only the transport path resets.
type Batch struct {
	slots [Capacity]sample.Sample
	n     int
}

// Push stores s at the current fill index and reports whether the batch is now full.
// A push into a full batch is discarded and reports full.
func (b *Batch) Push(s sample.Sample) bool {
	if b.n >= Capacity {
		return true
	}
	b.slots[b.n] = s
	b.n++
	return b.n == Capacity
}

// Reset empties the batch. Slots are left as they are; they are always rewritten before use.
func (b *Batch) Reset() {
	b.n = 0
}

// Len returns the fill index.
func (b *Batch) Len() int {
	return b.n
}

// Full reports whether the batch holds Capacity samples.
func (b *Batch) Full() bool {
	return b.n == Capacity
}

// Samples returns the filled slots.
func (b *Batch) Samples() []sample.Sample {
	return b.slots[:b.n]
}

// At returns slot i regardless of fill state.
func (b *Batch) At(i int) sample.Sample {
	return b.slots[i]
}
