// Package frame serializes a sequence number and a full batch into a notification payload.
//
// Layout (all little-endian):
//
//	+---------+--------------------------------------------------+
//	| Seq     | 10 x Sample                                      |
//	+---------+--------------------------------------------------+
//	| 2 bytes | ax ay az gx gy gz bio (7 x int16 = 14 bytes) x10  |
//	+---------+--------------------------------------------------+
//	Total: 142 bytes
package frame

import (
	"encoding/binary"
	"errors"

	"github.com/itohio/emgstream/pkg/batch"
	"github.com/itohio/emgstream/pkg/sample"
)

const (
	// SeqSize is the size of the sequence header.
	SeqSize = 2
	// PayloadSize is the size of the serialized batch.
	PayloadSize = batch.Capacity * sample.Size
	// Size is the total frame size.
	Size = SeqSize + PayloadSize
)

// ErrShortFrame is returned when decoding fewer than Size bytes.
var ErrShortFrame = errors.New("frame shorter than 142 bytes")

// Encode returns the frame for seq and b. Slots beyond b.Len() are written as stored.
func Encode(seq uint16, b *batch.Batch) [Size]byte {
	var out [Size]byte
	EncodeTo(out[:], seq, b)
	return out
}

// EncodeTo writes the frame into dst, which must hold at least Size bytes.
func EncodeTo(dst []byte, seq uint16, b *batch.Batch) {
	_ = dst[Size-1]

	binary.LittleEndian.PutUint16(dst[0:SeqSize], seq)
	off := SeqSize
	for i := range batch.Capacity {
		for _, v := range b.At(i).Values() {
			binary.LittleEndian.PutUint16(dst[off:off+2], uint16(v))
			off += 2
		}
	}
}

// Decode parses a frame. Trailing bytes beyond Size are ignored.
func Decode(data []byte) (seq uint16, samples [batch.Capacity]sample.Sample, err error) {
	if len(data) < Size {
		return 0, samples, ErrShortFrame
	}

	seq = binary.LittleEndian.Uint16(data[0:SeqSize])
	off := SeqSize
	for i := range batch.Capacity {
		var v [sample.Channels]int16
		for c := range sample.Channels {
			v[c] = int16(binary.LittleEndian.Uint16(data[off : off+2]))
			off += 2
		}
		samples[i] = sample.FromValues(v)
	}

	return seq, samples, nil
}
