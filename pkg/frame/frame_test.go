package frame

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/itohio/emgstream/pkg/batch"
	"github.com/itohio/emgstream/pkg/sample"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillBatch(t *testing.T, fn func(i int) sample.Sample) *batch.Batch {
	t.Helper()
	var b batch.Batch
	for i := range batch.Capacity {
		b.Push(fn(i))
	}
	require.True(t, b.Full())
	return &b
}

func TestSize(t *testing.T) {
	assert.Equal(t, 140, PayloadSize)
	assert.Equal(t, 142, Size)
}

func TestEncode_Layout(t *testing.T) {
	b := fillBatch(t, func(i int) sample.Sample {
		return sample.Sample{AccelX: 4096, AccelY: 0, AccelZ: -4096, Bio: 2048}
	})

	out := Encode(0x1234, b)
	require.Len(t, out, 142)

	assert.Equal(t, byte(0x34), out[0], "sequence is little-endian")
	assert.Equal(t, byte(0x12), out[1])

	for i := range batch.Capacity {
		off := SeqSize + i*sample.Size
		assert.Equal(t, int16(4096), int16(binary.LittleEndian.Uint16(out[off:])))
		assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(out[off+2:])))
		assert.Equal(t, int16(-4096), int16(binary.LittleEndian.Uint16(out[off+4:])))
		for g := range 3 {
			assert.Equal(t, int16(0), int16(binary.LittleEndian.Uint16(out[off+6+2*g:])))
		}
		assert.Equal(t, int16(2048), int16(binary.LittleEndian.Uint16(out[off+12:])))
	}

	// -4096 = 0xF000
	assert.Equal(t, []byte{0x00, 0xF0}, out[SeqSize+4:SeqSize+6])
}

func TestEncode_Deterministic(t *testing.T) {
	b := fillBatch(t, func(i int) sample.Sample {
		return sample.Sample{AccelX: int16(i), GyroZ: int16(-i * 7), Bio: int16(4095 - i)}
	})

	first := Encode(42, b)
	second := Encode(42, b)
	assert.True(t, bytes.Equal(first[:], second[:]))

	dst := make([]byte, Size)
	EncodeTo(dst, 42, b)
	assert.Equal(t, first[:], dst)
}

func TestDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		seq  uint16
		fn   func(i int) sample.Sample
	}{
		{
			name: "zeros",
			seq:  0,
			fn:   func(i int) sample.Sample { return sample.Sample{} },
		},
		{
			name: "extremes",
			seq:  65535,
			fn: func(i int) sample.Sample {
				return sample.Sample{
					AccelX: 32767, AccelY: -32768, AccelZ: -1,
					GyroX: 1, GyroY: -1, GyroZ: 32767,
					Bio: 4095,
				}
			},
		},
		{
			name: "distinct per slot",
			seq:  777,
			fn: func(i int) sample.Sample {
				base := int16(i * 10)
				return sample.FromValues([sample.Channels]int16{base, base + 1, base + 2, base + 3, base + 4, base + 5, base + 6})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := fillBatch(t, tt.fn)
			out := Encode(tt.seq, b)

			seq, samples, err := Decode(out[:])
			require.NoError(t, err)
			assert.Equal(t, tt.seq, seq)
			for i := range batch.Capacity {
				assert.Equal(t, tt.fn(i), samples[i], "slot %d", i)
			}
		})
	}
}

func TestDecode_Short(t *testing.T) {
	_, _, err := Decode(make([]byte, Size-1))
	assert.ErrorIs(t, err, ErrShortFrame)

	_, _, err = Decode(nil)
	assert.ErrorIs(t, err, ErrShortFrame)
}
