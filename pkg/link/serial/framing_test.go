package serial

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/emgstream/pkg/frame"
	"github.com/itohio/emgstream/pkg/link"
)

type wire struct {
	bytes.Buffer
	err error
}

func (w *wire) Write(b []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	return w.Buffer.Write(b)
}

func TestStream_Lifecycle(t *testing.T) {
	var state link.State
	w := &wire{}
	s := NewStream(w, state.Handler())

	payload := bytes.Repeat([]byte{0x22}, frame.Size)
	assert.ErrorIs(t, s.Notify(payload), link.ErrNotConnected)
	assert.False(t, state.Connected())

	require.NoError(t, s.Advertise())
	assert.True(t, state.Connected())
	require.NoError(t, s.Notify(payload))
	require.Equal(t, PacketSize, w.Len())
	assert.Equal(t, Preamble[:], w.Bytes()[:2])
	assert.Equal(t, payload, w.Bytes()[2:])

	w.err = errors.New("uart overrun")
	assert.Error(t, s.Notify(payload))
	assert.False(t, state.Connected())
	assert.ErrorIs(t, s.Notify(payload), link.ErrNotConnected)

	w.err = nil
	require.NoError(t, s.Advertise())
	assert.True(t, state.Connected())
	require.NoError(t, s.Notify(payload))
	assert.Equal(t, 2*PacketSize, w.Len())
}

func TestStream_AdvertiseOnce(t *testing.T) {
	calls := 0
	s := NewStream(&wire{}, func(bool) { calls++ })

	require.NoError(t, s.Advertise())
	require.NoError(t, s.Advertise())
	assert.Equal(t, 1, calls)
}

func TestStream_RejectsWrongFrameSize(t *testing.T) {
	var state link.State
	w := &wire{}
	s := NewStream(w, state.Handler())
	require.NoError(t, s.Advertise())

	assert.ErrorIs(t, s.Notify(make([]byte, frame.Size+1)), ErrFrameSize)
	assert.Zero(t, w.Len())
	assert.True(t, state.Connected())
}
