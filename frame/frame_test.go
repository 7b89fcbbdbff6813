package frame

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/visionstream/errors"
)

func TestMarshalUnmarshal_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		frames [][]byte
	}{
		{"no frames", nil},
		{"single", [][]byte{[]byte("a.jpg")}},
		{"two part", [][]byte{[]byte("a.jpg"), {0x01, 0x02, 0x03}}},
		{"three part", [][]byte{[]byte("b.png"), bytes.Repeat([]byte{0xAB}, 1024), make([]byte, 84)}},
		{"empty frame in the middle", [][]byte{[]byte("name"), {}, []byte("tail")}},
		{"all empty", [][]byte{{}, {}, {}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			payload := Marshal(test.frames...)
			got, err := Unmarshal(payload)
			require.NoError(t, err)
			require.Len(t, got, len(test.frames))
			for i := range test.frames {
				assert.Equal(t, []byte(test.frames[i]), got[i], "frame %d", i)
			}
		})
	}
}

func TestMarshal_Empty(t *testing.T) {
	assert.Empty(t, Marshal())

	frames, err := Unmarshal(nil)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestUnmarshal_TruncatedHeader(t *testing.T) {
	payload := Marshal([]byte("a.jpg"), []byte("image"))

	// Chop into the second frame's length prefix.
	_, err := Unmarshal(payload[:len(payload)-len("image")-2])
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFrameTruncated)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnmarshal_TruncatedBody(t *testing.T) {
	payload := Marshal([]byte("a.jpg"), []byte("image-bytes"))

	_, err := Unmarshal(payload[:len(payload)-3])
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFrameTruncated)
}

func TestUnmarshal_OversizedFrame(t *testing.T) {
	var payload [8]byte
	binary.LittleEndian.PutUint32(payload[:], MaxFrameSize+1)

	_, err := Unmarshal(payload[:])
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrFrameTooLarge)
}

func TestUnmarshal_FramesAliasPayload(t *testing.T) {
	payload := Marshal([]byte("abc"))
	frames, err := Unmarshal(payload)
	require.NoError(t, err)
	require.Len(t, frames, 1)

	// Mutating the payload is visible through the frame; callers copy when
	// they retain frames.
	payload[4] = 'z'
	assert.Equal(t, []byte("zbc"), frames[0])
}
