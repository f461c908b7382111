package playback

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMDecoder_PCM16(t *testing.T) {
	payload := make([]byte, 6)
	binary.LittleEndian.PutUint16(payload[0:], uint16(int16(16384)))
	binary.LittleEndian.PutUint16(payload[2:], uint16(0x8000)) // -32768
	binary.LittleEndian.PutUint16(payload[4:], 0)

	for _, enc := range []string{EncodingPCM16, EncodingPCM, ""} {
		samples, err := PCMDecoder{}.Decode(payload, Metadata{SampleRate: 44100, Channels: 1, Encoding: enc})
		require.NoError(t, err, enc)
		assert.Equal(t, []float32{0.5, -1, 0}, samples, enc)
	}
}

func TestPCMDecoder_Float32(t *testing.T) {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(payload[4:], math.Float32bits(3))

	samples, err := PCMDecoder{}.Decode(payload, Metadata{SampleRate: 48000, Channels: 2, Encoding: EncodingFloat32})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 1}, samples)
}

func TestPCMDecoder_Failures(t *testing.T) {
	cases := []struct {
		name    string
		payload []byte
		meta    Metadata
	}{
		{name: "partial frame", payload: []byte{1, 2, 3}, meta: Metadata{SampleRate: 48000, Channels: 2}},
		{name: "no channels", payload: []byte{1, 2}, meta: Metadata{SampleRate: 48000}},
		{name: "unknown encoding", payload: []byte{1, 2}, meta: Metadata{SampleRate: 48000, Channels: 1, Encoding: "opus"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := PCMDecoder{}.Decode(tc.payload, tc.meta)
			require.ErrorIs(t, err, domain.ErrDecodeFailure)
		})
	}
}

func TestDuration(t *testing.T) {
	samples := make([]float32, 4800)
	assert.Equal(t, 50*time.Millisecond, Duration(samples, Metadata{SampleRate: 48000, Channels: 2}))
	assert.Zero(t, Duration(samples, Metadata{}))
}
