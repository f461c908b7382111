package playback

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/immxrtalbeast/audiosync/internal/domain"
)

// Supported chunk encodings.
const (
	EncodingPCM16    = "pcm_s16le"
	EncodingPCM      = "PCM"
	EncodingFloat32  = "pcm_f32le"
	bytesPerSample16 = 2
	bytesPerSample32 = 4
)

// Metadata describes the payload of one chunk.
type Metadata struct {
	SampleRate       int
	Channels         int
	Encoding         string
	BufferSizeHintMs int
}

// Chunk is one timestamped slice of the host's stream. Timestamp is the
// position on the shared virtual timeline in milliseconds.
type Chunk struct {
	Timestamp int64
	Payload   []byte
	Meta      Metadata
}

// Decoder turns a chunk payload into interleaved float samples in [-1, 1].
type Decoder interface {
	Decode(payload []byte, meta Metadata) ([]float32, error)
}

// PCMDecoder decodes raw little-endian PCM, 16-bit integer or 32-bit float.
type PCMDecoder struct{}

func (PCMDecoder) Decode(payload []byte, meta Metadata) ([]float32, error) {
	if meta.Channels <= 0 || meta.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: bad format %d Hz / %d channels", domain.ErrDecodeFailure, meta.SampleRate, meta.Channels)
	}

	switch strings.ToLower(meta.Encoding) {
	case "", EncodingPCM16, strings.ToLower(EncodingPCM):
		return decodePCM16(payload, meta.Channels)
	case EncodingFloat32:
		return decodeFloat32(payload, meta.Channels)
	}
	return nil, fmt.Errorf("%w: unsupported encoding %q", domain.ErrDecodeFailure, meta.Encoding)
}

func decodePCM16(payload []byte, channels int) ([]float32, error) {
	if len(payload)%(bytesPerSample16*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of pcm16 frames", domain.ErrDecodeFailure, len(payload))
	}
	samples := make([]float32, len(payload)/bytesPerSample16)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(payload[i*bytesPerSample16:]))
		samples[i] = float32(v) / 32768
	}
	return samples, nil
}

func decodeFloat32(payload []byte, channels int) ([]float32, error) {
	if len(payload)%(bytesPerSample32*channels) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of float32 frames", domain.ErrDecodeFailure, len(payload))
	}
	samples := make([]float32, len(payload)/bytesPerSample32)
	for i := range samples {
		v := math.Float32frombits(binary.LittleEndian.Uint32(payload[i*bytesPerSample32:]))
		if math.IsNaN(float64(v)) {
			v = 0
		}
		samples[i] = clampSample(v)
	}
	return samples, nil
}

// Duration reports how long the decoded samples play for.
func Duration(samples []float32, meta Metadata) time.Duration {
	if meta.Channels <= 0 || meta.SampleRate <= 0 {
		return 0
	}
	frames := len(samples) / meta.Channels
	return time.Duration(frames) * time.Second / time.Duration(meta.SampleRate)
}

func clampSample(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
