package protocol

import (
	"encoding/binary"
	"fmt"

	json "github.com/goccy/go-json"
)

const (
	frameLengthSize = 4
	maxHeaderSize   = 4096
)

// AudioHeader is the metadata half of an audio frame.
type AudioHeader struct {
	Type             string `json:"type"`
	RoomID           string `json:"roomId"`
	DeviceID         string `json:"deviceId"`
	Timestamp        int64  `json:"timestamp"`
	SampleRate       int    `json:"sampleRate"`
	Channels         int    `json:"channels"`
	Encoding         string `json:"encoding"`
	BufferSizeHintMs int    `json:"bufferSizeHintMs"`
}

// AudioFrame travels as a binary websocket message laid out as
//
//	uint32 big-endian header length | JSON header | raw payload
//
// so payload bytes are never text-encoded.
type AudioFrame struct {
	AudioHeader
	Payload []byte
}

func EncodeAudioFrame(f AudioFrame) ([]byte, error) {
	if f.Type != TypeAudioData && f.Type != TypeAudioChunk {
		return nil, fmt.Errorf("%w: audio frame type %q", ErrMalformed, f.Type)
	}
	header, err := json.Marshal(f.AudioHeader)
	if err != nil {
		return nil, err
	}
	if len(header) > maxHeaderSize {
		return nil, fmt.Errorf("%w: audio header too large (%d bytes)", ErrMalformed, len(header))
	}

	buf := make([]byte, frameLengthSize+len(header)+len(f.Payload))
	binary.BigEndian.PutUint32(buf, uint32(len(header)))
	copy(buf[frameLengthSize:], header)
	copy(buf[frameLengthSize+len(header):], f.Payload)
	return buf, nil
}

func DecodeAudioFrame(data []byte) (AudioFrame, error) {
	if len(data) < frameLengthSize {
		return AudioFrame{}, fmt.Errorf("%w: short audio frame", ErrMalformed)
	}
	n := binary.BigEndian.Uint32(data)
	if n == 0 || n > maxHeaderSize || int(n) > len(data)-frameLengthSize {
		return AudioFrame{}, fmt.Errorf("%w: bad audio header length %d", ErrMalformed, n)
	}

	var f AudioFrame
	if err := json.Unmarshal(data[frameLengthSize:frameLengthSize+int(n)], &f.AudioHeader); err != nil {
		return AudioFrame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type != TypeAudioData && f.Type != TypeAudioChunk {
		return AudioFrame{}, fmt.Errorf("%w: audio frame type %q", ErrMalformed, f.Type)
	}

	payload := data[frameLengthSize+int(n):]
	f.Payload = make([]byte, len(payload))
	copy(f.Payload, payload)
	return f, nil
}
