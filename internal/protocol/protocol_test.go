package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioFrame_PayloadIsBinarySafe(t *testing.T) {
	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	in := AudioFrame{
		AudioHeader: AudioHeader{
			Type:             TypeAudioChunk,
			RoomID:           "room",
			DeviceID:         "host",
			Timestamp:        1234,
			SampleRate:       48000,
			Channels:         2,
			Encoding:         "pcm_s16le",
			BufferSizeHintMs: 40,
		},
		Payload: payload,
	}

	data, err := EncodeAudioFrame(in)
	require.NoError(t, err)

	headerLen := binary.BigEndian.Uint32(data)
	assert.Equal(t, payload, data[4+headerLen:], "payload follows the header untouched")

	out, err := DecodeAudioFrame(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	data[len(data)-1] = 0
	assert.Equal(t, byte(255), out.Payload[255], "decoded payload does not alias the input")
}

func TestAudioFrame_EmptyPayload(t *testing.T) {
	data, err := EncodeAudioFrame(AudioFrame{AudioHeader: AudioHeader{Type: TypeAudioData}})
	require.NoError(t, err)

	out, err := DecodeAudioFrame(data)
	require.NoError(t, err)
	assert.Empty(t, out.Payload)
}

func TestDecodeAudioFrame_Malformed(t *testing.T) {
	header := []byte(`{"type":"audio-data"}`)
	valid := make([]byte, 4+len(header))
	binary.BigEndian.PutUint32(valid, uint32(len(header)))
	copy(valid[4:], header)

	lengthOverrun := append([]byte(nil), valid...)
	binary.BigEndian.PutUint32(lengthOverrun, uint32(len(header)+10))

	wrongType := make([]byte, 4)
	wrongHeader := []byte(`{"type":"join"}`)
	binary.BigEndian.PutUint32(wrongType, uint32(len(wrongHeader)))
	wrongType = append(wrongType, wrongHeader...)

	badJSON := make([]byte, 4)
	binary.BigEndian.PutUint32(badJSON, 3)
	badJSON = append(badJSON, '{', '{', '{')

	cases := map[string][]byte{
		"short":          {0, 0},
		"zero header":    {0, 0, 0, 0},
		"length overrun": lengthOverrun,
		"wrong type":     wrongType,
		"bad json":       badJSON,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeAudioFrame(data)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}

	_, err := DecodeAudioFrame(valid)
	require.NoError(t, err)
}

func TestEncodeAudioFrame_RejectsControlType(t *testing.T) {
	_, err := EncodeAudioFrame(AudioFrame{AudioHeader: AudioHeader{Type: TypePlayback}})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"volume","roomId":"r","volume":0}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Volume, "an explicit zero volume survives decoding")
	assert.Equal(t, 0, *msg.Volume)

	_, err = Decode([]byte(`{"roomId":"r"}`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte(`not json`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = Encode(&Message{})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		err      error
		code     string
		sentinel error
	}{
		{fmt.Errorf("op: %w", domain.ErrRoomNotFound), CodeRoomNotFound, domain.ErrRoomNotFound},
		{domain.ErrUnauthorized, CodeUnauthorized, domain.ErrUnauthorized},
		{domain.ErrDeviceNotFound, CodeDeviceNotFound, domain.ErrDeviceNotFound},
		{fmt.Errorf("%w: bad", domain.ErrInvalidRequest), CodeInvalidRequest, domain.ErrInvalidRequest},
		{fmt.Errorf("%w: eof", ErrMalformed), CodeInvalidRequest, domain.ErrInvalidRequest},
		{errors.New("boom"), CodeInternal, nil},
	}
	for _, tc := range cases {
		msg := ErrorMessage("req", tc.err)
		assert.Equal(t, TypeError, msg.Type)
		assert.Equal(t, "req", msg.RequestID)
		assert.Equal(t, tc.code, msg.Error.Code, tc.err.Error())

		remote := msg.Error.Err()
		var re *RemoteError
		require.ErrorAs(t, remote, &re)
		if tc.sentinel != nil {
			assert.ErrorIs(t, remote, tc.sentinel)
		}
	}

	assert.Nil(t, (*ErrorInfo)(nil).Err())
}
