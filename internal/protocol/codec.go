package protocol

import (
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
)

var ErrMalformed = errors.New("malformed message")

func Encode(msg *Message) ([]byte, error) {
	if msg == nil || msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return json.Marshal(msg)
}

func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &msg, nil
}
