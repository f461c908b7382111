package domain

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrDeviceNotFound = errors.New("device not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidRequest = errors.New("invalid request")
	ErrNotConnected   = errors.New("not connected")
	ErrTimeout        = errors.New("request timed out")
	ErrDecodeFailure  = errors.New("audio chunk decode failed")
	ErrBacklog        = errors.New("playback fell behind, stale chunks discarded")
)
