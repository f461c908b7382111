package transport

import "github.com/immxrtalbeast/audiosync/internal/protocol"

// Event is one coordinator notification. Consumers type-switch on the
// concrete value.
type Event interface {
	event()
}

type RoomInfoEvent struct {
	RequestID string
	Room      protocol.RoomInfo
}

type DeviceUpdateEvent struct {
	RoomID            string
	DeviceID          string
	DeviceName        string
	Action            string
	ConnectionQuality string
	LatencyMs         int
	Volume            int
}

type PlaybackEvent struct {
	RoomID    string
	IsPlaying bool
	Timestamp int64
}

// VolumeEvent carries the master volume when TargetDeviceID is empty.
type VolumeEvent struct {
	RoomID         string
	TargetDeviceID string
	Volume         int
}

type AudioSourceEvent struct {
	RoomID     string
	SourceType string
	SourceID   string
}

type AudioChunkEvent struct {
	Frame protocol.AudioFrame
}

type RoomLeftEvent struct {
	RoomID   string
	RoomCode string
	Reason   string
}

type PongEvent struct {
	RequestID string
	Timestamp int64
}

type ErrorEvent struct {
	RequestID string
	Err       error
}

// DisconnectedEvent is the last event of a stream.
type DisconnectedEvent struct {
	Err error
}

func (RoomInfoEvent) event()     {}
func (DeviceUpdateEvent) event() {}
func (PlaybackEvent) event()     {}
func (VolumeEvent) event()       {}
func (AudioSourceEvent) event()  {}
func (AudioChunkEvent) event()   {}
func (RoomLeftEvent) event()     {}
func (PongEvent) event()         {}
func (ErrorEvent) event()        {}
func (DisconnectedEvent) event() {}

func eventFromMessage(msg *protocol.Message) (Event, bool) {
	switch msg.Type {
	case protocol.TypeRoomInfo:
		if msg.Room == nil {
			return nil, false
		}
		return RoomInfoEvent{RequestID: msg.RequestID, Room: *msg.Room}, true
	case protocol.TypeDeviceUpdate:
		return DeviceUpdateEvent{
			RoomID:            msg.RoomID,
			DeviceID:          msg.DeviceID,
			DeviceName:        msg.DeviceName,
			Action:            msg.Action,
			ConnectionQuality: msg.ConnectionQuality,
			LatencyMs:         intValue(msg.LatencyMs),
			Volume:            intValue(msg.Volume),
		}, true
	case protocol.TypePlaybackChanged:
		return PlaybackEvent{
			RoomID:    msg.RoomID,
			IsPlaying: msg.IsPlaying != nil && *msg.IsPlaying,
			Timestamp: msg.Timestamp,
		}, true
	case protocol.TypeVolumeChanged:
		return VolumeEvent{
			RoomID:         msg.RoomID,
			TargetDeviceID: msg.TargetDeviceID,
			Volume:         intValue(msg.Volume),
		}, true
	case protocol.TypeAudioSourceChanged:
		return AudioSourceEvent{RoomID: msg.RoomID, SourceType: msg.SourceType, SourceID: msg.SourceID}, true
	case protocol.TypeRoomLeft:
		return RoomLeftEvent{RoomID: msg.RoomID, RoomCode: msg.RoomCode, Reason: msg.Reason}, true
	case protocol.TypePong:
		return PongEvent{RequestID: msg.RequestID, Timestamp: msg.Timestamp}, true
	case protocol.TypeError:
		return ErrorEvent{RequestID: msg.RequestID, Err: msg.Error.Err()}, true
	}
	return nil, false
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
