package service

import (
	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/internal/protocol"
)

// Reasons carried by room-left.
const (
	ReasonLeft     = "left"
	ReasonHostLeft = "host-left"
	ReasonDeleted  = "deleted"
	ReasonIdle     = "idle"
)

func roomInfoMessage(snap domain.RoomSnapshot, requestID string) *protocol.Message {
	return &protocol.Message{
		Type:      protocol.TypeRoomInfo,
		RequestID: requestID,
		RoomID:    snap.ID.String(),
		RoomCode:  snap.Code,
		Room:      protocol.RoomInfoFromSnapshot(snap),
	}
}

func deviceUpdateMessage(room *domain.Room, d *domain.Device, action string) *protocol.Message {
	msg := &protocol.Message{
		Type:     protocol.TypeDeviceUpdate,
		RoomID:   room.ID.String(),
		DeviceID: d.ID,
		Action:   action,
	}
	if action == protocol.ActionLeave {
		return msg
	}
	msg.DeviceName = d.Name
	msg.ConnectionQuality = string(d.Quality)
	msg.LatencyMs = protocol.Int(d.LatencyMs)
	msg.Volume = protocol.Int(d.Volume)
	return msg
}

func playbackChangedMessage(room *domain.Room) *protocol.Message {
	return &protocol.Message{
		Type:      protocol.TypePlaybackChanged,
		RoomID:    room.ID.String(),
		DeviceID:  room.HostID,
		IsPlaying: protocol.Bool(room.IsPlaying),
		Timestamp: room.PlaybackTimestamp,
	}
}

func volumeChangedMessage(room *domain.Room, target string, volume int) *protocol.Message {
	return &protocol.Message{
		Type:           protocol.TypeVolumeChanged,
		RoomID:         room.ID.String(),
		TargetDeviceID: target,
		Volume:         protocol.Int(volume),
	}
}

func audioSourceChangedMessage(room *domain.Room) *protocol.Message {
	return &protocol.Message{
		Type:       protocol.TypeAudioSourceChanged,
		RoomID:     room.ID.String(),
		SourceType: string(room.Source.Type),
		SourceID:   room.Source.ID,
	}
}

func roomLeftMessage(room *domain.Room, reason string) *protocol.Message {
	return &protocol.Message{
		Type:     protocol.TypeRoomLeft,
		RoomID:   room.ID.String(),
		RoomCode: room.Code,
		Reason:   reason,
	}
}
