package converter

import (
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/audiosync/internal/domain"
)

type RoomResponse struct {
	ID                uuid.UUID        `json:"id"`
	Code              string           `json:"code"`
	HostID            string           `json:"host_id"`
	State             domain.RoomState `json:"state"`
	IsPlaying         bool             `json:"is_playing"`
	PlaybackTimestamp int64            `json:"playback_timestamp"`
	MasterVolume      int              `json:"master_volume"`
	SourceType        string           `json:"source_type"`
	SourceID          string           `json:"source_id,omitempty"`
	Devices           []DeviceResponse `json:"devices"`
	CreatedAt         time.Time        `json:"created_at"`
}

type DeviceResponse struct {
	ID                string                   `json:"id"`
	Name              string                   `json:"name"`
	IsHost            bool                     `json:"is_host"`
	ConnectionQuality domain.ConnectionQuality `json:"connection_quality"`
	LatencyMs         int                      `json:"latency_ms"`
	Volume            int                      `json:"volume"`
	JoinedAt          time.Time                `json:"joined_at"`
	LastHeartbeat     time.Time                `json:"last_heartbeat"`
}

func RoomToApi(r domain.RoomSnapshot) *RoomResponse {
	return &RoomResponse{
		ID:                r.ID,
		Code:              r.Code,
		HostID:            r.HostID,
		State:             r.State,
		IsPlaying:         r.IsPlaying,
		PlaybackTimestamp: r.PlaybackTimestamp,
		MasterVolume:      r.MasterVolume,
		SourceType:        string(r.Source.Type),
		SourceID:          r.Source.ID,
		Devices:           DevicesToApi(r.Devices, r.HostID),
		CreatedAt:         r.CreatedAt,
	}
}

func RoomsToApi(rooms []domain.RoomSnapshot) []*RoomResponse {
	result := make([]*RoomResponse, 0, len(rooms))
	for _, r := range rooms {
		result = append(result, RoomToApi(r))
	}
	return result
}

func DevicesToApi(devices []domain.Device, hostID string) []DeviceResponse {
	result := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		result = append(result, DeviceResponse{
			ID:                d.ID,
			Name:              d.Name,
			IsHost:            d.ID == hostID,
			ConnectionQuality: d.Quality,
			LatencyMs:         d.LatencyMs,
			Volume:            d.Volume,
			JoinedAt:          d.JoinedAt,
			LastHeartbeat:     d.LastHeartbeat,
		})
	}
	return result
}
