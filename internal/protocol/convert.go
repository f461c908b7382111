package protocol

import "github.com/immxrtalbeast/audiosync/internal/domain"

func RoomInfoFromSnapshot(snap domain.RoomSnapshot) *RoomInfo {
	devices := make([]DeviceInfo, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		devices = append(devices, DeviceInfoFrom(d))
	}
	return &RoomInfo{
		ID:           snap.ID.String(),
		Code:         snap.Code,
		HostID:       snap.HostID,
		State:        string(snap.State),
		IsPlaying:    snap.IsPlaying,
		Timestamp:    snap.PlaybackTimestamp,
		MasterVolume: snap.MasterVolume,
		SourceType:   string(snap.Source.Type),
		SourceID:     snap.Source.ID,
		Devices:      devices,
	}
}

func DeviceInfoFrom(d domain.Device) DeviceInfo {
	return DeviceInfo{
		ID:                d.ID,
		Name:              d.Name,
		ConnectionQuality: string(d.Quality),
		LatencyMs:         d.LatencyMs,
		Volume:            d.Volume,
	}
}
