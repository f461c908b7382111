package domain

import "time"

type ConnectionQuality string

const (
	QualityGood         ConnectionQuality = "good"
	QualityMedium       ConnectionQuality = "medium"
	QualityPoor         ConnectionQuality = "poor"
	QualityDisconnected ConnectionQuality = "disconnected"
)

const DefaultDeviceVolume = 70

// Device is the coordinator-side record of one participating device inside a
// room. It is only touched while the owning room's mutex is held.
type Device struct {
	ID            string
	Name          string
	Quality       ConnectionQuality
	LatencyMs     int
	Volume        int
	JoinedAt      time.Time
	LastHeartbeat time.Time
}

func NewDevice(id, name string, now time.Time) *Device {
	return &Device{
		ID:            id,
		Name:          name,
		Quality:       QualityGood,
		Volume:        DefaultDeviceVolume,
		JoinedAt:      now,
		LastHeartbeat: now,
	}
}

func (d *Device) Touch(now time.Time) {
	d.LastHeartbeat = now
}

// QualityThresholds maps round-trip latency to a connection quality.
type QualityThresholds struct {
	Good   time.Duration
	Medium time.Duration
}

func (t QualityThresholds) Classify(latencyMs int) ConnectionQuality {
	latency := time.Duration(latencyMs) * time.Millisecond
	switch {
	case latency < t.Good:
		return QualityGood
	case latency < t.Medium:
		return QualityMedium
	default:
		return QualityPoor
	}
}

// ClampVolume bounds a volume into [0, 100].
func ClampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
