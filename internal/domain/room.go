package domain

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultMasterVolume = 80

type RoomState string

const (
	RoomEmpty    RoomState = "empty"
	RoomActive   RoomState = "active"
	RoomTornDown RoomState = "torn-down"
)

// Room is one synchronisation session. The host is recorded in Devices from
// creation on; the room is Empty while no other device is present.
//
// Every field except ID, Code, HostID and CreatedAt is guarded by Mutex, and
// the room service holds it for the whole of a command so that commands of a
// room are applied one at a time.
type Room struct {
	Mutex             sync.Mutex
	ID                uuid.UUID
	Code              string
	HostID            string
	Devices           map[string]*Device
	Source            AudioSource
	IsPlaying         bool
	PlaybackTimestamp int64
	MasterVolume      int
	CreatedAt         time.Time
	EmptySince        time.Time
	closed            bool
}

// NewRoom constructs a room owned by hostID with the host already a member.
func NewRoom(hostID, hostName, code string, now time.Time) *Room {
	room := &Room{
		ID:           uuid.New(),
		Code:         NormalizeCode(code),
		HostID:       hostID,
		Devices:      make(map[string]*Device),
		Source:       AudioSource{Type: SourceNone},
		MasterVolume: DefaultMasterVolume,
		CreatedAt:    now,
		EmptySince:   now,
	}
	room.Devices[hostID] = NewDevice(hostID, hostName, now)
	return room
}

func (r *Room) State() RoomState {
	if r.closed {
		return RoomTornDown
	}
	if r.ClientCount() == 0 {
		return RoomEmpty
	}
	return RoomActive
}

// ClientCount returns the number of non-host devices.
func (r *Room) ClientCount() int {
	n := len(r.Devices)
	if _, ok := r.Devices[r.HostID]; ok {
		n--
	}
	return n
}

func (r *Room) IsHost(deviceID string) bool {
	return deviceID != "" && deviceID == r.HostID
}

func (r *Room) Closed() bool {
	return r.closed
}

func (r *Room) Device(id string) (*Device, bool) {
	d, ok := r.Devices[id]
	return d, ok
}

// AddDevice inserts a device, or refreshes the name of an existing member.
// The second result reports whether the device was already present.
func (r *Room) AddDevice(id, name string, now time.Time) (*Device, bool) {
	if d, ok := r.Devices[id]; ok {
		if name != "" {
			d.Name = name
		}
		d.Touch(now)
		return d, true
	}
	d := NewDevice(id, name, now)
	r.Devices[id] = d
	return d, false
}

func (r *Room) RemoveDevice(id string, now time.Time) (*Device, bool) {
	d, ok := r.Devices[id]
	if !ok {
		return nil, false
	}
	delete(r.Devices, id)
	if r.ClientCount() == 0 {
		r.EmptySince = now
	}
	return d, true
}

// SetPlayback applies isPlaying and timestamp together. While the room keeps
// playing the timestamp may not move backwards.
func (r *Room) SetPlayback(isPlaying bool, timestamp int64) error {
	if timestamp < 0 {
		return fmt.Errorf("%w: negative playback timestamp", ErrInvalidRequest)
	}
	if r.IsPlaying && isPlaying && timestamp < r.PlaybackTimestamp {
		return fmt.Errorf("%w: playback timestamp %d is behind %d", ErrInvalidRequest, timestamp, r.PlaybackTimestamp)
	}
	r.IsPlaying = isPlaying
	r.PlaybackTimestamp = timestamp
	return nil
}

func (r *Room) SetMasterVolume(v int) int {
	r.MasterVolume = ClampVolume(v)
	return r.MasterVolume
}

func (r *Room) SetDeviceVolume(deviceID string, v int) (int, error) {
	d, ok := r.Devices[deviceID]
	if !ok {
		return 0, ErrDeviceNotFound
	}
	d.Volume = ClampVolume(v)
	return d.Volume, nil
}

func (r *Room) SetSource(src AudioSource) {
	if src.Type == "" {
		src.Type = SourceNone
	}
	r.Source = src
}

// TearDown closes the room and returns every device that was still a member.
// A torn down room accepts no further commands.
func (r *Room) TearDown() []*Device {
	devices := make([]*Device, 0, len(r.Devices))
	for _, d := range r.Devices {
		devices = append(devices, d)
	}
	r.Devices = make(map[string]*Device)
	r.closed = true
	r.IsPlaying = false
	return devices
}

// RoomSnapshot is an immutable copy of a room, safe to hand out of the lock.
type RoomSnapshot struct {
	ID                uuid.UUID
	Code              string
	HostID            string
	Devices           []Device
	Source            AudioSource
	IsPlaying         bool
	PlaybackTimestamp int64
	MasterVolume      int
	State             RoomState
	CreatedAt         time.Time
}

// Snapshot copies the room. The caller must hold Mutex.
func (r *Room) Snapshot() RoomSnapshot {
	devices := make([]Device, 0, len(r.Devices))
	for _, d := range r.Devices {
		devices = append(devices, *d)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].JoinedAt.Equal(devices[j].JoinedAt) {
			return devices[i].ID < devices[j].ID
		}
		return devices[i].JoinedAt.Before(devices[j].JoinedAt)
	})

	return RoomSnapshot{
		ID:                r.ID,
		Code:              r.Code,
		HostID:            r.HostID,
		Devices:           devices,
		Source:            r.Source,
		IsPlaying:         r.IsPlaying,
		PlaybackTimestamp: r.PlaybackTimestamp,
		MasterVolume:      r.MasterVolume,
		State:             r.State(),
		CreatedAt:         r.CreatedAt,
	}
}

// NormalizeCode folds a join code into its canonical upper-case form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GenerateCode returns a join code of the given length drawn from the
// upper-cased hex digits of a random uuid.
func GenerateCode(length int) string {
	code := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	if length <= 0 || length >= len(code) {
		return code
	}
	return code[:length]
}
