package protocol

// Message types sent by devices to the coordinator.
const (
	TypeCreate      = "create"
	TypeJoin        = "join"
	TypeLeave       = "leave"
	TypePlayback    = "playback"
	TypeVolume      = "volume"
	TypeAudioSource = "audio-source"
	TypeAudioData   = "audio-data" // binary frame
	TypeHeartbeat   = "heartbeat"
	TypeLatency     = "latency"
	TypePing        = "ping"
)

// Message types sent by the coordinator to devices.
const (
	TypeRoomInfo           = "room-info"
	TypeDeviceUpdate       = "device-update"
	TypePlaybackChanged    = "playback-changed"
	TypeVolumeChanged      = "volume-changed"
	TypeAudioSourceChanged = "audio-source-changed"
	TypeAudioChunk         = "audio-chunk" // binary frame
	TypeRoomLeft           = "room-left"
	TypePong               = "pong"
	TypeError              = "error"
)

// Values of Message.Action on device-update events.
const (
	ActionJoin   = "join"
	ActionLeave  = "leave"
	ActionUpdate = "update"
)

// Message is the JSON envelope of every text frame. The payload is flat:
// which fields are meaningful depends on Type.
type Message struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`

	RoomID         string `json:"roomId,omitempty"`
	RoomCode       string `json:"roomCode,omitempty"`
	DeviceID       string `json:"deviceId,omitempty"`
	DeviceName     string `json:"deviceName,omitempty"`
	TargetDeviceID string `json:"targetDeviceId,omitempty"`

	IsPlaying  *bool  `json:"isPlaying,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	Volume     *int   `json:"volume,omitempty"`
	SourceType string `json:"sourceType,omitempty"`
	SourceID   string `json:"sourceId,omitempty"`

	Action            string `json:"action,omitempty"`
	ConnectionQuality string `json:"connectionQuality,omitempty"`
	LatencyMs         *int   `json:"latencyMs,omitempty"`
	Reason            string `json:"reason,omitempty"`

	Room  *RoomInfo  `json:"room,omitempty"`
	Error *ErrorInfo `json:"error,omitempty"`
}

// RoomInfo is the room snapshot delivered in room-info.
type RoomInfo struct {
	ID           string       `json:"id"`
	Code         string       `json:"code"`
	HostID       string       `json:"hostId"`
	State        string       `json:"state"`
	IsPlaying    bool         `json:"isPlaying"`
	Timestamp    int64        `json:"timestamp"`
	MasterVolume int          `json:"masterVolume"`
	SourceType   string       `json:"sourceType"`
	SourceID     string       `json:"sourceId,omitempty"`
	Devices      []DeviceInfo `json:"devices"`
}

type DeviceInfo struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	ConnectionQuality string `json:"connectionQuality"`
	LatencyMs         int    `json:"latencyMs"`
	Volume            int    `json:"volume"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func Bool(v bool) *bool { return &v }

func Int(v int) *int { return &v }
