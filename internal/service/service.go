package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/internal/protocol"
)

// Subscriber is the coordinator's handle on one device connection. The room
// service only enqueues into it and never touches the underlying socket.
type Subscriber interface {
	DeviceID() string
	// Deliver enqueues a control message. It reports false when the
	// subscriber's queue is full or the subscriber is closed.
	Deliver(msg *protocol.Message) bool
	DeliverAudio(frame protocol.AudioFrame) bool
	Close()
}

type RoomInteractor interface {
	Connect(sub Subscriber)
	Disconnect(ctx context.Context, sub Subscriber)
	Handle(ctx context.Context, deviceID string, msg *protocol.Message) error
	HandleAudio(ctx context.Context, deviceID string, frame protocol.AudioFrame) error

	GetRoom(ctx context.Context, id uuid.UUID) (domain.RoomSnapshot, error)
	GetRoomByCode(ctx context.Context, code string) (domain.RoomSnapshot, error)
	ActiveDevices(ctx context.Context, id uuid.UUID) ([]domain.Device, error)
	RoomsByHost(ctx context.Context, hostID string) ([]domain.RoomSnapshot, error)
	DeleteRoom(ctx context.Context, id uuid.UUID) error
}
