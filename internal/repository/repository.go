package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/audiosync/internal/domain"
)

// RoomRepository is the registry of live rooms, indexed by id and by join code.
type RoomRepository interface {
	Create(ctx context.Context, room *domain.Room) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	GetByCode(ctx context.Context, code string) (*domain.Room, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*domain.Room, error)
	ListByHost(ctx context.Context, hostID string) ([]*domain.Room, error)
}
