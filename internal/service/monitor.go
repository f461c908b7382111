package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/internal/repository"
	"github.com/immxrtalbeast/audiosync/lib/logger/sl"
)

type MonitorSettings struct {
	Interval time.Duration
	// A device is reported disconnected after DisconnectedAfter intervals
	// without a heartbeat and dropped after GraceMultiple intervals.
	DisconnectedAfter int
	GraceMultiple     int
	// EmptyRoomTTL tears down rooms that had no clients for this long. Zero
	// disables it.
	EmptyRoomTTL time.Duration
}

// Monitor periodically checks device liveness and idle rooms.
type Monitor struct {
	svc      *RoomService
	rooms    repository.RoomRepository
	log      *slog.Logger
	settings MonitorSettings
}

func NewMonitor(svc *RoomService, rooms repository.RoomRepository, log *slog.Logger, settings MonitorSettings) *Monitor {
	if settings.Interval <= 0 {
		settings.Interval = 5 * time.Second
	}
	if settings.DisconnectedAfter <= 0 {
		settings.DisconnectedAfter = 2
	}
	if settings.GraceMultiple < settings.DisconnectedAfter {
		settings.GraceMultiple = settings.DisconnectedAfter + 1
	}
	return &Monitor{
		svc:      svc,
		rooms:    rooms,
		log:      log,
		settings: settings,
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.settings.Interval)
	defer ticker.Stop()

	m.log.Info("room monitor started", slog.Duration("interval", m.settings.Interval))
	for {
		select {
		case <-ctx.Done():
			m.log.Info("room monitor stopped")
			return nil
		case <-ticker.C:
			now := m.svc.now()
			m.SweepHeartbeats(ctx, now)
			m.SweepEmptyRooms(ctx, now)
		}
	}
}

// SweepHeartbeats marks silent devices disconnected, telling the host, and
// drops devices that stayed silent past the grace period. A heartbeat in any
// room keeps the device alive in all of its rooms.
func (m *Monitor) SweepHeartbeats(ctx context.Context, now time.Time) {
	const op = "service.monitor.heartbeats"
	log := m.log.With(slog.String("op", op))

	rooms, err := m.rooms.List(ctx)
	if err != nil {
		log.Error("failed to list rooms", sl.Err(err))
		return
	}

	disconnectedAfter := time.Duration(m.settings.DisconnectedAfter) * m.settings.Interval
	grace := time.Duration(m.settings.GraceMultiple) * m.settings.Interval

	expired := make(map[string]struct{})
	for _, room := range rooms {
		room.Mutex.Lock()
		if room.Closed() {
			room.Mutex.Unlock()
			continue
		}
		for _, d := range room.Devices {
			silence := now.Sub(m.svc.seenSince(d.ID, d.LastHeartbeat))
			switch {
			case silence >= grace:
				expired[d.ID] = struct{}{}
			case silence >= disconnectedAfter && d.Quality != domain.QualityDisconnected:
				d.Quality = domain.QualityDisconnected
				m.svc.notifyHostLocked(room, d)
				log.Info("device marked disconnected",
					slog.String("room_id", room.ID.String()),
					slog.String("device_id", d.ID),
					slog.Duration("silence", silence),
				)
			case silence < disconnectedAfter && d.Quality == domain.QualityDisconnected:
				// heard from in another room
				d.Quality = m.svc.quality.Classify(d.LatencyMs)
				m.svc.notifyHostLocked(room, d)
			}
		}
		room.Mutex.Unlock()
	}

	for id := range expired {
		log.Warn("device exceeded heartbeat grace, dropping", slog.String("device_id", id))
		m.svc.ForceDisconnect(ctx, id)
	}
}

// SweepEmptyRooms tears down rooms that have had no clients for longer than
// EmptyRoomTTL.
func (m *Monitor) SweepEmptyRooms(ctx context.Context, now time.Time) {
	if m.settings.EmptyRoomTTL <= 0 {
		return
	}

	rooms, err := m.rooms.List(ctx)
	if err != nil {
		m.log.Error("failed to list rooms", sl.Err(err))
		return
	}

	for _, room := range rooms {
		room.Mutex.Lock()
		if !room.Closed() && room.ClientCount() == 0 && now.Sub(room.EmptySince) >= m.settings.EmptyRoomTTL {
			m.svc.tearDownLocked(ctx, room, ReasonIdle, "")
		}
		room.Mutex.Unlock()
	}
}
