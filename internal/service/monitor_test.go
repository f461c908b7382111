package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_SweepHeartbeats(t *testing.T) {
	f := newFixture(t, "ABC123")
	host := f.connect("host")
	guest := f.connect("guest")
	room := f.createRoom(t, "host")
	_, err := f.svc.JoinRoom(context.Background(), "ABC123", "guest", "", "")
	require.NoError(t, err)

	m := NewMonitor(f.svc, f.repo, testLogger(), MonitorSettings{
		Interval:          5 * time.Second,
		DisconnectedAfter: 2,
		GraceMultiple:     3,
	})
	ctx := context.Background()

	// Only the host keeps sending heartbeats.
	f.clock.Advance(11 * time.Second)
	require.NoError(t, f.svc.Heartbeat(ctx, room.ID, "host", 0))
	host.reset()
	m.SweepHeartbeats(ctx, f.clock.Now())

	update := host.last()
	require.NotNil(t, update)
	assert.Equal(t, protocol.TypeDeviceUpdate, update.Type)
	assert.Equal(t, string(domain.QualityDisconnected), update.ConnectionQuality)

	active, err := f.svc.ActiveDevices(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// A second sweep does not repeat the notification.
	host.reset()
	m.SweepHeartbeats(ctx, f.clock.Now())
	assert.Empty(t, host.messages())

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.svc.Heartbeat(ctx, room.ID, "host", 0))
	host.reset()
	m.SweepHeartbeats(ctx, f.clock.Now())

	assert.True(t, guest.isClosed())
	left := host.last()
	require.NotNil(t, left)
	assert.Equal(t, protocol.ActionLeave, left.Action)
	assert.Equal(t, "guest", left.DeviceID)

	snap, err := f.svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RoomEmpty, snap.State)
}

func TestMonitor_HeartbeatRestoresQuality(t *testing.T) {
	f := newFixture(t, "ABC123")
	host := f.connect("host")
	f.connect("guest")
	room := f.createRoom(t, "host")
	_, err := f.svc.JoinRoom(context.Background(), "ABC123", "guest", "", "")
	require.NoError(t, err)

	m := NewMonitor(f.svc, f.repo, testLogger(), MonitorSettings{Interval: time.Second})
	ctx := context.Background()

	f.clock.Advance(2 * time.Second)
	m.SweepHeartbeats(ctx, f.clock.Now())
	host.reset()

	require.NoError(t, f.svc.Heartbeat(ctx, room.ID, "guest", 0))
	update := host.last()
	require.NotNil(t, update)
	assert.Equal(t, string(domain.QualityGood), update.ConnectionQuality)
}

func TestMonitor_SweepEmptyRooms(t *testing.T) {
	f := newFixture(t, "ROOM01", "ROOM02")
	host := f.connect("host")
	f.connect("guest")
	idle := f.createRoom(t, "host")
	busy := f.createRoom(t, "host")
	_, err := f.svc.JoinRoom(context.Background(), "ROOM02", "guest", "", "")
	require.NoError(t, err)

	m := NewMonitor(f.svc, f.repo, testLogger(), MonitorSettings{
		Interval:     time.Second,
		EmptyRoomTTL: time.Minute,
	})
	ctx := context.Background()

	m.SweepEmptyRooms(ctx, f.clock.Now().Add(30*time.Second))
	_, err = f.svc.GetRoom(ctx, idle.ID)
	require.NoError(t, err)

	host.reset()
	m.SweepEmptyRooms(ctx, f.clock.Now().Add(2*time.Minute))

	_, err = f.svc.GetRoom(ctx, idle.ID)
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = f.svc.GetRoom(ctx, busy.ID)
	require.NoError(t, err)

	msg := host.last()
	require.NotNil(t, msg)
	assert.Equal(t, protocol.TypeRoomLeft, msg.Type)
	assert.Equal(t, ReasonIdle, msg.Reason)
}

func TestMonitor_EmptyRoomTTLDisabled(t *testing.T) {
	f := newFixture(t, "ABC123")
	f.connect("host")
	room := f.createRoom(t, "host")

	m := NewMonitor(f.svc, f.repo, testLogger(), MonitorSettings{Interval: time.Second})
	m.SweepEmptyRooms(context.Background(), f.clock.Now().Add(24*time.Hour))

	_, err := f.svc.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
}

func TestMonitor_HeartbeatInOneRoomKeepsDeviceInAll(t *testing.T) {
	f := newFixture(t, "AAAAAA", "BBBBBB")
	f.connect("a")
	f.connect("b")
	dev := f.connect("dev")
	ctx := context.Background()

	first := f.createRoom(t, "a")
	second := f.createRoom(t, "b")
	_, err := f.svc.JoinRoom(ctx, "AAAAAA", "dev", "", "")
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(ctx, "BBBBBB", "dev", "", "")
	require.NoError(t, err)

	m := NewMonitor(f.svc, f.repo, testLogger(), MonitorSettings{
		Interval:          5 * time.Second,
		DisconnectedAfter: 2,
		GraceMultiple:     3,
	})

	for i := 0; i < 6; i++ {
		f.clock.Advance(5 * time.Second)
		require.NoError(t, f.svc.Heartbeat(ctx, first.ID, "a", 0))
		require.NoError(t, f.svc.Heartbeat(ctx, second.ID, "b", 0))
		require.NoError(t, f.svc.Heartbeat(ctx, second.ID, "dev", 0), "heartbeat %d", i)
		m.SweepHeartbeats(ctx, f.clock.Now())
	}

	assert.False(t, dev.isClosed())
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		active, err := f.svc.ActiveDevices(ctx, id)
		require.NoError(t, err)
		var ids []string
		for _, d := range active {
			ids = append(ids, d.ID)
		}
		assert.Contains(t, ids, "dev", "room %s", id)
	}

	// Silence everywhere still drops the device.
	f.clock.Advance(16 * time.Second)
	m.SweepHeartbeats(ctx, f.clock.Now())
	assert.True(t, dev.isClosed())
}
