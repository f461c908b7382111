package client_test

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	httpapi "github.com/immxrtalbeast/audiosync/internal/api/http"
	"github.com/immxrtalbeast/audiosync/internal/client"
	"github.com/immxrtalbeast/audiosync/internal/config"
	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/internal/playback"
	"github.com/immxrtalbeast/audiosync/internal/protocol"
	"github.com/immxrtalbeast/audiosync/internal/repository"
	"github.com/immxrtalbeast/audiosync/internal/service"
	"github.com/immxrtalbeast/audiosync/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	mu     sync.Mutex
	chunks []playback.Chunk
	resets int
	gain   float64
}

func (p *fakePlayer) Enqueue(c playback.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, c)
}

func (p *fakePlayer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
}

func (p *fakePlayer) SetGain(g float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = g
}

func (p *fakePlayer) received() []playback.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]playback.Chunk, len(p.chunks))
	copy(out, p.chunks)
	return out
}

func (p *fakePlayer) currentGain() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gain
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startCoordinator serves a real coordinator. Rooms get codes in order,
// ABC123 when none are given.
func startCoordinator(t *testing.T, codes ...string) (string, *service.RoomService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if len(codes) == 0 {
		codes = []string{"ABC123"}
	}
	var mu sync.Mutex
	next := 0

	log := discardLogger()
	repo := repository.NewInMemoryRoomRepository()
	svc := service.NewRoomService(repo, log, service.Settings{
		CodeGenerator: func() string {
			mu.Lock()
			defer mu.Unlock()
			code := codes[next%len(codes)]
			next++
			return code
		},
	})
	controller := httpapi.NewRoomController(svc, log, config.TransportConfig{
		WriteTimeout:   time.Second,
		OutboundBuffer: 64,
		MaxMessageSize: 1 << 20,
	})
	srv := httptest.NewServer(httpapi.SetupRouter(controller, []string{"http://localhost:3000"}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", svc
}

type device struct {
	conn    *transport.Conn
	session *client.Session
	player  *fakePlayer
}

func connectDevice(t *testing.T, ctx context.Context, url, id string) *device {
	t.Helper()

	conn, err := transport.Dial(ctx, url, id, transport.Options{
		RequestTimeout: 2 * time.Second,
		Log:            discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	player := &fakePlayer{}
	session := client.NewSession(conn, player, discardLogger(), client.Settings{
		DeviceName:           id + "-name",
		HeartbeatInterval:    20 * time.Millisecond,
		LatencyProbeInterval: 30 * time.Millisecond,
	})
	go func() { _ = session.Run(ctx) }()

	return &device{conn: conn, session: session, player: player}
}

func TestSessionEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url, _ := startCoordinator(t)

	host := connectDevice(t, ctx, url, "host")
	guest := connectDevice(t, ctx, url, "guest")

	created, err := host.session.CreateRoom(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", created.Code)
	assert.True(t, created.IsHost)
	assert.Equal(t, domain.DefaultMasterVolume, created.MasterVolume)

	joined, err := guest.session.JoinRoom(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, joined.ID)
	assert.Equal(t, "host", joined.HostID)
	assert.False(t, joined.IsHost)
	assert.Len(t, joined.Devices, 2)

	require.Eventually(t, func() bool {
		view, ok := host.session.Room()
		_, present := view.Devices["guest"]
		return ok && present
	}, 2*time.Second, 10*time.Millisecond, "host learns about the guest")

	require.NoError(t, host.session.SetAudioSource(domain.AudioSource{Type: domain.SourceFile, ID: "track.mp3"}))
	require.Eventually(t, func() bool {
		view, ok := guest.session.Room()
		return ok && view.SourceType == "file" && view.SourceID == "track.mp3"
	}, 2*time.Second, 10*time.Millisecond)

	payload := []byte{0x00, 0x01, 0xff, 0x7f, 0x00, 0x80}
	meta := playback.Metadata{SampleRate: 48000, Channels: 1, Encoding: playback.EncodingPCM16, BufferSizeHintMs: 20}
	require.NoError(t, host.session.SendAudio(250, payload, meta))
	require.Eventually(t, func() bool { return len(guest.player.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	chunk := guest.player.received()[0]
	assert.Equal(t, int64(250), chunk.Timestamp)
	assert.Equal(t, payload, chunk.Payload)
	assert.Equal(t, meta, chunk.Meta)
	assert.Empty(t, host.player.received())

	require.NoError(t, host.session.SetMasterVolume(50))
	require.Eventually(t, func() bool {
		return guest.player.currentGain() > 0.349 && guest.player.currentGain() < 0.351
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, host.session.SetPlayback(true, 1000))
	require.Eventually(t, func() bool {
		view, _ := guest.session.Room()
		return view.IsPlaying && view.Timestamp == 1000
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, host.session.LeaveRoom(ctx))
	require.Eventually(t, func() bool {
		_, ok := guest.session.Room()
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "host leaving ends the room for the guest")
}

func TestSessionJoinUnknownCode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url, _ := startCoordinator(t)

	guest := connectDevice(t, ctx, url, "guest")

	_, err := guest.session.JoinRoom(ctx, "ZZZZZZ")
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, ok := guest.session.Room()
	assert.False(t, ok)
}

func TestSessionCommandsOutsideRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url, _ := startCoordinator(t)

	d := connectDevice(t, ctx, url, "solo")

	require.ErrorIs(t, d.session.SetPlayback(true, 0), domain.ErrRoomNotFound)
	require.ErrorIs(t, d.session.LeaveRoom(ctx), domain.ErrRoomNotFound)
}

func TestSessionLatencyReachesHost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url, _ := startCoordinator(t)

	host := connectDevice(t, ctx, url, "host")
	guest := connectDevice(t, ctx, url, "guest")

	_, err := host.session.CreateRoom(ctx)
	require.NoError(t, err)
	_, err = guest.session.JoinRoom(ctx, "ABC123")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, _ := host.session.Room()
		d, ok := view.Devices["guest"]
		return ok && d.ConnectionQuality == string(domain.QualityGood)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionSwitchingRoomsLeavesThePreviousOne(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url, svc := startCoordinator(t, "AAAAAA", "BBBBBB")

	first := connectDevice(t, ctx, url, "h1")
	second := connectDevice(t, ctx, url, "h2")
	guest := connectDevice(t, ctx, url, "g")

	roomA, err := first.session.CreateRoom(ctx)
	require.NoError(t, err)
	roomB, err := second.session.CreateRoom(ctx)
	require.NoError(t, err)
	require.Equal(t, "BBBBBB", roomB.Code)

	_, err = guest.session.JoinRoom(ctx, "AAAAAA")
	require.NoError(t, err)
	joined, err := guest.session.JoinRoom(ctx, "BBBBBB")
	require.NoError(t, err)
	assert.Equal(t, roomB.ID, joined.ID)

	snap, err := svc.GetRoomByCode(ctx, "AAAAAA")
	require.NoError(t, err)
	var members []string
	for _, d := range snap.Devices {
		members = append(members, d.ID)
	}
	assert.Equal(t, []string{"h1"}, members)

	require.Eventually(t, func() bool {
		view, ok := first.session.Room()
		_, present := view.Devices["g"]
		return ok && view.ID == roomA.ID && !present
	}, 2*time.Second, 10*time.Millisecond, "h1 sees g leave")
}

// scriptedTransport answers create and join itself and publishes the
// room-info plus a follow-up event before the request returns.
type scriptedTransport struct {
	room     protocol.RoomInfo
	followUp transport.Event
	events   chan transport.Event
}

func (s *scriptedTransport) DeviceID() string { return "g" }

func (s *scriptedTransport) Subscribe() (<-chan transport.Event, func()) {
	return s.events, func() {}
}

func (s *scriptedTransport) Send(*protocol.Message) error { return nil }

func (s *scriptedTransport) SendAudio(protocol.AudioFrame) error { return nil }

func (s *scriptedTransport) Request(_ context.Context, msg *protocol.Message) (*protocol.Message, error) {
	room := s.room
	s.events <- transport.RoomInfoEvent{RequestID: msg.RequestID, Room: room}
	s.events <- s.followUp
	// give Run a chance to handle both before the reply lands
	time.Sleep(20 * time.Millisecond)
	return &protocol.Message{Type: protocol.TypeRoomInfo, RequestID: msg.RequestID, Room: &room}, nil
}

func TestSessionKeepsEventsThatFollowRoomInfo(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := &scriptedTransport{
		room: protocol.RoomInfo{
			ID:           "room-1",
			Code:         "ABC123",
			HostID:       "h",
			MasterVolume: domain.DefaultMasterVolume,
			Devices: []protocol.DeviceInfo{
				{ID: "h", Volume: domain.DefaultDeviceVolume},
				{ID: "g", Volume: domain.DefaultDeviceVolume},
			},
		},
		followUp: transport.PlaybackEvent{RoomID: "room-1", IsPlaying: true, Timestamp: 500},
		events:   make(chan transport.Event, 8),
	}
	player := &fakePlayer{}
	session := client.NewSession(conn, player, discardLogger(), client.Settings{HeartbeatInterval: time.Hour, LatencyProbeInterval: time.Hour})
	go func() { _ = session.Run(ctx) }()

	view, err := session.JoinRoom(ctx, "ABC123")
	require.NoError(t, err)
	assert.Equal(t, "room-1", view.ID)

	require.Eventually(t, func() bool {
		view, ok := session.Room()
		return ok && view.IsPlaying && view.Timestamp == 500
	}, time.Second, 5*time.Millisecond)

	// The reply does not roll the view back to the older snapshot.
	time.Sleep(30 * time.Millisecond)
	view, ok := session.Room()
	require.True(t, ok)
	assert.True(t, view.IsPlaying)
	assert.Equal(t, int64(500), view.Timestamp)
}
