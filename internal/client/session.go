// Package client is the device side of a room: it issues commands through the
// transport, tracks the room as the coordinator reports it and feeds received
// audio into the playback scheduler.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/internal/playback"
	"github.com/immxrtalbeast/audiosync/internal/protocol"
	"github.com/immxrtalbeast/audiosync/internal/transport"
	"github.com/immxrtalbeast/audiosync/lib/logger/sl"
)

type Transport interface {
	DeviceID() string
	Subscribe() (<-chan transport.Event, func())
	Send(msg *protocol.Message) error
	SendAudio(frame protocol.AudioFrame) error
	Request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error)
}

type Player interface {
	Enqueue(c playback.Chunk)
	Reset()
	SetGain(g float64)
}

type Settings struct {
	DeviceName           string
	HeartbeatInterval    time.Duration
	LatencyProbeInterval time.Duration
	Clock                func() time.Time
}

// RoomView is the session's copy of the room it is in.
type RoomView struct {
	ID           string
	Code         string
	HostID       string
	IsHost       bool
	IsPlaying    bool
	Timestamp    int64
	MasterVolume int
	Volume       int
	SourceType   string
	SourceID     string
	Devices      map[string]protocol.DeviceInfo
}

type Session struct {
	conn     Transport
	player   Player
	log      *slog.Logger
	settings Settings

	// enterMu serializes create and join.
	enterMu sync.Mutex

	mu       sync.Mutex
	room     *RoomView
	entering entry
	stopLoop context.CancelFunc
}

// entry tracks the create or join in flight. Whichever of Run and the
// requesting goroutine sees its room-info first installs the room.
type entry struct {
	requestID string
	installed bool
}

func NewSession(conn Transport, player Player, log *slog.Logger, settings Settings) *Session {
	if settings.HeartbeatInterval <= 0 {
		settings.HeartbeatInterval = 5 * time.Second
	}
	if settings.LatencyProbeInterval <= 0 {
		settings.LatencyProbeInterval = 10 * time.Second
	}
	if settings.Clock == nil {
		settings.Clock = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		conn:     conn,
		player:   player,
		log:      log.With(slog.String("device_id", conn.DeviceID())),
		settings: settings,
	}
}

// Room returns a copy of the current room, or false outside a room.
func (s *Session) Room() (RoomView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return RoomView{}, false
	}
	view := *s.room
	view.Devices = make(map[string]protocol.DeviceInfo, len(s.room.Devices))
	for id, d := range s.room.Devices {
		view.Devices[id] = d
	}
	return view, true
}

// CreateRoom creates a room hosted by this device, leaving the current room
// first.
func (s *Session) CreateRoom(ctx context.Context) (RoomView, error) {
	const op = "client.session.create"

	view, err := s.enterRoom(ctx, &protocol.Message{
		Type:       protocol.TypeCreate,
		DeviceName: s.settings.DeviceName,
	})
	if err != nil {
		return RoomView{}, fmt.Errorf("%s: %w", op, err)
	}
	return view, nil
}

// JoinRoom joins the room with code, leaving the current room first. Joining
// the current room again returns it unchanged.
func (s *Session) JoinRoom(ctx context.Context, code string) (RoomView, error) {
	const op = "client.session.join"

	if view, ok := s.Room(); ok && strings.EqualFold(view.Code, strings.TrimSpace(code)) {
		return view, nil
	}
	view, err := s.enterRoom(ctx, &protocol.Message{
		Type:       protocol.TypeJoin,
		RoomCode:   code,
		DeviceName: s.settings.DeviceName,
	})
	if err != nil {
		return RoomView{}, fmt.Errorf("%s: %w", op, err)
	}
	return view, nil
}

func (s *Session) enterRoom(ctx context.Context, msg *protocol.Message) (RoomView, error) {
	s.enterMu.Lock()
	defer s.enterMu.Unlock()

	if _, ok := s.Room(); ok {
		err := s.LeaveRoom(ctx)
		if err != nil && !errors.Is(err, domain.ErrRoomNotFound) && !errors.Is(err, domain.ErrDeviceNotFound) {
			return RoomView{}, err
		}
	}

	msg.RequestID = uuid.NewString()
	s.mu.Lock()
	s.entering = entry{requestID: msg.RequestID}
	s.mu.Unlock()

	resp, err := s.conn.Request(ctx, msg)
	if err != nil {
		s.mu.Lock()
		s.entering = entry{}
		s.mu.Unlock()
		return RoomView{}, err
	}
	if resp.Type != protocol.TypeRoomInfo || resp.Room == nil {
		return RoomView{}, fmt.Errorf("%w: unexpected reply %q", domain.ErrInvalidRequest, resp.Type)
	}
	s.installRoom(msg.RequestID, *resp.Room)
	s.startLoops(ctx, resp.Room.ID)

	view, _ := s.Room()
	s.log.Info("entered room", slog.String("room_id", view.ID), slog.String("code", view.Code), slog.Bool("host", view.IsHost))
	return view, nil
}

// installRoom makes info the current room and resets playback, unless the
// room-info of requestID was already installed.
func (s *Session) installRoom(requestID string, info protocol.RoomInfo) bool {
	s.mu.Lock()
	if s.entering.requestID != requestID || s.entering.installed {
		s.mu.Unlock()
		return false
	}
	s.entering.installed = true
	s.room = s.roomView(info)
	s.mu.Unlock()

	s.player.Reset()
	s.updateGain()
	return true
}

// LeaveRoom leaves the current room and waits for the coordinator to confirm.
// A host leaving ends the room for all. The session is out of the room
// afterwards even when the coordinator rejects the leave.
func (s *Session) LeaveRoom(ctx context.Context) error {
	const op = "client.session.leave"

	roomID, err := s.roomID()
	if err != nil {
		return err
	}
	_, err = s.conn.Request(ctx, &protocol.Message{Type: protocol.TypeLeave, RoomID: roomID})
	s.exitRoom()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Session) SetPlayback(isPlaying bool, timestamp int64) error {
	roomID, err := s.roomID()
	if err != nil {
		return err
	}
	return s.conn.Send(&protocol.Message{
		Type:      protocol.TypePlayback,
		RoomID:    roomID,
		IsPlaying: protocol.Bool(isPlaying),
		Timestamp: timestamp,
	})
}

func (s *Session) SetMasterVolume(volume int) error {
	return s.SetVolume("", volume)
}

// SetVolume sets the volume of target, or the master volume when target is
// empty.
func (s *Session) SetVolume(target string, volume int) error {
	roomID, err := s.roomID()
	if err != nil {
		return err
	}
	return s.conn.Send(&protocol.Message{
		Type:           protocol.TypeVolume,
		RoomID:         roomID,
		TargetDeviceID: target,
		Volume:         protocol.Int(volume),
	})
}

func (s *Session) SetAudioSource(source domain.AudioSource) error {
	roomID, err := s.roomID()
	if err != nil {
		return err
	}
	return s.conn.Send(&protocol.Message{
		Type:       protocol.TypeAudioSource,
		RoomID:     roomID,
		SourceType: string(source.Type),
		SourceID:   source.ID,
	})
}

// SendAudio streams one chunk of the host's source.
func (s *Session) SendAudio(timestamp int64, payload []byte, meta playback.Metadata) error {
	roomID, err := s.roomID()
	if err != nil {
		return err
	}
	return s.conn.SendAudio(protocol.AudioFrame{
		AudioHeader: protocol.AudioHeader{
			Type:             protocol.TypeAudioData,
			RoomID:           roomID,
			Timestamp:        timestamp,
			SampleRate:       meta.SampleRate,
			Channels:         meta.Channels,
			Encoding:         meta.Encoding,
			BufferSizeHintMs: meta.BufferSizeHintMs,
		},
		Payload: payload,
	})
}

// Run consumes coordinator events until ctx is cancelled or the transport
// goes away.
func (s *Session) Run(ctx context.Context) error {
	events, unsubscribe := s.conn.Subscribe()
	defer unsubscribe()
	defer s.stopLoops()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return domain.ErrNotConnected
			}
			if err := s.handle(ev); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handle(ev transport.Event) error {
	switch e := ev.(type) {
	case transport.RoomInfoEvent:
		if e.RequestID != "" && s.installRoom(e.RequestID, e.Room) {
			break
		}
		if s.inRoom(e.Room.ID) {
			s.applyRoomInfo(e.Room)
		}
	case transport.DeviceUpdateEvent:
		s.applyDeviceUpdate(e)
	case transport.PlaybackEvent:
		s.applyPlayback(e)
	case transport.VolumeEvent:
		s.applyVolume(e)
	case transport.AudioSourceEvent:
		if s.update(e.RoomID, func(r *RoomView) {
			r.SourceType = e.SourceType
			r.SourceID = e.SourceID
		}) {
			s.player.Reset()
		}
	case transport.AudioChunkEvent:
		s.applyChunk(e.Frame)
	case transport.RoomLeftEvent:
		if s.inRoom(e.RoomID) {
			s.log.Info("room ended", slog.String("room_id", e.RoomID), slog.String("reason", e.Reason))
			s.exitRoom()
		}
	case transport.ErrorEvent:
		s.log.Warn("coordinator reported an error", slog.String("request_id", e.RequestID), sl.Err(e.Err))
	case transport.PongEvent:
	case transport.DisconnectedEvent:
		s.exitRoom()
		if e.Err != nil {
			return fmt.Errorf("%w: %v", domain.ErrNotConnected, e.Err)
		}
		return domain.ErrNotConnected
	}
	return nil
}

func (s *Session) applyRoomInfo(info protocol.RoomInfo) {
	view := s.roomView(info)
	s.mu.Lock()
	s.room = view
	s.mu.Unlock()
	s.updateGain()
}

func (s *Session) roomView(info protocol.RoomInfo) *RoomView {
	deviceID := s.conn.DeviceID()
	view := &RoomView{
		ID:           info.ID,
		Code:         info.Code,
		HostID:       info.HostID,
		IsHost:       info.HostID == deviceID,
		IsPlaying:    info.IsPlaying,
		Timestamp:    info.Timestamp,
		MasterVolume: info.MasterVolume,
		Volume:       domain.DefaultDeviceVolume,
		SourceType:   info.SourceType,
		SourceID:     info.SourceID,
		Devices:      make(map[string]protocol.DeviceInfo, len(info.Devices)),
	}
	for _, d := range info.Devices {
		view.Devices[d.ID] = d
		if d.ID == deviceID {
			view.Volume = d.Volume
		}
	}
	return view
}

func (s *Session) applyDeviceUpdate(e transport.DeviceUpdateEvent) {
	s.update(e.RoomID, func(r *RoomView) {
		if e.Action == protocol.ActionLeave {
			delete(r.Devices, e.DeviceID)
			return
		}
		r.Devices[e.DeviceID] = protocol.DeviceInfo{
			ID:                e.DeviceID,
			Name:              e.DeviceName,
			ConnectionQuality: e.ConnectionQuality,
			LatencyMs:         e.LatencyMs,
			Volume:            e.Volume,
		}
	})
}

func (s *Session) applyPlayback(e transport.PlaybackEvent) {
	changed := s.update(e.RoomID, func(r *RoomView) {
		r.IsPlaying = e.IsPlaying
		r.Timestamp = e.Timestamp
	})
	if changed && !e.IsPlaying {
		s.player.Reset()
	}
}

func (s *Session) applyVolume(e transport.VolumeEvent) {
	deviceID := s.conn.DeviceID()
	changed := s.update(e.RoomID, func(r *RoomView) {
		switch e.TargetDeviceID {
		case "":
			r.MasterVolume = e.Volume
		case deviceID:
			r.Volume = e.Volume
		}
		if d, ok := r.Devices[e.TargetDeviceID]; ok {
			d.Volume = e.Volume
			r.Devices[e.TargetDeviceID] = d
		}
	})
	if changed {
		s.updateGain()
	}
}

func (s *Session) applyChunk(frame protocol.AudioFrame) {
	s.mu.Lock()
	accept := s.room != nil && !s.room.IsHost && s.room.ID == frame.RoomID
	s.mu.Unlock()
	if !accept {
		return
	}
	s.player.Enqueue(playback.Chunk{
		Timestamp: frame.Timestamp,
		Payload:   frame.Payload,
		Meta: playback.Metadata{
			SampleRate:       frame.SampleRate,
			Channels:         frame.Channels,
			Encoding:         frame.Encoding,
			BufferSizeHintMs: frame.BufferSizeHintMs,
		},
	})
}

// update applies fn to the room when roomID is the current room.
func (s *Session) update(roomID string, fn func(r *RoomView)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil || s.room.ID != roomID {
		return false
	}
	fn(s.room)
	return true
}

func (s *Session) updateGain() {
	s.mu.Lock()
	if s.room == nil {
		s.mu.Unlock()
		return
	}
	gain := float64(s.room.Volume) / 100 * float64(s.room.MasterVolume) / 100
	s.mu.Unlock()
	s.player.SetGain(gain)
}

func (s *Session) inRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room != nil && s.room.ID == roomID
}

func (s *Session) roomID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return "", fmt.Errorf("%w: not in a room", domain.ErrRoomNotFound)
	}
	return s.room.ID, nil
}

func (s *Session) exitRoom() {
	s.stopLoops()
	s.mu.Lock()
	wasIn := s.room != nil
	s.room = nil
	s.mu.Unlock()
	if wasIn {
		s.player.Reset()
	}
}

// startLoops runs heartbeat and latency probes for roomID until the session
// leaves the room.
func (s *Session) startLoops(parent context.Context, roomID string) {
	s.stopLoops()

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s.mu.Lock()
	s.stopLoop = cancel
	s.mu.Unlock()

	go s.monitorLoop(ctx, roomID)
}

func (s *Session) stopLoops() {
	s.mu.Lock()
	cancel := s.stopLoop
	s.stopLoop = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) monitorLoop(ctx context.Context, roomID string) {
	heartbeat := time.NewTicker(s.settings.HeartbeatInterval)
	defer heartbeat.Stop()
	probe := time.NewTicker(s.settings.LatencyProbeInterval)
	defer probe.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			err := s.conn.Send(&protocol.Message{
				Type:      protocol.TypeHeartbeat,
				RoomID:    roomID,
				Timestamp: s.settings.Clock().UnixMilli(),
			})
			if err != nil {
				s.log.Debug("heartbeat failed", sl.Err(err))
			}
		case <-probe.C:
			if err := s.probeLatency(ctx, roomID); err != nil {
				s.log.Debug("latency probe failed", sl.Err(err))
			}
		}
	}
}

// probeLatency measures one ping/pong round trip and reports it.
func (s *Session) probeLatency(ctx context.Context, roomID string) error {
	start := s.settings.Clock()
	if _, err := s.conn.Request(ctx, &protocol.Message{
		Type:      protocol.TypePing,
		Timestamp: start.UnixMilli(),
	}); err != nil {
		return err
	}
	rtt := s.settings.Clock().Sub(start)

	return s.conn.Send(&protocol.Message{
		Type:      protocol.TypeLatency,
		RoomID:    roomID,
		LatencyMs: protocol.Int(int(rtt.Milliseconds())),
	})
}
