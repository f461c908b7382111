package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/internal/protocol"
	"github.com/immxrtalbeast/audiosync/internal/repository"
	"github.com/immxrtalbeast/audiosync/lib/logger/sl"
)

const maxCodeAttempts = 16

var ErrCodeSpaceExhausted = errors.New("could not allocate a unique room code")

type Settings struct {
	CodeLength int
	Quality    domain.QualityThresholds
	// CodeGenerator and Clock are replaceable for tests.
	CodeGenerator func() string
	Clock         func() time.Time
}

// RoomService is the coordinator's message router. It owns every room: a
// command takes the room's mutex, applies at most one transition and enqueues
// the resulting events before releasing it, so subscribers observe the events
// of a room in the order the commands were applied.
//
// Lock order is room.Mutex before s.mu.
type RoomService struct {
	rooms   repository.RoomRepository
	log     *slog.Logger
	quality domain.QualityThresholds
	newCode func() string
	now     func() time.Time

	mu          sync.RWMutex
	subscribers map[string]Subscriber
	memberships map[string]map[uuid.UUID]struct{}
	// lastSeen is the latest heartbeat or latency report of a device in any
	// of its rooms.
	lastSeen map[string]time.Time
}

func NewRoomService(rooms repository.RoomRepository, log *slog.Logger, settings Settings) *RoomService {
	if log == nil {
		log = slog.Default()
	}
	if settings.CodeLength <= 0 {
		settings.CodeLength = 6
	}
	if settings.CodeGenerator == nil {
		length := settings.CodeLength
		settings.CodeGenerator = func() string { return domain.GenerateCode(length) }
	}
	if settings.Clock == nil {
		settings.Clock = time.Now
	}
	if settings.Quality.Good <= 0 {
		settings.Quality.Good = 50 * time.Millisecond
	}
	if settings.Quality.Medium <= 0 {
		settings.Quality.Medium = 150 * time.Millisecond
	}
	return &RoomService{
		rooms:       rooms,
		log:         log,
		quality:     settings.Quality,
		newCode:     settings.CodeGenerator,
		now:         settings.Clock,
		subscribers: make(map[string]Subscriber),
		memberships: make(map[string]map[uuid.UUID]struct{}),
		lastSeen:    make(map[string]time.Time),
	}
}

// Connect registers the subscriber for its device. A previous connection of
// the same device is replaced and closed; room memberships are kept.
func (s *RoomService) Connect(sub Subscriber) {
	id := sub.DeviceID()

	s.mu.Lock()
	previous := s.subscribers[id]
	s.subscribers[id] = sub
	s.mu.Unlock()

	if previous != nil && previous != sub {
		s.log.Info("device reconnected, closing previous connection", slog.String("device_id", id))
		previous.Close()
	}
}

// Disconnect handles a closed transport. It is a no-op unless sub is still the
// device's current connection; otherwise every room of the device gets a
// synthesized leave.
func (s *RoomService) Disconnect(ctx context.Context, sub Subscriber) {
	id := sub.DeviceID()

	s.mu.Lock()
	if current, ok := s.subscribers[id]; !ok || current != sub {
		s.mu.Unlock()
		return
	}
	delete(s.subscribers, id)
	delete(s.lastSeen, id)
	roomIDs := s.roomsOfLocked(id)
	s.mu.Unlock()

	s.log.Info("device disconnected", slog.String("device_id", id), slog.Int("rooms", len(roomIDs)))
	s.leaveAll(ctx, id, roomIDs)
}

// ForceDisconnect drops a device as if its transport had closed.
func (s *RoomService) ForceDisconnect(ctx context.Context, deviceID string) {
	s.mu.Lock()
	sub := s.subscribers[deviceID]
	delete(s.subscribers, deviceID)
	delete(s.lastSeen, deviceID)
	roomIDs := s.roomsOfLocked(deviceID)
	s.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	s.log.Info("device dropped", slog.String("device_id", deviceID), slog.Int("rooms", len(roomIDs)))
	s.leaveAll(ctx, deviceID, roomIDs)
}

func (s *RoomService) leaveAll(ctx context.Context, deviceID string, roomIDs []uuid.UUID) {
	for _, roomID := range roomIDs {
		err := s.LeaveRoom(ctx, roomID, deviceID)
		if err != nil && !errors.Is(err, domain.ErrRoomNotFound) && !errors.Is(err, domain.ErrDeviceNotFound) {
			s.log.Error("synthesized leave failed",
				slog.String("device_id", deviceID),
				slog.String("room_id", roomID.String()),
				sl.Err(err),
			)
		}
	}
}

// Handle dispatches one inbound text message of the connection bound to
// deviceID.
func (s *RoomService) Handle(ctx context.Context, deviceID string, msg *protocol.Message) error {
	if msg == nil {
		return fmt.Errorf("%w: message is required", domain.ErrInvalidRequest)
	}
	if msg.DeviceID != "" && msg.DeviceID != deviceID {
		return fmt.Errorf("%w: device id does not match connection", domain.ErrUnauthorized)
	}

	switch msg.Type {
	case protocol.TypeCreate:
		_, err := s.CreateRoom(ctx, deviceID, msg.DeviceName, msg.RequestID)
		return err
	case protocol.TypeJoin:
		_, err := s.JoinRoom(ctx, msg.RoomCode, deviceID, msg.DeviceName, msg.RequestID)
		return err
	case protocol.TypePing:
		s.sendTo(deviceID, &protocol.Message{
			Type:      protocol.TypePong,
			RequestID: msg.RequestID,
			Timestamp: msg.Timestamp,
		})
		return nil
	}

	roomID, err := parseRoomID(msg.RoomID)
	if err != nil {
		return err
	}

	switch msg.Type {
	case protocol.TypeLeave:
		if err := s.LeaveRoom(ctx, roomID, deviceID); err != nil {
			return err
		}
		s.sendTo(deviceID, &protocol.Message{
			Type:      protocol.TypeRoomLeft,
			RequestID: msg.RequestID,
			RoomID:    roomID.String(),
			Reason:    ReasonLeft,
		})
		return nil
	case protocol.TypePlayback:
		if msg.IsPlaying == nil {
			return fmt.Errorf("%w: isPlaying is required", domain.ErrInvalidRequest)
		}
		return s.SetPlayback(ctx, roomID, deviceID, *msg.IsPlaying, msg.Timestamp)
	case protocol.TypeVolume:
		if msg.Volume == nil {
			return fmt.Errorf("%w: volume is required", domain.ErrInvalidRequest)
		}
		return s.SetVolume(ctx, roomID, deviceID, msg.TargetDeviceID, *msg.Volume)
	case protocol.TypeAudioSource:
		sourceType, err := domain.ParseSourceType(msg.SourceType)
		if err != nil {
			return err
		}
		return s.SetAudioSource(ctx, roomID, deviceID, domain.AudioSource{Type: sourceType, ID: msg.SourceID})
	case protocol.TypeHeartbeat:
		return s.Heartbeat(ctx, roomID, deviceID, msg.Timestamp)
	case protocol.TypeLatency:
		if msg.LatencyMs == nil {
			return fmt.Errorf("%w: latencyMs is required", domain.ErrInvalidRequest)
		}
		return s.LatencyReport(ctx, roomID, deviceID, *msg.LatencyMs)
	default:
		return fmt.Errorf("%w: unsupported message type %q", domain.ErrInvalidRequest, msg.Type)
	}
}

// HandleAudio dispatches one inbound binary audio frame.
func (s *RoomService) HandleAudio(ctx context.Context, deviceID string, frame protocol.AudioFrame) error {
	if frame.Type != protocol.TypeAudioData {
		return fmt.Errorf("%w: unexpected audio frame type %q", domain.ErrInvalidRequest, frame.Type)
	}
	if frame.DeviceID != "" && frame.DeviceID != deviceID {
		return fmt.Errorf("%w: device id does not match connection", domain.ErrUnauthorized)
	}
	roomID, err := parseRoomID(frame.RoomID)
	if err != nil {
		return err
	}
	return s.SendAudioChunk(ctx, roomID, deviceID, frame)
}

func (s *RoomService) CreateRoom(ctx context.Context, deviceID, deviceName, requestID string) (domain.RoomSnapshot, error) {
	const op = "service.room.create"
	log := s.log.With(slog.String("op", op), slog.String("device_id", deviceID))

	if deviceID == "" {
		return domain.RoomSnapshot{}, fmt.Errorf("%w: device id is required", domain.ErrInvalidRequest)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		room := domain.NewRoom(deviceID, deviceName, s.newCode(), s.now())

		// Held until the creator has its room-info so nothing else can reach
		// the room first.
		room.Mutex.Lock()
		if err := s.rooms.Create(ctx, room); err != nil {
			room.Mutex.Unlock()
			if errors.Is(err, repository.ErrCodeExists) {
				log.Debug("room code collision, regenerating", slog.String("code", room.Code))
				continue
			}
			return domain.RoomSnapshot{}, fmt.Errorf("%s: %w", op, err)
		}

		s.addMembership(deviceID, room.ID)
		snap := room.Snapshot()
		s.sendTo(deviceID, roomInfoMessage(snap, requestID))
		room.Mutex.Unlock()

		log.Info("room created", slog.String("room_id", room.ID.String()), slog.String("code", room.Code))
		return snap, nil
	}

	return domain.RoomSnapshot{}, fmt.Errorf("%s: %w", op, ErrCodeSpaceExhausted)
}

func (s *RoomService) JoinRoom(ctx context.Context, code, deviceID, deviceName, requestID string) (domain.RoomSnapshot, error) {
	const op = "service.room.join"
	log := s.log.With(slog.String("op", op), slog.String("device_id", deviceID), slog.String("code", code))

	if deviceID == "" {
		return domain.RoomSnapshot{}, fmt.Errorf("%w: device id is required", domain.ErrInvalidRequest)
	}

	room, err := s.rooms.GetByCode(ctx, code)
	if err != nil {
		log.Info("join rejected", sl.Err(err))
		return domain.RoomSnapshot{}, err
	}

	room.Mutex.Lock()
	defer room.Mutex.Unlock()

	if room.Closed() {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}

	device, existed := room.AddDevice(deviceID, deviceName, s.now())
	s.addMembership(deviceID, room.ID)

	snap := room.Snapshot()
	s.sendTo(deviceID, roomInfoMessage(snap, requestID))
	if !existed && !room.IsHost(deviceID) {
		s.sendTo(room.HostID, deviceUpdateMessage(room, device, protocol.ActionJoin))
	}

	log.Info("device joined",
		slog.String("room_id", room.ID.String()),
		slog.Bool("rejoin", existed),
		slog.Int("clients", room.ClientCount()),
	)
	return snap, nil
}

// LeaveRoom removes a device. The host leaving tears the room down for
// everybody.
func (s *RoomService) LeaveRoom(ctx context.Context, roomID uuid.UUID, deviceID string) error {
	const op = "service.room.leave"
	log := s.log.With(slog.String("op", op), slog.String("room_id", roomID.String()), slog.String("device_id", deviceID))

	room, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer room.Mutex.Unlock()

	if room.IsHost(deviceID) {
		log.Info("host left, tearing room down")
		s.tearDownLocked(ctx, room, ReasonHostLeft, deviceID)
		return nil
	}

	device, ok := room.RemoveDevice(deviceID, s.now())
	if !ok {
		return domain.ErrDeviceNotFound
	}
	s.removeMembership(deviceID, room.ID)
	s.broadcastLocked(room, deviceUpdateMessage(room, device, protocol.ActionLeave), "")

	log.Info("device left", slog.Int("clients", room.ClientCount()))
	return nil
}

func (s *RoomService) SetPlayback(ctx context.Context, roomID uuid.UUID, deviceID string, isPlaying bool, timestamp int64) error {
	room, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer room.Mutex.Unlock()

	if !room.IsHost(deviceID) {
		return domain.ErrUnauthorized
	}
	if err := room.SetPlayback(isPlaying, timestamp); err != nil {
		return err
	}

	s.broadcastLocked(room, playbackChangedMessage(room), "")
	s.log.Debug("playback changed",
		slog.String("room_id", room.ID.String()),
		slog.Bool("playing", isPlaying),
		slog.Int64("timestamp", timestamp),
	)
	return nil
}

// SetVolume changes the master volume when target is empty (host only), the
// caller's own volume when target is the caller, or another device's volume
// when the caller is the host.
func (s *RoomService) SetVolume(ctx context.Context, roomID uuid.UUID, deviceID, target string, volume int) error {
	room, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer room.Mutex.Unlock()

	if target == "" {
		if !room.IsHost(deviceID) {
			return domain.ErrUnauthorized
		}
		v := room.SetMasterVolume(volume)
		s.broadcastLocked(room, volumeChangedMessage(room, "", v), "")
		return nil
	}

	if target != deviceID && !room.IsHost(deviceID) {
		return domain.ErrUnauthorized
	}
	if _, ok := room.Device(deviceID); !ok {
		return domain.ErrDeviceNotFound
	}
	v, err := room.SetDeviceVolume(target, volume)
	if err != nil {
		return err
	}

	s.sendTo(target, volumeChangedMessage(room, target, v))
	if !room.IsHost(target) {
		d, _ := room.Device(target)
		s.sendTo(room.HostID, deviceUpdateMessage(room, d, protocol.ActionUpdate))
	}
	return nil
}

func (s *RoomService) SetAudioSource(ctx context.Context, roomID uuid.UUID, deviceID string, source domain.AudioSource) error {
	room, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer room.Mutex.Unlock()

	if !room.IsHost(deviceID) {
		return domain.ErrUnauthorized
	}

	room.SetSource(source)
	s.broadcastLocked(room, audioSourceChangedMessage(room), "")
	s.log.Info("audio source changed",
		slog.String("room_id", room.ID.String()),
		slog.String("type", string(room.Source.Type)),
		slog.String("source_id", room.Source.ID),
	)
	return nil
}

// SendAudioChunk fans a host chunk out to every other device of the room. The
// chunk is not retained.
func (s *RoomService) SendAudioChunk(ctx context.Context, roomID uuid.UUID, deviceID string, frame protocol.AudioFrame) error {
	room, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer room.Mutex.Unlock()

	if !room.IsHost(deviceID) {
		return domain.ErrUnauthorized
	}

	frame.Type = protocol.TypeAudioChunk
	frame.RoomID = room.ID.String()
	frame.DeviceID = deviceID

	for id := range room.Devices {
		if room.IsHost(id) {
			continue
		}
		sub := s.subscriber(id)
		if sub == nil {
			continue
		}
		if !sub.DeliverAudio(frame) {
			s.log.Debug("dropping audio chunk", slog.String("device_id", id), slog.Int64("timestamp", frame.Timestamp))
		}
	}
	return nil
}

func (s *RoomService) Heartbeat(ctx context.Context, roomID uuid.UUID, deviceID string, _ int64) error {
	room, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer room.Mutex.Unlock()

	d, ok := room.Device(deviceID)
	if !ok {
		return domain.ErrDeviceNotFound
	}
	now := s.now()
	d.Touch(now)
	s.markSeen(deviceID, now)

	if d.Quality == domain.QualityDisconnected {
		d.Quality = s.quality.Classify(d.LatencyMs)
		s.notifyHostLocked(room, d)
	}
	return nil
}

func (s *RoomService) LatencyReport(ctx context.Context, roomID uuid.UUID, deviceID string, latencyMs int) error {
	if latencyMs < 0 {
		return fmt.Errorf("%w: negative latency", domain.ErrInvalidRequest)
	}

	room, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer room.Mutex.Unlock()

	d, ok := room.Device(deviceID)
	if !ok {
		return domain.ErrDeviceNotFound
	}
	d.LatencyMs = latencyMs
	d.Quality = s.quality.Classify(latencyMs)
	now := s.now()
	d.Touch(now)
	s.markSeen(deviceID, now)

	s.notifyHostLocked(room, d)
	return nil
}

func (s *RoomService) GetRoom(ctx context.Context, id uuid.UUID) (domain.RoomSnapshot, error) {
	room, err := s.lockRoom(ctx, id)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	defer room.Mutex.Unlock()
	return room.Snapshot(), nil
}

func (s *RoomService) GetRoomByCode(ctx context.Context, code string) (domain.RoomSnapshot, error) {
	room, err := s.rooms.GetByCode(ctx, code)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	room.Mutex.Lock()
	defer room.Mutex.Unlock()
	if room.Closed() {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	return room.Snapshot(), nil
}

// ActiveDevices lists members whose connection is not considered lost.
func (s *RoomService) ActiveDevices(ctx context.Context, id uuid.UUID) ([]domain.Device, error) {
	snap, err := s.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	active := make([]domain.Device, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		if d.Quality != domain.QualityDisconnected {
			active = append(active, d)
		}
	}
	return active, nil
}

func (s *RoomService) RoomsByHost(ctx context.Context, hostID string) ([]domain.RoomSnapshot, error) {
	rooms, err := s.rooms.ListByHost(ctx, hostID)
	if err != nil {
		return nil, err
	}
	result := make([]domain.RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		room.Mutex.Lock()
		if !room.Closed() {
			result = append(result, room.Snapshot())
		}
		room.Mutex.Unlock()
	}
	return result, nil
}

// DeleteRoom tears a room down on operator request; every member, the host
// included, receives room-left.
func (s *RoomService) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	room, err := s.lockRoom(ctx, id)
	if err != nil {
		return err
	}
	defer room.Mutex.Unlock()

	s.tearDownLocked(ctx, room, ReasonDeleted, "")
	return nil
}

// tearDownLocked ends the room in one transition: every membership is dropped,
// room-left goes to each remaining device except skip, and the code is
// released. The caller holds room.Mutex.
func (s *RoomService) tearDownLocked(ctx context.Context, room *domain.Room, reason, skip string) {
	devices := room.TearDown()
	msg := roomLeftMessage(room, reason)
	for _, d := range devices {
		s.removeMembership(d.ID, room.ID)
		if d.ID == skip {
			continue
		}
		s.sendTo(d.ID, msg)
	}

	if err := s.rooms.Delete(ctx, room.ID); err != nil && !errors.Is(err, repository.ErrRoomNotFound) {
		s.log.Error("failed to remove room from registry", slog.String("room_id", room.ID.String()), sl.Err(err))
	}
	s.log.Info("room torn down",
		slog.String("room_id", room.ID.String()),
		slog.String("reason", reason),
		slog.Int("notified", len(devices)),
	)
}

// lockRoom returns the room with its mutex held, or ErrRoomNotFound when it
// does not exist or was torn down meanwhile.
func (s *RoomService) lockRoom(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	room, err := s.rooms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	room.Mutex.Lock()
	if room.Closed() {
		room.Mutex.Unlock()
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

func (s *RoomService) notifyHostLocked(room *domain.Room, d *domain.Device) {
	if room.IsHost(d.ID) {
		return
	}
	s.sendTo(room.HostID, deviceUpdateMessage(room, d, protocol.ActionUpdate))
}

// broadcastLocked enqueues msg to every member except exclude.
func (s *RoomService) broadcastLocked(room *domain.Room, msg *protocol.Message, exclude string) {
	for id := range room.Devices {
		if id == exclude {
			continue
		}
		s.sendTo(id, msg)
	}
}

// sendTo enqueues a control message for a device. A subscriber that cannot
// keep up is closed; its transport then runs the normal disconnect path.
func (s *RoomService) sendTo(deviceID string, msg *protocol.Message) {
	sub := s.subscriber(deviceID)
	if sub == nil {
		return
	}
	if !sub.Deliver(msg) {
		s.log.Warn("subscriber queue full, closing connection",
			slog.String("device_id", deviceID),
			slog.String("type", msg.Type),
		)
		sub.Close()
	}
}

func (s *RoomService) subscriber(deviceID string) Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscribers[deviceID]
}

func (s *RoomService) addMembership(deviceID string, roomID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms, ok := s.memberships[deviceID]
	if !ok {
		rooms = make(map[uuid.UUID]struct{})
		s.memberships[deviceID] = rooms
	}
	rooms[roomID] = struct{}{}
}

func (s *RoomService) removeMembership(deviceID string, roomID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms, ok := s.memberships[deviceID]
	if !ok {
		return
	}
	delete(rooms, roomID)
	if len(rooms) == 0 {
		delete(s.memberships, deviceID)
	}
}

func (s *RoomService) markSeen(deviceID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if at.After(s.lastSeen[deviceID]) {
		s.lastSeen[deviceID] = at
	}
}

// seenSince returns the later of since and the device's last heartbeat in any
// room.
func (s *RoomService) seenSince(deviceID string, since time.Time) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if seen := s.lastSeen[deviceID]; seen.After(since) {
		return seen
	}
	return since
}

func (s *RoomService) roomsOfLocked(deviceID string) []uuid.UUID {
	rooms := s.memberships[deviceID]
	ids := make([]uuid.UUID, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	return ids
}

func parseRoomID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.ErrRoomNotFound
	}
	return id, nil
}
