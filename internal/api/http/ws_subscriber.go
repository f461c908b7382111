package http

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/audiosync/internal/protocol"
	"github.com/immxrtalbeast/audiosync/lib/logger/sl"
)

type outbound struct {
	kind int
	data []byte
}

// wsSubscriber adapts one websocket connection to service.Subscriber. Writes
// happen on a single goroutine draining a bounded queue.
type wsSubscriber struct {
	deviceID     string
	conn         *websocket.Conn
	log          *slog.Logger
	writeTimeout time.Duration

	queue chan outbound
	done  chan struct{}
	once  sync.Once
}

func newWSSubscriber(deviceID string, conn *websocket.Conn, log *slog.Logger, buffer int, writeTimeout time.Duration) *wsSubscriber {
	return &wsSubscriber{
		deviceID:     deviceID,
		conn:         conn,
		log:          log,
		writeTimeout: writeTimeout,
		queue:        make(chan outbound, buffer),
		done:         make(chan struct{}),
	}
}

func (s *wsSubscriber) DeviceID() string {
	return s.deviceID
}

func (s *wsSubscriber) Deliver(msg *protocol.Message) bool {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.log.Error("failed to encode message", slog.String("type", msg.Type), sl.Err(err))
		return true
	}
	return s.enqueue(outbound{kind: websocket.TextMessage, data: data})
}

func (s *wsSubscriber) DeliverAudio(frame protocol.AudioFrame) bool {
	data, err := protocol.EncodeAudioFrame(frame)
	if err != nil {
		s.log.Error("failed to encode audio frame", sl.Err(err))
		return true
	}
	return s.enqueue(outbound{kind: websocket.BinaryMessage, data: data})
}

func (s *wsSubscriber) enqueue(out outbound) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.queue <- out:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// Close stops the writer and closes the socket, which unblocks the reader.
func (s *wsSubscriber) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *wsSubscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case out := <-s.queue:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(out.kind, out.data); err != nil {
				s.log.Debug("websocket write failed", slog.String("device_id", s.deviceID), sl.Err(err))
				s.Close()
				return
			}
		}
	}
}
