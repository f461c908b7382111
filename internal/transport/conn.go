// Package transport is the device end of the coordinator connection: one
// websocket, request/response correlation by requestId, and a typed event
// stream for everything the coordinator pushes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/internal/protocol"
	"github.com/immxrtalbeast/audiosync/lib/logger/sl"
)

type Options struct {
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	// EventBuffer is the capacity of each subscription channel.
	EventBuffer int
	Log         *slog.Logger
}

func (o *Options) setDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
}

type Conn struct {
	deviceID string
	ws       *websocket.Conn
	log      *slog.Logger
	opts     Options

	connMu sync.Mutex // serializes websocket writes

	mu      sync.Mutex
	pending map[string]chan *protocol.Message
	subs    map[int]chan Event
	nextSub int
	closed  bool
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the coordinator at rawURL and binds the connection to
// deviceID.
func Dial(ctx context.Context, rawURL, deviceID string, opts Options) (*Conn, error) {
	const op = "transport.Dial"

	if deviceID == "" {
		return nil, fmt.Errorf("%s: %w: device id is required", op, domain.ErrInvalidRequest)
	}
	opts.setDefaults()

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	q := u.Query()
	q.Set("deviceId", deviceID)
	u.RawQuery = q.Encode()

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, domain.ErrNotConnected, err)
	}
	if opts.MaxMessageSize > 0 {
		ws.SetReadLimit(opts.MaxMessageSize)
	}

	c := &Conn{
		deviceID: deviceID,
		ws:       ws,
		log:      opts.Log.With(slog.String("device_id", deviceID)),
		opts:     opts,
		pending:  make(map[string]chan *protocol.Message),
		subs:     make(map[int]chan Event),
		done:     make(chan struct{}),
	}
	go c.readLoop()

	c.log.Info("connected to coordinator", slog.String("url", rawURL))
	return c, nil
}

func (c *Conn) DeviceID() string {
	return c.deviceID
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Subscribe starts a new event stream. The returned function ends it. A
// stream that is not drained loses events once its buffer is full.
func (c *Conn) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, c.opts.EventBuffer)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		ch <- DisconnectedEvent{Err: c.err}
		close(ch)
		return ch, func() {}
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Send writes a fire-and-forget message. DeviceID is filled in when empty.
func (c *Conn) Send(msg *protocol.Message) error {
	if msg.DeviceID == "" {
		msg.DeviceID = c.deviceID
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// SendAudio writes one binary audio-data frame.
func (c *Conn) SendAudio(frame protocol.AudioFrame) error {
	frame.Type = protocol.TypeAudioData
	if frame.DeviceID == "" {
		frame.DeviceID = c.deviceID
	}
	data, err := protocol.EncodeAudioFrame(frame)
	if err != nil {
		return err
	}
	return c.write(websocket.BinaryMessage, data)
}

// Request sends msg and waits for the reply carrying its requestId, which is
// generated unless the caller set one. An error reply is returned as an error that matches the domain
// sentinels; no reply within RequestTimeout yields domain.ErrTimeout.
func (c *Conn) Request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	reply := make(chan *protocol.Message, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.ErrNotConnected
	}
	c.pending[msg.RequestID] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.RequestID)
		c.mu.Unlock()
	}()

	if err := c.Send(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-reply:
		if resp.Type == protocol.TypeError {
			return nil, resp.Error.Err()
		}
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: %s", domain.ErrTimeout, msg.Type)
	case <-c.done:
		return nil, domain.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) write(kind int, data []byte) error {
	select {
	case <-c.done:
		return domain.ErrNotConnected
	default:
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := c.ws.WriteMessage(kind, data); err != nil {
		c.shutdown(err)
		return fmt.Errorf("%w: %v", domain.ErrNotConnected, err)
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("connection lost", sl.Err(err))
			}
			c.shutdown(err)
			return
		}

		switch kind {
		case websocket.TextMessage:
			msg, err := protocol.Decode(data)
			if err != nil {
				c.log.Warn("dropping malformed message", sl.Err(err))
				continue
			}
			c.dispatch(msg)
		case websocket.BinaryMessage:
			frame, err := protocol.DecodeAudioFrame(data)
			if err != nil {
				c.log.Warn("dropping malformed audio frame", sl.Err(err))
				continue
			}
			c.publish(AudioChunkEvent{Frame: frame})
		}
	}
}

func (c *Conn) dispatch(msg *protocol.Message) {
	if msg.RequestID != "" {
		c.mu.Lock()
		reply, ok := c.pending[msg.RequestID]
		c.mu.Unlock()
		if ok {
			select {
			case reply <- msg:
			default:
			}
		}
	}

	ev, ok := eventFromMessage(msg)
	if !ok {
		c.log.Debug("ignoring message", slog.String("type", msg.Type))
		return
	}
	c.publish(ev)
}

func (c *Conn) publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.log.Debug("dropping event for slow subscriber", slog.Int("subscription", id), slog.String("event", fmt.Sprintf("%T", ev)))
		}
	}
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		if err == nil {
			c.connMu.Lock()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.connMu.Unlock()
		}
		_ = c.ws.Close()

		c.mu.Lock()
		c.closed = true
		c.err = err
		subs := c.subs
		c.subs = make(map[int]chan Event)
		c.mu.Unlock()

		close(c.done)

		for _, ch := range subs {
			select {
			case ch <- DisconnectedEvent{Err: err}:
			default:
			}
			close(ch)
		}
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.log.Info("disconnected from coordinator", sl.Err(err))
		}
	})
}
