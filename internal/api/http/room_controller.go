package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/audiosync/internal/api/http/converter"
	"github.com/immxrtalbeast/audiosync/internal/config"
	"github.com/immxrtalbeast/audiosync/internal/domain"
	"github.com/immxrtalbeast/audiosync/internal/protocol"
	"github.com/immxrtalbeast/audiosync/internal/service"
	"github.com/immxrtalbeast/audiosync/lib/logger/sl"
)

type RoomController struct {
	rooms    service.RoomInteractor
	log      *slog.Logger
	cfg      config.TransportConfig
	upgrader websocket.Upgrader
}

func NewRoomController(rooms service.RoomInteractor, log *slog.Logger, cfg config.TransportConfig) *RoomController {
	return &RoomController{
		rooms: rooms,
		log:   log,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (c *RoomController) GetRoom(ctx *gin.Context) {
	roomID, err := uuid.Parse(ctx.Param("roomID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	room, err := c.rooms.GetRoom(ctx.Request.Context(), roomID)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(room)})
}

func (c *RoomController) GetRoomByCode(ctx *gin.Context) {
	room, err := c.rooms.GetRoomByCode(ctx.Request.Context(), ctx.Param("code"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": converter.RoomToApi(room)})
}

func (c *RoomController) ListDevices(ctx *gin.Context) {
	roomID, err := uuid.Parse(ctx.Param("roomID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	room, err := c.rooms.GetRoom(ctx.Request.Context(), roomID)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"devices": converter.DevicesToApi(room.Devices, room.HostID)})
}

func (c *RoomController) ListActiveDevices(ctx *gin.Context) {
	roomID, err := uuid.Parse(ctx.Param("roomID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	devices, err := c.rooms.ActiveDevices(ctx.Request.Context(), roomID)
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	var hostID string
	if room, err := c.rooms.GetRoom(ctx.Request.Context(), roomID); err == nil {
		hostID = room.HostID
	}

	ctx.JSON(http.StatusOK, gin.H{"devices": converter.DevicesToApi(devices, hostID)})
}

func (c *RoomController) ListRoomsByHost(ctx *gin.Context) {
	rooms, err := c.rooms.RoomsByHost(ctx.Request.Context(), ctx.Param("hostID"))
	if err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rooms": converter.RoomsToApi(rooms)})
}

func (c *RoomController) DeleteRoom(ctx *gin.Context) {
	roomID, err := uuid.Parse(ctx.Param("roomID"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	if err := c.rooms.DeleteRoom(ctx.Request.Context(), roomID); err != nil {
		ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	ctx.Status(http.StatusNoContent)
}

// Connect upgrades to the device websocket. The connection is bound to the
// deviceId query parameter for its whole lifetime.
func (c *RoomController) Connect(ctx *gin.Context) {
	deviceID := ctx.Query("deviceId")
	if deviceID == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
		return
	}

	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.log.Warn("failed to upgrade connection", slog.String("device_id", deviceID), sl.Err(err))
		return
	}
	if c.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageSize)
	}

	log := c.log.With(slog.String("device_id", deviceID))
	sub := newWSSubscriber(deviceID, conn, log, c.cfg.OutboundBuffer, c.cfg.WriteTimeout)
	go sub.writeLoop()

	c.rooms.Connect(sub)
	log.Info("device connected", slog.String("remote", ctx.Request.RemoteAddr))

	c.readLoop(deviceID, conn, sub, log)

	sub.Close()
	c.rooms.Disconnect(context.Background(), sub)
}

func (c *RoomController) readLoop(deviceID string, conn *websocket.Conn, sub *wsSubscriber, log *slog.Logger) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket closed", sl.Err(err))
			}
			return
		}

		switch kind {
		case websocket.TextMessage:
			msg, err := protocol.Decode(data)
			if err != nil {
				sub.Deliver(protocol.ErrorMessage("", err))
				continue
			}
			if err := c.rooms.Handle(context.Background(), deviceID, msg); err != nil {
				log.Debug("request failed", slog.String("type", msg.Type), sl.Err(err))
				sub.Deliver(protocol.ErrorMessage(msg.RequestID, err))
			}
		case websocket.BinaryMessage:
			frame, err := protocol.DecodeAudioFrame(data)
			if err != nil {
				sub.Deliver(protocol.ErrorMessage("", err))
				continue
			}
			if err := c.rooms.HandleAudio(context.Background(), deviceID, frame); err != nil {
				log.Debug("audio frame rejected", sl.Err(err))
				sub.Deliver(protocol.ErrorMessage("", err))
			}
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound), errors.Is(err, domain.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
