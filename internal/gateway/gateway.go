// Package gateway serves the real-time WebSocket endpoint. It tracks local
// room membership, relays signaling between participants and pushes room
// events, reaching connections on other instances through the broker.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/room-coordinator/internal/broker"
	"github.com/romashorodok/room-coordinator/internal/directory"
	"github.com/romashorodok/room-coordinator/internal/identity"
	"github.com/romashorodok/room-coordinator/internal/room"
	"github.com/romashorodok/room-coordinator/pkg/executils"
	"github.com/romashorodok/room-coordinator/pkg/protocol"
	"go.uber.org/fx"
)

const (
	DefaultPingInterval = 20 * time.Second
	DefaultPongTimeout  = 60 * time.Second
	DefaultKickGrace    = 2 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultMediaChannel = "media"

	fanOutThreshold = 64
	fanOutStep      = 16
)

type Config struct {
	InstanceID   string
	PingInterval time.Duration
	PongTimeout  time.Duration
	KickGrace    time.Duration
	WriteTimeout time.Duration
	MediaChannel string
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.KickGrace < 0 {
		c.KickGrace = 0
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.MediaChannel == "" {
		c.MediaChannel = DefaultMediaChannel
	}
	return c
}

type Gateway struct {
	cfg           Config
	rooms         *room.RoomService
	directory     *directory.Directory
	bus           broker.Bus
	authenticator *identity.Authenticator
	logger        *slog.Logger
	hub           *Hub
	upgrader      websocket.Upgrader

	unsubscribe func()
}

var _ room.Notifier = (*Gateway)(nil)

// Start subscribes the instance to the broker.
func (g *Gateway) Start(ctx context.Context) error {
	unsubscribe, err := g.bus.Subscribe(ctx, g.cfg.InstanceID, g.onEnvelope)
	if err != nil {
		return err
	}
	g.unsubscribe = unsubscribe
	g.logger.Info("gateway subscribed", slog.String("instance_id", g.cfg.InstanceID))
	return nil
}

// Stop closes every local connection. Their serving goroutines then leave
// rooms and unregister.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
	for _, conn := range g.hub.Connections() {
		conn.close(websocket.CloseGoingAway, "server shutdown")
	}
	return nil
}

func (g *Gateway) Hub() *Hub { return g.hub }

func (g *Gateway) write(conn *Connection, payload []byte) {
	if err := conn.writeRaw(payload); err != nil {
		g.hub.dropped.Inc()
		g.logger.Debug("frame dropped",
			slog.String("conn_id", conn.id),
			slog.String("err", err.Error()),
		)
		return
	}
	g.hub.framesOut.Inc()
}

func (g *Gateway) deliverRoom(roomID string, payload []byte, excludeUsers []string) {
	executils.FanOut(g.hub.Members(roomID), fanOutThreshold, fanOutStep, func(conn *Connection) {
		if slices.Contains(excludeUsers, conn.userID) {
			return
		}
		g.write(conn, payload)
	})
}

// deliverDirect writes to connID, publishing to the owning instance when
// the connection lives elsewhere.
func (g *Gateway) deliverDirect(ctx context.Context, connID string, payload []byte) {
	instanceID := broker.InstanceOf(connID)
	if instanceID == g.cfg.InstanceID {
		conn, exist := g.hub.Conn(connID)
		if !exist {
			g.hub.dropped.Inc()
			g.logger.Debug("direct target gone", slog.String("conn_id", connID))
			return
		}
		g.write(conn, payload)
		return
	}

	err := g.bus.PublishInstance(ctx, instanceID, broker.Envelope{
		Origin:  g.cfg.InstanceID,
		Kind:    broker.KindDirect,
		ConnID:  connID,
		Payload: payload,
	})
	if err != nil {
		g.hub.dropped.Inc()
		g.logger.Warn("direct relay failed",
			slog.String("conn_id", connID),
			slog.String("err", err.Error()),
		)
		return
	}
	g.hub.relayed.Inc()
}

func (g *Gateway) Broadcast(ctx context.Context, roomID, event string, data any, excludeUsers ...string) {
	payload, err := protocol.Encode(event, "", data)
	if err != nil {
		g.logger.Error("encode broadcast", slog.String("event", event), slog.String("err", err.Error()))
		return
	}

	g.deliverRoom(roomID, payload, excludeUsers)

	err = g.bus.PublishRoom(ctx, broker.Envelope{
		Origin:  g.cfg.InstanceID,
		Kind:    broker.KindRoom,
		RoomID:  roomID,
		Exclude: excludeUsers,
		Payload: payload,
	})
	if err != nil {
		g.logger.Warn("room broadcast not relayed",
			slog.String("room_id", roomID),
			slog.String("event", event),
			slog.String("err", err.Error()),
		)
		return
	}
	g.hub.relayed.Inc()
}

func (g *Gateway) Notify(ctx context.Context, roomID, userID, event string, data any) {
	payload, err := protocol.Encode(event, "", data)
	if err != nil {
		g.logger.Error("encode notification", slog.String("event", event), slog.String("err", err.Error()))
		return
	}

	connIDs, err := g.directory.LookupAll(ctx, userID)
	if err != nil {
		g.logger.Warn("notification target lookup failed",
			slog.String("room_id", roomID),
			slog.String("user_id", userID),
			slog.String("err", err.Error()),
		)
		return
	}
	for _, connID := range connIDs {
		g.deliverDirect(ctx, connID, payload)
	}
}

func (g *Gateway) Disconnect(ctx context.Context, roomID, userID, reason string) {
	g.terminateLocal(roomID, userID, "", reason)

	connIDs, err := g.directory.LookupAll(ctx, userID)
	if err != nil {
		g.logger.Warn("disconnect target lookup failed",
			slog.String("room_id", roomID),
			slog.String("user_id", userID),
			slog.String("err", err.Error()),
		)
		return
	}
	for _, connID := range connIDs {
		instanceID := broker.InstanceOf(connID)
		if instanceID == g.cfg.InstanceID {
			continue
		}
		err := g.bus.PublishInstance(ctx, instanceID, broker.Envelope{
			Origin: g.cfg.InstanceID,
			Kind:   broker.KindTerminate,
			RoomID: roomID,
			ConnID: connID,
			Reason: reason,
		})
		if err != nil {
			g.logger.Warn("terminate relay failed",
				slog.String("conn_id", connID),
				slog.String("err", err.Error()),
			)
		}
	}
}

// terminateLocal detaches the matching local members of roomID and closes
// them once the grace period passed. An empty connID matches every
// connection of userID.
func (g *Gateway) terminateLocal(roomID, userID, connID, reason string) {
	for _, conn := range g.hub.Members(roomID) {
		if connID != "" && conn.id != connID {
			continue
		}
		if connID == "" && conn.userID != userID {
			continue
		}

		g.hub.Leave(roomID, conn)
		g.logger.Info("terminating connection",
			slog.String("room_id", roomID),
			slog.String("user_id", conn.userID),
			slog.String("conn_id", conn.id),
			slog.String("reason", reason),
		)

		conn := conn
		time.AfterFunc(g.cfg.KickGrace, func() {
			conn.close(websocket.ClosePolicyViolation, reason)
		})
	}
}

func (g *Gateway) onEnvelope(env broker.Envelope) {
	switch env.Kind {
	case broker.KindRoom:
		g.deliverRoom(env.RoomID, env.Payload, env.Exclude)
	case broker.KindDirect:
		conn, exist := g.hub.Conn(env.ConnID)
		if !exist {
			g.hub.dropped.Inc()
			return
		}
		g.write(conn, env.Payload)
	case broker.KindTerminate:
		g.terminateLocal(env.RoomID, "", env.ConnID, env.Reason)
	default:
		g.logger.Warn("unknown envelope kind", slog.String("kind", string(env.Kind)))
	}
}

func (g *Gateway) GatewayControllerStats(c echo.Context) error {
	return c.JSON(http.StatusOK, g.hub.Stats())
}

func (g *Gateway) Resolve(router *echo.Echo) error {
	router.GET("/ws", g.GatewayControllerConnect)
	router.GET("/ws/stats", g.GatewayControllerStats)
	return nil
}

var _ protocol.HttpResolvable = (*Gateway)(nil)

type NewGatewayParams struct {
	fx.In

	Config        Config
	Rooms         *room.RoomService
	Directory     *directory.Directory
	Bus           broker.Bus
	Authenticator *identity.Authenticator
	Logger        *slog.Logger
}

// NewGateway installs the gateway as the room service notifier.
func NewGateway(params NewGatewayParams) *Gateway {
	g := &Gateway{
		cfg:           params.Config.withDefaults(),
		rooms:         params.Rooms,
		directory:     params.Directory,
		bus:           params.Bus,
		authenticator: params.Authenticator,
		logger:        params.Logger,
		hub:           NewHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	params.Rooms.SetNotifier(g)
	return g
}
