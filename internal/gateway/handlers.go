package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	echo "github.com/labstack/echo/v4"
	"github.com/romashorodok/room-coordinator/internal/identity"
	"github.com/romashorodok/room-coordinator/internal/room"
	"github.com/romashorodok/room-coordinator/internal/roomconfig"
	"github.com/romashorodok/room-coordinator/internal/roomstate"
	"github.com/romashorodok/room-coordinator/pkg/protocol"
	"github.com/romashorodok/room-coordinator/pkg/roomerr"
	"github.com/romashorodok/room-coordinator/pkg/wsutils"
)

// Inbound events.
const (
	EventJoin        = "join"
	EventLeave       = "leave"
	EventOffer       = "offer"
	EventAnswer      = "answer"
	EventCandidate   = "candidate"
	EventReady       = "ready"
	EventMediaState  = "media-state"
	EventModerate    = "moderate"
	EventFeature     = "feature"
	EventRoomControl = "room-control"
	EventPing        = "ping"
)

// Outbound events sent by the gateway itself. Room events are named in the
// room package.
const (
	EventConnected = "connected"
	EventJoined    = "joined"
	EventLeft      = "left"
	EventSignal    = "signal"
	EventNotice    = "notice"
	EventError     = "error"
	EventPong      = "pong"
)

const maxFrameSize = 64 << 10

var ErrBadFrame = errors.New("bad frame")

type errorView struct {
	Code    roomerr.Code `json:"code"`
	Message string       `json:"message"`
	Check   string       `json:"check,omitempty"`
}

func newErrorView(err error) errorView {
	if errors.Is(err, ErrBadFrame) {
		return errorView{Code: "bad_request", Message: err.Error()}
	}
	view := errorView{Code: roomerr.CodeOf(err), Message: err.Error()}
	if denied, ok := roomerr.AsDenied(err); ok {
		view.Check = denied.Check
		view.Message = denied.Reason
	}
	return view
}

type connectedView struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Channel      string `json:"channel,omitempty"`
	InstanceID   string `json:"instanceId"`
}

type joinedView struct {
	Room room.Snapshot              `json:"room"`
	Self roomstate.ParticipantState `json:"self"`
}

type signalView struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	From    string          `json:"from"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type noticeView struct {
	Level string `json:"level"`
	errorView
}

type roomRef struct {
	RoomID string `json:"roomId"`
}

func (r roomRef) validate() error {
	if r.RoomID == "" {
		return fmt.Errorf("%w: roomId is required", ErrBadFrame)
	}
	return nil
}

type signalData struct {
	roomRef
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type mediaStateData struct {
	roomRef
	room.MediaUpdate
}

type moderateData struct {
	roomRef
	Target string                `json:"target"`
	Action room.ModerationAction `json:"action"`
	Value  *bool                 `json:"value,omitempty"`
	Reason string                `json:"reason,omitempty"`
}

type featureData struct {
	roomRef
	Feature roomconfig.Feature `json:"feature"`
	Enabled bool               `json:"enabled"`
	Config  map[string]any     `json:"config,omitempty"`
}

type roomControlData struct {
	roomRef
	Action string `json:"action"`
}

func (g *Gateway) GatewayControllerConnect(c echo.Context) error {
	token, authErr := g.authenticator.Authenticate(c.Request())

	ws, err := g.upgrader.Upgrade(c.Response().Writer, c.Request(), nil)
	if err != nil {
		g.logger.Error("unable to upgrade request", slog.String("err", err.Error()))
		return err
	}
	w := wsutils.NewThreadSafeWriter(ws, g.cfg.WriteTimeout)

	if authErr != nil {
		_ = w.WriteJSON(protocol.Outbound{Event: EventError, Data: newErrorView(authErr)})
		_ = w.CloseWith(websocket.ClosePolicyViolation, "unauthenticated")
		g.logger.Debug("websocket rejected", slog.String("err", authErr.Error()))
		return nil
	}

	conn := newConnection(g.cfg.InstanceID+"."+uuid.NewString(), c.QueryParam("channel"), token, w)
	g.serve(context.WithoutCancel(c.Request().Context()), conn)
	return nil
}

func (g *Gateway) serve(ctx context.Context, conn *Connection) {
	if err := g.directory.Register(ctx, conn.userID, conn.id, conn.channel); err != nil {
		g.logger.Warn("directory register failed",
			slog.String("conn_id", conn.id),
			slog.String("err", err.Error()),
		)
	}
	conn.refreshedAt = time.Now()
	g.hub.Add(conn)
	defer g.teardown(ctx, conn)

	g.logger.Info("connection opened",
		slog.String("conn_id", conn.id),
		slog.String("user_id", conn.userID),
		slog.String("channel", conn.channel),
	)

	if err := conn.send(EventConnected, "", connectedView{
		ConnectionID: conn.id,
		UserID:       conn.userID,
		Channel:      conn.channel,
		InstanceID:   g.cfg.InstanceID,
	}); err != nil {
		return
	}

	ws := conn.w.Conn
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		g.touch(ctx, conn)
		return nil
	})

	stop := make(chan struct{})
	defer close(stop)
	go g.heartbeat(conn, stop)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debug("connection read ended",
					slog.String("conn_id", conn.id),
					slog.String("err", err.Error()),
				)
			}
			return
		}
		g.hub.framesIn.Inc()
		g.touch(ctx, conn)

		var message protocol.Inbound
		if err := json.Unmarshal(data, &message); err != nil {
			g.replyError(conn, "", fmt.Errorf("%w: %w", ErrBadFrame, err))
			continue
		}
		g.dispatch(ctx, conn, message)
	}
}

func (g *Gateway) heartbeat(conn *Connection, stop <-chan struct{}) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.w.Ping(); err != nil {
				conn.close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

// touch extends the read deadline and, at most once per half ping
// interval, refreshes the directory entry and the activity of the user in
// every joined room.
func (g *Gateway) touch(ctx context.Context, conn *Connection) {
	_ = conn.w.Conn.SetReadDeadline(time.Now().Add(g.cfg.PongTimeout))

	if time.Since(conn.refreshedAt) < g.cfg.PingInterval/2 {
		return
	}
	conn.refreshedAt = time.Now()
	if err := g.directory.Refresh(ctx, conn.userID, conn.id, conn.channel); err != nil {
		g.logger.Warn("directory refresh failed",
			slog.String("conn_id", conn.id),
			slog.String("err", err.Error()),
		)
	}

	for _, roomID := range conn.roomIDs() {
		err := g.rooms.Touch(ctx, roomID, conn.userID)
		if err == nil || errors.Is(err, roomerr.ErrNotFound) || errors.Is(err, roomerr.ErrInvalidState) {
			continue
		}
		g.logger.Warn("activity refresh failed",
			slog.String("room_id", roomID),
			slog.String("user_id", conn.userID),
			slog.String("err", err.Error()),
		)
	}
}

func (g *Gateway) teardown(ctx context.Context, conn *Connection) {
	conn.close(websocket.CloseNormalClosure, "")

	for _, roomID := range g.hub.Remove(conn) {
		if g.hub.HasUser(roomID, conn.userID) {
			continue
		}
		if _, _, err := g.rooms.Leave(ctx, roomID, conn.userID); err != nil {
			g.logger.Warn("leave on disconnect failed",
				slog.String("room_id", roomID),
				slog.String("user_id", conn.userID),
				slog.String("err", err.Error()),
			)
		}
	}

	if err := g.directory.UnregisterConn(ctx, conn.userID, conn.channel, conn.id); err != nil {
		g.logger.Warn("directory unregister failed",
			slog.String("conn_id", conn.id),
			slog.String("err", err.Error()),
		)
	}

	g.logger.Info("connection closed",
		slog.String("conn_id", conn.id),
		slog.String("user_id", conn.userID),
	)
}

func (g *Gateway) replyError(conn *Connection, ref string, err error) {
	_ = conn.send(EventError, ref, newErrorView(err))
}

func (g *Gateway) notice(conn *Connection, ref string, err error) {
	_ = conn.send(EventNotice, ref, noticeView{Level: "error", errorView: newErrorView(err)})
}

func (g *Gateway) dispatch(ctx context.Context, conn *Connection, message protocol.Inbound) {
	var err error
	switch message.Event {
	case EventJoin:
		err = g.onJoin(ctx, conn, message)
	case EventLeave:
		err = g.onLeave(ctx, conn, message)
	case EventOffer, EventAnswer, EventCandidate, EventReady:
		err = g.onSignal(ctx, conn, message)
	case EventMediaState:
		err = g.onMediaState(ctx, conn, message)
	case EventModerate, EventFeature, EventRoomControl:
		if err := g.onControl(ctx, conn, message); err != nil {
			g.logger.Debug("control rejected",
				slog.String("conn_id", conn.id),
				slog.String("event", message.Event),
				slog.String("err", err.Error()),
			)
			g.notice(conn, message.Ref, err)
		}
		return
	case EventPing:
		err = conn.send(EventPong, message.Ref, nil)
	default:
		err = fmt.Errorf("%w: unknown event %q", ErrBadFrame, message.Event)
	}

	if err != nil {
		g.replyError(conn, message.Ref, err)
	}
}

func (g *Gateway) onJoin(ctx context.Context, conn *Connection, message protocol.Inbound) error {
	var data roomRef
	if err := message.Decode(&data); err != nil {
		return fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	if err := data.validate(); err != nil {
		return err
	}

	result, err := g.rooms.Join(ctx, room.JoinRequest{
		RoomID:    data.RoomID,
		UserID:    conn.userID,
		Host:      conn.token.HasRole(identity.RoleHost),
		Moderator: conn.token.HasRole(identity.RoleModerator),
	})
	if err != nil {
		return err
	}
	g.hub.Join(data.RoomID, conn)

	return conn.send(EventJoined, message.Ref, joinedView{
		Room: room.NewSnapshot(result.State),
		Self: result.Participant,
	})
}

func (g *Gateway) onLeave(ctx context.Context, conn *Connection, message protocol.Inbound) error {
	var data roomRef
	if err := message.Decode(&data); err != nil {
		return fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	if err := data.validate(); err != nil {
		return err
	}

	g.hub.Leave(data.RoomID, conn)
	if !g.hub.HasUser(data.RoomID, conn.userID) {
		if _, _, err := g.rooms.Leave(ctx, data.RoomID, conn.userID); err != nil {
			return err
		}
	}
	return conn.send(EventLeft, message.Ref, data)
}

// onSignal forwards an opaque signaling payload. A frame without a target
// goes to every other member of the room.
func (g *Gateway) onSignal(ctx context.Context, conn *Connection, message protocol.Inbound) error {
	var data signalData
	if err := message.Decode(&data); err != nil {
		return fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	if err := data.validate(); err != nil {
		return err
	}
	if !conn.InRoom(data.RoomID) {
		return fmt.Errorf("signal to room %s without joining it: %w", data.RoomID, roomerr.ErrInvalidState)
	}

	view := signalView{Type: message.Event, RoomID: data.RoomID, From: conn.userID, Payload: data.Payload}
	if data.To == "" {
		g.Broadcast(ctx, data.RoomID, EventSignal, view, conn.userID)
		return nil
	}

	state, err := g.rooms.Room(ctx, data.RoomID)
	if err != nil {
		return err
	}
	if _, member := state.Participants[data.To]; !member {
		g.hub.dropped.Inc()
		return fmt.Errorf("signal target %s in room %s: %w", data.To, data.RoomID, roomerr.ErrNotFound)
	}

	target, err := g.directory.Resolve(ctx, data.To, g.cfg.MediaChannel)
	if err != nil {
		g.hub.dropped.Inc()
		g.logger.Debug("signal target not connected",
			slog.String("room_id", data.RoomID),
			slog.String("from", conn.userID),
			slog.String("to", data.To),
			slog.String("err", err.Error()),
		)
		return nil
	}

	payload, err := protocol.Encode(EventSignal, "", view)
	if err != nil {
		return err
	}
	g.deliverDirect(ctx, target, payload)
	return nil
}

func (g *Gateway) onMediaState(ctx context.Context, conn *Connection, message protocol.Inbound) error {
	var data mediaStateData
	if err := message.Decode(&data); err != nil {
		return fmt.Errorf("%w: %w", ErrBadFrame, err)
	}
	if err := data.validate(); err != nil {
		return err
	}

	_, err := g.rooms.UpdateMedia(ctx, data.RoomID, conn.userID, data.MediaUpdate)
	return err
}

func (g *Gateway) onControl(ctx context.Context, conn *Connection, message protocol.Inbound) error {
	switch message.Event {
	case EventModerate:
		var data moderateData
		if err := message.Decode(&data); err != nil {
			return fmt.Errorf("%w: %w", ErrBadFrame, err)
		}
		if err := data.validate(); err != nil {
			return err
		}
		_, err := g.rooms.Moderate(ctx, data.RoomID, conn.userID, room.ModerationRequest{
			Target: data.Target,
			Action: data.Action,
			Value:  data.Value,
			Reason: data.Reason,
		})
		return err

	case EventFeature:
		var data featureData
		if err := message.Decode(&data); err != nil {
			return fmt.Errorf("%w: %w", ErrBadFrame, err)
		}
		if err := data.validate(); err != nil {
			return err
		}
		_, err := g.rooms.SetFeature(ctx, data.RoomID, conn.userID, data.Feature, data.Enabled, data.Config)
		return err

	default:
		var data roomControlData
		if err := message.Decode(&data); err != nil {
			return fmt.Errorf("%w: %w", ErrBadFrame, err)
		}
		if err := data.validate(); err != nil {
			return err
		}
		_, err := g.rooms.Transition(ctx, data.RoomID, conn.userID, data.Action)
		return err
	}
}
