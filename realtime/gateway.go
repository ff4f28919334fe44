package realtime

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// Store is the slice of persistence the gateway needs: task lookup and the
// single-record write behind task-moved, plus board lookup for join checks.
type Store interface {
	FindTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTaskFields(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	FindBoard(ctx context.Context, id string) (domain.Board, error)
}

// Authenticator verifies the handshake credential.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Gateway manages authenticated websocket connections, board-room
// membership and event relay.
type Gateway struct {
	hub      *Hub
	store    Store
	auth     Authenticator
	logger   *log.Logger
	upgrader websocket.Upgrader
}

// NewGateway creates a gateway backed by the given hub, store and verifier.
func NewGateway(hub *Hub, store Store, auth Authenticator, logger *log.Logger) *Gateway {
	return &Gateway{
		hub:    hub,
		store:  store,
		auth:   auth,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced by the CORS layer in front of
			// the REST API; the socket relies on the bearer credential.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Register wires the websocket endpoint on the given Echo instance.
func (g *Gateway) Register(e *echo.Echo) {
	e.GET("/ws", g.handleWS)
}

// handleWS performs the authentication handshake and runs the connection.
// The bearer credential must arrive with the handshake, either in the
// Authorization header or a token query parameter; a connection that fails
// verification is rejected before the upgrade, so no room join is possible.
func (g *Gateway) handleWS(c echo.Context) error {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if token := c.QueryParam("token"); token != "" {
			authHeader = "Bearer " + token
		}
	}
	userID, err := g.auth.UserIDFromAuthHeader(authHeader)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}

	ws, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	conn := newConn(uuid.NewString(), userID, ws, g.logger)
	g.logger.WithFields(log.Fields{"conn": conn.id, "user": userID}).Info("connection established")

	go conn.writePump()
	conn.readPump(g.dispatch)

	g.hub.Drop(conn)
	conn.close()
	g.logger.WithFields(log.Fields{"conn": conn.id, "user": userID}).Info("connection closed")
	return nil
}

// dispatch routes one inbound frame. Errors on the relay path are logged and
// dropped; they never terminate the connection or leak into other rooms.
func (g *Gateway) dispatch(c *Conn, env Envelope) {
	switch env.Event {
	case domain.EventJoinBoard:
		g.joinBoard(c, env)
	case domain.EventLeaveBoard:
		g.leaveBoard(c, env)
	case domain.EventTaskCreated, domain.EventTaskUpdated:
		g.relayTask(c, env)
	case domain.EventTaskDeleted:
		g.relayTaskDeleted(c, env)
	case domain.EventTaskMoved:
		g.taskMoved(c, env)
	case domain.EventUserTyping:
		g.relayTyping(c, env)
	default:
		g.logger.WithFields(log.Fields{"conn": c.id, "event": env.Event}).Debug("unknown event")
	}
}

func (g *Gateway) ack(c *Conn, event string, ack domain.RoomAck) {
	frame, err := encodeEnvelope(event, ack)
	if err != nil {
		g.logger.Errorf("encode ack: %v", err)
		return
	}
	if !c.enqueue(frame) {
		c.close()
		g.hub.Drop(c)
	}
}

// joinBoard verifies board membership before admitting the connection to the
// room. Knowing a board ID is not enough: the principal bound at handshake
// must be the owner or a member of the board.
func (g *Gateway) joinBoard(c *Conn, env Envelope) {
	var req domain.RoomRequest
	if err := decodeData(env, &req); err != nil || req.BoardID == "" {
		g.ack(c, domain.EventBoardJoined, domain.RoomAck{BoardID: req.BoardID, Success: false, Error: "invalid payload"})
		return
	}
	board, err := g.store.FindBoard(context.Background(), req.BoardID)
	if err != nil {
		g.logger.WithFields(log.Fields{"conn": c.id, "board": req.BoardID}).Warnf("join refused: %v", err)
		g.ack(c, domain.EventBoardJoined, domain.RoomAck{BoardID: req.BoardID, Success: false, Error: "board not found"})
		return
	}
	if !board.HasMember(c.userID) {
		g.logger.WithFields(log.Fields{"conn": c.id, "user": c.userID, "board": req.BoardID}).Warn("join refused: not a member")
		g.ack(c, domain.EventBoardJoined, domain.RoomAck{BoardID: req.BoardID, Success: false, Error: "access denied"})
		return
	}
	g.hub.Join(req.BoardID, c)
	g.ack(c, domain.EventBoardJoined, domain.RoomAck{BoardID: req.BoardID, Success: true})
}

func (g *Gateway) leaveBoard(c *Conn, env Envelope) {
	var req domain.RoomRequest
	if err := decodeData(env, &req); err != nil || req.BoardID == "" {
		return
	}
	g.hub.Leave(req.BoardID, c)
	g.ack(c, domain.EventBoardLeft, domain.RoomAck{BoardID: req.BoardID, Success: true})
}

// relayTask forwards task-created and task-updated payloads verbatim to the
// sender's room peers. Persistence already happened through the REST call.
func (g *Gateway) relayTask(c *Conn, env Envelope) {
	var data struct {
		BoardID string          `json:"boardId"`
		Task    json.RawMessage `json:"task"`
	}
	if err := decodeData(env, &data); err != nil || data.BoardID == "" {
		g.logger.WithFields(log.Fields{"conn": c.id, "event": env.Event}).Warn("bad relay payload")
		return
	}
	g.relay(c, data.BoardID, env.Event, data.Task)
}

func (g *Gateway) relayTaskDeleted(c *Conn, env Envelope) {
	var data domain.TaskDeletedEvent
	if err := decodeData(env, &data); err != nil || data.BoardID == "" || data.TaskID == "" {
		g.logger.WithFields(log.Fields{"conn": c.id}).Warn("bad task-deleted payload")
		return
	}
	g.relay(c, data.BoardID, domain.EventTaskDeleted, data.TaskID)
}

func (g *Gateway) relayTyping(c *Conn, env Envelope) {
	var data domain.TypingEvent
	if err := decodeData(env, &data); err != nil || data.BoardID == "" {
		return
	}
	out := domain.TypingEvent{UserID: data.UserID, UserName: data.UserName}
	g.relay(c, data.BoardID, domain.EventUserTyping, out)
}

// taskMoved persists the new placement and then relays it. The position is
// accepted as sent: the dragging client already committed the same values
// through REST, so this write is an idempotent overwrite that also makes
// moves valid without a prior REST call. If the write fails the event is
// dropped, never forwarded with unpersisted state.
func (g *Gateway) taskMoved(c *Conn, env Envelope) {
	var ev domain.TaskMovedEvent
	if err := decodeData(env, &ev); err != nil || ev.BoardID == "" || ev.TaskID == "" {
		g.logger.WithFields(log.Fields{"conn": c.id}).Warn("bad task-moved payload")
		return
	}
	if !domain.ValidStatus(ev.NewStatus) || ev.NewPosition < 0 {
		g.logger.WithFields(log.Fields{"conn": c.id, "task": ev.TaskID}).Warn("invalid task-moved fields")
		return
	}

	ctx := context.Background()
	task, err := g.store.FindTask(ctx, ev.TaskID)
	if err != nil {
		g.logger.WithFields(log.Fields{"conn": c.id, "task": ev.TaskID}).Errorf("move lookup: %v", err)
		return
	}
	// Same (status, position): nothing to write, nothing to broadcast.
	if domain.SamePlacement(task, ev.NewStatus, ev.NewPosition) {
		return
	}

	patch := domain.TaskPatch{Status: &ev.NewStatus, Position: &ev.NewPosition}
	if _, err := g.store.UpdateTaskFields(ctx, ev.TaskID, patch); err != nil {
		g.logger.WithFields(log.Fields{"conn": c.id, "task": ev.TaskID}).Errorf("move persist: %v", err)
		return
	}

	g.relay(c, ev.BoardID, domain.EventTaskMoved, ev)
}

func (g *Gateway) relay(sender *Conn, boardID, event string, data any) {
	frame, err := encodeEnvelope(event, data)
	if err != nil {
		g.logger.Errorf("encode %s: %v", event, err)
		return
	}
	g.hub.Broadcast(boardID, sender, frame)
}
