package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"kanban-api/domain"
)

type mockStore struct {
	mu         sync.Mutex
	tasks      map[string]domain.Task
	boards     map[string]domain.Board
	updates    []domain.TaskPatch
	failUpdate error
}

func newMockStore() *mockStore {
	return &mockStore{
		tasks:  make(map[string]domain.Task),
		boards: make(map[string]domain.Board),
	}
}

func (m *mockStore) FindTask(_ context.Context, id string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	return task, nil
}

func (m *mockStore) UpdateTaskFields(_ context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return domain.Task{}, m.failUpdate
	}
	task, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrNotFound
	}
	patch.Apply(&task)
	m.tasks[id] = task
	m.updates = append(m.updates, patch)
	return task, nil
}

func (m *mockStore) FindBoard(_ context.Context, id string) (domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	board, ok := m.boards[id]
	if !ok {
		return domain.Board{}, domain.ErrNotFound
	}
	return board, nil
}

func (m *mockStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

func (m *mockStore) task(t *testing.T, id string) domain.Task {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		t.Fatalf("task %s missing", id)
	}
	return task
}

type mapAuth map[string]string

func (a mapAuth) UserIDFromAuthHeader(header string) (string, error) {
	token := strings.TrimPrefix(header, "Bearer ")
	if user, ok := a[token]; ok {
		return user, nil
	}
	return "", errors.New("invalid token")
}

func newTestGateway(store Store) (*Gateway, *Hub) {
	hub := NewHub(testLogger(), nil, "", "test")
	gw := NewGateway(hub, store, mapAuth{"alice-token": "alice", "bob-token": "bob"}, testLogger())
	return gw, hub
}

func frameEnvelope(t *testing.T, c *Conn) Envelope {
	t.Helper()
	env, err := decodeEnvelope(receivedFrame(t, c))
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return env
}

func joinAck(t *testing.T, c *Conn) domain.RoomAck {
	t.Helper()
	env := frameEnvelope(t, c)
	if env.Event != domain.EventBoardJoined {
		t.Fatalf("expected %s, got %s", domain.EventBoardJoined, env.Event)
	}
	var ack domain.RoomAck
	if err := decodeData(env, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	return ack
}

func inbound(t *testing.T, event string, data any) Envelope {
	t.Helper()
	frame, err := encodeEnvelope(event, data)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := decodeEnvelope(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func TestJoinBoardRequiresMembership(t *testing.T) {
	store := newMockStore()
	store.boards["board-1"] = domain.Board{ID: "board-1", Owner: "alice", Members: []string{"alice"}}
	gw, hub := newTestGateway(store)

	alice := testConn("conn-a", "alice")
	bob := testConn("conn-b", "bob")

	gw.dispatch(alice, inbound(t, domain.EventJoinBoard, domain.RoomRequest{BoardID: "board-1"}))
	if ack := joinAck(t, alice); !ack.Success {
		t.Fatalf("member join refused: %+v", ack)
	}
	if !hub.Member("board-1", alice) {
		t.Fatal("expected alice in room")
	}

	gw.dispatch(bob, inbound(t, domain.EventJoinBoard, domain.RoomRequest{BoardID: "board-1"}))
	if ack := joinAck(t, bob); ack.Success {
		t.Fatal("non-member join must be refused")
	}
	if hub.Member("board-1", bob) {
		t.Fatal("refused connection must not be in room")
	}
}

func TestJoinBoardUnknownBoardRefused(t *testing.T) {
	gw, hub := newTestGateway(newMockStore())
	alice := testConn("conn-a", "alice")

	gw.dispatch(alice, inbound(t, domain.EventJoinBoard, domain.RoomRequest{BoardID: "missing"}))
	if ack := joinAck(t, alice); ack.Success {
		t.Fatal("join to unknown board must be refused")
	}
	if hub.RoomSize("missing") != 0 {
		t.Fatal("no room should be created")
	}
}

func TestLeaveBoardAcksAndRemoves(t *testing.T) {
	store := newMockStore()
	store.boards["board-1"] = domain.Board{ID: "board-1", Owner: "alice"}
	gw, hub := newTestGateway(store)
	alice := testConn("conn-a", "alice")

	gw.dispatch(alice, inbound(t, domain.EventJoinBoard, domain.RoomRequest{BoardID: "board-1"}))
	joinAck(t, alice)

	gw.dispatch(alice, inbound(t, domain.EventLeaveBoard, domain.RoomRequest{BoardID: "board-1"}))
	env := frameEnvelope(t, alice)
	if env.Event != domain.EventBoardLeft {
		t.Fatalf("expected %s, got %s", domain.EventBoardLeft, env.Event)
	}
	if hub.Member("board-1", alice) {
		t.Fatal("expected membership revoked")
	}
}

func TestTaskMovedPersistsAndRelaysToPeersOnly(t *testing.T) {
	store := newMockStore()
	store.boards["board-1"] = domain.Board{ID: "board-1", Owner: "alice", Members: []string{"alice", "bob"}}
	store.tasks["t1"] = domain.Task{ID: "t1", BoardID: "board-1", Status: domain.StatusTodo, Position: 0}
	gw, _ := newTestGateway(store)

	alice := testConn("conn-a", "alice")
	bob := testConn("conn-b", "bob")
	for _, c := range []*Conn{alice, bob} {
		gw.dispatch(c, inbound(t, domain.EventJoinBoard, domain.RoomRequest{BoardID: "board-1"}))
		joinAck(t, c)
	}

	move := domain.TaskMovedEvent{BoardID: "board-1", TaskID: "t1", NewStatus: domain.StatusDone, NewPosition: 2}
	gw.dispatch(alice, inbound(t, domain.EventTaskMoved, move))

	env := frameEnvelope(t, bob)
	if env.Event != domain.EventTaskMoved {
		t.Fatalf("expected %s, got %s", domain.EventTaskMoved, env.Event)
	}
	var got domain.TaskMovedEvent
	if err := decodeData(env, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != move {
		t.Fatalf("relayed fields differ: %+v", got)
	}
	assertSilent(t, alice)

	stored := store.task(t, "t1")
	if stored.Status != domain.StatusDone || stored.Position != 2 {
		t.Fatalf("move not persisted: %+v", stored)
	}
}

func TestTaskMovedSamePlacementIsSilent(t *testing.T) {
	store := newMockStore()
	store.boards["board-1"] = domain.Board{ID: "board-1", Owner: "alice", Members: []string{"alice", "bob"}}
	store.tasks["t1"] = domain.Task{ID: "t1", BoardID: "board-1", Status: domain.StatusTodo, Position: 1}
	gw, _ := newTestGateway(store)

	alice := testConn("conn-a", "alice")
	bob := testConn("conn-b", "bob")
	for _, c := range []*Conn{alice, bob} {
		gw.dispatch(c, inbound(t, domain.EventJoinBoard, domain.RoomRequest{BoardID: "board-1"}))
		joinAck(t, c)
	}

	move := domain.TaskMovedEvent{BoardID: "board-1", TaskID: "t1", NewStatus: domain.StatusTodo, NewPosition: 1}
	gw.dispatch(alice, inbound(t, domain.EventTaskMoved, move))

	if store.updateCount() != 0 {
		t.Fatal("same placement must not write")
	}
	assertSilent(t, bob)
}

func TestTaskMovedDroppedWhenPersistFails(t *testing.T) {
	store := newMockStore()
	store.boards["board-1"] = domain.Board{ID: "board-1", Owner: "alice", Members: []string{"alice", "bob"}}
	store.tasks["t1"] = domain.Task{ID: "t1", BoardID: "board-1", Status: domain.StatusTodo}
	store.failUpdate = errors.New("table throttled")
	gw, _ := newTestGateway(store)

	alice := testConn("conn-a", "alice")
	bob := testConn("conn-b", "bob")
	for _, c := range []*Conn{alice, bob} {
		gw.dispatch(c, inbound(t, domain.EventJoinBoard, domain.RoomRequest{BoardID: "board-1"}))
		joinAck(t, c)
	}

	move := domain.TaskMovedEvent{BoardID: "board-1", TaskID: "t1", NewStatus: domain.StatusDone, NewPosition: 0}
	gw.dispatch(alice, inbound(t, domain.EventTaskMoved, move))

	assertSilent(t, bob)
}

func TestTaskMovedRejectsInvalidFields(t *testing.T) {
	store := newMockStore()
	store.tasks["t1"] = domain.Task{ID: "t1", BoardID: "board-1"}
	gw, _ := newTestGateway(store)
	alice := testConn("conn-a", "alice")

	cases := []domain.TaskMovedEvent{
		{BoardID: "board-1", TaskID: "t1", NewStatus: "archived", NewPosition: 0},
		{BoardID: "board-1", TaskID: "t1", NewStatus: domain.StatusDone, NewPosition: -1},
		{BoardID: "", TaskID: "t1", NewStatus: domain.StatusDone, NewPosition: 0},
		{BoardID: "board-1", TaskID: "", NewStatus: domain.StatusDone, NewPosition: 0},
	}
	for _, move := range cases {
		gw.dispatch(alice, inbound(t, domain.EventTaskMoved, move))
	}
	if store.updateCount() != 0 {
		t.Fatal("invalid moves must not write")
	}
}

func TestRelayTypingStripsBoardID(t *testing.T) {
	store := newMockStore()
	store.boards["board-1"] = domain.Board{ID: "board-1", Owner: "alice", Members: []string{"alice", "bob"}}
	gw, _ := newTestGateway(store)

	alice := testConn("conn-a", "alice")
	bob := testConn("conn-b", "bob")
	for _, c := range []*Conn{alice, bob} {
		gw.dispatch(c, inbound(t, domain.EventJoinBoard, domain.RoomRequest{BoardID: "board-1"}))
		joinAck(t, c)
	}

	gw.dispatch(alice, inbound(t, domain.EventUserTyping, domain.TypingEvent{BoardID: "board-1", UserID: "alice", UserName: "Alice"}))

	env := frameEnvelope(t, bob)
	var typing domain.TypingEvent
	if err := decodeData(env, &typing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if typing.BoardID != "" {
		t.Fatalf("board id must not be relayed, got %q", typing.BoardID)
	}
	if typing.UserID != "alice" || typing.UserName != "Alice" {
		t.Fatalf("unexpected typing payload: %+v", typing)
	}
}

func TestHandshakeRejectsInvalidToken(t *testing.T) {
	gw, _ := newTestGateway(newMockStore())
	e := echo.New()
	gw.Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=forged", nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	_, resp, err = websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake failure without credential")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestSocketEndToEndMoveFanout(t *testing.T) {
	store := newMockStore()
	store.boards["board-1"] = domain.Board{ID: "board-1", Owner: "alice", Members: []string{"alice", "bob"}}
	store.tasks["t1"] = domain.Task{ID: "t1", BoardID: "board-1", Status: domain.StatusTodo, Position: 0}
	gw, _ := newTestGateway(store)

	e := echo.New()
	gw.Register(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	dial := func(token string) *websocket.Conn {
		ws, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		t.Cleanup(func() { _ = ws.Close() })
		return ws
	}
	readEnvelope := func(ws *websocket.Conn) Envelope {
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		env, err := decodeEnvelope(raw)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return env
	}
	writeEvent := func(ws *websocket.Conn, event string, data any) {
		frame, err := encodeEnvelope(event, data)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	alice := dial("alice-token")
	bob := dial("bob-token")

	for _, ws := range []*websocket.Conn{alice, bob} {
		writeEvent(ws, domain.EventJoinBoard, domain.RoomRequest{BoardID: "board-1"})
		env := readEnvelope(ws)
		var ack domain.RoomAck
		if err := decodeData(env, &ack); err != nil || !ack.Success {
			t.Fatalf("join failed: %+v err=%v", ack, err)
		}
	}

	move := domain.TaskMovedEvent{BoardID: "board-1", TaskID: "t1", NewStatus: domain.StatusInProgress, NewPosition: 1}
	writeEvent(alice, domain.EventTaskMoved, move)

	env := readEnvelope(bob)
	if env.Event != domain.EventTaskMoved {
		t.Fatalf("expected task-moved, got %s", env.Event)
	}
	var got domain.TaskMovedEvent
	if err := decodeData(env, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != move {
		t.Fatalf("relayed fields differ: %+v", got)
	}

	stored := store.task(t, "t1")
	if stored.Status != domain.StatusInProgress || stored.Position != 1 {
		t.Fatalf("move not persisted: %+v", stored)
	}

	// The sender's socket must stay quiet.
	_ = alice.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, raw, err := alice.ReadMessage(); err == nil {
		t.Fatalf("sender unexpectedly received %s", raw)
	}
}
