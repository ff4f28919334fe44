package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Hub is the board-room registry: a concurrency-safe map from board ID to
// the set of connections subscribed to that board's events. Rooms exist only
// while they have members; join, leave and drop are the only mutators.
//
// When a Redis client is supplied, every broadcast is also published to a
// pub/sub channel so sibling instances can relay it to their own local room
// members. Without Redis, fanout is local to this process.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Conn]struct{}

	logger     *log.Logger
	redis      *redis.Client
	channel    string
	instanceID string
}

// bridgeFrame is the cross-instance relay message. Origin prevents an
// instance from re-delivering its own broadcasts.
type bridgeFrame struct {
	Origin string `json:"origin"`
	Room   string `json:"room"`
	Frame  []byte `json:"frame"`
}

// NewHub creates a hub. rc may be nil for single-instance deployments.
func NewHub(logger *log.Logger, rc *redis.Client, channel, instanceID string) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Conn]struct{}),
		logger:     logger,
		redis:      rc,
		channel:    channel,
		instanceID: instanceID,
	}
}

// Join adds the connection to a board room. Joining twice is a no-op.
func (h *Hub) Join(boardID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[boardID]
	if !ok {
		room = make(map[*Conn]struct{})
		h.rooms[boardID] = room
	}
	room[c] = struct{}{}
}

// Leave removes the connection from a board room. Leaving a room the
// connection is not in is a no-op.
func (h *Hub) Leave(boardID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[boardID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, boardID)
		}
	}
}

// Drop removes the connection from every room it belongs to. Called on
// transport close; peers are not notified.
func (h *Hub) Drop(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for boardID, room := range h.rooms {
		if _, ok := room[c]; ok {
			delete(room, c)
			if len(room) == 0 {
				delete(h.rooms, boardID)
			}
		}
	}
}

// Member reports whether the connection is currently in the room.
func (h *Hub) Member(boardID string, c *Conn) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[boardID][c]
	return ok
}

// RoomSize returns the current number of members in a room.
func (h *Hub) RoomSize(boardID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[boardID])
}

// Broadcast delivers the frame to every room member except the sender, then
// hands it to sibling instances via the bridge. Delivery is fire-and-forget.
func (h *Hub) Broadcast(boardID string, sender *Conn, frame []byte) {
	h.deliverLocal(boardID, sender, frame)
	h.publishBridge(boardID, frame)
}

func (h *Hub) deliverLocal(boardID string, sender *Conn, frame []byte) {
	h.mu.RLock()
	members := make([]*Conn, 0, len(h.rooms[boardID]))
	for c := range h.rooms[boardID] {
		if c != sender {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range members {
		if !c.enqueue(frame) {
			// A peer that cannot drain its buffer is dropped rather than
			// allowed to stall the broadcast.
			h.logger.WithFields(log.Fields{"conn": c.id, "board": boardID}).Warn("dropping slow connection")
			c.close()
			h.Drop(c)
		}
	}
}

func (h *Hub) publishBridge(boardID string, frame []byte) {
	if h.redis == nil {
		return
	}
	payload, err := sonic.ConfigStd.Marshal(bridgeFrame{
		Origin: h.instanceID,
		Room:   boardID,
		Frame:  frame,
	})
	if err != nil {
		h.logger.Errorf("bridge marshal: %v", err)
		return
	}
	if err := h.redis.Publish(context.Background(), h.channel, payload).Err(); err != nil {
		h.logger.Errorf("bridge publish: %v", err)
	}
}

// RunBridge consumes relay messages published by sibling instances and fans
// them out to local room members. It blocks until ctx is cancelled and
// resubscribes if the pub/sub channel closes.
func (h *Hub) RunBridge(ctx context.Context) {
	if h.redis == nil {
		return
	}
	for {
		sub := h.redis.Subscribe(ctx, h.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var bf bridgeFrame
				if err := sonic.ConfigStd.Unmarshal([]byte(msg.Payload), &bf); err != nil {
					h.logger.Errorf("bridge decode: %v", err)
					continue
				}
				if bf.Origin == h.instanceID {
					continue
				}
				h.deliverLocal(bf.Room, nil, bf.Frame)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		h.logger.Error("bridge channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
