package domain

// Realtime event names shared by the gateway and the sync client.
const (
	EventJoinBoard   = "join-board"
	EventLeaveBoard  = "leave-board"
	EventBoardJoined = "board-joined"
	EventBoardLeft   = "board-left"
	EventTaskCreated = "task-created"
	EventTaskUpdated = "task-updated"
	EventTaskDeleted = "task-deleted"
	EventTaskMoved   = "task-moved"
	EventUserTyping  = "user-typing"
)

// RoomRequest is the payload of join-board and leave-board.
type RoomRequest struct {
	BoardID string `json:"boardId"`
}

// RoomAck is sent back to the requesting connection only.
type RoomAck struct {
	BoardID string `json:"boardId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TaskEvent carries a full task record for task-created and task-updated.
type TaskEvent struct {
	BoardID string `json:"boardId"`
	Task    Task   `json:"task"`
}

// TaskDeletedEvent identifies a removed task.
type TaskDeletedEvent struct {
	BoardID string `json:"boardId"`
	TaskID  string `json:"taskId"`
}

// TaskMovedEvent is both a persistence trigger and a relay payload. The
// position is the literal index the dragging client chose.
type TaskMovedEvent struct {
	BoardID     string `json:"boardId"`
	TaskID      string `json:"taskId"`
	NewStatus   Status `json:"newStatus"`
	NewPosition int    `json:"newPosition"`
}

// TypingEvent is the ephemeral presence hint relayed to room peers.
type TypingEvent struct {
	BoardID  string `json:"boardId,omitempty"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}
