package collab

import (
	"time"

	"collabBoard/backend/internal/board"
)

const (
	EventStrokeBegun    = "STROKE_BEGUN"
	EventPointsAdded    = "POINTS_ADDED"
	EventStrokeEnded    = "STROKE_ENDED"
	EventStrokeRemoved  = "STROKE_REMOVED"
	EventStrokeRestored = "STROKE_RESTORED"
	EventRoomCleared    = "ROOM_CLEARED"
)

// BoardEvent 每次被 Authority 应用的变更都会产出一条，发往 Kafka 供下游消费
type BoardEvent struct {
	EventType string `json:"eventType"`
	RoomID    string `json:"roomId"`
	// Authority 全局顺序号，即规范顺序
	Seq       uint64        `json:"seq"`
	StrokeID  string        `json:"strokeId,omitempty"`
	UserID    string        `json:"userId,omitempty"`
	Tool      board.Tool    `json:"tool,omitempty"`
	Color     string        `json:"color,omitempty"`
	Size      float64       `json:"size,omitempty"`
	Points    []board.Point `json:"points,omitempty"`
	AppliedAt time.Time     `json:"appliedAt"`
}
