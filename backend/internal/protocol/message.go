package protocol

import "collabBoard/backend/internal/board"

// 消息类型。入站和出站复用同一批名字（begin_stroke/add_points/end_stroke/clear/cursor）
const (
	TypeJoinRoom      = "join_room"
	TypeRoomState     = "room_state"
	TypeBeginStroke   = "begin_stroke"
	TypeAddPoints     = "add_points"
	TypeEndStroke     = "end_stroke"
	TypeUndo          = "undo"
	TypeRedo          = "redo"
	TypeClear         = "clear"
	TypeCursor        = "cursor"
	TypeRemoveStroke  = "remove_stroke"
	TypeRestoreStroke = "restore_stroke"
)

// Envelope 所有入站消息的公共部分：{type, room, ...}
type Envelope struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// ===== 入站（client -> authority） =====

// Inbound 解码后的入站消息
type Inbound interface {
	MessageType() string
	RoomID() string
}

type JoinRoom struct {
	Type   string `json:"type"`
	Room   string `json:"room" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

type BeginStroke struct {
	Type   string           `json:"type"`
	Room   string           `json:"room" validate:"required"`
	Stroke board.StrokeMeta `json:"stroke"`
}

type AddPoints struct {
	Type     string        `json:"type"`
	Room     string        `json:"room" validate:"required"`
	StrokeID string        `json:"strokeId" validate:"required"`
	Points   []board.Point `json:"points"`
}

type EndStroke struct {
	Type     string `json:"type"`
	Room     string `json:"room" validate:"required"`
	StrokeID string `json:"strokeId" validate:"required"`
}

type Undo struct {
	Type   string `json:"type"`
	Room   string `json:"room" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

type Redo struct {
	Type   string `json:"type"`
	Room   string `json:"room" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

type Clear struct {
	Type string `json:"type"`
	Room string `json:"room" validate:"required"`
}

type Cursor struct {
	Type   string  `json:"type"`
	Room   string  `json:"room" validate:"required"`
	UserID string  `json:"userId" validate:"required"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

func (m JoinRoom) MessageType() string    { return TypeJoinRoom }
func (m BeginStroke) MessageType() string { return TypeBeginStroke }
func (m AddPoints) MessageType() string   { return TypeAddPoints }
func (m EndStroke) MessageType() string   { return TypeEndStroke }
func (m Undo) MessageType() string        { return TypeUndo }
func (m Redo) MessageType() string        { return TypeRedo }
func (m Clear) MessageType() string       { return TypeClear }
func (m Cursor) MessageType() string      { return TypeCursor }

func (m JoinRoom) RoomID() string    { return m.Room }
func (m BeginStroke) RoomID() string { return m.Room }
func (m AddPoints) RoomID() string   { return m.Room }
func (m EndStroke) RoomID() string   { return m.Room }
func (m Undo) RoomID() string        { return m.Room }
func (m Redo) RoomID() string        { return m.Room }
func (m Clear) RoomID() string       { return m.Room }
func (m Cursor) RoomID() string      { return m.Room }

// ===== 出站（authority -> client） =====

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

type RoomStateMessage struct {
	Type  string          `json:"type"` // 固定 "room_state"
	State board.RoomState `json:"state"`
}

// StrokeBegunMessage 广播给房间内所有连接（包括发起者，发起者靠它拿到规范 id）
type StrokeBegunMessage struct {
	Type   string       `json:"type"` // 固定 "begin_stroke"，points 总是空的
	Stroke board.Stroke `json:"stroke"`
}

type PointsAddedMessage struct {
	Type     string        `json:"type"` // 固定 "add_points"，最多 200 个点
	StrokeID string        `json:"strokeId"`
	Points   []board.Point `json:"points"`
}

type StrokeEndedMessage struct {
	Type     string `json:"type"` // 固定 "end_stroke"
	StrokeID string `json:"strokeId"`
}

type StrokeRemovedMessage struct {
	Type     string `json:"type"` // 固定 "remove_stroke"
	StrokeID string `json:"strokeId"`
}

// StrokeRestoredMessage 携带完整笔画（包含已累积的点）
type StrokeRestoredMessage struct {
	Type   string       `json:"type"` // 固定 "restore_stroke"
	Stroke board.Stroke `json:"stroke"`
}

type ClearedMessage struct {
	Type string `json:"type"` // 固定 "clear"
}

// CursorMessage x/y 不能 omitempty，0 是合法坐标
type CursorMessage struct {
	Type   string  `json:"type"` // 固定 "cursor"
	UserID string  `json:"userId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

func (m RoomStateMessage) MessageType() string      { return m.Type }
func (m StrokeBegunMessage) MessageType() string    { return m.Type }
func (m PointsAddedMessage) MessageType() string    { return m.Type }
func (m StrokeEndedMessage) MessageType() string    { return m.Type }
func (m StrokeRemovedMessage) MessageType() string  { return m.Type }
func (m StrokeRestoredMessage) MessageType() string { return m.Type }
func (m ClearedMessage) MessageType() string        { return m.Type }
func (m CursorMessage) MessageType() string         { return m.Type }

// ServerMessage 客户端解码出站消息用的“并集”结构，按 Type 取对应字段
type ServerMessage struct {
	Type     string           `json:"type"`
	State    *board.RoomState `json:"state,omitempty"`
	Stroke   *board.Stroke    `json:"stroke,omitempty"`
	StrokeID string           `json:"strokeId,omitempty"`
	Points   []board.Point    `json:"points,omitempty"`
	UserID   string           `json:"userId,omitempty"`
	X        float64          `json:"x"`
	Y        float64          `json:"y"`
}
