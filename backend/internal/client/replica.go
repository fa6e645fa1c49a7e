package client

import (
	"context"
	"errors"
	"log"
	"sync"

	"collabBoard/backend/internal/board"
	"collabBoard/backend/internal/protocol"
)

var ErrStrokeInProgress = errors.New("stroke already in progress")

// State 本地正在画的笔画的状态
type State int

const (
	Idle State = iota
	// 已发 begin_stroke，还没收到服务端回显（没有规范 id）
	Pending
	// 已绑定规范 id
	Bound
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Bound:
		return "bound"
	default:
		return "idle"
	}
}

// Sender 把请求发给 Authority
type Sender interface {
	Send(msg protocol.Inbound) error
}

// Renderer 绘制面。DrawSegments 只画 from 之后新增的线段；Redraw 全量重绘
type Renderer interface {
	DrawSegments(s board.Stroke, from int)
	Redraw(strokes []board.Stroke)
}

// Finisher 可选：收到 end_stroke 时通知渲染端
type Finisher interface {
	FinishStroke(s board.Stroke)
}

// CursorRenderer 可选：其他用户的光标
type CursorRenderer interface {
	MoveCursor(userID string, x, y float64)
}

type Cursor struct {
	X, Y float64
}

// Replica 一个连接上的本地镜像 + 笔画状态机（Idle -> Pending -> Bound -> Idle）。
// mu 串行化本地输入、定时 flush 和服务端事件，所以 buffer 的“取走再换新”是原子的。
type Replica struct {
	mu sync.Mutex

	roomID   string
	userID   string
	sender   Sender
	renderer Renderer

	// 按创建顺序的镜像
	strokes []*board.Stroke
	index   map[string]*board.Stroke

	state     State
	ephemeral *board.Stroke // Pending 时的本地笔画，没有 id
	current   *board.Stroke // Bound 时的规范笔画
	buffer    []board.Point // 待发送的点
	bound     chan struct{}

	cursors map[string]Cursor
	synced  chan struct{}
}

func NewReplica(roomID, userID string, sender Sender, renderer Renderer) *Replica {
	return &Replica{
		roomID:   roomID,
		userID:   userID,
		sender:   sender,
		renderer: renderer,
		index:    make(map[string]*board.Stroke),
		cursors:  make(map[string]Cursor),
		synced:   make(chan struct{}),
	}
}

func (r *Replica) RoomID() string { return r.roomID }
func (r *Replica) UserID() string { return r.userID }

func (r *Replica) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Join 发送 join_room。重连后再调一次即可拿到全量快照重新同步
func (r *Replica) Join() error {
	return r.sender.Send(protocol.JoinRoom{Type: protocol.TypeJoinRoom, Room: r.roomID, UserID: r.userID})
}

// WaitSynced 等待第一份 room_state
func (r *Replica) WaitSynced(ctx context.Context) error {
	select {
	case <-r.synced:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitBound 等当前笔画拿到规范 id；不在 Pending 时立即返回
func (r *Replica) WaitBound(ctx context.Context) error {
	r.mu.Lock()
	ch := r.bound
	r.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartStroke Idle -> Pending。起点立即画出并进入缓冲
func (r *Replica) StartStroke(meta board.StrokeMeta, p board.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return ErrStrokeInProgress
	}
	r.ephemeral = &board.Stroke{
		AuthorID: r.userID,
		Color:    meta.Color,
		Size:     meta.Size,
		Tool:     meta.Tool,
		Points:   []board.Point{p},
	}
	r.buffer = []board.Point{p}
	r.state = Pending
	r.bound = make(chan struct{})
	r.draw(*r.ephemeral, 0)
	return r.sender.Send(protocol.BeginStroke{Type: protocol.TypeBeginStroke, Room: r.roomID, Stroke: meta})
}

// AddPoint 本地输入的新点
func (r *Replica) AddPoint(p board.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s *board.Stroke
	switch r.state {
	case Pending:
		s = r.ephemeral
	case Bound:
		s = r.current
	default:
		return
	}
	s.Points = append(s.Points, p)
	r.buffer = append(r.buffer, p)
	r.draw(*s, len(s.Points)-1)
}

// Flush 定时调用。只有 Bound 才发送；Pending 时继续攒着
func (r *Replica) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Replica) flushLocked() error {
	if r.state != Bound || len(r.buffer) == 0 {
		return nil
	}
	batch := r.buffer
	r.buffer = nil
	sent, err := r.sendPoints(r.current.ID, batch)
	if err != nil {
		// 没发出去的点留在缓冲里，连上之后的快照会把它们补回镜像，下一次 flush 再发
		r.buffer = batch[sent:]
	}
	return err
}

// sendPoints 按服务端上限分块发送，避免被截断。返回已发出的点数
func (r *Replica) sendPoints(strokeID string, points []board.Point) (int, error) {
	sent := 0
	for sent < len(points) {
		n := min(len(points)-sent, board.MaxPointsPerBatch)
		chunk := points[sent : sent+n : sent+n]
		err := r.sender.Send(protocol.AddPoints{Type: protocol.TypeAddPoints, Room: r.roomID, StrokeID: strokeID, Points: chunk})
		if err != nil {
			return sent, err
		}
		sent += n
	}
	return sent, nil
}

// EndStroke 结束本地笔画。
// Bound：先 flush 再发 end_stroke。Pending：回显还没到，缓冲的点直接丢弃。
func (r *Replica) EndStroke() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case Bound:
		err := r.flushLocked()
		s := r.current
		r.reset()
		if err != nil {
			return err
		}
		if f, ok := r.renderer.(Finisher); ok {
			f.FinishStroke(*s)
		}
		return r.sender.Send(protocol.EndStroke{Type: protocol.TypeEndStroke, Room: r.roomID, StrokeID: s.ID})
	case Pending:
		log.Printf("stroke ended before begin echo (room=%s, user=%s): discard %d points", r.roomID, r.userID, len(r.buffer))
		r.reset()
		r.redraw()
	}
	return nil
}

// detach 正在画的规范笔画已被服务端清掉或撤销：放弃它，后续输入不再绘制也不再发送
func (r *Replica) detach() {
	log.Printf("stroke %s dropped by authority while drawing (room=%s, user=%s)", r.current.ID, r.roomID, r.userID)
	r.reset()
}

func (r *Replica) reset() {
	r.state = Idle
	r.ephemeral = nil
	r.current = nil
	r.buffer = nil
	if r.bound != nil {
		close(r.bound)
		r.bound = nil
	}
}

func (r *Replica) Undo() error {
	return r.sender.Send(protocol.Undo{Type: protocol.TypeUndo, Room: r.roomID, UserID: r.userID})
}

func (r *Replica) Redo() error {
	return r.sender.Send(protocol.Redo{Type: protocol.TypeRedo, Room: r.roomID, UserID: r.userID})
}

func (r *Replica) Clear() error {
	return r.sender.Send(protocol.Clear{Type: protocol.TypeClear, Room: r.roomID})
}

// MoveCursor 光标不攒批，每次移动立即发送
func (r *Replica) MoveCursor(x, y float64) error {
	return r.sender.Send(protocol.Cursor{Type: protocol.TypeCursor, Room: r.roomID, UserID: r.userID, X: x, Y: y})
}

// Apply 处理一条服务端消息
func (r *Replica) Apply(msg protocol.ServerMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch msg.Type {
	case protocol.TypeRoomState:
		if msg.State != nil {
			r.applyState(*msg.State)
		}
	case protocol.TypeBeginStroke:
		if msg.Stroke != nil {
			r.applyBegin(*msg.Stroke)
		}
	case protocol.TypeAddPoints:
		s, ok := r.index[msg.StrokeID]
		if !ok || s.Removed {
			return
		}
		from := len(s.Points)
		s.Points = append(s.Points, msg.Points...)
		r.draw(*s, from)
	case protocol.TypeEndStroke:
		if s, ok := r.index[msg.StrokeID]; ok {
			if f, ok := r.renderer.(Finisher); ok {
				f.FinishStroke(*s)
			}
		}
	case protocol.TypeRemoveStroke:
		if s, ok := r.index[msg.StrokeID]; ok {
			s.Removed = true
			if r.state == Bound && r.current.ID == msg.StrokeID {
				r.detach()
			}
			r.redraw()
		}
	case protocol.TypeRestoreStroke:
		if msg.Stroke != nil {
			r.applyRestore(*msg.Stroke)
		}
	case protocol.TypeClear:
		r.strokes = nil
		r.index = make(map[string]*board.Stroke)
		if r.state == Bound {
			r.detach()
		}
		r.redraw()
	case protocol.TypeCursor:
		r.cursors[msg.UserID] = Cursor{X: msg.X, Y: msg.Y}
		if cr, ok := r.renderer.(CursorRenderer); ok {
			cr.MoveCursor(msg.UserID, msg.X, msg.Y)
		}
	}
}

func (r *Replica) applyBegin(s board.Stroke) {
	if _, ok := r.index[s.ID]; ok {
		return
	}
	if s.AuthorID == r.userID && r.state == Pending && r.ephemeral != nil {
		r.bind(s)
		return
	}
	r.insert(s.Clone())
}

// bind Pending -> Bound：绑定规范 id，回放缓冲的点并一次性发出
func (r *Replica) bind(s board.Stroke) {
	canonical := s.Clone()
	canonical.Points = append(canonical.Points, r.buffer...)
	p := r.insert(canonical)
	r.current = p
	r.ephemeral = nil
	r.state = Bound
	if r.bound != nil {
		close(r.bound)
		r.bound = nil
	}
	r.draw(*p, 0)
	if err := r.flushLocked(); err != nil {
		log.Printf("send buffered points (stroke=%s): %v", p.ID, err)
	}
}

func (r *Replica) applyRestore(s board.Stroke) {
	restored := s.Clone()
	restored.Removed = false
	if old, ok := r.index[s.ID]; ok {
		*old = restored
		if r.current != nil && r.current.ID == s.ID {
			r.current = old
		}
	} else {
		r.insert(restored)
	}
	r.redraw()
}

// applyState 整体替换镜像。正在画的规范笔画要把还没发出的点补回去
func (r *Replica) applyState(state board.RoomState) {
	r.strokes = make([]*board.Stroke, 0, len(state.Strokes))
	r.index = make(map[string]*board.Stroke, len(state.Strokes))
	for i := range state.Strokes {
		r.insert(state.Strokes[i].Clone())
	}
	if r.state == Bound {
		if s, ok := r.index[r.current.ID]; ok {
			s.Points = append(s.Points, r.buffer...)
			r.current = s
		} else {
			r.reset()
		}
	}
	select {
	case <-r.synced:
	default:
		close(r.synced)
	}
	r.redraw()
}

func (r *Replica) insert(s board.Stroke) *board.Stroke {
	p := &s
	r.strokes = append(r.strokes, p)
	r.index[s.ID] = p
	return p
}

func (r *Replica) draw(s board.Stroke, from int) {
	if r.renderer != nil {
		r.renderer.DrawSegments(s, from)
	}
}

func (r *Replica) redraw() {
	if r.renderer != nil {
		r.renderer.Redraw(r.visibleLocked())
	}
}

// visibleLocked 未删除的笔画，Pending 的本地笔画排在最后
func (r *Replica) visibleLocked() []board.Stroke {
	out := make([]board.Stroke, 0, len(r.strokes)+1)
	for _, s := range r.strokes {
		if !s.Removed {
			out = append(out, s.Clone())
		}
	}
	if r.state == Pending && r.ephemeral != nil {
		out = append(out, r.ephemeral.Clone())
	}
	return out
}

// Strokes 当前可见笔画（拷贝）
func (r *Replica) Strokes() []board.Stroke {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visibleLocked()
}

func (r *Replica) Cursors() map[string]Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Cursor, len(r.cursors))
	for k, v := range r.cursors {
		out[k] = v
	}
	return out
}
