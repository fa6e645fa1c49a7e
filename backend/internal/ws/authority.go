package ws

import (
	"context"
	"errors"
	"log"
	"time"

	"collabBoard/backend/internal/board"
	"collabBoard/backend/internal/cache"
	"collabBoard/backend/internal/collab"
	"collabBoard/backend/internal/protocol"
)

var (
	ErrAuthorityStopped = errors.New("authority stopped")
	ErrRoomNotFound     = errors.New("room not found")
)

// EventSink 接收每一次被应用的变更（KafkaDispatcher 实现了它）
type EventSink interface {
	Enqueue(ctx context.Context, evt collab.BoardEvent) error
}

type Options struct {
	InboxSize int
	// 可选：变更事件流
	Events       EventSink
	EventTimeout time.Duration
	// 可选：房间在线成员
	Presence        cache.PresenceCache
	PresenceTTL     time.Duration
	PresenceTimeout time.Duration
	PresenceQueue   int
}

// command 收件箱里的一项。消息、注销和查询走同一个通道，
// 所以同一连接的 join -> 消息 -> 断开 严格按提交顺序处理。
type command struct {
	conn  *Conn
	msg   protocol.Inbound
	leave bool
	task  func()
}

// Authority 唯一持有全部房间状态的事件循环。
// registry 和 hub 只在 Run 所在的 goroutine 里读写，
// 外部一律通过 Submit/Connect/Disconnect/查询方法投递到收件箱。
type Authority struct {
	registry *board.Registry
	hub      *Hub
	inbox    chan command
	done     chan struct{}

	// 全局顺序号，每应用一次变更 +1
	seq uint64

	events       EventSink
	eventTimeout time.Duration

	presence        cache.PresenceCache
	presenceTTL     time.Duration
	presenceTimeout time.Duration
	presenceOps     chan func(ctx context.Context) error

	now func() time.Time
}

func NewAuthority(registry *board.Registry, opt Options) *Authority {
	if opt.InboxSize <= 0 {
		opt.InboxSize = 1024
	}
	if opt.EventTimeout <= 0 {
		opt.EventTimeout = 5 * time.Millisecond
	}
	if opt.PresenceTTL <= 0 {
		opt.PresenceTTL = 60 * time.Second
	}
	if opt.PresenceTimeout <= 0 {
		opt.PresenceTimeout = 500 * time.Millisecond
	}
	if opt.PresenceQueue <= 0 {
		opt.PresenceQueue = 1024
	}
	a := &Authority{
		registry:        registry,
		hub:             NewHub(),
		inbox:           make(chan command, opt.InboxSize),
		done:            make(chan struct{}),
		events:          opt.Events,
		eventTimeout:    opt.EventTimeout,
		presence:        opt.Presence,
		presenceTTL:     opt.PresenceTTL,
		presenceTimeout: opt.PresenceTimeout,
		now:             time.Now,
	}
	if a.presence != nil {
		a.presenceOps = make(chan func(ctx context.Context) error, opt.PresenceQueue)
	}
	return a
}

// Run 事件循环，阻塞直到 ctx 结束。
// 退出时关闭所有连接的发送队列并丢弃房间状态。
func (a *Authority) Run(ctx context.Context) {
	presenceDone := make(chan struct{})
	var refresh <-chan time.Time
	if a.presence != nil {
		go a.presenceLoop(presenceDone)
		ticker := time.NewTicker(a.presenceTTL / 2)
		defer ticker.Stop()
		refresh = ticker.C
	} else {
		close(presenceDone)
	}

	defer func() {
		a.hub.CloseAll()
		a.registry.Close()
		if a.presenceOps != nil {
			close(a.presenceOps)
		}
		<-presenceDone
		close(a.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.inbox:
			a.dispatch(cmd)
		case <-refresh:
			a.refreshPresence()
		}
	}
}

// Done Run 退出后关闭
func (a *Authority) Done() <-chan struct{} { return a.done }

func (a *Authority) enqueue(ctx context.Context, cmd command) error {
	select {
	case <-a.done:
		return ErrAuthorityStopped
	default:
	}
	select {
	case a.inbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return ErrAuthorityStopped
	}
}

// Submit 投递一条已解码的入站消息
func (a *Authority) Submit(ctx context.Context, c *Conn, msg protocol.Inbound) error {
	return a.enqueue(ctx, command{conn: c, msg: msg})
}

// Disconnect 注销连接：离开房间并关闭发送队列
func (a *Authority) Disconnect(ctx context.Context, c *Conn) error {
	return a.enqueue(ctx, command{conn: c, leave: true})
}

// Connect 登记连接，返回 nil 时连接已经在连接表里（之后由 Authority 负责关闭 send）
func (a *Authority) Connect(ctx context.Context, c *Conn) error {
	return a.do(ctx, func() { a.hub.Add(c) })
}

// do 在事件循环里执行 fn 并等待它完成
func (a *Authority) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := a.enqueue(ctx, command{task: func() {
		fn()
		close(finished)
	}}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		// fn 和停机在同一个 goroutine，done 关闭时 fn 要么已执行完要么永远不会执行
		select {
		case <-finished:
			return nil
		default:
			return ErrAuthorityStopped
		}
	}
}

type RoomSummary struct {
	RoomID      string `json:"roomId"`
	Strokes     int    `json:"strokes"`
	Connections int    `json:"connections"`
}

// Rooms 所有房间的概要，按 roomID 排序
func (a *Authority) Rooms(ctx context.Context) ([]RoomSummary, error) {
	var out []RoomSummary
	err := a.do(ctx, func() {
		ids := a.registry.RoomIDs()
		out = make([]RoomSummary, 0, len(ids))
		for _, id := range ids {
			r, _ := a.registry.Lookup(id)
			out = append(out, RoomSummary{RoomID: id, Strokes: r.Len(), Connections: a.hub.RoomSize(id)})
		}
	})
	if err != nil {
		// ctx 取消时 task 可能还在事件循环里写 out
		return nil, err
	}
	return out, nil
}

// Snapshot 房间状态的深拷贝和当时的全局顺序号。只读，不会创建房间。
func (a *Authority) Snapshot(ctx context.Context, roomID string) (board.RoomState, uint64, error) {
	var (
		state board.RoomState
		seq   uint64
		found bool
	)
	err := a.do(ctx, func() {
		r, ok := a.registry.Lookup(roomID)
		if !ok {
			return
		}
		state, seq, found = r.Snapshot(), a.seq, true
	})
	if err != nil {
		return board.RoomState{}, 0, err
	}
	if !found {
		return board.RoomState{}, 0, ErrRoomNotFound
	}
	return state, seq, nil
}

func (a *Authority) dispatch(cmd command) {
	switch {
	case cmd.task != nil:
		cmd.task()
	case cmd.leave:
		a.disconnect(cmd.conn)
	default:
		a.handle(cmd.conn, cmd.msg)
	}
}

func (a *Authority) disconnect(c *Conn) {
	prev, ok := a.hub.Remove(c)
	if !ok {
		return
	}
	if prev.Joined() {
		a.presenceRemove(prev.RoomID, prev.UserID)
	}
}

func (a *Authority) handle(c *Conn, msg protocol.Inbound) {
	cc, ok := a.hub.Context(c)
	if !ok {
		return
	}
	if m, ok := msg.(protocol.JoinRoom); ok {
		a.join(c, cc, m)
		return
	}
	// 未加入房间的连接只能发 join_room
	if !cc.Joined() {
		log.Printf("drop %s from conn=%s: not joined", msg.MessageType(), c.ID())
		return
	}

	// 笔画作者取连接 join 时绑定的 userId；undo/redo/cursor 按协议使用消息里的 userId
	switch m := msg.(type) {
	case protocol.BeginStroke:
		a.beginStroke(c, cc, m)
	case protocol.AddPoints:
		a.addPoints(c, cc, m)
	case protocol.EndStroke:
		a.endStroke(c, cc, m)
	case protocol.Undo:
		a.undo(m)
	case protocol.Redo:
		a.redo(m)
	case protocol.Clear:
		a.clear(cc, m)
	case protocol.Cursor:
		a.broadcast(m.Room, protocol.CursorMessage{Type: protocol.TypeCursor, UserID: m.UserID, X: m.X, Y: m.Y}, c)
	}
}

func (a *Authority) join(c *Conn, cc *ConnContext, m protocol.JoinRoom) {
	if cc.RoomID != m.Room || cc.UserID != m.UserID {
		if cc.Joined() {
			a.presenceRemove(cc.RoomID, cc.UserID)
		}
		a.hub.Join(c, m.Room, m.UserID)
		a.presenceAdd(m.Room, m.UserID)
	}
	room := a.registry.Room(m.Room)
	a.sendTo(c, protocol.RoomStateMessage{Type: protocol.TypeRoomState, State: room.Snapshot()})
}

func (a *Authority) beginStroke(c *Conn, cc *ConnContext, m protocol.BeginStroke) {
	room := a.registry.Room(m.Room)
	s := room.BeginStroke(a.registry.NewStrokeID(), cc.UserID, m.Stroke)
	a.seq++
	// 发起者也会收到，靠它拿到服务端分配的 id
	a.broadcast(m.Room, protocol.StrokeBegunMessage{Type: protocol.TypeBeginStroke, Stroke: s}, nil)
	a.publish(collab.BoardEvent{
		EventType: collab.EventStrokeBegun, RoomID: m.Room, StrokeID: s.ID, UserID: s.AuthorID,
		Tool: s.Tool, Color: s.Color, Size: s.Size,
	})
}

func (a *Authority) addPoints(c *Conn, cc *ConnContext, m protocol.AddPoints) {
	room := a.registry.Room(m.Room)
	applied, ok := room.AddPoints(m.StrokeID, m.Points)
	if !ok {
		return
	}
	a.seq++
	a.broadcast(m.Room, protocol.PointsAddedMessage{Type: protocol.TypeAddPoints, StrokeID: m.StrokeID, Points: applied}, c)
	a.publish(collab.BoardEvent{EventType: collab.EventPointsAdded, RoomID: m.Room, StrokeID: m.StrokeID, UserID: cc.UserID, Points: applied})
}

// end_stroke 不改状态，只转发
func (a *Authority) endStroke(c *Conn, cc *ConnContext, m protocol.EndStroke) {
	a.broadcast(m.Room, protocol.StrokeEndedMessage{Type: protocol.TypeEndStroke, StrokeID: m.StrokeID}, c)
	a.publish(collab.BoardEvent{EventType: collab.EventStrokeEnded, RoomID: m.Room, StrokeID: m.StrokeID, UserID: cc.UserID})
}

func (a *Authority) undo(m protocol.Undo) {
	room := a.registry.Room(m.Room)
	id, ok := room.Undo(m.UserID)
	if !ok {
		return
	}
	a.seq++
	a.broadcast(m.Room, protocol.StrokeRemovedMessage{Type: protocol.TypeRemoveStroke, StrokeID: id}, nil)
	a.publish(collab.BoardEvent{EventType: collab.EventStrokeRemoved, RoomID: m.Room, StrokeID: id, UserID: m.UserID})
}

func (a *Authority) redo(m protocol.Redo) {
	room := a.registry.Room(m.Room)
	s, ok := room.Redo(m.UserID)
	if !ok {
		return
	}
	a.seq++
	a.broadcast(m.Room, protocol.StrokeRestoredMessage{Type: protocol.TypeRestoreStroke, Stroke: s}, nil)
	a.publish(collab.BoardEvent{EventType: collab.EventStrokeRestored, RoomID: m.Room, StrokeID: s.ID, UserID: m.UserID})
}

func (a *Authority) clear(cc *ConnContext, m protocol.Clear) {
	a.registry.Room(m.Room).Clear()
	a.seq++
	a.broadcast(m.Room, protocol.ClearedMessage{Type: protocol.TypeClear}, nil)
	a.publish(collab.BoardEvent{EventType: collab.EventRoomCleared, RoomID: m.Room, UserID: cc.UserID})
}

// broadcast 编码一次，投递给房间内所有连接（exclude 除外）
func (a *Authority) broadcast(roomID string, msg protocol.OutboundMessage, exclude *Conn) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("encode %s error: %v", msg.MessageType(), err)
		return
	}
	a.hub.Broadcast(roomID, payload, exclude)
}

func (a *Authority) sendTo(c *Conn, msg protocol.OutboundMessage) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("encode %s error: %v", msg.MessageType(), err)
		return
	}
	if !c.Enqueue(payload) {
		log.Printf("drop %s to conn=%s: send queue full", msg.MessageType(), c.ID())
	}
}

// publish 把事件交给事件流。只等 eventTimeout，超时丢弃
func (a *Authority) publish(evt collab.BoardEvent) {
	if a.events == nil {
		return
	}
	evt.Seq = a.seq
	evt.AppliedAt = a.now()
	ctx, cancel := context.WithTimeout(context.Background(), a.eventTimeout)
	defer cancel()
	if err := a.events.Enqueue(ctx, evt); err != nil {
		log.Printf("drop board event room=%s type=%s seq=%d: %v", evt.RoomID, evt.EventType, evt.Seq, err)
	}
}

// ===== presence：Redis I/O 全部交给 presenceLoop，按入队顺序串行执行 =====

func (a *Authority) presenceAdd(roomID, userID string) {
	a.presenceDo(func(ctx context.Context) error {
		return a.presence.AddMember(ctx, roomID, userID, a.presenceTTL)
	})
}

func (a *Authority) presenceRemove(roomID, userID string) {
	a.presenceDo(func(ctx context.Context) error {
		return a.presence.RemoveMember(ctx, roomID, userID)
	})
}

func (a *Authority) refreshPresence() {
	for _, cc := range a.hub.Joined() {
		roomID, userID := cc.RoomID, cc.UserID
		a.presenceDo(func(ctx context.Context) error {
			return a.presence.Refresh(ctx, roomID, userID, a.presenceTTL)
		})
	}
}

func (a *Authority) presenceDo(op func(ctx context.Context) error) {
	if a.presence == nil {
		return
	}
	select {
	case a.presenceOps <- op:
	default:
		log.Printf("presence queue full, drop op")
	}
}

func (a *Authority) presenceLoop(done chan<- struct{}) {
	defer close(done)
	for op := range a.presenceOps {
		ctx, cancel := context.WithTimeout(context.Background(), a.presenceTimeout)
		if err := op(ctx); err != nil {
			log.Printf("presence error: %v", err)
		}
		cancel()
	}
}
