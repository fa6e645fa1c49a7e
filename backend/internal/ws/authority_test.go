package ws

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"collabBoard/backend/internal/board"
	"collabBoard/backend/internal/collab"
	"collabBoard/backend/internal/protocol"
)

func newTestAuthority(opt Options) *Authority {
	n := 0
	reg := board.NewRegistry(board.WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("S%d", n)
	}))
	return NewAuthority(reg, opt)
}

// attach 不经过 websocket，直接登记一个连接
func attach(a *Authority, id string) *Conn {
	c := NewConn(id, nil, a, 64)
	a.hub.Add(c)
	return c
}

// drain 取出连接队列里已有的全部消息
func drain(t *testing.T, c *Conn) []protocol.ServerMessage {
	t.Helper()
	var out []protocol.ServerMessage
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return out
			}
			msg, err := protocol.DecodeServerMessage(b)
			if err != nil {
				t.Fatalf("DecodeServerMessage(%s) error = %v", b, err)
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func join(t *testing.T, a *Authority, c *Conn, room, user string) board.RoomState {
	t.Helper()
	a.handle(c, protocol.JoinRoom{Type: protocol.TypeJoinRoom, Room: room, UserID: user})
	msgs := drain(t, c)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeRoomState || msgs[0].State == nil {
		t.Fatalf("join %s/%s got %+v, want one room_state", room, user, msgs)
	}
	return *msgs[0].State
}

var pen = board.StrokeMeta{Color: "#000000", Size: 2, Tool: board.ToolPen}

func TestAuthority_EndToEndScenario(t *testing.T) {
	a := newTestAuthority(Options{})
	u1, u2 := attach(a, "c1"), attach(a, "c2")
	join(t, a, u1, "r", "U1")
	join(t, a, u2, "r", "U2")

	// begin_stroke 回显给所有人，包括发起者
	a.handle(u1, protocol.BeginStroke{Type: protocol.TypeBeginStroke, Room: "r", Stroke: pen})
	for _, c := range []*Conn{u1, u2} {
		msgs := drain(t, c)
		if len(msgs) != 1 || msgs[0].Type != protocol.TypeBeginStroke || msgs[0].Stroke.ID != "S1" {
			t.Fatalf("%s begin echo = %+v", c.ID(), msgs)
		}
		if msgs[0].Stroke.AuthorID != "U1" || len(msgs[0].Stroke.Points) != 0 {
			t.Fatalf("%s begin echo stroke = %+v", c.ID(), msgs[0].Stroke)
		}
	}

	pts := []board.Point{{X: 0, Y: 0, T: 1}, {X: 5, Y: 5, T: 2}}
	a.handle(u1, protocol.AddPoints{Type: protocol.TypeAddPoints, Room: "r", StrokeID: "S1", Points: pts})
	if msgs := drain(t, u1); len(msgs) != 0 {
		t.Fatalf("sender received its own add_points: %+v", msgs)
	}
	msgs := drain(t, u2)
	if len(msgs) != 1 || msgs[0].Type != protocol.TypeAddPoints || !reflect.DeepEqual(msgs[0].Points, pts) {
		t.Fatalf("U2 add_points = %+v", msgs)
	}

	a.handle(u1, protocol.Undo{Type: protocol.TypeUndo, Room: "r", UserID: "U1"})
	for _, c := range []*Conn{u1, u2} {
		msgs := drain(t, c)
		if len(msgs) != 1 || msgs[0].Type != protocol.TypeRemoveStroke || msgs[0].StrokeID != "S1" {
			t.Fatalf("%s undo = %+v", c.ID(), msgs)
		}
	}

	a.handle(u1, protocol.Redo{Type: protocol.TypeRedo, Room: "r", UserID: "U1"})
	for _, c := range []*Conn{u1, u2} {
		msgs := drain(t, c)
		if len(msgs) != 1 || msgs[0].Type != protocol.TypeRestoreStroke || msgs[0].Stroke == nil {
			t.Fatalf("%s redo = %+v", c.ID(), msgs)
		}
		if msgs[0].Stroke.ID != "S1" || !reflect.DeepEqual(msgs[0].Stroke.Points, pts) || msgs[0].Stroke.Removed {
			t.Fatalf("%s restored stroke = %+v", c.ID(), msgs[0].Stroke)
		}
	}
}

func TestAuthority_TruncatedBatchIsBroadcast(t *testing.T) {
	a := newTestAuthority(Options{})
	u1, u2 := attach(a, "c1"), attach(a, "c2")
	join(t, a, u1, "r", "U1")
	join(t, a, u2, "r", "U2")
	a.handle(u1, protocol.BeginStroke{Type: protocol.TypeBeginStroke, Room: "r", Stroke: pen})
	drain(t, u1)
	drain(t, u2)

	pts := make([]board.Point, 250)
	for i := range pts {
		pts[i] = board.Point{X: float64(i), Y: float64(i), T: int64(i)}
	}
	a.handle(u1, protocol.AddPoints{Type: protocol.TypeAddPoints, Room: "r", StrokeID: "S1", Points: pts})
	msgs := drain(t, u2)
	if len(msgs) != 1 || len(msgs[0].Points) != board.MaxPointsPerBatch {
		t.Fatalf("broadcast batch = %+v", msgs)
	}
	if msgs[0].Points[199].X != 199 {
		t.Fatalf("last broadcast point = %+v, want index 199", msgs[0].Points[199])
	}
	state := join(t, a, u2, "r", "U2")
	if len(state.Strokes[0].Points) != board.MaxPointsPerBatch {
		t.Fatalf("stored points = %d, want 200", len(state.Strokes[0].Points))
	}
}

func TestAuthority_ReferenceMissIsSilent(t *testing.T) {
	a := newTestAuthority(Options{})
	u1, u2 := attach(a, "c1"), attach(a, "c2")
	join(t, a, u1, "r", "U1")
	join(t, a, u2, "r", "U2")

	a.handle(u1, protocol.AddPoints{Type: protocol.TypeAddPoints, Room: "r", StrokeID: "missing", Points: []board.Point{{X: 1}}})
	a.handle(u1, protocol.Undo{Type: protocol.TypeUndo, Room: "r", UserID: "U1"})
	a.handle(u1, protocol.Redo{Type: protocol.TypeRedo, Room: "r", UserID: "U1"})
	for _, c := range []*Conn{u1, u2} {
		if msgs := drain(t, c); len(msgs) != 0 {
			t.Fatalf("%s got %+v, want nothing", c.ID(), msgs)
		}
	}
	if a.seq != 0 {
		t.Fatalf("seq = %d after no-ops, want 0", a.seq)
	}
}

func TestAuthority_JoinTwiceReturnsIdenticalSnapshots(t *testing.T) {
	a := newTestAuthority(Options{})
	u1 := attach(a, "c1")
	join(t, a, u1, "r", "U1")
	a.handle(u1, protocol.BeginStroke{Type: protocol.TypeBeginStroke, Room: "r", Stroke: pen})
	a.handle(u1, protocol.AddPoints{Type: protocol.TypeAddPoints, Room: "r", StrokeID: "S1", Points: []board.Point{{X: 1, Y: 2, T: 3}}})
	drain(t, u1)

	first := join(t, a, u1, "r", "U1")
	second := join(t, a, u1, "r", "U1")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("snapshots differ:\n%+v\n%+v", first, second)
	}
	if a.hub.RoomSize("r") != 1 {
		t.Fatalf("room size = %d after re-join, want 1", a.hub.RoomSize("r"))
	}
}

func TestAuthority_EndStrokeAndCursorSkipSender(t *testing.T) {
	a := newTestAuthority(Options{})
	u1, u2 := attach(a, "c1"), attach(a, "c2")
	join(t, a, u1, "r", "U1")
	join(t, a, u2, "r", "U2")

	a.handle(u1, protocol.EndStroke{Type: protocol.TypeEndStroke, Room: "r", StrokeID: "S9"})
	a.handle(u1, protocol.Cursor{Type: protocol.TypeCursor, Room: "r", UserID: "U1", X: 0, Y: 7})
	if msgs := drain(t, u1); len(msgs) != 0 {
		t.Fatalf("sender got %+v", msgs)
	}
	msgs := drain(t, u2)
	if len(msgs) != 2 || msgs[0].Type != protocol.TypeEndStroke || msgs[1].Type != protocol.TypeCursor {
		t.Fatalf("U2 got %+v", msgs)
	}
	if msgs[1].UserID != "U1" || msgs[1].X != 0 || msgs[1].Y != 7 {
		t.Fatalf("cursor = %+v", msgs[1])
	}
}

func TestAuthority_ClearBroadcastsToAll(t *testing.T) {
	a := newTestAuthority(Options{})
	u1, u2 := attach(a, "c1"), attach(a, "c2")
	join(t, a, u1, "r", "U1")
	join(t, a, u2, "r", "U2")
	a.handle(u1, protocol.BeginStroke{Type: protocol.TypeBeginStroke, Room: "r", Stroke: pen})
	drain(t, u1)
	drain(t, u2)

	a.handle(u2, protocol.Clear{Type: protocol.TypeClear, Room: "r"})
	for _, c := range []*Conn{u1, u2} {
		msgs := drain(t, c)
		if len(msgs) != 1 || msgs[0].Type != protocol.TypeClear {
			t.Fatalf("%s clear = %+v", c.ID(), msgs)
		}
	}
	a.handle(u1, protocol.Undo{Type: protocol.TypeUndo, Room: "r", UserID: "U1"})
	if msgs := drain(t, u1); len(msgs) != 0 {
		t.Fatalf("undo after clear broadcast %+v", msgs)
	}
}

func TestAuthority_RoomsAreIsolated(t *testing.T) {
	a := newTestAuthority(Options{})
	u1, u2 := attach(a, "c1"), attach(a, "c2")
	join(t, a, u1, "a", "U1")
	join(t, a, u2, "b", "U2")
	a.handle(u1, protocol.BeginStroke{Type: protocol.TypeBeginStroke, Room: "a", Stroke: pen})
	if msgs := drain(t, u2); len(msgs) != 0 {
		t.Fatalf("room b received %+v", msgs)
	}
}

func TestAuthority_DropsMessagesBeforeJoin(t *testing.T) {
	a := newTestAuthority(Options{})
	u1 := attach(a, "c1")
	a.handle(u1, protocol.BeginStroke{Type: protocol.TypeBeginStroke, Room: "r", Stroke: pen})
	if msgs := drain(t, u1); len(msgs) != 0 {
		t.Fatalf("unjoined conn got %+v", msgs)
	}
	if _, ok := a.registry.Lookup("r"); ok {
		t.Fatalf("message from unjoined conn created a room")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []collab.BoardEvent
}

func (s *recordingSink) Enqueue(ctx context.Context, evt collab.BoardEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func TestAuthority_PublishesEventsInOrder(t *testing.T) {
	sink := &recordingSink{}
	a := newTestAuthority(Options{Events: sink})
	u1 := attach(a, "c1")
	join(t, a, u1, "r", "U1")
	a.handle(u1, protocol.BeginStroke{Type: protocol.TypeBeginStroke, Room: "r", Stroke: pen})
	a.handle(u1, protocol.AddPoints{Type: protocol.TypeAddPoints, Room: "r", StrokeID: "S1", Points: []board.Point{{X: 1}}})
	a.handle(u1, protocol.Undo{Type: protocol.TypeUndo, Room: "r", UserID: "U1"})

	want := []string{collab.EventStrokeBegun, collab.EventPointsAdded, collab.EventStrokeRemoved}
	if len(sink.events) != len(want) {
		t.Fatalf("events = %+v", sink.events)
	}
	for i, evt := range sink.events {
		if evt.EventType != want[i] || evt.Seq != uint64(i+1) || evt.RoomID != "r" {
			t.Fatalf("event[%d] = %+v", i, evt)
		}
	}
}

func TestAuthority_RunLoop(t *testing.T) {
	a := newTestAuthority(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)

	c := NewConn("c1", nil, a, 64)
	if err := a.Connect(ctx, c); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, _, err := a.Snapshot(ctx, "r"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Snapshot(unknown) error = %v, want ErrRoomNotFound", err)
	}
	_ = a.Submit(ctx, c, protocol.JoinRoom{Type: protocol.TypeJoinRoom, Room: "r", UserID: "U1"})
	_ = a.Submit(ctx, c, protocol.BeginStroke{Type: protocol.TypeBeginStroke, Room: "r", Stroke: pen})

	state, seq, err := a.Snapshot(ctx, "r")
	if err != nil || len(state.Strokes) != 1 || seq != 1 {
		t.Fatalf("Snapshot() = %+v, %d, %v", state, seq, err)
	}
	rooms, err := a.Rooms(ctx)
	if err != nil || len(rooms) != 1 || rooms[0].Connections != 1 || rooms[0].Strokes != 1 {
		t.Fatalf("Rooms() = %+v, %v", rooms, err)
	}

	cancel()
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatalf("authority did not stop")
	}
	// 停机关闭了发送队列
	timeout := time.After(time.Second)
	for closed := false; !closed; {
		select {
		case _, ok := <-c.send:
			closed = !ok
		case <-timeout:
			t.Fatalf("send queue not closed on shutdown")
		}
	}
	if err := a.Submit(context.Background(), c, protocol.Clear{Type: protocol.TypeClear, Room: "r"}); !errors.Is(err, ErrAuthorityStopped) {
		t.Fatalf("Submit after stop error = %v, want ErrAuthorityStopped", err)
	}
}

func TestAuthority_QueriesReturnNothingOnCancel(t *testing.T) {
	a := newTestAuthority(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// 事件循环没有运行，task 不会执行
	rooms, err := a.Rooms(ctx)
	if !errors.Is(err, context.Canceled) || rooms != nil {
		t.Fatalf("Rooms() = %+v, %v, want nil, context.Canceled", rooms, err)
	}
	if _, _, err := a.Snapshot(ctx, "r"); !errors.Is(err, context.Canceled) {
		t.Fatalf("Snapshot() error = %v, want context.Canceled", err)
	}
}
