package board

import (
	"fmt"
	"reflect"
	"testing"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
}

var pen = StrokeMeta{Color: "#000000", Size: 3, Tool: ToolPen}

func begin(g *Registry, r *Room, user string) Stroke {
	return r.BeginStroke(g.NewStrokeID(), user, pen)
}

func TestRegistry_LazyRoomCreation(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	if _, ok := g.Lookup("r1"); ok {
		t.Fatalf("Lookup() found room before first reference")
	}
	r := g.Room("r1")
	if r2 := g.Room("r1"); r2 != r {
		t.Fatalf("Room() returned a different instance for the same id")
	}
	if g.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", g.Len())
	}
	g.Close()
	if g.Len() != 0 {
		t.Fatalf("Len() after Close = %d, want 0", g.Len())
	}
}

func TestRoom_BeginStrokePushesStack(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	r := g.Room("r")
	s := begin(g, r, "u1")
	if s.ID != "s1" || s.AuthorID != "u1" || s.Points == nil || len(s.Points) != 0 {
		t.Fatalf("BeginStroke() = %+v", s)
	}
	st := r.Snapshot()
	if !reflect.DeepEqual(st.UserStacks["u1"], []string{"s1"}) {
		t.Fatalf("userStacks = %v", st.UserStacks)
	}
}

func TestRoom_PointsConcatenateInArrivalOrder(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	r := g.Room("r")
	s := begin(g, r, "u1")

	batches := [][]Point{
		{{X: 0, Y: 0, T: 5}, {X: 1, Y: 1, T: 1}},
		{{X: 2, Y: 2, T: 3}},
		{{X: 3, Y: 3, T: 2}, {X: 4, Y: 4, T: 9}},
	}
	var want []Point
	for _, b := range batches {
		if _, ok := r.AddPoints(s.ID, b); !ok {
			t.Fatalf("AddPoints() rejected a live stroke")
		}
		want = append(want, b...)
	}
	got, _ := r.Stroke(s.ID)
	if !reflect.DeepEqual(got.Points, want) {
		t.Fatalf("points = %v, want %v", got.Points, want)
	}
}

func TestRoom_AddPointsTruncatesTo200(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	r := g.Room("r")
	s := begin(g, r, "u1")

	batch := make([]Point, 250)
	for i := range batch {
		batch[i] = Point{X: float64(i), Y: float64(i), T: int64(i)}
	}
	applied, ok := r.AddPoints(s.ID, batch)
	if !ok {
		t.Fatalf("AddPoints() = false")
	}
	if len(applied) != MaxPointsPerBatch {
		t.Fatalf("applied %d points, want %d", len(applied), MaxPointsPerBatch)
	}
	got, _ := r.Stroke(s.ID)
	if len(got.Points) != 200 || got.Points[199].X != 199 {
		t.Fatalf("stroke holds %d points, last=%v", len(got.Points), got.Points[len(got.Points)-1])
	}
}

func TestRoom_AddPointsReferenceMiss(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	r := g.Room("r")
	if _, ok := r.AddPoints("missing", []Point{{X: 1}}); ok {
		t.Fatalf("AddPoints() on unknown stroke = true")
	}
	s := begin(g, r, "u1")
	r.Undo("u1")
	before := r.Snapshot()
	if _, ok := r.AddPoints(s.ID, []Point{{X: 1}}); ok {
		t.Fatalf("AddPoints() on tombstoned stroke = true")
	}
	if !reflect.DeepEqual(before, r.Snapshot()) {
		t.Fatalf("state changed on reference miss")
	}
}

func TestRoom_UndoExhaustedIsNoop(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	r := g.Room("r")
	if _, ok := r.Undo("nobody"); ok {
		t.Fatalf("Undo() on empty stack = true")
	}
	begin(g, r, "u1")
	if _, ok := r.Undo("u1"); !ok {
		t.Fatalf("first Undo() = false")
	}
	before := r.Snapshot()
	if _, ok := r.Undo("u1"); ok {
		t.Fatalf("Undo() on exhausted stack = true")
	}
	if !reflect.DeepEqual(before, r.Snapshot()) {
		t.Fatalf("state changed on exhausted undo")
	}
}

func TestRoom_UndoSkipsTombstonedIDs(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	r := g.Room("r")
	a := begin(g, r, "u1")
	b := begin(g, r, "u1")
	// b 先被撤销、再被重做，栈里会留下 [a, b]
	r.Undo("u1")
	r.Redo("u1")
	// 把 a 手动打上墓碑，模拟栈里残留的不可撤销 id
	r.index[a.ID].Removed = true
	id, ok := r.Undo("u1")
	if !ok || id != b.ID {
		t.Fatalf("Undo() = %q,%v want %q", id, ok, b.ID)
	}
	if _, ok := r.Undo("u1"); ok {
		t.Fatalf("Undo() popped an already tombstoned stroke")
	}
}

func TestRoom_UndoRedoRestoresIdenticalPoints(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	r := g.Room("r")
	s := begin(g, r, "u1")
	r.AddPoints(s.ID, []Point{{X: 0.1, Y: 0.2, T: 1}, {X: 5.5, Y: 5.25, T: 2}})
	before, _ := r.Stroke(s.ID)

	if id, ok := r.Undo("u1"); !ok || id != s.ID {
		t.Fatalf("Undo() = %q,%v", id, ok)
	}
	restored, ok := r.Redo("u1")
	if !ok {
		t.Fatalf("Redo() = false")
	}
	if restored.Removed || !reflect.DeepEqual(restored.Points, before.Points) {
		t.Fatalf("restored = %+v, want points %v", restored, before.Points)
	}
	// 重做后再次压栈，下一次撤销还能撤掉它
	if id, ok := r.Undo("u1"); !ok || id != s.ID {
		t.Fatalf("Undo() after redo = %q,%v", id, ok)
	}
}

func TestRoom_RedoPicksMostRecentlyCreated(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	r := g.Room("r")
	a := begin(g, r, "u1")
	b := begin(g, r, "u1")
	c := begin(g, r, "u1")

	if id, _ := r.Undo("u1"); id != c.ID {
		t.Fatalf("first undo removed %q, want %q", id, c.ID)
	}
	if id, _ := r.Undo("u1"); id != b.ID {
		t.Fatalf("second undo removed %q, want %q", id, b.ID)
	}
	got, ok := r.Redo("u1")
	if !ok {
		t.Fatalf("Redo() = false")
	}
	if got.ID != c.ID {
		// 倒序扫描先遇到的是 C（创建顺序最新），而不是最后被撤销的 B
		t.Fatalf("Redo() restored %q, want %q", got.ID, c.ID)
	}
	if got, _ := r.Redo("u1"); got.ID != b.ID {
		t.Fatalf("second Redo() restored %q, want %q", got.ID, b.ID)
	}
	if _, ok := r.Redo("u1"); ok {
		t.Fatalf("Redo() with nothing tombstoned = true")
	}
	if s, _ := r.Stroke(a.ID); s.Removed {
		t.Fatalf("untouched stroke was tombstoned")
	}
}

func TestRoom_RedoIgnoresOtherAuthors(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	r := g.Room("r")
	begin(g, r, "u1")
	begin(g, r, "u2")
	r.Undo("u2")
	if _, ok := r.Redo("u1"); ok {
		t.Fatalf("Redo() restored another user's stroke")
	}
	if s, ok := r.Redo("u2"); !ok || s.AuthorID != "u2" {
		t.Fatalf("Redo(u2) = %+v,%v", s, ok)
	}
}

func TestRoom_ClearDropsHistory(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	r := g.Room("r")
	begin(g, r, "u1")
	begin(g, r, "u2")
	r.Undo("u1")
	r.Clear()

	st := r.Snapshot()
	if len(st.Strokes) != 0 || len(st.UserStacks) != 0 {
		t.Fatalf("Snapshot() after Clear = %+v", st)
	}
	for _, u := range []string{"u1", "u2"} {
		if _, ok := r.Undo(u); ok {
			t.Fatalf("Undo(%s) after Clear = true", u)
		}
		if _, ok := r.Redo(u); ok {
			t.Fatalf("Redo(%s) after Clear = true", u)
		}
	}
}

func TestRoom_SnapshotIsDeepCopy(t *testing.T) {
	g := NewRegistry(WithIDGenerator(seqIDs()))
	r := g.Room("r")
	s := begin(g, r, "u1")
	r.AddPoints(s.ID, []Point{{X: 1, Y: 1}})

	first := r.Snapshot()
	second := r.Snapshot()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("two snapshots without mutation differ")
	}
	first.Strokes[0].Points[0].X = 42
	first.UserStacks["u1"][0] = "x"
	if got, _ := r.Stroke(s.ID); got.Points[0].X != 1 {
		t.Fatalf("snapshot shares point storage with the room")
	}
	if r.Snapshot().UserStacks["u1"][0] != s.ID {
		t.Fatalf("snapshot shares stack storage with the room")
	}
}
