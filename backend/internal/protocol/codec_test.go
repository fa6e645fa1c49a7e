package protocol

import (
	"errors"
	"strings"
	"testing"

	"collabBoard/backend/internal/board"
)

func TestDecodeInbound_Types(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`{"type":"join_room","room":"r","userId":"u1"}`, TypeJoinRoom},
		{`{"type":"begin_stroke","room":"r","stroke":{"color":"#ff0000","size":4,"tool":"eraser"}}`, TypeBeginStroke},
		{`{"type":"add_points","room":"r","strokeId":"s1","points":[{"x":1,"y":2,"t":3}]}`, TypeAddPoints},
		{`{"type":"end_stroke","room":"r","strokeId":"s1"}`, TypeEndStroke},
		{`{"type":"undo","room":"r","userId":"u1"}`, TypeUndo},
		{`{"type":"redo","room":"r","userId":"u1"}`, TypeRedo},
		{`{"type":"clear","room":"r"}`, TypeClear},
		{`{"type":"cursor","room":"r","userId":"u1","x":0,"y":0}`, TypeCursor},
	}
	for _, c := range cases {
		msg, err := DecodeInbound([]byte(c.raw))
		if err != nil {
			t.Fatalf("DecodeInbound(%s) error = %v", c.raw, err)
		}
		if msg.MessageType() != c.want || msg.RoomID() != "r" {
			t.Fatalf("DecodeInbound(%s) = %s/%s", c.raw, msg.MessageType(), msg.RoomID())
		}
	}
}

func TestDecodeInbound_AddPointsKeepsOrder(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"add_points","room":"r","strokeId":"s1","points":[{"x":5,"y":5,"t":9},{"x":0,"y":0,"t":1}]}`))
	if err != nil {
		t.Fatalf("DecodeInbound() error = %v", err)
	}
	ap := msg.(AddPoints)
	want := []board.Point{{X: 5, Y: 5, T: 9}, {X: 0, Y: 0, T: 1}}
	if len(ap.Points) != 2 || ap.Points[0] != want[0] || ap.Points[1] != want[1] {
		t.Fatalf("points = %v, want %v", ap.Points, want)
	}
}

func TestDecodeInbound_ParseFailures(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"paint","room":"r"}`,
		`{"type":"join_room","room":"r"}`,
		`{"type":"begin_stroke","room":"r","stroke":{"color":"#000","size":3,"tool":"brush"}}`,
		`{"type":"begin_stroke","room":"r","stroke":{"color":"#000","size":0,"tool":"pen"}}`,
		`{"type":"begin_stroke","room":"r","stroke":{"color":"black","size":2,"tool":"pen"}}`,
		`{"type":"add_points","room":"r","strokeId":"s1","points":"nope"}`,
		`{"type":"clear"}`,
	}
	for _, raw := range cases {
		if _, err := DecodeInbound([]byte(raw)); err == nil {
			t.Fatalf("DecodeInbound(%s) expected error", raw)
		}
	}
	_, err := DecodeInbound([]byte(`{"type":"paint","room":"r"}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("unknown type error = %v, want ErrUnknownType", err)
	}
}

func TestEncode_EmptyPointsAndZeroCursor(t *testing.T) {
	b, err := Encode(StrokeBegunMessage{Type: TypeBeginStroke, Stroke: board.Stroke{ID: "s1", Points: []board.Point{}}})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.Contains(string(b), `"points":[]`) {
		t.Fatalf("begin_stroke should carry an empty points array: %s", b)
	}

	b, _ = Encode(CursorMessage{Type: TypeCursor, UserID: "u1"})
	if !strings.Contains(string(b), `"x":0`) || !strings.Contains(string(b), `"y":0`) {
		t.Fatalf("cursor dropped zero coordinates: %s", b)
	}

	msg, err := DecodeServerMessage(b)
	if err != nil || msg.Type != TypeCursor || msg.UserID != "u1" {
		t.Fatalf("DecodeServerMessage() = %+v, %v", msg, err)
	}
}
