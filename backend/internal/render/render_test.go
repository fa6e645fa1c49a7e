package render

import (
	"bytes"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"collabBoard/backend/internal/board"
)

func rgba(c color.Color) (uint8, uint8, uint8) {
	r, g, b, _ := c.RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}

func line(id string, tool board.Tool, color string) board.Stroke {
	return board.Stroke{
		ID: id, Color: color, Size: 6, Tool: tool,
		Points: []board.Point{{X: 10, Y: 50}, {X: 90, Y: 50}},
	}
}

func TestCanvas_EraserPaintsBackground(t *testing.T) {
	c := NewCanvas(100, 100, "#ffffff")
	c.DrawSegments(line("S1", board.ToolPen, "#ff0000"), 0)
	if r, g, b := rgba(c.Image().At(50, 50)); r != 255 || g != 0 || b != 0 {
		t.Fatalf("pen pixel = %d,%d,%d, want red", r, g, b)
	}
	c.DrawSegments(line("S2", board.ToolEraser, "#000000"), 0)
	if r, g, b := rgba(c.Image().At(50, 50)); r != 255 || g != 255 || b != 255 {
		t.Fatalf("erased pixel = %d,%d,%d, want background", r, g, b)
	}
}

func TestCanvas_RedrawSkipsRemoved(t *testing.T) {
	c := NewCanvas(100, 100, "")
	pen := line("S1", board.ToolPen, "#0000ff")
	c.DrawSegments(pen, 0)
	pen.Removed = true
	c.Redraw([]board.Stroke{pen})
	if r, g, b := rgba(c.Image().At(50, 50)); r != 255 || g != 255 || b != 255 {
		t.Fatalf("removed stroke still visible: %d,%d,%d", r, g, b)
	}
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePNG(&buf, []board.Stroke{line("S1", board.ToolPen, "#00ff00")}, 64, 32, ""); err != nil {
		t.Fatalf("WritePNG() error = %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Fatalf("bounds = %v", b)
	}
}

func TestParseHexColor(t *testing.T) {
	cases := map[string][3]int{
		"#fff":      {255, 255, 255},
		"#112233":   {0x11, 0x22, 0x33},
		"#11223344": {0x11, 0x22, 0x33},
		"#abcd":     {0xaa, 0xbb, 0xcc},
	}
	for in, want := range cases {
		r, g, b, err := ParseHexColor(in)
		if err != nil || [3]int{r, g, b} != want {
			t.Fatalf("ParseHexColor(%s) = %d,%d,%d,%v", in, r, g, b, err)
		}
	}
	if _, _, _, err := ParseHexColor("red"); err == nil {
		t.Fatalf("ParseHexColor(red) expected error")
	}
}

func TestWritePDF(t *testing.T) {
	strokes := []board.Stroke{
		line("S1", board.ToolPen, "#123456"),
		{ID: "S2", Color: "#000", Size: 4, Tool: board.ToolPen, Points: []board.Point{{X: 5, Y: 5}}},
	}
	var buf bytes.Buffer
	if err := WritePDF(&buf, strokes, 200, 100, ""); err != nil {
		t.Fatalf("WritePDF() error = %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
		t.Fatalf("output is not a pdf: %q", buf.Bytes()[:8])
	}
	if err := SavePDF(filepath.Join(t.TempDir(), "board.pdf"), strokes, 200, 100, ""); err != nil {
		t.Fatalf("SavePDF() error = %v", err)
	}

	bad := []board.Stroke{line("S3", board.ToolPen, "nope")}
	if err := WritePDF(&bytes.Buffer{}, bad, 200, 100, ""); err == nil {
		t.Fatalf("WritePDF with bad color expected error")
	}
}

func TestCanvas_ShortHexWithAlpha(t *testing.T) {
	c := NewCanvas(100, 100, "#fff")
	c.DrawSegments(line("S1", board.ToolPen, "#f00f"), 0)
	if r, g, b := rgba(c.Image().At(50, 50)); r != 255 || g != 0 || b != 0 {
		t.Fatalf("#f00f pixel = %d,%d,%d, want red", r, g, b)
	}
	pr, pg, pb, err := ParseHexColor("#f00f")
	if err != nil || pr != 255 || pg != 0 || pb != 0 {
		t.Fatalf("ParseHexColor(#f00f) = %d,%d,%d,%v", pr, pg, pb, err)
	}
}
