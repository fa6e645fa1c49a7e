package render

import (
	"image"
	"io"
	"log"
	"sync"

	"collabBoard/backend/internal/board"

	"github.com/fogleman/gg"
)

const DefaultBackground = "#ffffff"

// Canvas 基于 gg 的光栅画布，实现 client.Renderer。
// 橡皮擦用背景色覆盖，所以撤销后必须整体重绘。
type Canvas struct {
	mu         sync.Mutex
	dc         *gg.Context
	background string
}

func NewCanvas(width, height int, background string) *Canvas {
	if background == "" {
		background = DefaultBackground
	}
	c := &Canvas{dc: gg.NewContext(width, height), background: background}
	c.clear()
	return c
}

func (c *Canvas) clear() {
	r, g, b, err := ParseHexColor(c.background)
	if err != nil {
		r, g, b = 255, 255, 255
	}
	c.dc.SetRGB255(r, g, b)
	c.dc.Clear()
}

// DrawSegments 只画 from 之后的新线段（和前一个点相连）
func (c *Canvas) DrawSegments(s board.Stroke, from int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drawStroke(s, from)
}

func (c *Canvas) Redraw(strokes []board.Stroke) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
	for _, s := range strokes {
		if s.Removed {
			continue
		}
		c.drawStroke(s, 0)
	}
}

func (c *Canvas) drawStroke(s board.Stroke, from int) {
	if from >= len(s.Points) {
		return
	}
	color := s.Color
	if s.Tool == board.ToolEraser {
		color = c.background
	}
	// gg.SetHexColor 不认 #rgba，和 PDF 共用同一个解析
	r, g, b, err := ParseHexColor(color)
	if err != nil {
		log.Printf("stroke %s: %v", s.ID, err)
	}
	c.dc.SetRGB255(r, g, b)
	c.dc.SetLineWidth(s.Size)
	c.dc.SetLineCap(gg.LineCapRound)
	c.dc.SetLineJoin(gg.LineJoinRound)

	// 单个点画成圆点
	if len(s.Points) == 1 {
		p := s.Points[0]
		c.dc.DrawCircle(p.X, p.Y, s.Size/2)
		c.dc.Fill()
		return
	}
	start := max(from-1, 0)
	c.dc.MoveTo(s.Points[start].X, s.Points[start].Y)
	for _, p := range s.Points[start+1:] {
		c.dc.LineTo(p.X, p.Y)
	}
	c.dc.Stroke()
}

func (c *Canvas) Image() image.Image {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc.Image()
}

func (c *Canvas) EncodePNG(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc.EncodePNG(w)
}

func (c *Canvas) SavePNG(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dc.SavePNG(path)
}

// WritePNG 把一组笔画重组成 PNG（预览接口用）
func WritePNG(w io.Writer, strokes []board.Stroke, width, height int, background string) error {
	c := NewCanvas(width, height, background)
	c.Redraw(strokes)
	return c.EncodePNG(w)
}
