package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"collabBoard/backend/internal/board"

	"github.com/jung-kurt/gofpdf"
)

// ParseHexColor 支持 #rgb #rgba #rrggbb #rrggbbaa，alpha 忽略
func ParseHexColor(s string) (r, g, b int, err error) {
	h := strings.TrimPrefix(s, "#")
	switch len(h) {
	case 3, 4:
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	case 6, 8:
		h = h[:6]
	default:
		return 0, 0, 0, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff), nil
}

// newPDF 页面尺寸等于画板尺寸，单位 pt，坐标和画板一致
func newPDF(strokes []board.Stroke, width, height float64, background string) (*gofpdf.Fpdf, error) {
	if background == "" {
		background = DefaultBackground
	}
	bgR, bgG, bgB, err := ParseHexColor(background)
	if err != nil {
		return nil, err
	}
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: width, Ht: height},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetFillColor(bgR, bgG, bgB)
	pdf.Rect(0, 0, width, height, "F")
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")

	for _, s := range strokes {
		if s.Removed || len(s.Points) == 0 {
			continue
		}
		r, g, b := bgR, bgG, bgB
		if s.Tool != board.ToolEraser {
			if r, g, b, err = ParseHexColor(s.Color); err != nil {
				return nil, fmt.Errorf("stroke %s: %w", s.ID, err)
			}
		}
		pdf.SetDrawColor(r, g, b)
		pdf.SetFillColor(r, g, b)
		pdf.SetLineWidth(s.Size)
		if len(s.Points) == 1 {
			pdf.Circle(s.Points[0].X, s.Points[0].Y, s.Size/2, "F")
			continue
		}
		for i := 1; i < len(s.Points); i++ {
			p0, p1 := s.Points[i-1], s.Points[i]
			pdf.Line(p0.X, p0.Y, p1.X, p1.Y)
		}
	}
	return pdf, pdf.Error()
}

// WritePDF 矢量导出
func WritePDF(w io.Writer, strokes []board.Stroke, width, height float64, background string) error {
	pdf, err := newPDF(strokes, width, height, background)
	if err != nil {
		return err
	}
	return pdf.Output(w)
}

func SavePDF(path string, strokes []board.Stroke, width, height float64, background string) error {
	pdf, err := newPDF(strokes, width, height, background)
	if err != nil {
		return err
	}
	return pdf.OutputFileAndClose(path)
}
