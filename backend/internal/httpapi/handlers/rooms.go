package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"collabBoard/backend/internal/board"
	"collabBoard/backend/internal/cache"
	"collabBoard/backend/internal/collab"
	"collabBoard/backend/internal/render"
	"collabBoard/backend/internal/store"
	"collabBoard/backend/internal/ws"
)

// Board 房间状态的只读视图（由 Authority 实现，查询走它的收件箱）
type Board interface {
	Rooms(ctx context.Context) ([]ws.RoomSummary, error)
	Snapshot(ctx context.Context, roomID string) (board.RoomState, uint64, error)
}

// SnapshotSaver 导出存储（由 store.SnapshotStore 实现）
type SnapshotSaver interface {
	SaveRoomSnapshot(ctx context.Context, roomID string, seq uint64, state board.RoomState) error
	LatestSnapshot(ctx context.Context, roomID string) (*store.BoardSnapshot, error)
}

type RoomHandler struct {
	board    Board
	presence cache.PresenceCache // 可为 nil
	exports  SnapshotSaver       // 可为 nil
	sf       singleflight.Group
	sem      *collab.SemaphoreControl

	width, height int
	background    string
}

type RoomHandlerOptions struct {
	Presence      cache.PresenceCache
	Exports       SnapshotSaver
	ExportLimit   int
	Width, Height int
	Background    string
}

func NewRoomHandler(b Board, opt RoomHandlerOptions) *RoomHandler {
	if opt.Width <= 0 {
		opt.Width = 1280
	}
	if opt.Height <= 0 {
		opt.Height = 720
	}
	if opt.ExportLimit <= 0 {
		opt.ExportLimit = 4
	}
	return &RoomHandler{
		board:      b,
		presence:   opt.Presence,
		exports:    opt.Exports,
		sem:        collab.NewSemaphoreControlN(opt.ExportLimit),
		width:      opt.Width,
		height:     opt.Height,
		background: opt.Background,
	}
}

func (h *RoomHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// ListRooms GET /board/rooms
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.board.Rooms(c.Request.Context())
	if err != nil {
		writeBoardError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// GetSnapshot GET /board/rooms/:room/snapshot
func (h *RoomHandler) GetSnapshot(c *gin.Context) {
	roomID := c.Param("room")
	state, seq, err := h.board.Snapshot(c.Request.Context(), roomID)
	if err != nil {
		writeBoardError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "seq": seq, "state": state})
}

// GetMembers GET /board/rooms/:room/members
func (h *RoomHandler) GetMembers(c *gin.Context) {
	if h.presence == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence disabled"})
		return
	}
	roomID := c.Param("room")
	members, err := h.presence.GetAliveMembers(c.Request.Context(), roomID)
	if err != nil {
		log.Printf("get alive members (room=%s): %v", roomID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if members == nil {
		members = []cache.PresenceMember{}
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "members": members})
}

type exportResult struct {
	Seq     uint64
	Strokes int
}

// Export POST /board/rooms/:room/export
// 同一房间并发导出合并成一次写入；整体并发由信号量限制
func (h *RoomHandler) Export(c *gin.Context) {
	if h.exports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export disabled"})
		return
	}
	roomID := c.Param("room")

	acquireCtx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
	defer cancel()
	if err := h.sem.Acquire(acquireCtx); err != nil {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	}
	defer h.sem.Release()

	v, err, shared := h.sf.Do(roomID, func() (any, error) {
		// 不跟随单个请求的 ctx：合并进来的其他请求还在等
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		state, seq, err := h.board.Snapshot(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if err := h.exports.SaveRoomSnapshot(ctx, roomID, seq, state); err != nil {
			return nil, err
		}
		return exportResult{Seq: seq, Strokes: len(state.Strokes)}, nil
	})
	if err != nil {
		writeBoardError(c, err)
		return
	}
	res := v.(exportResult)
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "seq": res.Seq, "strokes": res.Strokes, "shared": shared})
}

// LatestExport GET /board/rooms/:room/export
func (h *RoomHandler) LatestExport(c *gin.Context) {
	if h.exports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "export disabled"})
		return
	}
	roomID := c.Param("room")
	row, err := h.exports.LatestSnapshot(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if row == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no export"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": row.RoomID, "seq": row.Seq, "strokes": row.StrokeCount, "createdAt": row.CreatedAt})
}

// PreviewPNG GET /board/rooms/:room/preview.png
func (h *RoomHandler) PreviewPNG(c *gin.Context) {
	state, _, err := h.board.Snapshot(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeBoardError(c, err)
		return
	}
	c.Header("Content-Type", "image/png")
	c.Status(http.StatusOK)
	if err := render.WritePNG(c.Writer, state.Strokes, h.width, h.height, h.background); err != nil {
		log.Printf("render png (room=%s): %v", c.Param("room"), err)
	}
}

// ExportPDF GET /board/rooms/:room/export.pdf
func (h *RoomHandler) ExportPDF(c *gin.Context) {
	state, _, err := h.board.Snapshot(c.Request.Context(), c.Param("room"))
	if err != nil {
		writeBoardError(c, err)
		return
	}
	c.Header("Content-Type", "application/pdf")
	c.Status(http.StatusOK)
	if err := render.WritePDF(c.Writer, state.Strokes, float64(h.width), float64(h.height), h.background); err != nil {
		log.Printf("render pdf (room=%s): %v", c.Param("room"), err)
	}
}

func writeBoardError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ws.ErrRoomNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ws.ErrAuthorityStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// Register 挂载 /board 下的全部路由
func Register(g *gin.RouterGroup, h *RoomHandler, wsHandler gin.HandlerFunc) {
	g.GET("/ws", wsHandler)
	g.GET("/healthz", h.Healthz)
	g.GET("/rooms", h.ListRooms)
	rooms := g.Group("/rooms/:room")
	{
		rooms.GET("/snapshot", h.GetSnapshot)
		rooms.GET("/members", h.GetMembers)
		rooms.POST("/export", h.Export)
		rooms.GET("/export", h.LatestExport)
		rooms.GET("/preview.png", h.PreviewPNG)
		rooms.GET("/export.pdf", h.ExportPDF)
	}
}
