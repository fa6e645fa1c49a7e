package board

import (
	"sort"

	"github.com/google/uuid"
)

// Registry 持有所有房间，按 roomID 懒创建。
// 生命周期跟随进程：NewRegistry 在启动时创建，Close 在停机时释放。
// 没有淘汰策略，房间和笔画会一直增长（见 DESIGN.md 的 Open Questions）。
type Registry struct {
	rooms map[string]*Room
	newID func() string
}

type Option func(*Registry)

// WithIDGenerator 替换笔画 id 生成器（测试用）
func WithIDGenerator(gen func() string) Option {
	return func(g *Registry) { g.newID = gen }
}

func NewRegistry(opts ...Option) *Registry {
	g := &Registry{
		rooms: make(map[string]*Room),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Room 获取或创建房间
func (g *Registry) Room(roomID string) *Room {
	if r, ok := g.rooms[roomID]; ok {
		return r
	}
	r := newRoom(roomID)
	g.rooms[roomID] = r
	return r
}

// Lookup 只读查找，不会创建房间
func (g *Registry) Lookup(roomID string) (*Room, bool) {
	r, ok := g.rooms[roomID]
	return r, ok
}

// NewStrokeID 进程内唯一的笔画 id
func (g *Registry) NewStrokeID() string {
	return g.newID()
}

// RoomIDs 按字典序返回
func (g *Registry) RoomIDs() []string {
	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Registry) Len() int { return len(g.rooms) }

// Close 停机时丢弃全部房间状态
func (g *Registry) Close() {
	g.rooms = make(map[string]*Room)
}
