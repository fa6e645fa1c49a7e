package ws

import "log"

// ConnContext 连接上下文：{连接, 房间, 用户}。
// 连接建立时登记一条空记录，RoomID/UserID 只在处理 join_room 时修改。
type ConnContext struct {
	Conn   *Conn
	RoomID string
	UserID string
}

func (cc *ConnContext) Joined() bool { return cc.RoomID != "" }

// Hub 连接表 + 房间成员集合。
// 只由 Authority 的事件循环访问，因此不需要锁。
type Hub struct {
	// conn -> 上下文
	conns map[*Conn]*ConnContext
	// roomID -> set of connections
	// 房间里存的是连接而不是 userID：一个用户可开多个标签页/设备，广播要逐连接发
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[*Conn]*ConnContext),
		rooms: make(map[string]map[*Conn]struct{}),
	}
}

// Add 登记新连接（尚未加入任何房间）
func (h *Hub) Add(c *Conn) {
	if _, ok := h.conns[c]; ok {
		return
	}
	h.conns[c] = &ConnContext{Conn: c}
}

// Remove 注销连接并关闭它的发送队列，返回注销前的上下文
func (h *Hub) Remove(c *Conn) (ConnContext, bool) {
	cc, ok := h.conns[c]
	if !ok {
		return ConnContext{}, false
	}
	prev := *cc
	h.leaveRoom(c, cc)
	delete(h.conns, c)
	c.closeSend()
	return prev, true
}

func (h *Hub) Context(c *Conn) (*ConnContext, bool) {
	cc, ok := h.conns[c]
	return cc, ok
}

// Join 把连接绑定到房间和用户；已在其他房间时先离开旧房间
func (h *Hub) Join(c *Conn, roomID, userID string) {
	cc, ok := h.conns[c]
	if !ok {
		return
	}
	if cc.RoomID != "" && cc.RoomID != roomID {
		h.leaveRoom(c, cc)
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Conn]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	cc.RoomID = roomID
	cc.UserID = userID
}

func (h *Hub) leaveRoom(c *Conn, cc *ConnContext) {
	if conns, ok := h.rooms[cc.RoomID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, cc.RoomID)
		}
	}
	cc.RoomID = ""
	cc.UserID = ""
}

// Broadcast 把同一份 payload 投递给房间内的所有连接（exclude 除外）。
// 投递是 fire-and-forget：发送队列满或已关闭的连接直接跳过，不重试。
func (h *Hub) Broadcast(roomID string, payload []byte, exclude *Conn) (sent, dropped int) {
	for c := range h.rooms[roomID] {
		if c == exclude {
			continue
		}
		if c.Enqueue(payload) {
			sent++
			continue
		}
		dropped++
		log.Printf("fan-out drop (room=%s, conn=%s): send queue full", roomID, c.ID())
	}
	return sent, dropped
}

func (h *Hub) RoomSize(roomID string) int { return len(h.rooms[roomID]) }

func (h *Hub) Len() int { return len(h.conns) }

// Joined 当前已加入房间的连接上下文（拷贝）
func (h *Hub) Joined() []ConnContext {
	out := make([]ConnContext, 0, len(h.conns))
	for _, cc := range h.conns {
		if cc.Joined() {
			out = append(out, *cc)
		}
	}
	return out
}

// CloseAll 停机时关闭全部连接的发送队列
func (h *Hub) CloseAll() {
	for c := range h.conns {
		c.closeSend()
	}
	h.conns = make(map[*Conn]*ConnContext)
	h.rooms = make(map[string]map[*Conn]struct{})
}
