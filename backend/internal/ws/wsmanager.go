package ws

import (
	"context"
	"log"
	"net/http"
	"strings"

	"collabBoard/backend/internal/protocol"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 默认只放行本地开发环境的来源
var defaultAllowedOrigins = []string{
	"http://localhost",
	"http://127.0.0.1",
	"https://localhost",
	"https://127.0.0.1",
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultAllowedOrigins
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || origin == "null" { // 非浏览器客户端（bot）不发 Origin
				return true
			}
			for _, p := range allowedOrigins {
				if p == "*" || strings.HasPrefix(origin, p) {
					return true
				}
			}
			return false
		},
	}
}

type Manager struct {
	authority  *Authority
	upgrader   websocket.Upgrader
	sendBuffer int
}

func NewManager(authority *Authority, allowedOrigins []string, sendBuffer int) *Manager {
	return &Manager{authority: authority, upgrader: newUpgrader(allowedOrigins), sendBuffer: sendBuffer}
}

// WebSocketConnect GET /board/ws[?room=&userId=]
// 带 room 和 userId 时升级后立即隐式 join_room
func (m *Manager) WebSocketConnect(c *gin.Context) {
	roomID := c.Query("room")
	userID := c.Query("userId")
	if (roomID == "") != (userID == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room and userId must be given together"})
		return
	}

	conn, err := m.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(uuid.NewString(), conn, m.authority, m.sendBuffer)
	if err := m.authority.Connect(context.Background(), wsConn); err != nil {
		// 未登记成功，send 归自己关闭
		wsConn.closeSend()
		log.Printf("connect rejected (conn=%s): %v", wsConn.ID(), err)
		return
	}
	log.Printf("conn %s connected from %s", wsConn.ID(), c.ClientIP())

	// 先启动写循环
	go wsConn.writeLoop()

	// 连接断开的请求 ctx 可能已取消，注销必须送达
	defer func() {
		if err := m.authority.Disconnect(context.Background(), wsConn); err != nil {
			log.Printf("disconnect (conn=%s): %v", wsConn.ID(), err)
		}
	}()

	if roomID != "" {
		join := protocol.JoinRoom{Type: protocol.TypeJoinRoom, Room: roomID, UserID: userID}
		if err := m.authority.Submit(c.Request.Context(), wsConn, join); err != nil {
			return
		}
	}
	wsConn.readLoop(c.Request.Context())
}
