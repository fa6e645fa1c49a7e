package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"collabBoard/backend/internal/protocol"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// Conn 一个客户端 websocket 连接。
// send 只由 Authority 关闭（注销或停机），writeLoop 在通道关闭后退出。
type Conn struct {
	id string
	ws *websocket.Conn
	// 出站队列，元素是已经编码好的 JSON
	send      chan []byte
	authority *Authority

	closeOnce sync.Once
}

func NewConn(id string, ws *websocket.Conn, authority *Authority, sendBuffer int) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Conn{id: id, ws: ws, send: make(chan []byte, sendBuffer), authority: authority}
}

func (c *Conn) ID() string { return c.id }

// Enqueue 非阻塞入队，队列满返回 false（慢消费者丢消息，不拖慢其他人）
func (c *Conn) Enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Conn) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readLoop 读取并解码入站消息，按到达顺序投递给 Authority。
// 解析失败的消息直接丢弃，连接保持。
func (c *Conn) readLoop(ctx context.Context) {
	c.ws.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("read error (conn=%s): %v", c.id, err)
			}
			return
		}
		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			log.Printf("drop message (conn=%s): %v", c.id, err)
			continue
		}
		if err := c.authority.Submit(ctx, c, msg); err != nil {
			if !errors.Is(err, ErrAuthorityStopped) {
				log.Printf("submit error (conn=%s): %v", c.id, err)
			}
			return
		}
	}
}

// writeLoop 持续消费 send，通道关闭后发 close 帧
func (c *Conn) writeLoop() {
	for payload := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("write error (conn=%s): %v", c.id, err)
			// 对端已经不可写：关掉底层连接让 readLoop 退出，剩余消息丢弃
			_ = c.ws.Close()
			for range c.send {
			}
			return
		}
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
