package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"collabBoard/backend/internal/protocol"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrSendQueueFull  = errors.New("send queue full")
	writeWait         = 10 * time.Second
	defaultSendBuffer = 256
)

// Handler 处理一条服务端消息（通常是 Replica.Apply）
type Handler func(msg protocol.ServerMessage)

type SessionOptions struct {
	SendBuffer       int
	HandshakeTimeout time.Duration
	// 重连退避的最大间隔
	MaxRetryInterval time.Duration
	// 每次连上之后调用，用来重新 join 拿快照
	OnConnect func() error
}

// Session 到服务端的 websocket 会话，断线后指数退避重连。
// 断线期间错过的事件不补发，靠 OnConnect 里的 join_room 快照重新同步。
type Session struct {
	url     string
	dialer  *websocket.Dialer
	handler Handler
	opt     SessionOptions

	mu  sync.Mutex
	out chan []byte // 未连接时为 nil
}

func NewSession(url string, handler Handler, opt SessionOptions) *Session {
	if opt.SendBuffer <= 0 {
		opt.SendBuffer = defaultSendBuffer
	}
	if opt.HandshakeTimeout <= 0 {
		opt.HandshakeTimeout = 5 * time.Second
	}
	if opt.MaxRetryInterval <= 0 {
		opt.MaxRetryInterval = 10 * time.Second
	}
	return &Session{
		url:     url,
		dialer:  &websocket.Dialer{HandshakeTimeout: opt.HandshakeTimeout},
		handler: handler,
		opt:     opt,
	}
}

// SetOnConnect 在 Run 之前设置
func (s *Session) SetOnConnect(fn func() error) { s.opt.OnConnect = fn }

// Send 编码并入队，不阻塞
func (s *Session) Send(msg protocol.Inbound) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return ErrNotConnected
	}
	select {
	case s.out <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out != nil
}

// Run 连接、读取、断线重连，直到 ctx 结束
func (s *Session) Run(ctx context.Context) error {
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			return err
		}
		s.serve(ctx, conn)
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Printf("connection to %s lost, redialing", s.url)
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = s.opt.MaxRetryInterval
	// 一直重试，直到 ctx 结束
	b.MaxElapsedTime = 0

	op := func() error {
		c, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		log.Printf("dial %s failed: %v, retry in %s", s.url, err, next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return conn, nil
}

func (s *Session) serve(ctx context.Context, conn *websocket.Conn) {
	out := make(chan []byte, s.opt.SendBuffer)
	s.mu.Lock()
	s.out = out
	s.mu.Unlock()

	writerDone := make(chan struct{})
	go s.writeLoop(conn, out, writerDone)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if s.opt.OnConnect != nil {
		if err := s.opt.OnConnect(); err != nil {
			log.Printf("on connect: %v", err)
		}
	}

	s.readLoop(conn)

	s.mu.Lock()
	s.out = nil
	s.mu.Unlock()
	close(out)
	<-writerDone
	_ = conn.Close()
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("read error: %v", err)
			}
			return
		}
		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			log.Printf("drop server message: %v", err)
			continue
		}
		if s.handler != nil {
			s.handler(msg)
		}
	}
}

func (s *Session) writeLoop(conn *websocket.Conn, out <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for b := range out {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			log.Printf("write error: %v", err)
			_ = conn.Close()
			for range out {
			}
			return
		}
	}
}
