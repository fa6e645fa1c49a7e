package client

import (
	"context"
	"log"
	"time"
)

// FlushInterval 出站攒批周期，约一帧
const FlushInterval = 16 * time.Millisecond

// Batcher 单一定时器驱动 Replica.Flush
type Batcher struct {
	replica  *Replica
	interval time.Duration
}

func NewBatcher(replica *Replica, interval time.Duration) *Batcher {
	if interval <= 0 {
		interval = FlushInterval
	}
	return &Batcher{replica: replica, interval: interval}
}

// Run 阻塞直到 ctx 结束
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.replica.Flush(); err != nil {
				log.Printf("flush points (room=%s): %v", b.replica.RoomID(), err)
			}
		}
	}
}
