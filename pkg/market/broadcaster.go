package market

import (
	"sync"
	"sync/atomic"
	"time"

	"flash.com/pkg/perp"
)

// Snapshot 某合约在某一时刻的状态
type Snapshot struct {
	perp.MarketState
	Time time.Time `json:"time"`
}

// Broadcaster 行情广播器
//
// 扇出: 一条快照分发给 N 个订阅者, 慢订阅者只丢自己的数据, 不阻塞其他人。
//
//	      Ticker
//	        |
//	  [Broadcaster]
//	   /    |    \
//	 NATS  指标  模拟器
type Broadcaster struct {
	// Broadcast 是热路径 (读), Subscribe / Close 很少 (写)
	mu          sync.RWMutex
	subscribers []chan Snapshot
	closed      bool

	dropped atomic.Int64
}

// NewBroadcaster 创建广播器
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

// Subscribe 订阅, buffer <= 0 时使用 64
func (b *Broadcaster) Subscribe(buffer int) <-chan Snapshot {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Snapshot, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Broadcast 非阻塞分发, 订阅者缓冲满时丢弃
func (b *Broadcaster) Broadcast(s Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- s:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped 因订阅者处理慢而丢弃的条数
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

// Close 关闭所有订阅 channel, 之后的 Subscribe 返回已关闭的 channel
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
	b.closed = true
}
