// 文件: pkg/nats/subscriber.go
// NATS 消息订阅者
//
// 用途:
// - 预言机价格推送 oracle.price.*
// - 清算机器人监听 perp.open / perp.close

package nats

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// MessageHandler 消息处理函数
type MessageHandler func(subject string, data []byte) error

// Subscriber NATS 订阅者
type Subscriber struct {
	conn    *nats.Conn
	handler MessageHandler
	logger  *zap.Logger

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewSubscriber 基于已有连接创建订阅者
func NewSubscriber(conn *nats.Conn, handler MessageHandler, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		conn:    conn,
		handler: handler,
		logger:  logger.Named("nats"),
	}
}

func (s *Subscriber) dispatch(msg *nats.Msg) {
	if err := s.handler(msg.Subject, msg.Data); err != nil {
		s.logger.Warn("handle message failed",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

// Subscribe 订阅主题 (支持通配符 oracle.price.*)
func (s *Subscriber) Subscribe(subjects ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, subject := range subjects {
		sub, err := s.conn.Subscribe(subject, s.dispatch)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// SubscribeQueue 队列订阅, 同组只有一个实例收到消息
func (s *Subscriber) SubscribeQueue(subject, queue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.conn.QueueSubscribe(subject, queue, s.dispatch)
	if err != nil {
		return fmt.Errorf("queue subscribe %s/%s: %w", subject, queue, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close 取消全部订阅 (连接由调用方关闭)
func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Debug("unsubscribe failed", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	s.subs = nil
	return nil
}

// Decode 反序列化 JSON 消息
func Decode[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
