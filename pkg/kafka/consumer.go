// 文件: pkg/kafka/consumer.go
// Kafka 消费者组
//
// 特点:
// - 消费者组, 断开后自动重新加入
// - 处理失败只记日志, 不阻塞后续消息
// - 优雅关闭
//
// 【偏移量确认】
// 默认处理完立即 MarkMessage (至多一次)。
// ManualAck 打开时由处理方在消息真正落地后调用 Record.Ack (至少一次),
// 处理方必须按到达顺序确认: 确认 offset N 等于确认了 N 之前的全部消息。

package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	OffsetInitial int64 // sarama.OffsetNewest / sarama.OffsetOldest
	AutoCommit    bool
	ManualAck     bool // 由处理方调用 Record.Ack 标记偏移量
}

// DefaultConsumerConfig 默认配置: 从最早的未提交位置开始
func DefaultConsumerConfig(brokers []string, groupID string, topics []string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       brokers,
		GroupID:       groupID,
		Topics:        topics,
		OffsetInitial: sarama.OffsetOldest,
		AutoCommit:    true,
	}
}

// Record 一条消费到的消息
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte

	// Ack 标记偏移量, 仅 ManualAck 模式下非空
	Ack func()
}

// Handler 消息处理函数
type Handler func(ctx context.Context, rec *Record) error

// Consumer 消费者组封装
type Consumer struct {
	group   sarama.ConsumerGroup
	config  ConsumerConfig
	handler Handler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *zap.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = cfg.OffsetInitial
	sc.Consumer.Offsets.AutoCommit.Enable = cfg.AutoCommit

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.GroupID, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		group:   group,
		config:  cfg,
		handler: handler,
		logger:  logger.Named("kafka"),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start 启动消费循环
func (c *Consumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		h := &groupHandler{handler: c.handler, logger: c.logger, manualAck: c.config.ManualAck}
		for {
			err := c.group.Consume(c.ctx, c.config.Topics, h)
			if err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
				c.logger.Error("consume failed", zap.String("group", c.config.GroupID), zap.Error(err))
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop 停止消费
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.group.Close()
}

// =============================================================================
// sarama.ConsumerGroupHandler
// =============================================================================

type groupHandler struct {
	handler   Handler
	logger    *zap.Logger
	manualAck bool
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		msg := msg // per-iteration copy: Ack closures must not share the loop variable (pre-Go 1.22 semantics)
		rec := &Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
		}
		if h.manualAck {
			rec.Ack = func() { session.MarkMessage(msg, "") }
		}
		if err := h.handler(session.Context(), rec); err != nil {
			h.logger.Warn("handle record failed",
				zap.String("topic", msg.Topic),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
		if !h.manualAck {
			session.MarkMessage(msg, "")
		}
	}
	return nil
}
