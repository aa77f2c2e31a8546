// 文件: pkg/journal/writer.go
// 事件流水写入器
//
// 消费 Kafka 上的领域事件，批量写入 MySQL:
// - 缓冲满 BatchSize 或到 FlushInterval 时写一批
// - 按事件 ID 幂等, 重复投递无副作用
// - 写入失败的批次放回缓冲区，下次重试
// - Kafka 偏移量在批次写入成功后才确认 (至少一次); 进程崩溃时未落库的
//   事件会被重新投递。只有超过 MaxBuffer 被丢弃的事件会丢失 (计入 Dropped)

package journal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"flash.com/pkg/event"
	"flash.com/pkg/kafka"
)

// DefaultTopic 领域事件 topic
const DefaultTopic = "perp.events"

// Sink 批量落库接口, Repo 实现
type Sink interface {
	BatchInsert(ctx context.Context, events []*event.Event) error
}

// Source 消息来源, kafka.Consumer 实现
type Source interface {
	Start()
	Stop() error
}

// Config 写入器配置
type Config struct {
	Brokers       []string
	GroupID       string
	Topic         string
	BatchSize     int
	FlushInterval time.Duration
	MaxBuffer     int // 缓冲区上限, 超过时丢弃最旧的事件
}

// DefaultConfig 默认配置
func DefaultConfig(brokers []string) Config {
	return Config{
		Brokers:       brokers,
		GroupID:       "perp_journal",
		Topic:         DefaultTopic,
		BatchSize:     100,
		FlushInterval: 500 * time.Millisecond,
		MaxBuffer:     100_000,
	}
}

// Stats 写入统计
type Stats struct {
	Received int64
	Written  int64
	Errors   int64
	Batches  int64
	Dropped  int64
}

// entry 缓冲项; ev 为空时只携带确认 (无法解码的消息)
type entry struct {
	ev  *event.Event
	ack func()
}

// Writer 写入器
type Writer struct {
	sink   Sink
	source Source
	cfg    Config
	logger *zap.Logger

	bufferMu sync.Mutex
	buffer   []entry
	flushCh  chan struct{}

	received atomic.Int64
	written  atomic.Int64
	errors   atomic.Int64
	batches  atomic.Int64
	dropped  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter 创建写入器并连接 Kafka 消费者组
func NewWriter(cfg Config, sink Sink, logger *zap.Logger) (*Writer, error) {
	w := newWriter(cfg, sink, logger)
	cc := kafka.DefaultConsumerConfig(w.cfg.Brokers, w.cfg.GroupID, []string{w.cfg.Topic})
	cc.ManualAck = true
	consumer, err := kafka.NewConsumer(cc, w.HandleRecord, logger)
	if err != nil {
		w.cancel()
		return nil, fmt.Errorf("create journal consumer: %w", err)
	}
	w.source = consumer
	return w, nil
}

// NewWriterWithSource 使用外部消息来源 (测试 / 其它传输)
func NewWriterWithSource(cfg Config, sink Sink, source Source, logger *zap.Logger) *Writer {
	w := newWriter(cfg, sink, logger)
	w.source = source
	return w
}

func newWriter(cfg Config, sink Sink, logger *zap.Logger) *Writer {
	def := DefaultConfig(cfg.Brokers)
	if cfg.GroupID == "" {
		cfg.GroupID = def.GroupID
	}
	if cfg.Topic == "" {
		cfg.Topic = def.Topic
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = def.MaxBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		sink:    sink,
		cfg:     cfg,
		logger:  logger.Named("journal"),
		buffer:  make([]entry, 0, cfg.BatchSize),
		flushCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// =============================================================================
// 消息处理
// =============================================================================

// HandleRecord kafka.Handler: 解码后加入缓冲, 落库后再确认偏移量
//
// 无法解码的消息不会落库, 但仍按顺序排队确认, 否则分区偏移量无法前进。
func (w *Writer) HandleRecord(_ context.Context, rec *kafka.Record) error {
	ev, err := event.Decode(rec.Value)
	if err != nil {
		w.errors.Add(1)
		if rec.Ack != nil {
			w.enqueue(entry{ack: rec.Ack})
		}
		return fmt.Errorf("decode event at %s/%d/%d: %w", rec.Topic, rec.Partition, rec.Offset, err)
	}
	w.received.Add(1)
	w.enqueue(entry{ev: ev, ack: rec.Ack})
	return nil
}

// Add 加入缓冲, 满一批时通知刷新
func (w *Writer) Add(ev *event.Event) {
	w.received.Add(1)
	w.enqueue(entry{ev: ev})
}

func (w *Writer) enqueue(e entry) {
	w.bufferMu.Lock()
	w.buffer = append(w.buffer, e)
	if over := len(w.buffer) - w.cfg.MaxBuffer; over > 0 {
		w.buffer = w.buffer[over:]
		w.dropped.Add(int64(over))
	}
	shouldFlush := len(w.buffer) >= w.cfg.BatchSize
	w.bufferMu.Unlock()

	if shouldFlush {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
}

// Pending 缓冲中待落库 / 待确认的条目数
func (w *Writer) Pending() int {
	w.bufferMu.Lock()
	defer w.bufferMu.Unlock()
	return len(w.buffer)
}

// =============================================================================
// 批量写入
// =============================================================================

// Flush 把缓冲写入数据库
func (w *Writer) Flush(ctx context.Context) error {
	w.bufferMu.Lock()
	batch := w.buffer
	w.buffer = make([]entry, 0, w.cfg.BatchSize)
	w.bufferMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	events := make([]*event.Event, 0, len(batch))
	for _, e := range batch {
		if e.ev != nil {
			events = append(events, e.ev)
		}
	}

	if len(events) > 0 {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := w.sink.BatchInsert(ctx, events); err != nil {
			w.errors.Add(1)
			// 放回缓冲区头部, 保持顺序, 不确认
			w.bufferMu.Lock()
			w.buffer = append(batch, w.buffer...)
			w.bufferMu.Unlock()
			return fmt.Errorf("write %d events: %w", len(events), err)
		}
		w.written.Add(int64(len(events)))
		w.batches.Add(1)
	}

	// 落库成功后按到达顺序确认
	for _, e := range batch {
		if e.ack != nil {
			e.ack()
		}
	}
	return nil
}

func (w *Writer) flush() {
	if err := w.Flush(context.Background()); err != nil {
		w.logger.Warn("journal flush failed", zap.Error(err))
	}
}

// =============================================================================
// 生命周期
// =============================================================================

// Start 启动消费与定时刷新
func (w *Writer) Start() {
	if w.source != nil {
		w.source.Start()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.FlushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-w.ctx.Done():
				w.flush()
				return
			case <-ticker.C:
				w.flush()
			case <-w.flushCh:
				w.flush()
			}
		}
	}()
	w.logger.Info("journal writer started",
		zap.String("topic", w.cfg.Topic),
		zap.Int("batch_size", w.cfg.BatchSize))
}

// Stop 停止消费, 最后刷新一次
func (w *Writer) Stop() error {
	var err error
	if w.source != nil {
		err = w.source.Stop()
	}
	w.cancel()
	w.wg.Wait()
	w.logger.Info("journal writer stopped", zap.Any("stats", w.Stats()))
	return err
}

// Stats 统计快照
func (w *Writer) Stats() Stats {
	return Stats{
		Received: w.received.Load(),
		Written:  w.written.Load(),
		Errors:   w.errors.Load(),
		Batches:  w.batches.Load(),
		Dropped:  w.dropped.Load(),
	}
}
