// 文件: pkg/event/sink.go
// 事件下游
//
// - NATSSink:  实时推送 (清算机器人 / 行情)
// - KafkaSink: 持久化流 (落库 journal)

package event

import (
	"context"
	"encoding/json"

	"flash.com/pkg/kafka"
	pnats "flash.com/pkg/nats"
)

// NATSSink 发布到 perp.{type}
type NATSSink struct {
	pub *pnats.Publisher
}

// NewNATSSink 创建 NATS 下游
func NewNATSSink(pub *pnats.Publisher) *NATSSink {
	return &NATSSink{pub: pub}
}

func (s *NATSSink) Publish(_ context.Context, e *Event) error {
	return s.pub.Publish(e.Subject(), e)
}

// KafkaSink 写入单一 topic, 按交易员分区
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaSink 创建 Kafka 下游
func NewKafkaSink(producer *kafka.Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Publish(_ context.Context, e *Event) error {
	return s.producer.Send(kafkaMessage{topic: s.topic, event: e})
}

// kafkaMessage 实现 kafka.Message
type kafkaMessage struct {
	topic string
	event *Event
}

func (m kafkaMessage) Topic() string          { return m.topic }
func (m kafkaMessage) Key() string            { return m.event.PartitionKey() }
func (m kafkaMessage) Value() ([]byte, error) { return json.Marshal(m.event) }
