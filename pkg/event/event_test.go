package event

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flash.com/pkg/kafka"
)

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, *Event) error { return f.err }

func TestEvent_SubjectAndKey(t *testing.T) {
	e := &Event{Type: TypeOpen, Symbol: "XLM", Trader: "GA"}
	assert.Equal(t, "perp.open", e.Subject())
	assert.Equal(t, Subject(TypeOpen), e.Subject())
	assert.Equal(t, "GA", e.PartitionKey())

	e = &Event{Type: TypeFundingPoke, Symbol: "BTC"}
	assert.Equal(t, "BTC", e.PartitionKey())
}

func TestEvent_JSON(t *testing.T) {
	in := &Event{ID: NextID(), Type: TypeClose, Symbol: "ETH", Trader: "GB", Size: -5, PnL: -12, Timestamp: 99}
	rec := kafkaMessage{topic: "t", event: in}
	data, err := rec.Value()
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNextID_Unique(t *testing.T) {
	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		id := NextID()
		require.NotZero(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestRecorderAndMulti(t *testing.T) {
	ctx := context.Background()
	rec := &Recorder{}
	boom := errors.New("boom")
	m := Multi{rec, failingPublisher{err: boom}, Nop{}}

	err := m.Publish(ctx, &Event{Type: TypeDeposit, Trader: "GA", Amount: 10})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, rec.Publish(ctx, &Event{Type: TypeWithdraw, Trader: "GA", Amount: 3}))

	assert.Len(t, rec.Events(), 2)
	assert.Len(t, rec.OfType(TypeDeposit), 1)
	assert.Equal(t, TypeWithdraw, rec.Last().Type)

	rec.Reset()
	assert.Nil(t, rec.Last())
}

func TestKafkaSink(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	mp.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "perp-events" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "GA" {
			return errors.New("wrong key " + string(key))
		}
		return nil
	})

	producer := kafka.NewProducerFrom(mp, zap.NewNop())
	sink := NewKafkaSink(producer, "perp-events")
	require.NoError(t, sink.Publish(context.Background(), &Event{Type: TypeOpen, Trader: "GA", Symbol: "XLM"}))
	require.NoError(t, producer.Close())
}
