package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	last []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func TestProducer_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	require.NoError(t, p.Publish(context.Background(), "tracking.updated", []byte("k"), []byte("v")))
	require.Len(t, fw.last, 1)
	require.Equal(t, "tracking.updated", fw.last[0].Topic)
	require.Equal(t, []byte("k"), fw.last[0].Key)
	require.Equal(t, []byte("v"), fw.last[0].Value)
}

func TestProducer_Publish_ErrorWrapped(t *testing.T) {
	fw := &fakeWriter{err: errors.New("boom")}
	p := newProducerWithWriter(fw)

	err := p.Publish(context.Background(), "t", nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "kafka publish")
}

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:0"})
	require.NotNil(t, p)
}
