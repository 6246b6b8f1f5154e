package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-restaurant-backend/internal/events"
)

type memWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestEventPublisherFlushesOnClose(t *testing.T) {
	w := &memWriter{}
	p := NewProducerWithWriter(w, 16, zerolog.Nop())
	p.Start(context.Background())

	env, err := events.New(context.Background(), events.TypeOrderPaid, "test", "order-1", events.OrderPaidPayload{OrderID: "order-1"})
	require.NoError(t, err)
	pub := EventPublisher{P: p}
	require.NoError(t, pub.Publish(context.Background(), events.TopicOrderPaid, env))
	require.NoError(t, pub.Publish(context.Background(), events.TopicOrderPaid, env))

	p.Close()
	p.WaitClosed()

	require.Len(t, w.msgs, 2)
	m := w.msgs[0]
	assert.Equal(t, events.TopicOrderPaid, m.Topic)
	assert.Equal(t, "order-1", string(m.Key))
	assert.Equal(t, events.TypeOrderPaid, Header(m, "x-event-type"))
	assert.Equal(t, "1", Header(m, "x-event-version"))
	assert.True(t, w.closed)

	got, err := UnmarshalEnvelope(m)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
}

func TestPublishRespectsContextWhenFull(t *testing.T) {
	p := NewProducerWithWriter(&memWriter{}, 1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Publish(ctx, "t", nil, []byte("a")))
	cancel()
	err := p.Publish(ctx, "t", nil, []byte("b"))
	assert.ErrorIs(t, err, context.Canceled)
}

type memReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	done      chan struct{}
	want      int
}

func (r *memReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *memReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.committed) == r.want {
		close(r.done)
	}
	return nil
}

func (r *memReader) Close() error { return nil }

func TestConsumerRetriesFailedMessageBeforeCommittingLaterOnes(t *testing.T) {
	r := &memReader{
		queue: []kafka.Message{
			{Topic: "t", Partition: 0, Offset: 1},
			{Topic: "t", Partition: 0, Offset: 2},
			{Topic: "t", Partition: 0, Offset: 3},
		},
		done: make(chan struct{}),
		want: 3,
	}
	c := NewConsumerWithReader(r, 4, zerolog.Nop())
	c.backoff = time.Millisecond

	var mu sync.Mutex
	failures := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			mu.Lock()
			defer mu.Unlock()
			if m.Offset == 2 && failures < 2 {
				failures++
				return errors.New("redis unavailable")
			}
			return nil
		})
	}()

	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("messages were not committed")
	}
	cancel()
	require.NoError(t, <-errCh)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, []int64{1, 2, 3}, r.committed)
	assert.Equal(t, 2, failures)
}

func TestConsumerLeavesFailingMessageUncommittedOnShutdown(t *testing.T) {
	r := &memReader{
		queue: []kafka.Message{{Topic: "t", Offset: 1}, {Topic: "t", Offset: 2}},
		done:  make(chan struct{}),
		want:  1,
	}
	c := NewConsumerWithReader(r, 2, zerolog.Nop())
	c.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Start(ctx, func(_ context.Context, m kafka.Message) error {
			if m.Offset == 1 {
				return errors.New("poison")
			}
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.committed, "offset 2 must not be committed past the failing offset 1")
}

func TestWorkerPinsPartition(t *testing.T) {
	c := NewConsumerWithReader(&memReader{}, 3, zerolog.Nop())
	a := kafka.Message{Topic: "order.placed", Partition: 4, Offset: 1}
	b := kafka.Message{Topic: "order.placed", Partition: 4, Offset: 99}
	assert.Equal(t, c.worker(a), c.worker(b))
}
