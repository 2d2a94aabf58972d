package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugacorp/device-jobs/internal/executor"
	"github.com/nugacorp/device-jobs/internal/storage"
)

type fakeAcknowledger struct {
	mu     sync.Mutex
	acked  []uint64
	nacked []uint64
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, _ bool) error {
	return a.Nack(tag, false, false)
}

func (a *fakeAcknowledger) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acked), len(a.nacked)
}

type fakeSource struct {
	deliveries chan amqp.Delivery
	qosErr     error
	prefetch   int
	tag        string
}

func (s *fakeSource) Qos(prefetchCount int) error {
	s.prefetch = prefetchCount
	return s.qosErr
}

func (s *fakeSource) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	s.tag = consumerTag
	return s.deliveries, nil
}

func TestConsumer_WakesWorker(t *testing.T) {
	w := newTestWorker(storage.NewMemory(), executor.Func(succeed), "w1")
	source := &fakeSource{deliveries: make(chan amqp.Delivery, 2)}
	ack := &fakeAcknowledger{}

	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"job_id":"j1","tenant_id":"t1","action":"CREATE"}`)}
	source.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`not json`)}
	close(source.deliveries)

	c := NewConsumer(source, w, 5, discard)
	require.NoError(t, c.Run(context.Background()))

	assert.Equal(t, 5, source.prefetch)
	assert.Equal(t, "w1", source.tag)
	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2}, ack.nacked)

	select {
	case <-w.wake:
	default:
		t.Fatal("worker was not woken")
	}
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	w := newTestWorker(storage.NewMemory(), executor.Func(succeed), "w1")
	source := &fakeSource{deliveries: make(chan amqp.Delivery)}
	c := NewConsumer(source, w, 1, discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestConsumer_QosError(t *testing.T) {
	w := newTestWorker(storage.NewMemory(), executor.Func(succeed), "w1")
	source := &fakeSource{qosErr: errors.New("channel closed")}

	err := NewConsumer(source, w, 1, discard).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set QoS")
}

func TestWake_NeverBlocks(t *testing.T) {
	w := newTestWorker(storage.NewMemory(), executor.Func(succeed), "w1")
	for i := 0; i < 5; i++ {
		w.Wake()
	}
	assert.Len(t, w.wake, 1)
}
