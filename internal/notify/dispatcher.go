package notify

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/northwind-labs/checkout-service/internal/models"
)

func InitProducer(brokers []string, logger *zap.Logger) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	logger.Info("kafka producer initialized", zap.Strings("brokers", brokers))
	return producer, nil
}

// Dispatcher publishes order-settled notifications to Kafka from a
// small worker pool. Enqueueing never blocks the webhook response and
// publish failures are logged, never surfaced: losing a notification
// must not fail or revert an order.
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
	queue    chan models.OrderNotification
	wg       sync.WaitGroup
	once     sync.Once
}

func NewDispatcher(producer sarama.SyncProducer, topic string, workers, buffer int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 2
	}
	if buffer <= 0 {
		buffer = 64
	}

	d := &Dispatcher{
		producer: producer,
		topic:    topic,
		logger:   logger,
		queue:    make(chan models.OrderNotification, buffer),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for n := range d.queue {
				d.publish(n)
			}
		}()
	}
	return d
}

// OrderSettled enqueues a notification. When the queue is full the
// notification is dropped and logged rather than blocking the caller.
func (d *Dispatcher) OrderSettled(n models.OrderNotification) {
	select {
	case d.queue <- n:
	default:
		d.logger.Warn("notification queue full, dropping",
			zap.String("order_id", n.OrderID))
	}
}

// Close drains the queue and stops the workers.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		close(d.queue)
		d.wg.Wait()
	})
}

func (d *Dispatcher) publish(n models.OrderNotification) {
	payload, err := json.Marshal(n)
	if err != nil {
		d.logger.Error("marshal notification", zap.Error(err))
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(n.OrderID),
		Value: sarama.ByteEncoder(payload),
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if _, _, lastErr = d.producer.SendMessage(msg); lastErr == nil {
			d.logger.Info("order notification published",
				zap.String("order_id", n.OrderID), zap.String("topic", d.topic))
			return
		}
		time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
	}

	d.logger.Error("order notification failed",
		zap.String("order_id", n.OrderID), zap.Error(lastErr))
}
