package queue

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// TopicActions carries every scheduled action right after it is stored.
	TopicActions = "campaign_actions"
	// TopicEvents carries provider and synthetic events for the engine.
	TopicEvents = "campaign_events"
)

// Queue is the notification sink between the engine, the webhook handler and
// the worker. Handlers returning an error are retried.
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// InMemoryQueue delivers in-process, one goroutine per subscriber, with
// linear backoff between retries.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(payload any) error
	inflight sync.WaitGroup

	MaxRetries int
	Backoff    time.Duration
	Logger     *zap.Logger
}

func NewInMemoryQueue(logger *zap.Logger) *InMemoryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
		Logger:     logger,
	}
}

// delivery is one payload on its way to one handler.
type delivery struct {
	topic    string
	payload  any
	attempts int
}

// Publish fans payload out to every subscriber of topic. Publishing to a
// topic nobody listens on is an error so callers notice missing wiring.
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := append([]func(payload any) error(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, h := range handlers {
		q.inflight.Add(1)
		go q.run(h, delivery{topic: topic, payload: payload})
	}
	return nil
}

func (q *InMemoryQueue) run(handler func(payload any) error, d delivery) {
	defer q.inflight.Done()

	for {
		err := handler(d.payload)
		d.attempts++
		if err == nil {
			q.Logger.Debug("delivery handled", zap.String("topic", d.topic), zap.Int("attempts", d.attempts))
			return
		}

		retries := d.attempts - 1
		if retries >= q.MaxRetries {
			q.Logger.Error("❌ delivery dropped",
				zap.String("topic", d.topic),
				zap.Int("attempts", d.attempts),
				zap.Error(err))
			return
		}
		q.Logger.Warn("⚠️ delivery failed, retrying",
			zap.String("topic", d.topic),
			zap.Int("attempt", d.attempts),
			zap.Int("max_retries", q.MaxRetries),
			zap.Error(err))
		time.Sleep(time.Duration(d.attempts) * q.Backoff)
	}
}

func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published delivery has finished, retries included.
func (q *InMemoryQueue) Wait() {
	q.inflight.Wait()
}

var _ Queue = (*InMemoryQueue)(nil)
