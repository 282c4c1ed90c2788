package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchangeName = "jobs"
	queueName    = "jobs.work"
	routingKey   = "work"
)

// RabbitQueue is the task-queue collaborator: a durable direct exchange
// with a single work queue, JSON job envelopes, manual acks.
type RabbitQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	consumerWG sync.WaitGroup
}

func NewRabbitQueue(url string, log *slog.Logger) (*RabbitQueue, error) {
	if log == nil {
		log = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchangeName, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring queue: %w", err)
	}
	if err := ch.QueueBind(queueName, routingKey, exchangeName, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("binding queue: %w", err)
	}

	return &RabbitQueue{
		conn:     conn,
		ch:       ch,
		log:      log,
		handlers: make(map[string]Handler),
	}, nil
}

func (q *RabbitQueue) Enqueue(ctx context.Context, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	body, err := json.Marshal(Job{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	err = q.ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing job %s: %w", name, err)
	}

	q.log.Debug("job enqueued", slog.String("job", name))
	return nil
}

func (q *RabbitQueue) Register(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// StartConsumer pulls jobs until ctx is cancelled. Handler errors nack the
// delivery back onto the queue; unknown job names are acked and dropped.
func (q *RabbitQueue) StartConsumer(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 3
	}
	if err := q.ch.Qos(workers*2, 0, false); err != nil {
		return fmt.Errorf("setting qos: %w", err)
	}

	deliveries, err := q.ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	for i := 0; i < workers; i++ {
		q.consumerWG.Add(1)
		go func() {
			defer q.consumerWG.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					q.handleDelivery(ctx, d)
				}
			}
		}()
	}

	q.log.Info("queue consumer started", slog.Int("workers", workers))
	return nil
}

func (q *RabbitQueue) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.log.Error("dropping malformed job", slog.Any("err", err))
		_ = d.Ack(false)
		return
	}

	q.mu.RLock()
	h, ok := q.handlers[job.Name]
	q.mu.RUnlock()
	if !ok {
		q.log.Warn("no handler for job", slog.String("job", job.Name))
		_ = d.Ack(false)
		return
	}

	start := time.Now()
	if err := h(ctx, job.Payload); err != nil {
		q.log.Warn("job failed, requeueing",
			slog.String("job", job.Name),
			slog.String("job_id", job.ID),
			slog.Any("err", err),
		)
		_ = d.Nack(false, true)
		return
	}

	_ = d.Ack(false)
	q.log.Debug("job done",
		slog.String("job", job.Name),
		slog.Duration("dur", time.Since(start)),
	)
}

func (q *RabbitQueue) Close() error {
	q.consumerWG.Wait()
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

var _ Enqueuer = (*RabbitQueue)(nil)
