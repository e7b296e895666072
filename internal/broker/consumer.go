package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sentinelsync/cdc-relay/internal/models"
	"github.com/sentinelsync/cdc-relay/internal/poison"
	"github.com/sentinelsync/cdc-relay/pkg/metrics"
)

// Subscriber processes one domain event. attempt starts at 1 and counts
// prior failed deliveries of the same event. MaxAttempts lets a subscriber
// declare its own poison threshold; non-positive falls back to the host's
// configured default.
type Subscriber interface {
	Handle(ctx context.Context, ev models.DomainEvent, attempt int) error
	MaxAttempts() int
}

// EventConsumer manages the connection and message flow from the broker,
// wrapping every delivery in the poison/retry coordinator. An unhandled
// subscriber error never crashes the host: it becomes a poison-record
// transition and an ack/nack decision.
type EventConsumer struct {
	conn        *amqp.Connection
	channel     *amqp.Channel
	subscriber  Subscriber
	coordinator *poison.Coordinator
	logger      *slog.Logger
	group       string
	maxAttempts int
}

// NewEventConsumer initializes the consumer for one consumer group.
func NewEventConsumer(url, group string, maxAttempts int, sub Subscriber, coord *poison.Coordinator, logger *slog.Logger) (*EventConsumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %v", err)
	}

	// QoS: Prefetch 1 ensures we process messages one by one, maintaining strict order
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %v", err)
	}

	return &EventConsumer{
		conn:        conn,
		channel:     ch,
		subscriber:  sub,
		coordinator: coord,
		logger:      logger,
		group:       group,
		maxAttempts: maxAttempts,
	}, nil
}

// Listen starts the consumption loop and handles the queue/exchange binding
func (c *EventConsumer) Listen(ctx context.Context) error {
	queueName := fmt.Sprintf("cdc.queue.%s", c.group)
	routingKey := "cdc.#"

	// Declare Queue with durability to survive broker restarts
	q, err := c.channel.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %v", err)
	}

	if err := c.channel.QueueBind(q.Name, routingKey, EventsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %v", err)
	}

	msgs, err := c.channel.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %v", err)
	}

	c.logger.Info("Consumer is online and waiting for events", "queue", q.Name, "routing_key", routingKey)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}
			c.handleDelivery(ctx, q.Name, d)
		}
	}
}

// handleDelivery runs the poison check / invoke / mark cycle for one
// delivery and maps the outcome onto ack/nack.
func (c *EventConsumer) handleDelivery(ctx context.Context, queue string, d amqp.Delivery) {
	start := time.Now()

	var ev models.DomainEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		c.logger.Error("Failed to unmarshal event", "error", err)
		d.Nack(false, false) // Drop malformed messages
		return
	}

	cev := poison.ConsumedEvent{
		Queue:       queue,
		Group:       c.group,
		PartitionID: queue,
		Sequence:    uint64(ev.LSN),
		Subject:     ev.Subject,
		Action:      string(ev.Action),
		Body:        d.Body,
	}

	l := c.logger.With("event_id", ev.EventID, "subject", ev.Subject, "key", ev.Key)
	status := "success"
	defer func() {
		metrics.ConsumerDuration.WithLabelValues(status, ev.Subject, string(ev.Action)).Observe(time.Since(start).Seconds())
	}()

	decision, err := c.coordinator.Check(ctx, cev)
	if err != nil {
		status = "retry"
		l.Error("Poison check failed, requeueing", "error", err)
		time.Sleep(5 * time.Second) // Throttling retries
		d.Nack(false, true)
		return
	}

	if decision.Kind == poison.Skip {
		status = "skipped"
		l.Warn("Event skipped on operator request", "attempts", decision.Attempts)
		d.Ack(false)
		return
	}

	attempt := decision.Attempts + 1
	handleErr := c.subscriber.Handle(ctx, ev, attempt)
	if handleErr == nil {
		if decision.Kind == poison.Retry {
			if cerr := c.coordinator.ClearPoison(ctx, cev); cerr != nil {
				l.Warn("Failed to clear poison record after success", "error", cerr)
			}
		}
		if err := d.Ack(false); err != nil {
			l.Error("Failed to Ack event", "error", err)
		}
		return
	}

	maxAttempts := c.subscriber.MaxAttempts()
	if maxAttempts <= 0 {
		maxAttempts = c.maxAttempts
	}

	outcome, perr := c.coordinator.MarkPoisoned(ctx, cev, handleErr, maxAttempts)
	if perr != nil {
		status = "retry"
		l.Error("Failed to record poison state, requeueing", "error", perr)
		time.Sleep(5 * time.Second)
		d.Nack(false, true)
		return
	}

	if outcome == poison.Swallow {
		status = "escalated"
		// Counted as handled: the terminal audit row is already durable.
		d.Ack(false)
		return
	}

	status = "retry"
	l.Error("Processing failed, requeueing", "attempt", attempt, "error", handleErr)
	time.Sleep(5 * time.Second)
	d.Nack(false, true)
}

// Close gracefully terminates RabbitMQ resources
func (c *EventConsumer) Close() {
	c.logger.Info("Shutting down event consumer")
	c.channel.Close()
	c.conn.Close()
}
