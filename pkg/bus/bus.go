// Package bus wraps streadway/amqp as the concrete message-bus driver
// behind the event publish/consume contract. Topics become AMQP
// exchanges with a matching queue; "<topic>.DLT" is the dead-letter queue
// naming convention, with the primary queue's dead-letter-exchange arg
// wired to the DLT so a nacked or expired message lands there
// automatically.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// Bus owns one AMQP connection/channel pair and declares exchanges/queues
// lazily as topics are published or consumed.
type Bus struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	prefetch int
}

// Connect dials url and opens a channel with the given consumer prefetch.
func Connect(url string, prefetch int) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set amqp qos: %w", err)
	}
	return &Bus{conn: conn, ch: ch, prefetch: prefetch}, nil
}

func (b *Bus) Close() error {
	if err := b.ch.Close(); err != nil {
		return err
	}
	return b.conn.Close()
}

func dlqName(topic string) string { return topic + ".DLT" }

// declareTopic declares the topic's exchange, its primary queue, and its
// dead-letter queue, wiring the primary queue's dead-letter-exchange arg to
// the DLT, so a nacked/expired message lands in "<topic>.DLT" automatically.
func (b *Bus) declareTopic(topic string) error {
	if err := b.ch.ExchangeDeclare(topic, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", topic, err)
	}
	dlq := dlqName(topic)
	if err := b.ch.ExchangeDeclare(dlq, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq exchange %s: %w", dlq, err)
	}
	if _, err := b.ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dlq queue %s: %w", dlq, err)
	}
	if err := b.ch.QueueBind(dlq, "", dlq, false, nil); err != nil {
		return fmt.Errorf("bind dlq queue %s: %w", dlq, err)
	}

	args := amqp.Table{"x-dead-letter-exchange": dlq}
	if _, err := b.ch.QueueDeclare(topic, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	return b.ch.QueueBind(topic, "", topic, false, nil)
}

// Publish marshals payload as JSON and publishes it to topic, at-least-once
// (persistent delivery mode, publisher confirms are enabled by the caller's
// channel mode if needed).
func (b *Bus) Publish(ctx context.Context, topic string, payload any) error {
	if err := b.declareTopic(topic); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event for topic %s: %w", topic, err)
	}
	return b.ch.PublishWithContext(ctx, topic, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         data,
	})
}

// Consume returns a channel of deliveries for topic. Callers Ack on
// successful processing and Nack (requeue=false) to route a message to the
// topic's DLT.
func (b *Bus) Consume(ctx context.Context, topic, consumerTag string) (<-chan amqp.Delivery, error) {
	if err := b.declareTopic(topic); err != nil {
		return nil, err
	}
	deliveries, err := b.ch.Consume(topic, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume topic %s: %w", topic, err)
	}
	return deliveries, nil
}

// ConsumeDLQ returns a channel of deliveries for topic's dead-letter queue,
// used by pkg/dlqreplay.
func (b *Bus) ConsumeDLQ(ctx context.Context, topic, consumerTag string) (<-chan amqp.Delivery, error) {
	if err := b.declareTopic(topic); err != nil {
		return nil, err
	}
	deliveries, err := b.ch.Consume(dlqName(topic), consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume dlq %s: %w", dlqName(topic), err)
	}
	return deliveries, nil
}

// Requeue republishes a DLT delivery back onto topic's primary exchange —
// the mechanism pkg/dlqreplay uses once a replay batch fully succeeds.
func (b *Bus) Requeue(ctx context.Context, topic string, body []byte) error {
	if err := b.declareTopic(topic); err != nil {
		return err
	}
	return b.ch.PublishWithContext(ctx, topic, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}
