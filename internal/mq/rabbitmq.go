package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bidhouse/apiserver/config"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConfirmed is returned when the broker nacks a published event.
var ErrNotConfirmed = errors.New("rabbitmq did not confirm publish")

// RabbitMQClient publishes onto a topic exchange with publisher confirms.
// The routing key is the event type, so consumers can bind to "auction.*"
// or "bid.placed".
type RabbitMQClient struct {
	conn     *amqp.Connection
	exchange string
	durable  bool
	prefetch int

	mu      sync.Mutex
	publish *amqp.Channel
}

func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	if strings.TrimSpace(cfg.Exchange) == "" {
		return nil, errors.New("rabbitmq exchange is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	client := &RabbitMQClient{
		conn:     conn,
		exchange: cfg.Exchange,
		durable:  cfg.Durable,
		prefetch: cfg.Prefetch,
	}

	ch, err := client.openChannel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	client.publish = ch
	return client, nil
}

// openChannel opens a channel and declares the events exchange on it.
func (r *RabbitMQClient) openChannel() (*amqp.Channel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(r.exchange, amqp.ExchangeTopic, r.durable, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", r.exchange, err)
	}
	return ch, nil
}

// Publish sends data to the exchange and waits for the broker confirm.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	routingKey := routingKeyFor(channel, attrs)
	if routingKey == "" {
		return "", errors.New("rabbitmq routing key is required")
	}

	headers := make(amqp.Table, len(attrs))
	for key, value := range attrs {
		headers[key] = value
	}
	messageID := uuid.NewString()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: r.deliveryMode(),
		MessageId:    messageID,
		Headers:      headers,
		Body:         data,
	}

	r.mu.Lock()
	confirm, err := r.publish.PublishWithDeferredConfirmWithContext(ctx, r.exchange, routingKey, false, false, msg)
	r.mu.Unlock()
	if err != nil {
		return "", err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return "", err
	}
	if !acked {
		return "", fmt.Errorf("%w: %s", ErrNotConfirmed, routingKey)
	}
	return messageID, nil
}

// Subscribe consumes from a queue named after channel, bound to every
// routing key on the exchange, until ctx is done. Each subscription gets its
// own AMQP channel.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}

	ch, err := r.openChannel()
	if err != nil {
		return err
	}
	defer func() {
		_ = ch.Close()
	}()

	if err := ch.Qos(r.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}
	queue, err := ch.QueueDeclare(channel, r.durable, !r.durable, false, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(queue.Name, "#", r.exchange, false, nil); err != nil {
		return err
	}

	consumerTag := "bidhouse-" + uuid.NewString()
	deliveries, err := ch.ConsumeWithContext(ctx, queue.Name, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			r.deliver(ctx, delivery, handler)
		}
	}
}

// deliver acks handled messages. Failed messages are dropped, not requeued,
// so a malformed event cannot loop forever.
func (r *RabbitMQClient) deliver(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	msg := Message{
		ID:         delivery.MessageId,
		Data:       delivery.Body,
		Attributes: headersToAttributes(delivery.Headers),
	}
	if err := handler(ctx, msg); err != nil {
		_ = delivery.Nack(false, false)
		return
	}
	_ = delivery.Ack(false)
}

func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	if r.publish != nil {
		_ = r.publish.Close()
		r.publish = nil
	}
	r.mu.Unlock()
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

func (r *RabbitMQClient) deliveryMode() uint8 {
	if r.durable {
		return amqp.Persistent
	}
	return amqp.Transient
}

func routingKeyFor(channel string, attrs map[string]string) string {
	if eventType := strings.TrimSpace(attrs[attrType]); eventType != "" {
		return eventType
	}
	return strings.TrimSpace(channel)
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}
