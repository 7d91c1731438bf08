package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/config"
	"github.com/iliyamo/hub-lending/internal/model"
)

// Publisher hands one outbox event to a broker.  A nil error means the
// broker accepted the event and the outbox row may be marked published.
type Publisher interface {
	Publish(ctx context.Context, ev model.OutboxEvent) error
	Close() error
}

// NewPublisher returns the publisher selected by cfg.Kind.
func NewPublisher(cfg config.BrokerConfig, log *zap.Logger) (Publisher, error) {
	switch cfg.Kind {
	case config.BrokerRabbitMQ:
		return NewRabbitPublisher(cfg.RabbitURL, cfg.Queue), nil
	case config.BrokerKafka:
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case config.BrokerLog, "":
		return NewLogPublisher(log), nil
	}
	return nil, fmt.Errorf("unknown EVENT_BROKER %q", cfg.Kind)
}

// ErrNotConfirmed means the broker refused an event or the channel closed
// before confirming it.  The event stays pending and is retried.
var ErrNotConfirmed = errors.New("broker did not confirm the event")

// RabbitPublisher publishes persistent JSON messages to a durable queue
// through the default exchange, with publisher confirms enabled on the
// channel.  The connection is opened lazily and re-dialled after any
// failure.
type RabbitPublisher struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitPublisher constructs a RabbitPublisher; it does not dial.
func NewRabbitPublisher(url, queue string) *RabbitPublisher {
	return &RabbitPublisher{url: url, queue: queue}
}

func (p *RabbitPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq confirm mode: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *RabbitPublisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Publish sends one event and waits for the broker's confirmation.
func (p *RabbitPublisher) Publish(ctx context.Context, ev model.OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	headers := amqp.Table{"event_type": ev.EventType}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers[k] = v
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Type:         ev.EventType,
		Timestamp:    ev.CreatedAt,
		Headers:      headers,
		Body:         ev.Payload,
	}
	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", p.queue, false, false, pub)
	if err != nil {
		p.reset()
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	// A nil confirmation means the channel left confirm mode.
	var c confirmation = notConfirmed{}
	if dc != nil {
		c = dc
	}
	if err := awaitConfirm(ctx, c); err != nil {
		p.reset()
		return fmt.Errorf("rabbitmq publish %s: %w", ev.EventID, err)
	}
	return nil
}

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type notConfirmed struct{}

func (notConfirmed) WaitContext(context.Context) (bool, error) { return false, nil }

// awaitConfirm blocks until the broker acks or nacks, or ctx ends.
func awaitConfirm(ctx context.Context, dc confirmation) error {
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}

// Close releases the connection.
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// KafkaPublisher writes events to one topic keyed by reservation id, so
// all events of a reservation land on the same partition in order.
type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher constructs a synchronous Kafka writer.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

// Publish sends one event and waits for the broker's acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, ev model.OutboxEvent) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(ev.EventID)},
		{Key: "event_type", Value: []byte(ev.EventType)},
	}
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	msg := kafka.Message{
		Key:     []byte(strconv.FormatUint(ev.ReservationID, 10)),
		Value:   ev.Payload,
		Headers: headers,
		Time:    ev.CreatedAt,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error { return p.w.Close() }

// LogPublisher writes events to the structured log.  It backs development
// setups without a broker.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher { return &LogPublisher{log: log} }

func (p *LogPublisher) Publish(_ context.Context, ev model.OutboxEvent) error {
	p.log.Info("event published",
		zap.String("event_id", ev.EventID),
		zap.String("event_type", ev.EventType),
		zap.Uint64("reservation_id", ev.ReservationID),
		zap.ByteString("payload", ev.Payload),
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
