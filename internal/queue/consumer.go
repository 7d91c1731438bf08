package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// StartNotificationConsumer connects to RabbitMQ, declares the events
// queue (durable) and appends one human-readable line per event to
// logPath.  It reconnects with exponential backoff and returns only when
// ctx is cancelled.  A message that cannot be handled is rejected without
// requeue so a poison message cannot stall the queue.
func StartNotificationConsumer(ctx context.Context, url, queue, logPath string, log *zap.Logger) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("notification consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, queue, logPath, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("notification consumer: consume loop ended, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, queue, logPath string, log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("notification consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := handleMessage(d.Body, logPath); err != nil {
			log.Error("notification consumer: handle message failed", zap.String("message_id", d.MessageId), zap.Error(err))
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func handleMessage(body []byte, logPath string) error {
	ev, err := Decode(body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// FormatLine renders an event as one log line.
func FormatLine(ev Event) string {
	line := fmt.Sprintf("[%s] %s | event_id=%s | reservation_id=%d | borrower_id=%d | item_variant_id=%d | hub_id=%d | qty=%d | state=%s | pickup=%s | due=%s",
		ev.OccurredAt.Format(time.RFC3339), ev.Type, ev.EventID, ev.ReservationID, ev.BorrowerID,
		ev.ItemVariantID, ev.HubID, ev.Quantity, ev.State,
		ev.PickupDate.Format(time.RFC3339), ev.ExpectedReturnDate.Format(time.RFC3339))
	if ev.ActualReturnDate != nil {
		line += " | returned=" + ev.ActualReturnDate.Format(time.RFC3339)
	}
	if ev.Level > 0 {
		line += fmt.Sprintf(" | level=%d", ev.Level)
	}
	if ev.DaysOverdue > 0 {
		line += fmt.Sprintf(" | days_overdue=%d", ev.DaysOverdue)
	}
	if ev.Late {
		line += " | late=true"
	}
	if ev.ExtensionID > 0 {
		line += fmt.Sprintf(" | extension_id=%d | extension_status=%s", ev.ExtensionID, ev.ExtensionStatus)
	}
	if ev.RestrictedUntil != nil {
		line += " | restricted_until=" + ev.RestrictedUntil.Format(time.RFC3339)
	}
	return line + "\n"
}
