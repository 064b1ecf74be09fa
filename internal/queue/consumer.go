// Package queue carries seat updates between API instances over RabbitMQ.
// Publisher is a notify transport; StartSeatsConsumer feeds the updates
// published by any instance into the local WebSocket hub.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-tickets/internal/notify"
)

// StartSeatsConsumer binds a private, auto-deleted queue to the seats
// exchange and forwards every update to sink.  It runs a reconnect loop
// with exponential backoff and only returns once ctx is cancelled.
// Malformed messages are rejected without requeue so they cannot loop.
func StartSeatsConsumer(ctx context.Context, url, exchange string, sink notify.Transport, log logrus.FieldLogger) error {
	if exchange == "" {
		exchange = DefaultSeatsExchange
	}
	log = log.WithField("exchange", exchange)

	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.WithError(err).Warnf("seats-consumer: failed to dial broker; retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = consumeLoop(ctx, conn, exchange, sink, log)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("seats-consumer: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, exchange string, sink notify.Transport, log logrus.FieldLogger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.WithError(err).Warn("seats-consumer: set QoS failed")
	}
	if err := declareExchange(ch, exchange); err != nil {
		return err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	log.WithField("queue", q.Name).Info("seats-consumer: consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handleMessage(ctx, d.Body, sink); err != nil {
				log.WithError(err).Warn("seats-consumer: handle message failed")
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func handleMessage(ctx context.Context, body []byte, sink notify.Transport) error {
	var ev notify.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type != notify.TypeUpdateSeats || ev.ScreeningID == 0 {
		return fmt.Errorf("unexpected event %q for screening %d", ev.Type, ev.ScreeningID)
	}
	return sink.Send(ctx, ev)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
