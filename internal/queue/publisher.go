package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-tickets/internal/notify"
)

// DefaultSeatsExchange is the fanout exchange seat updates are published to.
const DefaultSeatsExchange = "seats.updated"

// Publisher sends seat updates to a RabbitMQ fanout exchange so that every
// API instance can forward them to its own WebSocket subscribers.  The
// connection is opened lazily and dropped after any failure; the next Send
// dials again.
type Publisher struct {
	url      string
	exchange string
	log      logrus.FieldLogger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url, exchange string, log logrus.FieldLogger) *Publisher {
	if exchange == "" {
		exchange = DefaultSeatsExchange
	}
	return &Publisher{url: url, exchange: exchange, log: log}
}

func (p *Publisher) Name() string { return "amqp" }

// Send publishes e.  Messages are transient: a seat count that missed its
// subscribers is stale anyway.
func (p *Publisher) Send(ctx context.Context, e notify.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		Type:         e.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		p.exchange, // fanout exchange
		"",         // routing key ignored by fanout
		false,      // mandatory
		false,      // immediate
		pub,
	); err != nil {
		p.reset()
		return fmt.Errorf("amqp publish: %w", err)
	}
	return nil
}

// channel returns the open channel, dialing when needed.  Callers hold p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := declareExchange(ch, p.exchange); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	p.log.WithField("exchange", p.exchange).Info("amqp publisher connected")
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(
		name,     // name
		"fanout", // kind
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	return nil
}
