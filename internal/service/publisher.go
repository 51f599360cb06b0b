// Package service publishes booking domain events to RabbitMQ.  Errors
// are logged and returned so callers can ignore failures without
// interrupting the request that produced the event.
package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/labstack/gommon/log"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/cinema-seat-lock/internal/model"
	"github.com/iliyamo/cinema-seat-lock/internal/queue"
)

// Logger is the structured logger used by the publisher.
type Logger interface {
	Warnj(j log.JSON)
}

// BookingPublisher sends booking events to the durable booking queues.
// Each publish dials its own connection; bookings are rare enough that
// a pooled channel is not worth the reconnect handling.
type BookingPublisher struct {
	url string
	log Logger
	now func() time.Time
}

// NewBookingPublisher returns a publisher for the broker at url.  An
// empty url resolves through queue.BrokerURL.
func NewBookingPublisher(url string, logger Logger) *BookingPublisher {
	if url == "" {
		url = queue.BrokerURL()
	}
	if logger == nil {
		logger = log.New("booking-publisher")
	}
	return &BookingPublisher{url: url, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

// BookingConfirmed publishes b on booking.confirmed.
func (p *BookingPublisher) BookingConfirmed(ctx context.Context, b *model.Booking) error {
	return p.publish(ctx, queue.BookingConfirmedQueue, queue.NewBookingEvent(b, p.now()))
}

// BookingCancelled publishes b on booking.cancelled.
func (p *BookingPublisher) BookingCancelled(ctx context.Context, b *model.Booking) error {
	return p.publish(ctx, queue.BookingCancelledQueue, queue.NewBookingEvent(b, p.now()))
}

func (p *BookingPublisher) publish(ctx context.Context, name string, event queue.BookingEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.fail("dial", name, err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.fail("channel", name, err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		p.fail("queue_declare", name, err)
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.fail("marshal", name, err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    p.now(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",    // default exchange
		name,  // routing key = queue name
		false, // mandatory
		false, // immediate
		pub,
	); err != nil {
		p.fail("publish", name, err)
		return err
	}
	return nil
}

func (p *BookingPublisher) fail(step, queueName string, err error) {
	p.log.Warnj(log.JSON{"event": "publish_failed", "step": step, "queue": queueName, "error": err.Error()})
}
