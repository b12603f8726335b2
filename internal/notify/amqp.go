package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPChannel is the subset of *amqp.Channel used for publishing.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPDialer opens a channel on which queue has been declared. The
// returned close function releases the channel and its connection.
type AMQPDialer func(url, queue string) (AMQPChannel, func() error, error)

// DialAMQP connects to the broker and declares a durable queue.
func DialAMQP(url, queue string) (AMQPChannel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	closeFn := func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return ch, closeFn, nil
}

// amqpPublisher publishes to one queue via the default exchange. The
// connection is opened lazily and re-opened after a failed publish.
type amqpPublisher struct {
	url   string
	queue string
	dial  AMQPDialer

	mu      sync.Mutex
	ch      AMQPChannel
	closeFn func() error
}

func newAMQPPublisher(url, queue string, dial AMQPDialer) *amqpPublisher {
	if dial == nil {
		dial = DialAMQP
	}
	return &amqpPublisher{url: url, queue: queue, dial: dial}
}

func (p *amqpPublisher) publish(ctx context.Context, msgType string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil {
		ch, closeFn, err := p.dial(p.url, p.queue)
		if err != nil {
			return err
		}
		p.ch, p.closeFn = ch, closeFn
	}

	err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         msgType,
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

func (p *amqpPublisher) reset() {
	if p.closeFn != nil {
		_ = p.closeFn()
	}
	p.ch, p.closeFn = nil, nil
}

func (p *amqpPublisher) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// AMQPSink publishes events as persistent JSON messages for integrations.
type AMQPSink struct {
	pub *amqpPublisher
}

func NewAMQPSink(url, queue string, dial AMQPDialer) *AMQPSink {
	return &AMQPSink{pub: newAMQPPublisher(url, queue, dial)}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Deliver(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return Permanent(fmt.Errorf("marshal event: %w", err))
	}
	return s.pub.publish(ctx, string(ev.Type), body)
}

func (s *AMQPSink) Close() error { return s.pub.close() }

// CustomerSink publishes the customer-facing notice of an event to a queue
// read by the mailer. Events without a notice or without a contact are
// skipped.
type CustomerSink struct {
	pub *amqpPublisher
	loc *time.Location
}

func NewCustomerSink(url, queue string, dial AMQPDialer, loc *time.Location) *CustomerSink {
	if loc == nil {
		loc = time.UTC
	}
	return &CustomerSink{pub: newAMQPPublisher(url, queue, dial), loc: loc}
}

func (s *CustomerSink) Name() string { return "customer" }

func (s *CustomerSink) Deliver(ctx context.Context, ev Event) error {
	msg, ok := CustomerNotice(ev, s.loc)
	if !ok {
		return nil
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return Permanent(fmt.Errorf("marshal customer notice: %w", err))
	}
	return s.pub.publish(ctx, "customer."+msg.Kind, body)
}

func (s *CustomerSink) Close() error { return s.pub.close() }
