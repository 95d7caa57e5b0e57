/*
Package events publishes committed enrollments to a RabbitMQ topic exchange.

  Routing key:  enrollment.committed
  Body:         EnrollmentCommitted (JSON)

Publishing happens after the store transaction has committed. A failed
publish is returned to the reconciler, which logs it; the enrollment
stands either way. Consumers must treat events as at-most-once and use
transactionId to de-duplicate.
*/
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/warp/enrollment-engine/enrollment"
)

const RoutingKeyCommitted = "enrollment.committed"

// EnrollmentCommitted is the wire form of a committed receipt.
type EnrollmentCommitted struct {
	TransactionID    string    `json:"transactionId"`
	StudentEmail     string    `json:"studentEmail"`
	ClassID          string    `json:"classId"`
	ClassName        string    `json:"className,omitempty"`
	InstructorEmail  string    `json:"instructorEmail"`
	Price            string    `json:"price"`
	Date             time.Time `json:"date"`
	EnrolledStudents int       `json:"enrolledStudents"`
	NumberOfStudents int       `json:"numberOfStudents"`
}

func NewEnrollmentCommitted(r enrollment.Receipt) EnrollmentCommitted {
	p := r.Payment
	return EnrollmentCommitted{
		TransactionID:    string(p.TransactionID),
		StudentEmail:     p.StudentEmail,
		ClassID:          string(p.ClassID),
		ClassName:        p.ClassName,
		InstructorEmail:  p.InstructorEmail,
		Price:            p.Price.String(),
		Date:             p.Date,
		EnrolledStudents: r.Counters.EnrolledStudents,
		NumberOfStudents: r.Counters.NumberOfStudents,
	}
}

// =============================================================================
// AMQP PUBLISHER
// =============================================================================

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher implements enrollment.Notifier.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	mu       sync.Mutex // amqp channels are not safe for concurrent publish
}

// NewAMQPPublisher dials url and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

// EnrollmentCommitted implements enrollment.Notifier.
func (p *AMQPPublisher) EnrollmentCommitted(ctx context.Context, r enrollment.Receipt) error {
	body, err := json.Marshal(NewEnrollmentCommitted(r))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, RoutingKeyCommitted, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    string(r.Payment.TransactionID),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
