// Package rabbitmq is the AMQP transport for run commands and run reports.
package rabbitmq

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// HandlerFunc handles one consumed message.
type HandlerFunc func(ctx context.Context, message []byte) error

// RabbitMQ consumes run commands and publishes run reports on one channel.
type RabbitMQ struct {
	channel  *amqp.Channel
	exchange string
	done     chan struct{}
}

// NewRabbitMQ opens a channel on the provided connection.
func NewRabbitMQ(connection *amqp.Connection, exchange string) (*RabbitMQ, error) {
	channel, err := connection.Channel()
	if err != nil {
		return nil, fmt.Errorf("can't open channel: %w", err)
	}

	return &RabbitMQ{
		channel:  channel,
		exchange: exchange,
	}, nil
}

// Publish publishes a JSON message to the routing key.
func (mq *RabbitMQ) Publish(ctx context.Context, routingKey string, message []byte) error {
	return mq.channel.PublishWithContext(
		ctx,
		mq.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        message,
		},
	)
}

// Consume consumes messages from queue and passes them to handler. Failed
// messages are nacked without requeue; handler errors are reported on the
// returned channel. Consuming runs in background until ctx is cancelled.
func (mq *RabbitMQ) Consume(ctx context.Context, queue string, handler HandlerFunc) (<-chan error, error) {
	consumerID, err := uuid.NewUUID()
	if err != nil {
		return nil, fmt.Errorf("can't create consumer ID: %w", err)
	}

	deliveries, err := mq.channel.Consume(
		queue,
		consumerID.String(),
		false, // auto acknowledge
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("can't start consuming: %w", err)
	}

	handlerErrors := make(chan error)
	mq.done = make(chan struct{})

	go func() {
		defer close(mq.done)
		mq.handleDeliveries(ctx, deliveries, handlerErrors, handler)
	}()

	return handlerErrors, nil
}

func (mq *RabbitMQ) handleDeliveries(
	ctx context.Context,
	deliveries <-chan amqp.Delivery,
	handlerErrors chan error,
	handler HandlerFunc,
) {
	for delivery := range deliveries {
		if err := handler(ctx, delivery.Body); err != nil {
			if reportErr(ctx, err, handlerErrors) != nil {
				return
			}
			if err := delivery.Nack(false, false); err != nil {
				if reportErr(ctx, fmt.Errorf("can't nack message: %w", err), handlerErrors) != nil {
					return
				}
			}
			continue
		}

		if err := delivery.Ack(false); err != nil {
			if reportErr(ctx, fmt.Errorf("can't ack message: %w", err), handlerErrors) != nil {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Done returns a channel closed when consuming has finished.
func (mq *RabbitMQ) Done() chan struct{} {
	return mq.done
}

func reportErr(ctx context.Context, err error, errChan chan error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case errChan <- err:
		return nil
	}
}
