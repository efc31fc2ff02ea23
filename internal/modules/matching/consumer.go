// README: RabbitMQ consumer feeding delivery-created events to the dispatcher.
package matching

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"courier/internal/infra"
	"courier/internal/modules/assignment"
	"courier/internal/modules/delivery"
	"courier/internal/modules/driver"
)

type Broker interface {
	Consume(ctx context.Context, queueName, bindingKey string, opts infra.ConsumeOptions) (<-chan amqp.Delivery, error)
}

// Acknowledger is the part of amqp.Delivery the consumer settles messages with.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type ConsumerConfig struct {
	Queue      string
	BindingKey string
	Prefetch   int
}

type Consumer struct {
	broker     Broker
	dispatcher *Dispatcher
	cfg        ConsumerConfig
	log        *slog.Logger
	wg         sync.WaitGroup
}

func NewConsumer(broker Broker, dispatcher *Dispatcher, cfg ConsumerConfig, log *slog.Logger) *Consumer {
	return &Consumer{
		broker:     broker,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log.With("component", "delivery_consumer", "queue", cfg.Queue),
	}
}

// Run consumes until ctx is cancelled, then waits for the in-flight message.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.broker.Consume(ctx, c.cfg.Queue, c.cfg.BindingKey, infra.ConsumeOptions{
		Prefetch:     c.cfg.Prefetch,
		AutoAck:      false,
		QueueDurable: true,
	})
	if err != nil {
		return err
	}
	c.log.Info("consuming delivery events", "binding_key", c.cfg.BindingKey)

	c.wg.Add(1)
	defer c.wg.Done()
	for m := range msgs {
		c.handle(ctx, m.Body, &m)
	}
	return nil
}

func (c *Consumer) Wait() {
	c.wg.Wait()
}

// handle acks everything the dispatcher rejected for a reason a redelivery cannot fix.
func (c *Consumer) handle(ctx context.Context, body []byte, ack Acknowledger) {
	var ev DeliveryCreated
	if err := json.Unmarshal(body, &ev); err != nil {
		c.log.Warn("malformed delivery event", "err", err)
		c.settle(ack, true)
		return
	}

	_, err := c.dispatcher.HandleDeliveryCreated(ctx, ev)
	switch {
	case err == nil:
		c.settle(ack, true)
	case isFinal(err):
		c.log.Info("delivery not dispatched", "delivery_id", ev.DeliveryID, "reason", err.Error())
		c.settle(ack, true)
	default:
		c.log.Error("dispatch failed", "delivery_id", ev.DeliveryID, "err", err)
		c.settle(ack, false)
	}
}

func (c *Consumer) settle(ack Acknowledger, ok bool) {
	var err error
	if ok {
		err = ack.Ack(false)
	} else {
		err = ack.Nack(false, false)
	}
	if err != nil {
		c.log.Warn("settle message failed", "err", err)
	}
}

func isFinal(err error) bool {
	return errors.Is(err, ErrNoDriverAvailable) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, assignment.ErrDriverBusy) ||
		errors.Is(err, assignment.ErrDeliveryClosed) ||
		errors.Is(err, assignment.ErrDeliveryTaken) ||
		errors.Is(err, driver.ErrNotVerified) ||
		errors.Is(err, driver.ErrDriverInactive) ||
		errors.Is(err, delivery.ErrNotFound)
}
