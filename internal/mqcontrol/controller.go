package mqcontrol

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/multierr"

	"github.com/notnil/odrivecan/internal/syncutil"
	"github.com/notnil/odrivecan/odrive"
)

// Config names the broker and its exchanges.
type Config struct {
	URL             string
	ControlExchange string
	EventsExchange  string
	Logger          *slog.Logger
}

// Controller owns one broker connection. Commands are read from an exclusive
// queue bound to the control exchange.
type Controller struct {
	cfg   Config
	log   *slog.Logger
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue amqp.Queue

	pubMu syncutil.Mutex
	now   func() time.Time
}

// Dial connects to the broker and declares both exchanges and the command
// queue.
func Dial(cfg Config) (*Controller, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("mqcontrol: dial: %w", err)
	}
	c := &Controller{cfg: cfg, log: cfg.Logger, conn: conn, now: time.Now}
	if err := c.setup(); err != nil {
		return nil, multierr.Append(err, conn.Close())
	}
	return c, nil
}

func (c *Controller) setup() error {
	var err error
	c.ch, err = c.conn.Channel()
	if err != nil {
		return fmt.Errorf("mqcontrol: channel: %w", err)
	}

	for _, name := range []string{c.cfg.ControlExchange, c.cfg.EventsExchange} {
		err = c.ch.ExchangeDeclare(
			name,     // name
			"fanout", // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		)
		if err != nil {
			return fmt.Errorf("mqcontrol: declare exchange %s: %w", name, err)
		}
	}

	c.queue, err = c.ch.QueueDeclare(
		"",    // name
		false, // durable
		false, // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("mqcontrol: declare queue: %w", err)
	}

	err = c.ch.QueueBind(
		c.queue.Name,          // queue name
		"",                    // routing key
		c.cfg.ControlExchange, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("mqcontrol: bind queue: %w", err)
	}
	return nil
}

// Run consumes commands until ctx is done or the delivery channel closes.
// Commands run one at a time in arrival order.
func (c *Controller) Run(ctx context.Context, axis Axis) error {
	msgs, err := c.ch.Consume(
		c.queue.Name, // queue
		"",           // consumer
		true,         // auto-ack
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
	if err != nil {
		return fmt.Errorf("mqcontrol: consume: %w", err)
	}
	c.log.Info("waiting for commands", "exchange", c.cfg.ControlExchange, "queue", c.queue.Name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("mqcontrol: delivery channel closed")
			}
			op, err := Dispatch(ctx, axis, d.ContentType, d.Body)
			if err != nil {
				c.log.Error("command failed", "content_type", d.ContentType, "op", op, "error", err)
				continue
			}
			c.log.Info("command done", "op", op)
		}
	}
}

// Events returns odrive callbacks that publish goal and fault events.
func (c *Controller) Events() odrive.Events {
	return odrive.Events{
		OnFault: func(f odrive.DeviceFault) {
			c.publish(FaultEvent(f, c.now()))
		},
		OnGoalReached: func(node odrive.NodeID, g odrive.Goal, position float64) {
			c.publish(GoalReachedEvent(node, g, position, c.now()))
		},
	}
}

func (c *Controller) publish(e Event) {
	body, err := e.marshal()
	if err != nil {
		c.log.Error("cannot encode event", "type", e.Type, "error", err)
		return
	}
	c.pubMu.Lock()
	defer c.pubMu.Unlock()
	err = c.ch.Publish(
		c.cfg.EventsExchange, // exchange
		"",                   // routing key
		false,                // mandatory
		false,                // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Type:        e.Type,
			Timestamp:   e.Time,
			Body:        body,
		},
	)
	if err != nil {
		c.log.Error("event not published", "type", e.Type, "exchange", c.cfg.EventsExchange, "error", err)
	}
}

// Close closes the channel and the connection.
func (c *Controller) Close() error {
	var err error
	if c.ch != nil {
		err = multierr.Append(err, c.ch.Close())
	}
	return multierr.Append(err, c.conn.Close())
}
