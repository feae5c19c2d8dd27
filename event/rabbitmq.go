package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"uplink-service/config"
	"uplink-service/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const RabbitMQActionHeader string = "x-action"

// RabbitMQ publishes changes on a topic exchange with the table name as the
// routing key. Every subscription gets its own exclusive queue, so each
// service instance sees every change.
type RabbitMQ struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	journal  *Journal
	log      *zap.Logger
}

func RabbitMQConnect(cfg config.RabbitMQConfig, journal *Journal, log *zap.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
	))
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	log.Info("connection opened to rabbitmq server")

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // kind
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	log.Info("declared rabbitmq exchange", zap.String("exchange", cfg.Exchange))

	return &RabbitMQ{
		conn:     conn,
		channel:  ch,
		exchange: cfg.Exchange,
		journal:  journal,
		log:      log,
	}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, c Change) error {
	if err := r.publish(ctx, c); err != nil {
		return err
	}
	if err := r.journal.Record(DirectionOut, c); err != nil {
		r.log.Warn("journal write failed", zap.Error(err))
	}
	return nil
}

// Republish sends c without journaling it again. Used by journal replay.
func (r *RabbitMQ) Republish(ctx context.Context, c Change) error {
	return r.publish(ctx, c)
}

func (r *RabbitMQ) publish(ctx context.Context, c Change) error {
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange, // exchange
		c.Table,    // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Headers: amqp.Table{
				RabbitMQActionHeader: string(c.EventType),
			},
			Body: body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s change: %w", c.Table, err)
	}
	metrics.ChangesPublished.WithLabelValues(c.Table).Inc()
	return nil
}

func (r *RabbitMQ) Subscribe(ctx context.Context, tables ...string) (<-chan Change, error) {
	if len(tables) == 0 {
		tables = AllTables
	}

	queue, err := r.channel.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, table := range tables {
		if err := r.channel.QueueBind(queue.Name, table, r.exchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind %s: %w", table, err)
		}
	}

	msgs, err := r.channel.ConsumeWithContext(
		ctx,
		queue.Name, // queue
		"",         // consumer
		false,      // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return nil, fmt.Errorf("register consumer: %w", err)
	}
	r.log.Info("subscribed to rabbitmq changes", zap.Strings("tables", tables))

	out := make(chan Change)
	go func() {
		defer close(out)
		for msg := range msgs {
			var c Change
			if err := json.Unmarshal(msg.Body, &c); err != nil {
				r.log.Warn("dropping malformed change", zap.Error(err))
				_ = msg.Nack(false, false)
				continue
			}
			if err := r.journal.Record(DirectionIn, c); err != nil {
				r.log.Warn("journal write failed", zap.Error(err))
			}
			_ = msg.Ack(false)

			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		r.log.Warn("close rabbitmq channel", zap.Error(err))
	}
	return r.conn.Close()
}
