package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/storefront-api/internal/mail"
	"github.com/flicky/storefront-api/internal/model"
)

const (
	mailQueueName  = "mail"
	dlxExchange    = "mail.dlx"
	dlqQueueName   = "mail.dlq"
	idempotencyTTL = 24 * time.Hour
)

// SetupRabbitMQ declares exchanges, queues, and bindings (DLX/DLQ).
func SetupRabbitMQ(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLX: %w", err)
	}
	if _, err := ch.QueueDeclare(dlqQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}
	if err := ch.QueueBind(dlqQueueName, mailQueueName, dlxExchange, false, nil); err != nil {
		return fmt.Errorf("bind DLQ: %w", err)
	}
	if _, err := ch.QueueDeclare(mailQueueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlxExchange,
		"x-dead-letter-routing-key": mailQueueName,
	}); err != nil {
		return fmt.Errorf("declare mail queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}
	return nil
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// MailPublisher puts mail jobs on the mail queue.
type MailPublisher struct {
	ch publisher
}

func NewMailPublisher(ch *amqp.Channel) *MailPublisher {
	return &MailPublisher{ch: ch}
}

func (p *MailPublisher) Enqueue(ctx context.Context, job model.MailJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal mail job: %w", err)
	}
	err = p.ch.PublishWithContext(ctx, "", mailQueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ID.String(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish mail job: %w", err)
	}
	return nil
}

type MailWorker struct {
	channel     *amqp.Channel
	sender      mail.Sender
	redisClient *redis.Client
	log         *slog.Logger
	done        chan struct{}
}

func NewMailWorker(ch *amqp.Channel, sender mail.Sender, redisClient *redis.Client, log *slog.Logger) *MailWorker {
	return &MailWorker{
		channel:     ch,
		sender:      sender,
		redisClient: redisClient,
		log:         log,
		done:        make(chan struct{}),
	}
}

func (w *MailWorker) Start(ctx context.Context) error {
	msgs, err := w.channel.Consume(mailQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	go func() {
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				w.processMessage(ctx, msg)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	w.log.Info("mail worker started")
	return nil
}

func (w *MailWorker) Stop() { close(w.done) }

func (w *MailWorker) processMessage(ctx context.Context, msg amqp.Delivery) {
	var job model.MailJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		w.log.Error("unmarshal mail job", "error", err)
		_ = msg.Nack(false, false)
		return
	}

	log := w.log.With("mail_id", job.ID)

	sentKey := "mail_sent:" + job.ID.String()
	exists, err := w.redisClient.Exists(ctx, sentKey).Result()
	if err != nil {
		log.Error("check idempotency key", "error", err)
		_ = msg.Nack(false, true)
		return
	}
	if exists > 0 {
		log.Info("mail already sent, skipping")
		_ = msg.Ack(false)
		return
	}

	if err := w.sender.Send(ctx, job); err != nil {
		log.Error("send mail failed", "error", err)
		_ = msg.Nack(false, false) // dead-lettered
		return
	}

	if err := w.redisClient.Set(ctx, sentKey, "1", idempotencyTTL).Err(); err != nil {
		log.Error("set idempotency key", "error", err)
	}

	_ = msg.Ack(false)
	log.Info("mail sent")
}
