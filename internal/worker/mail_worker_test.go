package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront-api/internal/model"
)

type ackRecorder struct {
	acks    int
	nacks   int
	requeue bool
}

func (a *ackRecorder) Ack(uint64, bool) error {
	a.acks++
	return nil
}

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []model.MailJob
	err  error
}

func (s *fakeSender) Send(_ context.Context, job model.MailJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, job)
	return nil
}

func newTestWorker(t *testing.T, sender *fakeSender) (*MailWorker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMailWorker(nil, sender, client, log), mr
}

func delivery(t *testing.T, ack amqp.Acknowledger, job model.MailJob) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(job)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func TestProcessMessage_SendsOnce(t *testing.T) {
	sender := &fakeSender{}
	w, mr := newTestWorker(t, sender)
	job := model.MailJob{ID: uuid.New(), To: "a@example.com", Subject: "code", Body: "123456"}

	first := &ackRecorder{}
	w.processMessage(context.Background(), delivery(t, first, job))
	second := &ackRecorder{}
	w.processMessage(context.Background(), delivery(t, second, job))

	assert.Len(t, sender.sent, 1)
	assert.Equal(t, 1, first.acks)
	assert.Equal(t, 1, second.acks)
	assert.True(t, mr.Exists("mail_sent:"+job.ID.String()))
}

func TestProcessMessage_SendFailureDeadLetters(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	w, mr := newTestWorker(t, sender)
	job := model.MailJob{ID: uuid.New(), To: "a@example.com"}

	ack := &ackRecorder{}
	w.processMessage(context.Background(), delivery(t, ack, job))

	assert.Equal(t, 0, ack.acks)
	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
	assert.False(t, mr.Exists("mail_sent:"+job.ID.String()))
}

func TestProcessMessage_MalformedBody(t *testing.T) {
	sender := &fakeSender{}
	w, _ := newTestWorker(t, sender)

	ack := &ackRecorder{}
	w.processMessage(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{")})

	assert.Equal(t, 1, ack.nacks)
	assert.False(t, ack.requeue)
	assert.Empty(t, sender.sent)
}

type fakeChannel struct {
	key string
	msg amqp.Publishing
	err error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.key = key
	c.msg = msg
	return c.err
}

func TestMailPublisher_Enqueue(t *testing.T) {
	ch := &fakeChannel{}
	p := &MailPublisher{ch: ch}
	job := model.MailJob{ID: uuid.New(), To: "a@example.com", Subject: "s", Body: "b"}

	require.NoError(t, p.Enqueue(context.Background(), job))
	assert.Equal(t, mailQueueName, ch.key)
	assert.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	assert.Equal(t, job.ID.String(), ch.msg.MessageId)

	var got model.MailJob
	require.NoError(t, json.Unmarshal(ch.msg.Body, &got))
	assert.Equal(t, job, got)

	ch.err = errors.New("channel closed")
	assert.Error(t, p.Enqueue(context.Background(), job))
}
