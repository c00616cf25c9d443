package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func TestConsumerHandleDelivery(t *testing.T) {
	t.Parallel()

	validBody := []byte(`{"jobId":"j1","notificationId":"n1"}`)

	tests := []struct {
		name        string
		body        []byte
		redelivered bool
		handlerErr  error
		wantCalled  bool
		wantAck     string
		wantPause   bool
	}{
		{name: "success acks", body: validBody, wantCalled: true, wantAck: "ack"},
		{name: "undecodable is dead-lettered", body: []byte(`{"jobId":`), wantAck: "reject"},
		{name: "missing ids are dead-lettered", body: []byte(`{"jobId":"j1"}`), wantAck: "reject"},
		{name: "handler error requeues", body: validBody, handlerErr: errors.New("db down"), wantCalled: true, wantAck: "nack-requeue"},
		{name: "repeated failure pauses before requeue", body: validBody, redelivered: true, handlerErr: errors.New("db down"), wantCalled: true, wantAck: "nack-requeue", wantPause: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			paused := false
			c := NewRabbitMQConsumer(nil, 1, zap.NewNop())
			c.pause = func(ctx context.Context, d time.Duration) {
				paused = d == redeliveryPause
			}

			ack := &recordingAcknowledger{}
			called := false
			err := c.handleDelivery(context.Background(), amqp.Delivery{
				Acknowledger: ack,
				Body:         tt.body,
				Redelivered:  tt.redelivered,
			}, func(ctx context.Context, msg DeliveryMessage) error {
				called = true
				if msg.JobID != "j1" {
					t.Fatalf("job id = %q, want j1", msg.JobID)
				}
				return tt.handlerErr
			})
			if err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}

			if called != tt.wantCalled {
				t.Fatalf("handler called = %v, want %v", called, tt.wantCalled)
			}
			if ack.result != tt.wantAck {
				t.Fatalf("ack = %q, want %q", ack.result, tt.wantAck)
			}
			if paused != tt.wantPause {
				t.Fatalf("paused = %v, want %v", paused, tt.wantPause)
			}
		})
	}
}

func TestConsumerHandleDeliveryAckFailure(t *testing.T) {
	t.Parallel()

	c := NewRabbitMQConsumer(nil, 1, zap.NewNop())
	ack := &recordingAcknowledger{err: errors.New("channel closed")}

	err := c.handleDelivery(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte(`{"jobId":"j1","notificationId":"n1"}`),
	}, func(context.Context, DeliveryMessage) error { return nil })
	if err == nil {
		t.Fatal("expected error when the ack cannot be sent")
	}
}

func TestConsumeRequiresHandler(t *testing.T) {
	t.Parallel()

	if err := NewRabbitMQConsumer(nil, 1, nil).Consume(context.Background(), DeliveryQueue, nil); err == nil {
		t.Fatal("expected error for uninitialized consumer")
	}
}

func TestNextBackoff(t *testing.T) {
	t.Parallel()

	if got := nextBackoff(time.Second); got != 2*time.Second {
		t.Fatalf("nextBackoff(1s) = %v, want 2s", got)
	}
	if got := nextBackoff(20 * time.Second); got != maxBackoff {
		t.Fatalf("nextBackoff(20s) = %v, want %v", got, maxBackoff)
	}
}

func TestNewPublishing(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	p, err := newPublishing(DeliveryMessage{JobID: "j1", NotificationID: "n1", RequestID: "r1"}, now)
	if err != nil {
		t.Fatalf("newPublishing() error = %v", err)
	}

	if p.MessageId != "j1" || p.CorrelationId != "r1" || p.Type != deliveryMessageType {
		t.Fatalf("publishing ids = %q/%q/%q", p.MessageId, p.CorrelationId, p.Type)
	}
	if p.DeliveryMode != amqp.Persistent {
		t.Fatalf("delivery mode = %d, want persistent", p.DeliveryMode)
	}
	if p.Headers["notification-id"] != "n1" {
		t.Fatalf("headers = %v", p.Headers)
	}
	if p.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp = %v, want UTC", p.Timestamp)
	}

	msg, err := DecodeDeliveryMessage(p.Body)
	if err != nil || msg.NotificationID != "n1" {
		t.Fatalf("body decodes to %+v, %v", msg, err)
	}
}

type recordingAcknowledger struct {
	result string
	err    error
}

func (a *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	a.result = "ack"
	return a.err
}

func (a *recordingAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	if requeue {
		a.result = "nack-requeue"
	} else {
		a.result = "nack"
	}
	return a.err
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	a.result = "reject"
	return a.err
}
