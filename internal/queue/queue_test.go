package queue

import (
	"testing"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 1 || work[0] != "webhook.deliveries" {
		t.Fatalf("WorkQueueNames = %v, want [webhook.deliveries]", work)
	}

	dlq := DLQNames()
	if len(dlq) != 1 || dlq[0] != "dlq.webhook.deliveries" {
		t.Fatalf("DLQNames = %v, want [dlq.webhook.deliveries]", dlq)
	}

	work[0] = "mutated"
	if WorkQueueNames()[0] != DeliveryQueue {
		t.Fatal("WorkQueueNames should return a copy")
	}
}

func TestDeliveryMessageValidate(t *testing.T) {
	msg := DeliveryMessage{JobID: "j1", NotificationID: "n1"}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.JobID = " "
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty job id")
	}

	msg.JobID = "j1"
	msg.NotificationID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty notification id")
	}
}

func TestDecodeDeliveryMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"jobId":"j1","notificationId":"n1","requestId":"r1"}`},
		{name: "invalid json", body: `{"jobId":`, wantErr: true},
		{name: "missing job", body: `{"notificationId":"n1"}`, wantErr: true},
		{name: "missing notification", body: `{"jobId":"j1"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeDeliveryMessage([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeDeliveryMessage() error = %v", err)
			}
			if msg.JobID != "j1" || msg.NotificationID != "n1" || msg.RequestID != "r1" {
				t.Fatalf("msg = %+v", msg)
			}
		})
	}
}
