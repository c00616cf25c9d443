package queue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DeliveryMessage asks a worker to run one attempt of a delivery job.
type DeliveryMessage struct {
	JobID          string `json:"jobId"`
	NotificationID string `json:"notificationId"`
	RequestID      string `json:"requestId,omitempty"`
}

func (m DeliveryMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	return nil
}

// DecodeDeliveryMessage parses and validates a broker payload. A failure
// means the message can never be processed and belongs in the DLQ.
func DecodeDeliveryMessage(body []byte) (DeliveryMessage, error) {
	var msg DeliveryMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return DeliveryMessage{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return DeliveryMessage{}, err
	}
	return msg, nil
}
