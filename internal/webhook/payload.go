package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/taskflow/internal/domain"
)

// Envelope is the JSON body POSTed to every subscriber. Its id is the
// notification id, so receivers can drop redelivered envelopes.
type Envelope struct {
	ID        string       `json:"id"`
	Event     string       `json:"event"`
	CreatedAt string       `json:"created_at"`
	Data      EnvelopeData `json:"data"`
}

type EnvelopeData struct {
	Notification NotificationBody `json:"notification"`
	User         UserBody         `json:"user"`
	Actor        *ActorBody       `json:"actor"`
	Notifiable   NotifiableBody   `json:"notifiable"`
}

type NotificationBody struct {
	ID       string         `json:"id"`
	Message  string         `json:"message"`
	URL      string         `json:"url"`
	Read     bool           `json:"read"`
	Metadata map[string]any `json:"metadata"`
}

type UserBody struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type ActorBody struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type NotifiableBody struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// BuildEnvelope assembles the envelope for n. actor is nil when the
// notification has no actor or the actor no longer exists.
func BuildEnvelope(n domain.Notification, recipient domain.User, actor *domain.User, link string) Envelope {
	metadata := n.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	env := Envelope{
		ID:        n.ID,
		Event:     n.EventType.String(),
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
		Data: EnvelopeData{
			Notification: NotificationBody{
				ID:       n.ID,
				Message:  n.Message,
				URL:      link,
				Read:     n.Read,
				Metadata: metadata,
			},
			User: UserBody{
				ID:    recipient.ID,
				Name:  recipient.Name,
				Email: recipient.Email,
			},
			Notifiable: NotifiableBody{
				Type: n.Subject.Type.String(),
				ID:   n.Subject.ID,
			},
		},
	}
	if actor != nil {
		env.Data.Actor = &ActorBody{ID: actor.ID, Name: actor.Name}
	}
	return env
}

// Marshal serializes the envelope once; the same bytes are signed and sent
// to every subscriber.
func (e Envelope) Marshal() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook envelope: %w", err)
	}
	return body, nil
}
