package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventType tags the domain occurrence a notification broadcasts.
type EventType string

const (
	EventTaskCreated       EventType = "task_created"
	EventTaskUpdated       EventType = "task_updated"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskAssigned      EventType = "task_assigned"
	EventCommentAdded      EventType = "comment_added"
	EventProjectInvitation EventType = "project_invitation"
	EventDrawingShared     EventType = "drawing_shared"
	EventMention           EventType = "mention"
)

var knownEventTypes = []EventType{
	EventTaskCreated,
	EventTaskUpdated,
	EventTaskCompleted,
	EventTaskAssigned,
	EventCommentAdded,
	EventProjectInvitation,
	EventDrawingShared,
	EventMention,
}

func (e EventType) String() string { return string(e) }

func (e EventType) IsValid() bool {
	for _, known := range knownEventTypes {
		if e == known {
			return true
		}
	}
	return false
}

// EventTypes returns every event type a subscription may register for.
func EventTypes() []EventType {
	out := make([]EventType, len(knownEventTypes))
	copy(out, knownEventTypes)
	return out
}

func ParseEventType(s string) (EventType, error) {
	ev := EventType(strings.ToLower(strings.TrimSpace(s)))
	if !ev.IsValid() {
		return "", fmt.Errorf("%w: invalid event type %q", ErrValidation, s)
	}
	return ev, nil
}

// SubjectType names the kind of entity a notification is about.
type SubjectType string

const (
	SubjectTask     SubjectType = "Task"
	SubjectComment  SubjectType = "Comment"
	SubjectProject  SubjectType = "Project"
	SubjectDrawing  SubjectType = "Drawing"
	SubjectCategory SubjectType = "Category"
)

func (s SubjectType) String() string { return string(s) }

func (s SubjectType) IsValid() bool {
	switch s {
	case SubjectTask, SubjectComment, SubjectProject, SubjectDrawing, SubjectCategory:
		return true
	}
	return false
}

func ParseSubjectType(s string) (SubjectType, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", fmt.Errorf("%w: subject type is required", ErrValidation)
	}
	st := SubjectType(strings.ToUpper(trimmed[:1]) + strings.ToLower(trimmed[1:]))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid subject type %q", ErrValidation, s)
	}
	return st, nil
}

// SubjectRef is a weak reference to the entity a notification is about.
// No foreign key backs it; the entity may no longer exist.
type SubjectRef struct {
	Type SubjectType
	ID   string
}

// Notification is one domain occurrence addressed to a recipient user.
// It is immutable once persisted.
type Notification struct {
	ID        string
	UserID    string
	ActorID   *string
	EventType EventType
	Message   string
	Metadata  map[string]any
	Subject   SubjectRef
	Read      bool
	CreatedAt time.Time
}

const MaxNotificationMessage = 2000

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("%w: recipient user is required", ErrValidation)
	}
	if !n.EventType.IsValid() {
		return fmt.Errorf("%w: invalid event type %q", ErrValidation, n.EventType)
	}
	if strings.TrimSpace(n.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if l := len([]rune(n.Message)); l > MaxNotificationMessage {
		return fmt.Errorf("%w: message exceeds %d characters (got %d)", ErrValidation, MaxNotificationMessage, l)
	}
	if !n.Subject.Type.IsValid() {
		return fmt.Errorf("%w: invalid subject type %q", ErrValidation, n.Subject.Type)
	}
	if strings.TrimSpace(n.Subject.ID) == "" {
		return fmt.Errorf("%w: subject id is required", ErrValidation)
	}
	return nil
}
