package webhook

import (
	"net/url"
	"strings"

	"github.com/kursadbilgin/taskflow/internal/domain"
)

var subjectPaths = map[domain.SubjectType]string{
	domain.SubjectTask:     "tasks",
	domain.SubjectComment:  "comments",
	domain.SubjectProject:  "projects",
	domain.SubjectDrawing:  "drawings",
	domain.SubjectCategory: "categories",
}

// LinkResolver turns a notification subject into the client URL sent as
// data.notification.url.
type LinkResolver struct {
	baseURL string
}

func NewLinkResolver(baseURL string) *LinkResolver {
	return &LinkResolver{baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// URLFor falls back to the notification inbox for subjects without a page.
func (r *LinkResolver) URLFor(subject domain.SubjectRef) string {
	segment, ok := subjectPaths[subject.Type]
	if !ok || strings.TrimSpace(subject.ID) == "" {
		return r.join("notifications")
	}
	return r.join(segment, subject.ID)
}

func (r *LinkResolver) join(elems ...string) string {
	joined, err := url.JoinPath(r.baseURL, elems...)
	if err != nil {
		return r.baseURL
	}
	return joined
}
