package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/taskflow/internal/domain"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "Taskflow-Webhooks/1.0"

	maxErrorBodyBytes = 512
)

// Request is one signed POST to a subscriber endpoint.
type Request struct {
	URL       string
	Event     domain.EventType
	Body      []byte
	Signature string
}

// Response stores what the endpoint answered, for the attempt audit.
type Response struct {
	StatusCode int
	Body       string
}

// Sender is the outbound HTTP port used by the dispatcher.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

// HTTPSender posts envelopes with resty. Every call is bounded by the
// client timeout and is never retried in place; the delivery task owns
// retries.
type HTTPSender struct {
	client    *resty.Client
	userAgent string
}

func NewHTTPSender(timeout time.Duration, userAgent string) (*HTTPSender, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	return NewHTTPSenderWithClient(client, userAgent)
}

func NewHTTPSenderWithClient(client *resty.Client, userAgent string) (*HTTPSender, error) {
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(DefaultTimeout)
	}
	client.SetRetryCount(0)
	// A redirect is reported as the 3xx it is, never followed.
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))

	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &HTTPSender{client: client, userAgent: userAgent}, nil
}

// Send treats only 2xx answers as delivered.
func (s *HTTPSender) Send(ctx context.Context, req Request) (*Response, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("sender is not initialized")
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, &DeliveryError{Message: "subscription url is empty"}
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", s.userAgent).
		SetHeader(HeaderSignature, req.Signature).
		SetHeader(HeaderEvent, req.Event.String()).
		SetBody(req.Body).
		Post(req.URL)
	if err != nil {
		deliveryErr := &DeliveryError{Message: "request failed", Cause: err}
		if response != nil && response.StatusCode() > 0 {
			deliveryErr.StatusCode = response.StatusCode()
		}
		if errors.Is(err, context.DeadlineExceeded) || IsTimeout(err) {
			deliveryErr.Message = "request timed out"
		}
		return nil, deliveryErr
	}
	if response == nil {
		return nil, &DeliveryError{Message: "empty response"}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Response{StatusCode: statusCode, Body: body}, nil
	}

	return &Response{StatusCode: statusCode, Body: body}, &DeliveryError{
		StatusCode: statusCode,
		Message:    errorMessage(statusCode, body),
	}
}

func errorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("endpoint returned status %d", statusCode)
	if body == "" {
		return base
	}
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return fmt.Sprintf("%s: %s", base, body)
}
