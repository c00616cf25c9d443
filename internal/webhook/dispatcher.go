package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/taskflow/internal/domain"
	"github.com/kursadbilgin/taskflow/internal/observability"
	"github.com/kursadbilgin/taskflow/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// NoActiveWebhooks is the result message when nothing matched.
	NoActiveWebhooks = "no active webhooks"

	defaultConcurrency = 4
	limiterKeyPrefix   = "webhook:"
)

// SubscriptionStore is the persistence the dispatcher needs: the
// recipient's active subscriptions and per-subscription health bookkeeping.
type SubscriptionStore interface {
	ListActiveByUser(ctx context.Context, userID string) ([]domain.Subscription, error)
	RecordSuccess(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, at time.Time) error
}

// AttemptRecorder stores the audit row for each POST.
type AttemptRecorder interface {
	Create(ctx context.Context, attempt *domain.WebhookAttempt) error
}

// Outcome is the per-subscription result of one dispatch.
type Outcome struct {
	SubscriptionID string
	Delivered      bool
	StatusCode     int
	Err            error
}

// Result lists outcomes in subscription lookup order.
type Result struct {
	Outcomes []Outcome
	Message  string
}

func (r *Result) Delivered() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Delivered {
			ids = append(ids, o.SubscriptionID)
		}
	}
	return ids
}

func (r *Result) Failed() int {
	if r == nil {
		return 0
	}
	failed := 0
	for _, o := range r.Outcomes {
		if !o.Delivered {
			failed++
		}
	}
	return failed
}

// Options scope one dispatch run.
type Options struct {
	JobID string
	// Skip holds subscriptions that already received this notification
	// in an earlier attempt of the same job.
	Skip []string
}

type Dispatcher struct {
	subscriptions SubscriptionStore
	users         UserLookup
	sender        Sender
	links         *LinkResolver
	limiter       ratelimit.RateLimiter
	attempts      AttemptRecorder
	logger        *zap.Logger
	metrics       *observability.Metrics
	concurrency   int
	now           func() time.Time
	newID         func() string
}

func NewDispatcher(
	subscriptions SubscriptionStore,
	users UserLookup,
	sender Sender,
	links *LinkResolver,
	limiter ratelimit.RateLimiter,
	attempts AttemptRecorder,
	concurrency int,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("subscription store is required")
	}
	if users == nil {
		return nil, fmt.Errorf("user lookup is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if links == nil {
		links = NewLinkResolver("")
	}
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		subscriptions: subscriptions,
		users:         users,
		sender:        sender,
		links:         links,
		limiter:       limiter,
		attempts:      attempts,
		logger:        logger,
		concurrency:   concurrency,
		now:           time.Now,
		newID:         uuid.NewString,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Dispatch delivers n to every active subscription of its recipient that
// listens for n's event. A failing subscriber only affects its own Outcome;
// the returned error is non-nil only when lookups fail (ErrLookupFailed)
// or the envelope cannot be built.
func (d *Dispatcher) Dispatch(ctx context.Context, n domain.Notification, opts Options) (*Result, error) {
	subs, err := d.subscriptions.ListActiveByUser(ctx, n.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: subscriptions for user %s: %w", ErrLookupFailed, n.UserID, err)
	}

	targets := matching(subs, n.EventType, opts.Skip)
	if len(targets) == 0 {
		d.logger.Debug("no active webhooks",
			zap.String("notificationId", n.ID),
			zap.String("event", n.EventType.String()),
		)
		return &Result{Message: NoActiveWebhooks}, nil
	}

	body, err := d.buildBody(ctx, n)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, len(targets))
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for i := range targets {
		sub := targets[i]
		g.Go(func() error {
			outcomes[i] = d.deliverIsolated(ctx, n, opts.JobID, sub, body)
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{Outcomes: outcomes}
	failed := result.Failed()
	if failed > 0 {
		result.Message = fmt.Sprintf("%d of %d webhooks failed", failed, len(outcomes))
	}

	d.logger.Info("webhook dispatch finished",
		zap.String("notificationId", n.ID),
		zap.String("event", n.EventType.String()),
		zap.Int("subscriptions", len(outcomes)),
		zap.Int("failed", failed),
	)
	return result, nil
}

func (d *Dispatcher) buildBody(ctx context.Context, n domain.Notification) ([]byte, error) {
	recipient, err := d.users.GetByID(ctx, n.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: recipient %s: %w", ErrLookupFailed, n.UserID, err)
	}

	var actor *domain.User
	if n.ActorID != nil && strings.TrimSpace(*n.ActorID) != "" {
		actor, err = d.users.GetByID(ctx, *n.ActorID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: actor %s: %w", ErrLookupFailed, *n.ActorID, err)
			}
			actor = nil
		}
	}

	return BuildEnvelope(n, *recipient, actor, d.links.URLFor(n.Subject)).Marshal()
}

// deliverIsolated turns a panic inside one subscriber's delivery into a
// failed Outcome so the remaining subscribers still run.
func (d *Dispatcher) deliverIsolated(ctx context.Context, n domain.Notification, jobID string, sub domain.Subscription, body []byte) (outcome Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("webhook delivery panicked",
				zap.String("subscriptionId", sub.ID),
				zap.String("notificationId", n.ID),
				zap.Any("panic", rec),
			)
			outcome = Outcome{
				SubscriptionID: sub.ID,
				Err:            &DeliveryError{Message: fmt.Sprintf("panic: %v", rec)},
			}
			d.finish(ctx, n, jobID, sub, outcome, 0)
		}
	}()

	return d.deliver(ctx, n, jobID, sub, body)
}

func (d *Dispatcher) deliver(ctx context.Context, n domain.Notification, jobID string, sub domain.Subscription, body []byte) Outcome {
	outcome := Outcome{SubscriptionID: sub.ID}
	event := n.EventType.String()

	if err := d.limiter.Wait(ctx, limiterKeyPrefix+sub.ID); err != nil {
		outcome.Err = &DeliveryError{Message: "rate limiter wait failed", Cause: err}
		d.finish(ctx, n, jobID, sub, outcome, 0)
		return outcome
	}

	start := d.now()
	resp, err := d.sender.Send(ctx, Request{
		URL:       sub.URL,
		Event:     n.EventType,
		Body:      body,
		Signature: Sign(sub.Secret, body),
	})
	elapsed := d.now().Sub(start)
	if d.metrics != nil {
		d.metrics.ObserveWebhookDuration(event, elapsed)
	}

	if resp != nil {
		outcome.StatusCode = resp.StatusCode
	}
	if err != nil {
		var deliveryErr *DeliveryError
		if errors.As(err, &deliveryErr) && deliveryErr.StatusCode > 0 {
			outcome.StatusCode = deliveryErr.StatusCode
		}
		outcome.Err = err
	} else {
		outcome.Delivered = true
	}

	d.finish(ctx, n, jobID, sub, outcome, elapsed)
	return outcome
}

// finish applies success/failure bookkeeping and the attempt audit. Both
// are best effort: a storage error is logged and never changes the outcome.
func (d *Dispatcher) finish(ctx context.Context, n domain.Notification, jobID string, sub domain.Subscription, outcome Outcome, elapsed time.Duration) {
	at := d.now().UTC()
	fields := []zap.Field{
		zap.String("subscriptionId", sub.ID),
		zap.String("notificationId", n.ID),
		zap.String("event", n.EventType.String()),
	}

	if outcome.Delivered {
		if err := d.subscriptions.RecordSuccess(ctx, sub.ID, at); err != nil {
			d.logger.Error("failed to record webhook success", append(fields, zap.Error(err))...)
		}
	} else {
		d.logger.Warn("webhook delivery failed", append(fields,
			zap.Int("statusCode", outcome.StatusCode),
			zap.Bool("timeout", IsTimeout(outcome.Err)),
			zap.Error(outcome.Err),
		)...)
		if err := d.subscriptions.RecordFailure(ctx, sub.ID, at); err != nil {
			d.logger.Error("failed to record webhook failure", append(fields, zap.Error(err))...)
		}
	}

	if d.metrics != nil {
		d.metrics.IncWebhookDelivery(n.EventType.String(), outcome.Delivered)
	}

	if d.attempts == nil {
		return
	}
	if err := d.attempts.Create(ctx, d.attemptRecord(n, jobID, outcome, elapsed, at)); err != nil {
		d.logger.Error("failed to record webhook attempt", append(fields, zap.Error(err))...)
	}
}

func (d *Dispatcher) attemptRecord(n domain.Notification, jobID string, outcome Outcome, elapsed time.Duration, at time.Time) *domain.WebhookAttempt {
	attempt := &domain.WebhookAttempt{
		ID:             d.newID(),
		SubscriptionID: outcome.SubscriptionID,
		NotificationID: n.ID,
		Delivered:      outcome.Delivered,
		DurationMs:     elapsed.Milliseconds(),
		CreatedAt:      at,
	}
	if strings.TrimSpace(jobID) != "" {
		value := jobID
		attempt.JobID = &value
	}
	if outcome.StatusCode > 0 {
		value := outcome.StatusCode
		attempt.StatusCode = &value
	}
	if outcome.Err != nil {
		value := outcome.Err.Error()
		attempt.Error = &value
	}
	return attempt
}

func matching(subs []domain.Subscription, event domain.EventType, skip []string) []domain.Subscription {
	skipped := make(map[string]struct{}, len(skip))
	for _, id := range skip {
		skipped[id] = struct{}{}
	}

	out := make([]domain.Subscription, 0, len(subs))
	for i := range subs {
		if !subs[i].Accepts(event) {
			continue
		}
		if _, ok := skipped[subs[i].ID]; ok {
			continue
		}
		out = append(out, subs[i])
	}
	return out
}
