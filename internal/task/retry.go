// Package task holds the retry policy shared by background units of work.
package task

import (
	"errors"
	"time"
)

// Action is what a failed attempt should lead to.
type Action int

const (
	ActionNone Action = iota
	ActionRetry
	ActionDiscard
	ActionGiveUp
)

func (a Action) String() string {
	switch a {
	case ActionRetry:
		return "retry"
	case ActionDiscard:
		return "discard"
	case ActionGiveUp:
		return "give_up"
	default:
		return "none"
	}
}

// Decision pairs an action with the delay before the next attempt.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// DefaultBackoff lists the delay after each failed attempt. With
// DefaultMaxAttempts (4) only three retries happen, so the effective
// schedule is 3s, 30s, 5m and the 30m slot is never used; it applies only
// when MaxAttempts is raised above 4.
func DefaultBackoff() []time.Duration {
	return []time.Duration{3 * time.Second, 30 * time.Second, 5 * time.Minute, 30 * time.Minute}
}

const DefaultMaxAttempts = 4

// RetryPolicy is a declarative retry schedule: a ceiling on attempts, the
// delay after each failed attempt and a predicate for errors that must
// never be retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
	Discard     func(error) bool
}

func DefaultRetryPolicy(discard func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff(),
		Discard:     discard,
	}
}

// Decide classifies the outcome of the attempt numbered attempt (1-based).
func (p RetryPolicy) Decide(attempt int, err error) Decision {
	if err == nil {
		return Decision{Action: ActionNone}
	}
	if p.Discard != nil && p.Discard(err) {
		return Decision{Action: ActionDiscard}
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if attempt >= maxAttempts {
		return Decision{Action: ActionGiveUp}
	}

	return Decision{Action: ActionRetry, Delay: p.delay(attempt)}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}

// DiscardOn builds a Discard predicate matching any of the given sentinels.
func DiscardOn(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}
