package client

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/agentarena/api/internal/conversation"
)

// NewRPMLimiter returns a limiter allowing rpm requests per minute, one at a time.
// A non-positive rpm disables limiting.
func NewRPMLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
}

// limitedBackend waits on a shared provider limiter before every call.
type limitedBackend struct {
	next    conversation.Backend
	limiter *rate.Limiter
}

// WithLimiter wraps a backend so calls respect the limiter.
func WithLimiter(b conversation.Backend, l *rate.Limiter) conversation.Backend {
	return &limitedBackend{next: b, limiter: l}
}

func (b *limitedBackend) Invoke(ctx context.Context, system, user string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	return b.next.Invoke(ctx, system, user)
}
