package limiter

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	types "github.com/desain-gratis/order-notifier/types/http"
)

// Repository counts hits per key inside a fixed window.
// Implementation needs to be aware of distributed system nature
type Repository interface {
	// Hit increments the counter for key, opening a new window if none is running
	Hit(ctx context.Context, key string, window time.Duration) (counter int, err *types.CommonError)
}

var _ Repository = &unlimited{}

type unlimited struct{}

func NewUnlimited() *unlimited {
	return &unlimited{}
}

func (u *unlimited) Hit(ctx context.Context, key string, window time.Duration) (counter int, err *types.CommonError) {
	return 0, nil
}

// Limiter rejects subscription attempts once a key exceeds max hits per window
type Limiter struct {
	repo   Repository
	max    int
	window time.Duration
}

func New(repo Repository, max int, window time.Duration) *Limiter {
	return &Limiter{repo: repo, max: max, window: window}
}

// Allow fails open: a broken limiter store must not take the notification channel down
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.max <= 0 {
		return true
	}

	counter, err := l.repo.Hit(ctx, key, l.window)
	if err != nil {
		log.Err(err.Err()).Msgf("limiter: failed to count %v, allowing", key)
		return true
	}

	return counter <= l.max
}
