package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/desain-gratis/order-notifier/repository/limiter"
)

func TestHandler_Hit(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	h := New()
	h.now = func() time.Time { return now }

	for want := 1; want <= 3; want++ {
		got, err := h.Hit(ctx, "10.0.0.1", time.Minute)
		if err != nil {
			t.Fatalf("Hit() error = %v", err.Err())
		}
		if got != want {
			t.Errorf("Hit() = %v, want %v", got, want)
		}
	}

	now = now.Add(time.Minute)
	got, _ := h.Hit(ctx, "10.0.0.1", time.Minute)
	if got != 1 {
		t.Errorf("Hit() after window = %v, want 1", got)
	}
}

func TestLimiter_Allow(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		limiter *limiter.Limiter
		hits    int
		want    bool
	}{
		{
			name:    "within limit",
			limiter: limiter.New(New(), 3, time.Minute),
			hits:    3,
			want:    true,
		},
		{
			name:    "over limit",
			limiter: limiter.New(New(), 3, time.Minute),
			hits:    4,
			want:    false,
		},
		{
			name:    "unlimited repository",
			limiter: limiter.New(limiter.NewUnlimited(), 1, time.Minute),
			hits:    10,
			want:    true,
		},
		{
			name:    "nil limiter",
			limiter: nil,
			hits:    10,
			want:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got bool
			for i := 0; i < tt.hits; i++ {
				got = tt.limiter.Allow(ctx, "key")
			}
			if got != tt.want {
				t.Errorf("Allow() = %v, want %v", got, tt.want)
			}
		})
	}
}
