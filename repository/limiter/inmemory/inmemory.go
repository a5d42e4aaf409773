package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/desain-gratis/order-notifier/repository/limiter"
	types "github.com/desain-gratis/order-notifier/types/http"
)

var _ limiter.Repository = &handler{}

type window struct {
	counter  int
	expireAt time.Time
}

// only works for a single server
type handler struct {
	lock    *sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func New() *handler {
	return &handler{
		lock:    &sync.Mutex{},
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (h *handler) Hit(ctx context.Context, key string, d time.Duration) (counter int, err *types.CommonError) {
	h.lock.Lock()
	defer h.lock.Unlock()

	now := h.now()
	w, ok := h.windows[key]
	if !ok || !now.Before(w.expireAt) {
		w = &window{expireAt: now.Add(d)}
		h.windows[key] = w
		h.evict(now)
	}
	w.counter++

	return w.counter, nil
}

// evict drops closed windows; called on window creation to keep the map bounded by active keys
func (h *handler) evict(now time.Time) {
	for k, w := range h.windows {
		if !now.Before(w.expireAt) {
			delete(h.windows, k)
		}
	}
}
