package impl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/order-notifier/lib/notifier"
	"github.com/desain-gratis/order-notifier/types/notification"
)

var _ notifier.Registry = &Hub{}
var _ notifier.Metric = &Hub{}
var _ notifier.Subscription = &entry{}

var ErrDeliveryPanic = errors.New("delivery panic")

type Config struct {
	// PendingWindow is how long a disconnected client's queue is kept for it to come back.
	// Zero disables parking.
	PendingWindow time.Duration
	PendingLimit  int

	// SweepInterval zero disables the stale sweeper
	SweepInterval time.Duration
	StaleAfter    time.Duration
}

func DefaultConfig() Config {
	return Config{
		PendingWindow: 15 * time.Second,
		PendingLimit:  32,
		SweepInterval: 30 * time.Second,
		StaleAfter:    90 * time.Second,
	}
}

type entry struct {
	hub      *Hub
	clientID string
	route    notifier.Route
	deliver  notifier.DeliverFunc

	done     chan struct{}
	doneOnce sync.Once

	// held while delivering, keeps per-subscriber FIFO across flush and broadcast
	deliverLock sync.Mutex
	removed     atomic.Bool
	lastSeen    atomic.Int64
}

func (e *entry) markRemoved() {
	e.removed.Store(true)
	e.doneOnce.Do(func() { close(e.done) })
}

func (e *entry) ClientID() string {
	return e.clientID
}

func (e *entry) Done() <-chan struct{} {
	return e.done
}

func (e *entry) Touch() {
	if e.removed.Load() {
		return
	}
	e.lastSeen.Store(e.hub.now().UnixNano())
}

// Disconnect parks a pending queue only while e is still the client's current subscription
func (e *entry) Disconnect() {
	h := e.hub

	h.lock.Lock()
	defer h.lock.Unlock()

	if cur, ok := h.listener[e.clientID]; !ok || cur != e {
		e.markRemoved()
		return
	}
	h.disconnectLocked(e)
}

func (e *entry) send(n notification.Notification) error {
	e.deliverLock.Lock()
	defer e.deliverLock.Unlock()

	return e.deliverUnlocked(n)
}

// deliverUnlocked never lets a panic escape into the broadcaster
func (e *entry) deliverUnlocked(n notification.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDeliveryPanic, r)
		}
	}()
	return e.deliver(n)
}

type pendingQueue struct {
	clientID string
	route    notifier.Route
	items    []notification.Notification
	expireAt time.Time
}

func (q *pendingQueue) push(n notification.Notification, limit int) {
	if limit > 0 && len(q.items) >= limit {
		q.items = q.items[1:]
	}
	q.items = append(q.items, n)
}

// Hub is the notification registry. It owns the subscription map for the process lifetime:
// construct it once, call Init at startup and Shutdown at exit.
type Hub struct {
	cfg      Config
	lock     *sync.RWMutex
	listener map[string]*entry
	pending  map[string]*pendingQueue
	channels []notifier.DeliveryChannel

	now     func() time.Time
	started atomic.Bool
	stop    context.CancelFunc
	done    chan struct{}
}

func NewHub(cfg Config) *Hub {
	return &Hub{
		cfg:      cfg,
		lock:     &sync.RWMutex{},
		listener: make(map[string]*entry),
		pending:  make(map[string]*pendingQueue),
		now:      time.Now,
	}
}

func queueKey(t notification.SubscriberType, target, clientID string) string {
	return string(t) + ":" + target + ":" + clientID
}

// Attach adds a delivery channel that receives every broadcast
func (h *Hub) Attach(ch notifier.DeliveryChannel) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.channels = append(h.channels, ch)
	log.Info().Msgf("notification hub: attached channel %v", ch.Name())
}

// Subscribe registers deliver for (t, target). A previous subscription with the same clientID is replaced
// and its Done channel closed.
func (h *Hub) Subscribe(clientID string, t notification.SubscriberType, target string, deliver notifier.DeliverFunc) notifier.Subscription {
	e := &entry{
		hub:      h,
		clientID: clientID,
		route:    notifier.Route{Type: t, Target: target},
		deliver:  deliver,
		done:     make(chan struct{}),
	}
	e.lastSeen.Store(h.now().UnixNano())

	// locked before publishing the entry so that broadcasts wait for the flush
	e.deliverLock.Lock()

	h.lock.Lock()
	if old, ok := h.listener[clientID]; ok {
		old.markRemoved()
	}
	h.listener[clientID] = e

	key := queueKey(t, target, clientID)
	queued := h.pending[key]
	delete(h.pending, key)
	subscribersGauge.Set(float64(len(h.listener)))
	h.lock.Unlock()

	log.Info().Msgf("notification hub: client %v subscribed to %v:%v", clientID, t, target)

	var flushErr error
	if queued != nil && !queued.expireAt.Before(h.now()) {
		for _, n := range queued.items {
			if flushErr = e.deliverUnlocked(n); flushErr != nil {
				break
			}
		}
		log.Info().Msgf("notification hub: flushed %v queued notification(s) to %v", len(queued.items), clientID)
	}
	e.deliverLock.Unlock()

	if flushErr != nil {
		log.Err(flushErr).Msgf("notification hub: error flushing to %v, unsubscribing", clientID)
		deliveryFailuresTotal.WithLabelValues(string(t)).Inc()
		h.remove(e)
	}

	return e
}

func (h *Hub) Unsubscribe(clientID string) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if e, ok := h.listener[clientID]; ok {
		e.markRemoved()
		delete(h.listener, clientID)
		log.Info().Msgf("notification hub: client %v unsubscribed", clientID)
	}

	for key, q := range h.pending {
		if q.clientID == clientID {
			delete(h.pending, key)
		}
	}

	subscribersGauge.Set(float64(len(h.listener)))
}

// Disconnect drops whichever subscription clientID currently holds.
// Transports that own a Subscription should call its Disconnect instead.
func (h *Hub) Disconnect(clientID string) {
	h.lock.Lock()
	defer h.lock.Unlock()

	e, ok := h.listener[clientID]
	if !ok {
		return
	}
	h.disconnectLocked(e)
}

func (h *Hub) disconnectLocked(e *entry) {
	clientID := e.clientID

	e.markRemoved()
	delete(h.listener, clientID)
	subscribersGauge.Set(float64(len(h.listener)))

	if h.cfg.PendingWindow <= 0 {
		log.Info().Msgf("notification hub: client %v disconnected", clientID)
		return
	}

	h.pending[queueKey(e.route.Type, e.route.Target, clientID)] = &pendingQueue{
		clientID: clientID,
		route:    e.route,
		expireAt: h.now().Add(h.cfg.PendingWindow),
	}
	log.Info().Msgf("notification hub: client %v disconnected, holding queue for %v", clientID, h.cfg.PendingWindow)
}

// remove deletes e only if it is still the registered entry for its client
func (h *Hub) remove(e *entry) {
	h.lock.Lock()
	defer h.lock.Unlock()

	e.markRemoved()
	if cur, ok := h.listener[e.clientID]; ok && cur == e {
		delete(h.listener, e.clientID)
		log.Info().Msgf("notification hub: deleted %v", e.clientID)
	}
	subscribersGauge.Set(float64(len(h.listener)))
}

func (h *Hub) Touch(clientID string) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	if e, ok := h.listener[clientID]; ok {
		e.lastSeen.Store(h.now().UnixNano())
	}
}

func (h *Hub) Broadcast(ctx context.Context, n notification.Notification, t notification.SubscriberType, target string) int {
	route := notifier.Route{Type: t, Target: target}
	matched := make([]*entry, 0)

	var channels []notifier.DeliveryChannel
	func() {
		h.lock.Lock()
		defer h.lock.Unlock()

		for _, e := range h.listener {
			if e.route == route {
				matched = append(matched, e)
			}
		}

		now := h.now()
		for _, q := range h.pending {
			if q.route == route && !q.expireAt.Before(now) {
				q.push(n, h.cfg.PendingLimit)
			}
		}

		channels = h.channels
	}()

	broadcastsTotal.WithLabelValues(string(t)).Inc()

	var sent int
	for _, e := range matched {
		if e.removed.Load() {
			continue
		}

		err := e.send(n)
		if err != nil {
			log.Err(err).Msgf("notification hub: error sending to %v, unsubscribing", e.clientID)
			deliveryFailuresTotal.WithLabelValues(string(t)).Inc()
			h.remove(e)
			continue
		}
		sent++
	}
	deliveriesTotal.WithLabelValues(string(t)).Add(float64(sent))

	for _, ch := range channels {
		if err := ch.Deliver(ctx, route, n); err != nil {
			log.Err(err).Msgf("notification hub: channel %v failed for %v:%v", ch.Name(), t, target)
		}
	}

	log.Info().Msgf("notification hub: broadcast %v to %v [%v]: %v subscribers notified", n.Type, t, target, sent)

	return sent
}

func (h *Hub) NotifyKitchen(ctx context.Context, restaurantID string, n notification.Notification) int {
	return h.Broadcast(ctx, n, notification.Kitchen, restaurantID)
}

func (h *Hub) NotifyCustomer(ctx context.Context, customerID string, n notification.Notification) int {
	return h.Broadcast(ctx, n, notification.Customer, customerID)
}

func (h *Hub) ActiveSubscribers() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return len(h.listener)
}

func (h *Hub) SubscribersForTarget(t notification.SubscriberType, target string) int {
	h.lock.RLock()
	defer h.lock.RUnlock()

	var count int
	for _, e := range h.listener {
		if e.route.Type == t && e.route.Target == target {
			count++
		}
	}
	return count
}

// Metric to support metrics query
func (h *Hub) Metric() any {
	h.lock.RLock()
	defer h.lock.RUnlock()

	perRoute := make(map[string]int)
	for _, e := range h.listener {
		perRoute[string(e.route.Type)+":"+e.route.Target]++
	}

	channels := make([]string, 0, len(h.channels))
	for _, ch := range h.channels {
		channels = append(channels, ch.Name())
	}

	return map[string]any{
		"n_subscription": len(h.listener),
		"n_pending":      len(h.pending),
		"routes":         perRoute,
		"channels":       channels,
		"type":           "notification_hub",
	}
}

// Init starts the stale sweeper. Calling it more than once is a no-op.
func (h *Hub) Init(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	h.stop = cancel
	h.done = make(chan struct{})

	if h.cfg.SweepInterval <= 0 {
		close(h.done)
		return
	}

	go func() {
		defer close(h.done)

		ticker := time.NewTicker(h.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.sweep()
			}
		}
	}()

	log.Info().Msgf("notification hub: started, sweeping every %v", h.cfg.SweepInterval)
}

// sweep drops subscriptions that stopped touching the hub and expired pending queues
func (h *Hub) sweep() (swept int) {
	h.lock.Lock()
	defer h.lock.Unlock()

	now := h.now()
	if h.cfg.StaleAfter > 0 {
		deadline := now.Add(-h.cfg.StaleAfter).UnixNano()
		for id, e := range h.listener {
			if e.lastSeen.Load() < deadline {
				e.markRemoved()
				delete(h.listener, id)
				swept++
				log.Warn().Msgf("notification hub: swept stale client %v", id)
			}
		}
	}

	for key, q := range h.pending {
		if q.expireAt.Before(now) {
			delete(h.pending, key)
		}
	}

	sweptTotal.Add(float64(swept))
	subscribersGauge.Set(float64(len(h.listener)))

	return swept
}

// Shutdown stops the sweeper and drops every subscription
func (h *Hub) Shutdown() {
	if h.started.Load() {
		h.stop()
		<-h.done
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	for id, e := range h.listener {
		e.markRemoved()
		delete(h.listener, id)
	}
	clear(h.pending)
	subscribersGauge.Set(0)

	log.Info().Msgf("notification hub: closed properly")
}
