package notifierapiclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog/log"

	ordersocket "github.com/desain-gratis/order-notifier/delivery/order-socket"
	"github.com/desain-gratis/order-notifier/lib/utility"
	"github.com/desain-gratis/order-notifier/types/notification"
)

const socketReconnectAttempts = 3

type orderIDPayload struct {
	OrderID string `json:"orderId"`
}

type statusPayload struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// SocketClient joins the /orders socket as one user and dispatches order events.
// It gives up after a few failed reconnects; callers fall back to polling then.
type SocketClient struct {
	url  string
	join ordersocket.JoinRequest

	lock     *sync.RWMutex
	handlers map[string]func(data json.RawMessage)

	connected atomic.Bool
	available atomic.Bool
}

// NewSocketClient dials url, e.g. ws://localhost:9090/orders
func NewSocketClient(url string, join ordersocket.JoinRequest) *SocketClient {
	return &SocketClient{
		url:      url,
		join:     join,
		lock:     &sync.RWMutex{},
		handlers: make(map[string]func(data json.RawMessage)),
	}
}

// On replaces the handler of event
func (c *SocketClient) On(event string, fn func(data json.RawMessage)) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.handlers[event] = fn
}

func (c *SocketClient) OnOrderCreated(fn func(order notification.Order)) {
	c.onOrder(notification.EventOrderCreated, fn)
}

func (c *SocketClient) OnOrderUpdated(fn func(order notification.Order)) {
	c.onOrder(notification.EventOrderUpdated, fn)
}

func (c *SocketClient) OnOrderDeleted(fn func(orderID string)) {
	c.On(notification.EventOrderDeleted, func(data json.RawMessage) {
		payload, err := utility.ParseJsonAs[orderIDPayload](data)
		if err != nil {
			log.Err(err).Msgf("order socket client: bad %v payload", notification.EventOrderDeleted)
			return
		}
		fn(payload.OrderID)
	})
}

func (c *SocketClient) OnOrderStatusChanged(fn func(orderID, status string)) {
	c.On(notification.EventOrderStatusChanged, func(data json.RawMessage) {
		payload, err := utility.ParseJsonAs[statusPayload](data)
		if err != nil {
			log.Err(err).Msgf("order socket client: bad %v payload", notification.EventOrderStatusChanged)
			return
		}
		fn(payload.OrderID, payload.Status)
	})
}

// OnOrderNotification receives hub notifications mirrored to the socket
func (c *SocketClient) OnOrderNotification(fn func(n notification.Notification)) {
	c.On(notification.EventNotification, func(data json.RawMessage) {
		n, err := utility.ParseJsonAs[notification.Notification](data)
		if err != nil {
			log.Err(err).Msgf("order socket client: bad %v payload", notification.EventNotification)
			return
		}
		fn(n)
	})
}

func (c *SocketClient) onOrder(event string, fn func(order notification.Order)) {
	c.On(event, func(data json.RawMessage) {
		order, err := utility.ParseJsonAs[notification.Order](data)
		if err != nil {
			log.Err(err).Msgf("order socket client: bad %v payload", event)
			return
		}
		fn(order)
	})
}

func (c *SocketClient) IsConnected() bool {
	return c.connected.Load()
}

// IsAvailable is false once reconnecting gave up
func (c *SocketClient) IsAvailable() bool {
	return c.available.Load()
}

// Run connects and reconnects with 1s..5s exponential delay, giving up after three consecutive failures
func (c *SocketClient) Run(ctx context.Context) error {
	expo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(time.Second),
		backoff.WithMaxInterval(5*time.Second),
		backoff.WithMaxElapsedTime(0),
	)
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, socketReconnectAttempts), ctx)

	return c.run(ctx, policy)
}

func (c *SocketClient) run(ctx context.Context, policy backoff.BackOff) error {
	err := backoff.RetryNotify(func() error {
		err := c.session(ctx, policy)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Warn().Msgf("order socket client: %v, reconnecting in %v", err, wait)
	})

	if ctx.Err() == nil {
		c.available.Store(false)
		log.Warn().Msgf("order socket client: giving up: %v", err)
	}
	return err
}

// session lasts one connection; a successful join resets the retry budget
func (c *SocketClient) session(ctx context.Context, policy backoff.BackOff) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	if err := wsjson.Write(ctx, conn, c.joinFrame()); err != nil {
		return err
	}

	c.connected.Store(true)
	c.available.Store(true)
	defer c.connected.Store(false)
	policy.Reset()

	for {
		var frame ordersocket.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return errors.New("closed by server")
			}
			return err
		}

		c.lock.RLock()
		fn := c.handlers[frame.Event]
		c.lock.RUnlock()

		if fn == nil {
			continue
		}
		fn(frame.Data)
	}
}

func (c *SocketClient) joinFrame() ordersocket.Frame {
	data, _ := json.Marshal(c.join)
	return ordersocket.Frame{Event: notification.EventUserJoin, Data: data}
}
