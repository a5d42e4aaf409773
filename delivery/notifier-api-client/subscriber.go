package notifierapiclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/order-notifier/types/notification"
)

var (
	ErrClosed           = errors.New("subscriber closed")
	ErrAlreadyRunning   = errors.New("subscriber already running")
	ErrStreamEnded      = errors.New("stream ended")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrInvalidConfig    = errors.New("invalid subscriber config")
	ErrIdleTimeout      = errors.New("stream idle timeout")
)

const (
	DefaultReconnectDelay   = 5 * time.Second
	DefaultMaxNotifications = 50

	// two missed 30s heartbeats, plus slack
	DefaultIdleTimeout = 75 * time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

type Config struct {
	// BaseURL of the notification service, e.g. http://localhost:9090
	BaseURL string
	Type    notification.SubscriberType
	Target  string

	ReconnectDelay   time.Duration
	MaxNotifications int

	// IdleTimeout drops a stream that sent nothing, not even a heartbeat, for this long
	IdleTimeout time.Duration

	// HTTPClient must not carry a Timeout; it would cut the stream
	HTTPClient *http.Client
}

// Subscriber keeps one push stream open and a bounded, most-recent-first list of
// the notifications it received. The client id is kept across reconnects so the
// server can hand over what was queued while it was away.
type Subscriber struct {
	cfg      Config
	endpoint string
	clientID string

	state atomic.Int32

	lock           *sync.Mutex
	notifications  []notification.Notification
	onNotification func(notification.Notification)
	cancel         context.CancelFunc
	running        bool
	closed         bool
}

func New(cfg Config) (*Subscriber, error) {
	if _, ok := notification.ParseSubscriberType(string(cfg.Type)); !ok || cfg.Target == "" {
		return nil, fmt.Errorf("%w: type %q target %q", ErrInvalidConfig, cfg.Type, cfg.Target)
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q", ErrInvalidConfig, cfg.BaseURL)
	}

	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxNotifications <= 0 {
		cfg.MaxNotifications = DefaultMaxNotifications
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}

	clientID := fmt.Sprintf("%v-%v-%v", cfg.Type, cfg.Target, uuid.NewString())

	endpoint := base.JoinPath("notifications", "subscribe")
	q := endpoint.Query()
	q.Set("type", string(cfg.Type))
	q.Set("target", cfg.Target)
	q.Set("clientId", clientID)
	endpoint.RawQuery = q.Encode()

	return &Subscriber{
		cfg:      cfg,
		endpoint: endpoint.String(),
		clientID: clientID,
		lock:     &sync.Mutex{},
	}, nil
}

func (s *Subscriber) ClientID() string {
	return s.clientID
}

func (s *Subscriber) State() State {
	return State(s.state.Load())
}

func (s *Subscriber) IsConnected() bool {
	return s.State() == StateConnected
}

func (s *Subscriber) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		log.Debug().Msgf("notifier client %v: %v -> %v", s.clientID, prev, st)
	}
}

// OnNotification registers a callback invoked for each accepted notification, after it is added to the list
func (s *Subscriber) OnNotification(fn func(notification.Notification)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onNotification = fn
}

// Run keeps the stream open until ctx is done or Close is called.
// A dropped or refused stream is retried after ReconnectDelay, without limit.
func (s *Subscriber) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return ErrClosed
	}
	if s.running {
		s.lock.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.cancel = cancel
	s.lock.Unlock()

	defer func() {
		s.lock.Lock()
		s.running = false
		s.cancel = nil
		s.lock.Unlock()
		s.setState(StateDisconnected)
	}()

	policy := backoff.WithContext(backoff.NewConstantBackOff(s.cfg.ReconnectDelay), ctx)

	err := backoff.RetryNotify(func() error {
		err := s.stream(ctx)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = ErrStreamEnded
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		log.Warn().Msgf("notifier client %v: %v, reconnecting in %v", s.clientID, err, wait)
	})

	if s.isClosed() {
		return nil
	}
	return err
}

// Close stops Run and any future reconnect. Idempotent.
func (s *Subscriber) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Subscriber) isClosed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closed
}

// idleReader pushes the idle deadline back on every read
type idleReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (i *idleReader) Read(p []byte) (int, error) {
	n, err := i.r.Read(p)
	if n > 0 {
		i.timer.Reset(i.timeout)
	}
	return n, err
}

func (s *Subscriber) stream(ctx context.Context) error {
	s.setState(StateConnecting)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	idle := time.AfterFunc(s.cfg.IdleTimeout, func() { cancel(ErrIdleTimeout) })
	defer idle.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(context.Cause(ctx), ErrIdleTimeout) {
			return ErrIdleTimeout
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return fmt.Errorf("%w: %v %s", ErrUnexpectedStatus, resp.StatusCode, body)
	}

	s.setState(StateConnected)
	log.Info().Msgf("notifier client %v: connected", s.clientID)

	err = s.consume(&idleReader{r: resp.Body, timer: idle, timeout: s.cfg.IdleTimeout})
	if errors.Is(context.Cause(ctx), ErrIdleTimeout) {
		return ErrIdleTimeout
	}
	return err
}

// AddNotification prepends n, dropping the oldest entries beyond MaxNotifications
func (s *Subscriber) AddNotification(n notification.Notification) {
	s.lock.Lock()
	list := make([]notification.Notification, 0, min(len(s.notifications)+1, s.cfg.MaxNotifications))
	list = append(list, n)
	for _, existing := range s.notifications {
		if len(list) == s.cfg.MaxNotifications {
			break
		}
		list = append(list, existing)
	}
	s.notifications = list
	fn := s.onNotification
	s.lock.Unlock()

	if fn != nil {
		fn(n)
	}
}

// ClearNotification removes every entry of orderID
func (s *Subscriber) ClearNotification(orderID string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	kept := s.notifications[:0]
	for _, n := range s.notifications {
		if n.OrderID != orderID {
			kept = append(kept, n)
		}
	}
	clear(s.notifications[len(kept):])
	s.notifications = kept
}

func (s *Subscriber) ClearAll() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.notifications = nil
}

// Notifications returns a copy, most recent first
func (s *Subscriber) Notifications() []notification.Notification {
	s.lock.Lock()
	defer s.lock.Unlock()

	result := make([]notification.Notification, len(s.notifications))
	copy(result, s.notifications)
	return result
}
