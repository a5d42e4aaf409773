package ordersocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/order-notifier/lib/notifier"
	"github.com/desain-gratis/order-notifier/lib/utility"
	"github.com/desain-gratis/order-notifier/types/notification"
)

var _ notifier.DeliveryChannel = &Server{}

type Config struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	QueueSize      int
	OriginPatterns []string
}

func DefaultConfig() Config {
	return Config{
		PingInterval:   25 * time.Second,
		WriteTimeout:   5 * time.Second,
		QueueSize:      64,
		OriginPatterns: []string{"localhost:*"},
	}
}

type connState int32

const (
	stateConnected connState = iota
	stateJoined
	stateDisconnected
)

type conn struct {
	id     string
	ws     *websocket.Conn
	out    chan []byte
	state  atomic.Int32
	room   string // guarded by Server.lock
	cancel context.CancelFunc
}

func (c *conn) getState() connState {
	return connState(c.state.Load())
}

// enqueue never blocks; a connection that cannot keep up is closed
func (c *conn) enqueue(frame []byte) bool {
	if c.getState() == stateDisconnected {
		return false
	}

	select {
	case c.out <- frame:
		return true
	default:
		log.Warn().Msgf("order socket: outbound queue of %v full, closing", c.id)
		droppedTotal.Inc()
		c.cancel()
		return false
	}
}

// Server is the /orders socket endpoint. Joined connections are grouped in rooms:
// "admin" for every admin, "customer-<userId>" per customer.
type Server struct {
	cfg      Config
	verifier JoinVerifier

	lock   *sync.RWMutex
	rooms  map[string]map[*conn]struct{}
	conns  map[*conn]struct{}
	closed bool

	wg *sync.WaitGroup
}

func NewServer(cfg Config, verifier JoinVerifier) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if verifier == nil {
		verifier = ClaimVerifier{}
	}

	return &Server{
		cfg:      cfg,
		verifier: verifier,
		lock:     &sync.RWMutex{},
		rooms:    make(map[string]map[*conn]struct{}),
		conns:    make(map[*conn]struct{}),
		wg:       &sync.WaitGroup{},
	}
}

func (s *Server) Name() string {
	return "order-socket"
}

// Handler serves GET /orders
func (s *Server) Handler(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		log.Error().Msgf("order socket: error accept %v", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{
		id:     uuid.NewString(),
		ws:     ws,
		out:    make(chan []byte, s.cfg.QueueSize),
		cancel: cancel,
	}

	if !s.register(c) {
		cancel()
		ws.Close(websocket.StatusGoingAway, "server closed")
		return
	}
	defer s.wg.Done()

	log.Info().Msgf("order socket: client connected: %v", c.id)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, c)
	}()

	s.readLoop(ctx, c)

	s.unregister(c)
	cancel()
	<-writerDone

	err = ws.Close(websocket.StatusNormalClosure, "")
	if err != nil && websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		log.Debug().Msgf("order socket: close %v: %v", c.id, err)
	}

	log.Info().Msgf("order socket: client disconnected: %v", c.id)
}

func (s *Server) readLoop(ctx context.Context, c *conn) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug().Msgf("order socket: unparseable frame from %v", c.id)
			continue
		}

		switch frame.Event {
		case notification.EventUserJoin:
			s.handleJoin(ctx, c, frame.Data)
		default:
			log.Debug().Msgf("order socket: ignoring event %q from %v", frame.Event, c.id)
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *conn) {
	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-c.out:
			if err := s.write(ctx, c, frame); err != nil {
				log.Err(err).Msgf("order socket: write to %v failed", c.id)
				droppedTotal.Inc()
				c.cancel()
				return
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				log.Warn().Msgf("order socket: ping to %v failed, closing: %v", c.id, err)
				c.cancel()
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, c *conn, frame []byte) error {
	if s.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, websocket.MessageText, frame)
}

func (s *Server) handleJoin(ctx context.Context, c *conn, data json.RawMessage) {
	if c.getState() == stateJoined {
		log.Warn().Msgf("order socket: %v already joined, ignoring user-join", c.id)
		joinsTotal.WithLabelValues("ignored").Inc()
		return
	}

	req, err := utility.ParseJsonAs[JoinRequest](data)
	if err != nil {
		s.sendError(c, "invalid user-join payload")
		joinsTotal.WithLabelValues("rejected").Inc()
		return
	}

	id, err := s.verifier.Verify(ctx, req)
	if err != nil {
		log.Warn().Msgf("order socket: join rejected for %v: %v", c.id, err)
		s.sendError(c, err.Error())
		joinsTotal.WithLabelValues("rejected").Inc()
		return
	}

	room := id.Room()
	if !s.join(c, room) {
		return
	}
	joinsTotal.WithLabelValues("joined").Inc()

	log.Info().Msgf("order socket: user %v (%v) joined %v", id.UserID, id.Role, room)
}

func (s *Server) sendError(c *conn, message string) {
	frame, err := encodeFrame(notification.EventError, errorPayload{Message: message})
	if err != nil {
		return
	}
	c.enqueue(frame)
}

func (s *Server) register(c *conn) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	connectionsGauge.Inc()
	return true
}

func (s *Server) join(c *conn, room string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !c.state.CompareAndSwap(int32(stateConnected), int32(stateJoined)) {
		return false
	}

	c.room = room
	members, ok := s.rooms[room]
	if !ok {
		members = make(map[*conn]struct{})
		s.rooms[room] = members
	}
	members[c] = struct{}{}
	return true
}

func (s *Server) unregister(c *conn) {
	s.lock.Lock()
	defer s.lock.Unlock()

	c.state.Store(int32(stateDisconnected))
	if _, ok := s.conns[c]; !ok {
		return
	}
	delete(s.conns, c)
	connectionsGauge.Dec()

	if members, ok := s.rooms[c.room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(s.rooms, c.room)
		}
	}
}

// Emit queues one frame to every member of room and returns how many accepted it
func (s *Server) Emit(room, event string, payload any) int {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		log.Err(err).Msgf("order socket: failed to encode %v", event)
		return 0
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	var sent int
	for c := range s.rooms[room] {
		if c.enqueue(frame) {
			sent++
		}
	}
	emitsTotal.WithLabelValues(event).Add(float64(sent))

	return sent
}

// Deliver forwards a hub broadcast as an order-notification event: kitchen routes reach the admin room,
// customer routes the customer's room. The order-* events keep the gateway's payloads.
func (s *Server) Deliver(ctx context.Context, route notifier.Route, n notification.Notification) error {
	room := notification.RoomAdmin
	if route.Type == notification.Customer {
		room = notification.RoomCustomer(route.Target)
	}

	s.Emit(room, notification.EventNotification, n)
	return nil
}

func (s *Server) Connections() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.conns)
}

func (s *Server) RoomSize(room string) int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.rooms[room])
}

// Close disconnects every client and waits for their handlers to return.
// Hijacked connections are not tracked by http.Server.Shutdown, so call this after it.
func (s *Server) Close() {
	s.lock.Lock()
	s.closed = true
	for c := range s.conns {
		c.cancel()
	}
	s.lock.Unlock()

	s.wg.Wait()
	log.Info().Msgf("order socket: closed properly")
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}
