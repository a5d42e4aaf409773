package ordersocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desain-gratis/order-notifier/lib/notifier"
	"github.com/desain-gratis/order-notifier/types/notification"
	"github.com/desain-gratis/order-notifier/utility/secret/hmac/hardcode"
)

func newTestServer(t *testing.T, verifier JoinVerifier) (*Server, string) {
	t.Helper()

	s := NewServer(Config{WriteTimeout: time.Second, QueueSize: 8}, verifier)
	router := httprouter.New()
	router.GET("/orders", s.Handler)

	hs := httptest.NewServer(router)
	t.Cleanup(func() {
		s.Close()
		hs.Close()
	})

	return s, hs.URL + "/orders"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })

	return c
}

func send(t *testing.T, c *websocket.Conn, event string, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, Frame{Event: event, Data: data}))
}

func receive(t *testing.T, c *websocket.Conn) Frame {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var frame Frame
	require.NoError(t, wsjson.Read(ctx, c, &frame))
	return frame
}

func join(t *testing.T, s *Server, c *websocket.Conn, req JoinRequest, room string) {
	t.Helper()

	before := s.RoomSize(room)
	send(t, c, notification.EventUserJoin, req)
	require.Eventually(t, func() bool { return s.RoomSize(room) == before+1 }, 2*time.Second, 5*time.Millisecond)
}

func TestServer_roomRouting(t *testing.T) {
	s, url := newTestServer(t, ClaimVerifier{})

	admin := dial(t, url)
	join(t, s, admin, JoinRequest{UserID: "staff-1", Role: RoleAdmin}, "admin")

	owner := dial(t, url)
	join(t, s, owner, JoinRequest{UserID: "cust-1", Role: RoleCustomer}, "customer-cust-1")

	other := dial(t, url)
	join(t, s, other, JoinRequest{UserID: "cust-2", Role: RoleCustomer}, "customer-cust-2")

	g := NewGateway()
	g.Attach(s)

	g.EmitOrderCreated(notification.Order{OrderID: "o-1", UserID: "cust-1", CustomerName: "Ana"})
	g.EmitOrderDeleted("o-9", "cust-2")

	for _, c := range []*websocket.Conn{admin, owner} {
		frame := receive(t, c)
		assert.Equal(t, "order-created", frame.Event)

		var order notification.Order
		require.NoError(t, json.Unmarshal(frame.Data, &order))
		assert.Equal(t, "o-1", order.OrderID)
		assert.Equal(t, "Ana", order.CustomerName)
	}

	// the other customer only sees its own order
	frame := receive(t, other)
	assert.Equal(t, "order-deleted", frame.Event)
	assert.JSONEq(t, `{"orderId":"o-9"}`, string(frame.Data))

	frame = receive(t, admin)
	assert.Equal(t, "order-deleted", frame.Event)
}

func TestGateway_payloads(t *testing.T) {
	s, url := newTestServer(t, ClaimVerifier{})

	admin := dial(t, url)
	join(t, s, admin, JoinRequest{UserID: "staff-1", Role: RoleAdmin}, "admin")

	g := NewGateway()
	g.Attach(s)

	g.EmitOrderUpdated("o-2", notification.Order{OrderID: "stale", UserID: "cust-1", Status: "active"})
	g.EmitOrderStatusChanged("o-2", "complete", "cust-1")

	frame := receive(t, admin)
	assert.Equal(t, "order-updated", frame.Event)
	var order notification.Order
	require.NoError(t, json.Unmarshal(frame.Data, &order))
	assert.Equal(t, "o-2", order.OrderID)
	assert.Equal(t, "active", order.Status)

	frame = receive(t, admin)
	assert.Equal(t, "order-status-changed", frame.Event)
	assert.JSONEq(t, `{"orderId":"o-2","status":"complete"}`, string(frame.Data))
}

func TestServer_secondJoinIgnored(t *testing.T) {
	s, url := newTestServer(t, ClaimVerifier{})

	c := dial(t, url)
	join(t, s, c, JoinRequest{UserID: "cust-1", Role: RoleCustomer}, "customer-cust-1")

	ignored := joinsTotal.WithLabelValues("ignored")
	before := testutil.ToFloat64(ignored)

	send(t, c, notification.EventUserJoin, JoinRequest{UserID: "cust-1", Role: RoleAdmin})
	require.Eventually(t, func() bool { return testutil.ToFloat64(ignored) == before+1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, s.RoomSize("admin"))
	assert.Equal(t, 1, s.RoomSize("customer-cust-1"))
}

func TestServer_rejectedJoin(t *testing.T) {
	keys := hardcode.New()
	keys.Store("join", "alamantap")
	s, url := newTestServer(t, NewTokenVerifier(keys))

	c := dial(t, url)
	send(t, c, notification.EventUserJoin, JoinRequest{UserID: "staff-1", Role: RoleAdmin})

	frame := receive(t, c)
	assert.Equal(t, "error", frame.Event)
	assert.JSONEq(t, `{"message":"missing join token"}`, string(frame.Data))
	assert.Equal(t, 0, s.RoomSize("admin"))

	// still allowed to retry with a valid token
	token, err := IssueJoinToken(keys, "join", Identity{UserID: "staff-1", Role: RoleAdmin}, time.Minute)
	require.NoError(t, err)
	join(t, s, c, JoinRequest{Token: token}, "admin")
}

func TestServer_Deliver(t *testing.T) {
	s, url := newTestServer(t, ClaimVerifier{})

	admin := dial(t, url)
	join(t, s, admin, JoinRequest{UserID: "staff-1", Role: RoleAdmin}, "admin")
	customer := dial(t, url)
	join(t, s, customer, JoinRequest{UserID: "cust-1", Role: RoleCustomer}, "customer-cust-1")

	ctx := context.Background()
	require.NoError(t, s.Deliver(ctx, notifier.Route{Type: notification.Kitchen, Target: "rest-1"},
		notification.Notification{Type: notification.TypeNewOrder, OrderID: "o-1"}))
	require.NoError(t, s.Deliver(ctx, notifier.Route{Type: notification.Customer, Target: "cust-1"},
		notification.Notification{Type: notification.TypeOrderAccepted, OrderID: "o-1"}))

	frame := receive(t, admin)
	assert.Equal(t, "order-notification", frame.Event)
	var n notification.Notification
	require.NoError(t, json.Unmarshal(frame.Data, &n))
	assert.Equal(t, notification.TypeNewOrder, n.Type)

	frame = receive(t, customer)
	assert.Equal(t, "order-notification", frame.Event)
	require.NoError(t, json.Unmarshal(frame.Data, &n))
	assert.Equal(t, notification.TypeOrderAccepted, n.Type)
	assert.Equal(t, "o-1", n.OrderID)
}

func TestServer_DeliverKeepsStatusContract(t *testing.T) {
	s, url := newTestServer(t, ClaimVerifier{})

	customer := dial(t, url)
	join(t, s, customer, JoinRequest{UserID: "cust-1", Role: RoleCustomer}, "customer-cust-1")

	g := NewGateway()
	g.Attach(s)

	require.NoError(t, s.Deliver(context.Background(), notifier.Route{Type: notification.Customer, Target: "cust-1"},
		notification.Notification{Type: notification.TypeOrderAccepted, OrderID: "o-1"}))
	g.EmitOrderStatusChanged("o-1", "active", "cust-1")

	var statusFrames []statusPayload
	for range 2 {
		frame := receive(t, customer)
		if frame.Event != "order-status-changed" {
			assert.Equal(t, "order-notification", frame.Event)
			continue
		}
		var payload statusPayload
		require.NoError(t, json.Unmarshal(frame.Data, &payload))
		statusFrames = append(statusFrames, payload)
	}

	assert.Equal(t, []statusPayload{{OrderID: "o-1", Status: "active"}}, statusFrames)
}

func TestServer_disconnectReleasesRoom(t *testing.T) {
	s, url := newTestServer(t, ClaimVerifier{})

	c := dial(t, url)
	join(t, s, c, JoinRequest{UserID: "cust-1", Role: RoleCustomer}, "customer-cust-1")
	assert.Equal(t, 1, s.Connections())

	c.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return s.Connections() == 0 && s.RoomSize("customer-cust-1") == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Emit("customer-cust-1", "order-created", notification.Order{OrderID: "o"}))
}

func TestGateway_notAttached(t *testing.T) {
	g := NewGateway()
	assert.False(t, g.Ready())

	assert.NotPanics(t, func() {
		g.EmitOrderCreated(notification.Order{OrderID: "o-1", UserID: "cust-1"})
		g.EmitOrderUpdated("o-1", notification.Order{})
		g.EmitOrderDeleted("o-1", "cust-1")
		g.EmitOrderStatusChanged("o-1", "active", "")
	})
}
