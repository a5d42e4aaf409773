package ordersocket

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/order-notifier/types/notification"
)

// Gateway is what order producers call. Until a server is attached every emit is a no-op,
// so producers never fail because the socket layer is down.
type Gateway struct {
	server atomic.Pointer[Server]
}

func NewGateway() *Gateway {
	return &Gateway{}
}

func (g *Gateway) Attach(s *Server) {
	g.server.Store(s)
}

func (g *Gateway) Ready() bool {
	return g.server.Load() != nil
}

func (g *Gateway) EmitOrderCreated(order notification.Order) {
	g.emit(notification.EventOrderCreated, order.UserID, order)
}

func (g *Gateway) EmitOrderUpdated(orderID string, order notification.Order) {
	order.OrderID = orderID
	g.emit(notification.EventOrderUpdated, order.UserID, order)
}

func (g *Gateway) EmitOrderDeleted(orderID, userID string) {
	g.emit(notification.EventOrderDeleted, userID, orderIDPayload{OrderID: orderID})
}

func (g *Gateway) EmitOrderStatusChanged(orderID, status, userID string) {
	g.emit(notification.EventOrderStatusChanged, userID, statusPayload{OrderID: orderID, Status: status})
}

// emit sends to the admin room and, when known, to the owning customer's room
func (g *Gateway) emit(event, userID string, payload any) {
	s := g.server.Load()
	if s == nil {
		return
	}

	sent := s.Emit(notification.RoomAdmin, event, payload)
	if userID != "" {
		sent += s.Emit(notification.RoomCustomer(userID), event, payload)
	}

	log.Debug().Msgf("order socket: %v sent to %v connection(s)", event, sent)
}
