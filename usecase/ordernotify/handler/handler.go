package handler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/order-notifier/lib/notifier"
	"github.com/desain-gratis/order-notifier/types/notification"
	"github.com/desain-gratis/order-notifier/usecase/ordernotify"
)

var _ ordernotify.Usecase = &handler{}

const (
	defaultCustomerName  = "Customer"
	defaultCustomerPhone = "N/A"
	actionedCustomerName = "You"
)

type handler struct {
	registry notifier.Registry
	gateway  ordernotify.Emitter
	now      func() time.Time
}

// New builds the emission API. gateway may be nil when the socket channel is not used.
func New(registry notifier.Registry, gateway ordernotify.Emitter) *handler {
	return &handler{
		registry: registry,
		gateway:  gateway,
		now:      time.Now,
	}
}

func (h *handler) stamp(n notification.Notification) notification.Notification {
	if n.Timestamp == 0 {
		n.Timestamp = h.now().UnixMilli()
	}
	return n
}

func (h *handler) NotifyKitchen(ctx context.Context, restaurantID string, n notification.Notification) int {
	return h.registry.NotifyKitchen(ctx, restaurantID, h.stamp(n))
}

func (h *handler) NotifyCustomer(ctx context.Context, customerID string, n notification.Notification) int {
	return h.registry.NotifyCustomer(ctx, customerID, h.stamp(n))
}

func (h *handler) EmitOrderCreated(order notification.Order) {
	if h.gateway == nil {
		return
	}
	h.gateway.EmitOrderCreated(order)
}

func (h *handler) EmitOrderUpdated(orderID string, order notification.Order) {
	if h.gateway == nil {
		return
	}
	h.gateway.EmitOrderUpdated(orderID, order)
}

func (h *handler) EmitOrderDeleted(orderID, userID string) {
	if h.gateway == nil {
		return
	}
	h.gateway.EmitOrderDeleted(orderID, userID)
}

func (h *handler) EmitOrderStatusChanged(orderID, status, userID string) {
	if h.gateway == nil {
		return
	}
	h.gateway.EmitOrderStatusChanged(orderID, status, userID)
}

func (h *handler) OrderPlaced(ctx context.Context, order notification.Order) (notification.Notification, int) {
	name := order.CustomerName
	if name == "" {
		name = defaultCustomerName
	}
	phone := order.CustomerPhone
	if phone == "" {
		phone = defaultCustomerPhone
	}

	n := h.stamp(notification.Notification{
		Type:          notification.TypeNewOrder,
		OrderID:       order.OrderID,
		RestaurantID:  order.RestaurantID,
		CustomerName:  name,
		CustomerPhone: phone,
		ItemCount:     len(order.Products),
		TotalAmount:   order.Total(),
		Address:       order.Address,
		Message:       "New order from " + name,
	})

	sent := h.NotifyKitchen(ctx, order.RestaurantID, n)
	h.EmitOrderCreated(order)

	log.Info().Msgf("order notify: order %v placed at %v, %v kitchen client(s) notified", order.OrderID, order.RestaurantID, sent)

	return n, sent
}

func (h *handler) OrderActioned(ctx context.Context, order notification.Order, action ordernotify.Action) (notification.Notification, int, error) {
	t, status, message, err := action.Outcome()
	if err != nil {
		return notification.Notification{}, 0, err
	}

	n := h.stamp(notification.Notification{
		Type:          t,
		OrderID:       order.OrderID,
		RestaurantID:  order.RestaurantID,
		CustomerName:  actionedCustomerName,
		CustomerPhone: "",
		ItemCount:     len(order.Products),
		TotalAmount:   order.Total(),
		Message:       message,
	})

	sent := h.NotifyCustomer(ctx, order.UserID, n)

	order.Status = status
	h.EmitOrderUpdated(order.OrderID, order)
	h.EmitOrderStatusChanged(order.OrderID, status, order.UserID)

	log.Info().Msgf("order notify: order %v %v, %v customer client(s) notified", order.OrderID, status, sent)

	return n, sent, nil
}
