package ordernotify

import (
	"context"
	"errors"

	"github.com/desain-gratis/order-notifier/types/notification"
)

var ErrUnknownAction = errors.New("unknown order action")

// Usecase is the event emission API order handlers call after a mutation.
// Delivery problems are never returned to the caller.
type Usecase interface {
	Notifier
	Emitter
	Producer
}

// Notifier pushes typed notifications to the push-stream subscribers (and attached channels)
type Notifier interface {
	NotifyKitchen(ctx context.Context, restaurantID string, n notification.Notification) (sent int)
	NotifyCustomer(ctx context.Context, customerID string, n notification.Notification) (sent int)
}

// Emitter pushes order lifecycle events to socket rooms
type Emitter interface {
	EmitOrderCreated(order notification.Order)
	EmitOrderUpdated(orderID string, order notification.Order)
	EmitOrderDeleted(orderID, userID string)
	EmitOrderStatusChanged(orderID, status, userID string)
}

// Producer builds the notifications of the order flows
type Producer interface {
	// OrderPlaced tells the restaurant's kitchen about a new order
	OrderPlaced(ctx context.Context, order notification.Order) (n notification.Notification, sent int)

	// OrderActioned tells the customer the kitchen accepted, rejected or completed the order
	OrderActioned(ctx context.Context, order notification.Order, action Action) (n notification.Notification, sent int, err error)
}

type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionComplete Action = "complete"
)

type actionOutcome struct {
	Type    notification.Type
	Status  string
	Message string
}

var actions = map[Action]actionOutcome{
	ActionAccept:   {Type: notification.TypeOrderAccepted, Status: "active", Message: "Your order has been accepted"},
	ActionReject:   {Type: notification.TypeOrderRejected, Status: "reject", Message: "Your order has been rejected"},
	ActionComplete: {Type: notification.TypeOrderCompleted, Status: "complete", Message: "Your order is ready for pickup!"},
}

// Outcome of action: notification type, stored order status and customer message
func (a Action) Outcome() (t notification.Type, status string, message string, err error) {
	o, ok := actions[a]
	if !ok {
		return "", "", "", ErrUnknownAction
	}
	return o.Type, o.Status, o.Message, nil
}
