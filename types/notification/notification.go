package notification

import (
	"errors"
	"fmt"
	"time"
)

// Type of an order lifecycle transition
type Type string

const (
	TypeNewOrder       Type = "NEW_ORDER"
	TypeOrderAccepted  Type = "ORDER_ACCEPTED"
	TypeOrderRejected  Type = "ORDER_REJECTED"
	TypeOrderCompleted Type = "ORDER_COMPLETED"
	TypeOrderCancelled Type = "ORDER_CANCELLED"
	TypeOrderReady     Type = "ORDER_READY"

	// TypeConnection tags the stream handshake frame. It is never a valid Notification type.
	TypeConnection = "CONNECTION"
)

func (t Type) Valid() bool {
	switch t {
	case TypeNewOrder, TypeOrderAccepted, TypeOrderRejected,
		TypeOrderCompleted, TypeOrderCancelled, TypeOrderReady:
		return true
	}
	return false
}

// SubscriberType is the routing class of a subscription
type SubscriberType string

const (
	Kitchen  SubscriberType = "kitchen"
	Customer SubscriberType = "customer"
)

func ParseSubscriberType(s string) (SubscriberType, bool) {
	switch SubscriberType(s) {
	case Kitchen:
		return Kitchen, true
	case Customer:
		return Customer, true
	}
	return "", false
}

var (
	ErrInvalidType     = errors.New("invalid notification type")
	ErrEmptyOrderID    = errors.New("empty order id")
	ErrNegativeSummary = errors.New("negative order summary")
)

// Notification describes one order lifecycle transition.
// Values are copied on every hand-off; nobody mutates a notification after emission.
type Notification struct {
	Type          Type    `json:"type"`
	OrderID       string  `json:"orderId"`
	RestaurantID  string  `json:"restaurantID"`
	CustomerName  string  `json:"customerName"`
	CustomerPhone string  `json:"customerPhone"`
	ItemCount     int     `json:"itemCount"`
	TotalAmount   float64 `json:"totalAmount"`
	Address       string  `json:"address,omitempty"`
	Timestamp     int64   `json:"timestamp"`
	Message       string  `json:"message"`
}

func (n Notification) Validate() error {
	if !n.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, n.Type)
	}
	if n.OrderID == "" {
		return ErrEmptyOrderID
	}
	if n.ItemCount < 0 || n.TotalAmount < 0 {
		return ErrNegativeSummary
	}
	return nil
}

// Connection is the first frame written on every push stream
type Connection struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func NewConnection(t SubscriberType, target string, now time.Time) Connection {
	return Connection{
		Type:      TypeConnection,
		Message:   fmt.Sprintf("Connected to %s notifications for %s", t, target),
		Timestamp: now.UnixMilli(),
	}
}

// Now returns the emission timestamp in milliseconds
func Now() int64 {
	return time.Now().UnixMilli()
}
