package ordersocket

import (
	"encoding/json"
	"errors"

	"github.com/desain-gratis/order-notifier/types/notification"
)

var (
	ErrMissingToken  = errors.New("missing join token")
	ErrInvalidToken  = errors.New("invalid join token")
	ErrMissingUserID = errors.New("missing user id")
	ErrServerClosed  = errors.New("socket server closed")
)

// Frame is the wire envelope in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest is the payload of a user-join frame
type JoinRequest struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	Token  string `json:"token,omitempty"`
}

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

// Identity is who a connection joined as, after verification
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// Room a joined connection belongs to. Anything that is not admin is a customer.
func (i Identity) Room() string {
	if i.Role == RoleAdmin {
		return notification.RoomAdmin
	}
	return notification.RoomCustomer(i.UserID)
}

func (i Identity) validate() error {
	if i.Role != RoleAdmin && i.UserID == "" {
		return ErrMissingUserID
	}
	return nil
}

type errorPayload struct {
	Message string `json:"message"`
}

type orderIDPayload struct {
	OrderID string `json:"orderId"`
}

type statusPayload struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}
