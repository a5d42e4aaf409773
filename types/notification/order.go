package notification

import "math"

// Order is the denormalized order summary carried by socket events.
// It is a projection owned by the order store; fields here are display-only.
type Order struct {
	OrderID       string `json:"orderId"`
	UserID        string `json:"userId,omitempty"`
	RestaurantID  string `json:"restaurantID,omitempty"`
	Status        string `json:"status,omitempty"`
	CustomerName  string `json:"customerName,omitempty"`
	CustomerPhone string `json:"customerPhone,omitempty"`
	Address       string `json:"address,omitempty"`
	Products      []Item `json:"products,omitempty"`
}

type Item struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Tax      float64 `json:"tax"`
	Quantity int     `json:"quantity"`
}

// Total is the sum of price*quantity+tax over all products, rounded to cents
func (o Order) Total() float64 {
	var sum float64
	for _, p := range o.Products {
		sum += p.Price*float64(p.Quantity) + p.Tax
	}
	return math.Round(sum*100) / 100
}

// Socket event names
const (
	EventUserJoin           = "user-join"
	EventOrderCreated       = "order-created"
	EventOrderUpdated       = "order-updated"
	EventOrderDeleted       = "order-deleted"
	EventOrderStatusChanged = "order-status-changed"
	EventError              = "error"

	// EventNotification carries a hub Notification mirrored to the socket rooms
	EventNotification = "order-notification"
)

// Socket rooms
const RoomAdmin = "admin"

func RoomCustomer(userID string) string {
	return "customer-" + userID
}
