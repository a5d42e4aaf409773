package notifier

import (
	"context"

	"github.com/desain-gratis/order-notifier/types/notification"
)

// DeliverFunc pushes a single notification to one client.
// A returned error (or a panic) marks the client's channel as dead.
type DeliverFunc func(n notification.Notification) error

// Registry is the subscription registry that producers and stream adapters talk to
type Registry interface {
	Subscribe(clientID string, t notification.SubscriberType, target string, deliver DeliverFunc) Subscription

	// Unsubscribe is an intentional leave; idempotent
	Unsubscribe(clientID string)

	// Disconnect is a lost transport; the client may come back with the same id
	Disconnect(clientID string)

	// Touch marks the client as alive
	Touch(clientID string)

	// Broadcast returns the number of subscribers successfully notified
	Broadcast(ctx context.Context, n notification.Notification, t notification.SubscriberType, target string) int

	NotifyKitchen(ctx context.Context, restaurantID string, n notification.Notification) int
	NotifyCustomer(ctx context.Context, customerID string, n notification.Notification) int
}

// Subscription is the handle of a single Subscribe call. Operations on it never touch a newer
// subscription registered under the same client id.
type Subscription interface {
	ClientID() string

	// Done is closed once the hub dropped this subscription: replaced, swept, failed or shut down
	Done() <-chan struct{}

	Touch()

	// Disconnect is a lost transport for this subscription only
	Disconnect()
}

// Route is the (type, target) routing key of a broadcast
type Route struct {
	Type   notification.SubscriberType
	Target string
}

// DeliveryChannel is a transport that receives every hub broadcast alongside the
// per-client registry entries. Implementations must not block.
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, route Route, n notification.Notification) error
}

// Metric to support metrics query
type Metric interface {
	Metric() any
}
