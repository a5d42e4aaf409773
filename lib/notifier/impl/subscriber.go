package impl

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/order-notifier/types/notification"
)

const DefaultQueueSize = 64

var (
	ErrClosed    = errors.New("closed")
	ErrQueueFull = errors.New("queue full")
)

// Queue is the outbound buffer of one push-stream client.
// Publish never blocks: a client that cannot keep up is treated as dead and its queue is closed.
type Queue struct {
	id     string
	lock   sync.Mutex
	closed bool
	ch     chan notification.Notification
}

func NewQueue(id string, size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}

	log.Debug().Msgf("subscription member: created %v", id)

	return &Queue{
		id: id,
		ch: make(chan notification.Notification, size),
	}
}

func (q *Queue) ID() string {
	return q.id
}

func (q *Queue) Listen() <-chan notification.Notification {
	return q.ch
}

// Publish to this single subscription, to be used as the hub's DeliverFunc
func (q *Queue) Publish(n notification.Notification) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return ErrClosed
	}

	select {
	case q.ch <- n:
		return nil
	default:
		// the writer drains what is buffered, then ends the stream
		q.closed = true
		close(q.ch)
		return ErrQueueFull
	}
}

func (q *Queue) Close() {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)

	log.Debug().Msgf("subscription member: closed properly %v", q.id)
}
