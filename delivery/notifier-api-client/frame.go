package notifierapiclient

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/order-notifier/types/notification"
)

const maxFrameSize = 1 << 20

// consume reads event-stream frames until the body ends
func (s *Subscriber) consume(body io.Reader) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameSize)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if len(data) > 0 {
				s.dispatch(strings.Join(data, "\n"))
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event, id and retry fields are not used
		}
	}

	return scanner.Err()
}

func (s *Subscriber) dispatch(data string) {
	n, ok, err := parseData([]byte(data))
	if err != nil {
		log.Err(err).Msgf("notifier client %v: failed to parse frame", s.clientID)
		return
	}
	if !ok {
		return
	}
	s.AddNotification(n)
}

// parseData returns ok=false for control frames and for payloads that are not order notifications
func parseData(data []byte) (n notification.Notification, ok bool, err error) {
	var head struct {
		Type    string `json:"type"`
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return n, false, err
	}

	if head.Type == notification.TypeConnection || head.Type == "" || head.OrderID == "" {
		return n, false, nil
	}

	if err := json.Unmarshal(data, &n); err != nil {
		return n, false, err
	}
	return n, true, nil
}
