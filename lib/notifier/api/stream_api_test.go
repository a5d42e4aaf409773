package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desain-gratis/order-notifier/lib/notifier/impl"
	"github.com/desain-gratis/order-notifier/repository/limiter"
	"github.com/desain-gratis/order-notifier/repository/limiter/inmemory"
	"github.com/desain-gratis/order-notifier/types/notification"
)

func newRouter(hub *impl.Hub, lim *limiter.Limiter, cfg StreamConfig) *httprouter.Router {
	streamAPI := NewStreamAPI(hub, lim, cfg)

	router := httprouter.New()
	router.GET("/notifications/subscribe", streamAPI.Subscribe)
	router.POST("/notifications/publish", streamAPI.Publish)
	router.GET("/notifications/metrics", streamAPI.Metrics)
	return router
}

func TestSubscribe_rejectsBadParameters(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantBody string
	}{
		{
			name:     "missing type",
			query:    "target=rest-1&clientId=k1",
			wantBody: `{"error":"Missing required parameters: type, target, clientId"}`,
		},
		{
			name:     "missing client id",
			query:    "type=kitchen&target=rest-1",
			wantBody: `{"error":"Missing required parameters: type, target, clientId"}`,
		},
		{
			name:     "invalid type",
			query:    "type=admin&target=rest-1&clientId=k1",
			wantBody: `{"error":"Invalid type. Must be \"kitchen\" or \"customer\""}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := impl.NewHub(impl.Config{})
			router := newRouter(hub, nil, DefaultStreamConfig())

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/notifications/subscribe?"+tt.query, nil)
			router.ServeHTTP(w, r)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
			assert.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
			assert.Equal(t, 0, hub.ActiveSubscribers())
		})
	}
}

func TestSubscribe_limited(t *testing.T) {
	hub := impl.NewHub(impl.Config{})
	router := newRouter(hub, limiter.New(inmemory.New(), 1, time.Minute), DefaultStreamConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// first attempt is allowed and streams until cancelled
	first := httptest.NewRequest(http.MethodGet, "/notifications/subscribe?type=kitchen&target=r&clientId=a", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(httptest.NewRecorder(), first)
	}()

	require.Eventually(t, func() bool { return hub.ActiveSubscribers() == 1 }, time.Second, 5*time.Millisecond)

	w := httptest.NewRecorder()
	second := httptest.NewRequest(http.MethodGet, "/notifications/subscribe?type=kitchen&target=r&clientId=b", nil)
	router.ServeHTTP(w, second)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	cancel()
	<-done
	assert.Equal(t, 0, hub.ActiveSubscribers())
}

type sseReader struct {
	scanner *bufio.Scanner
}

// next returns the payload of the next frame, comment frames included verbatim
func (s *sseReader) next(t *testing.T) string {
	t.Helper()

	var lines []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if line == "" {
			if len(lines) > 0 {
				return strings.Join(lines, "\n")
			}
			continue
		}
		lines = append(lines, line)
	}
	t.Fatalf("stream ended: %v", s.scanner.Err())
	return ""
}

func TestSubscribe_streamsNotifications(t *testing.T) {
	hub := impl.NewHub(impl.Config{})
	server := httptest.NewServer(newRouter(hub, nil, StreamConfig{
		HeartbeatInterval: 50 * time.Millisecond,
		WriteTimeout:      time.Second,
		QueueSize:         8,
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		server.URL+"/notifications/subscribe?type=kitchen&target=rest-1&clientId=k1", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	reader := &sseReader{scanner: bufio.NewScanner(resp.Body)}

	first := reader.next(t)
	require.True(t, strings.HasPrefix(first, "data: "), first)
	var confirm notification.Connection
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(first, "data: ")), &confirm))
	assert.Equal(t, "CONNECTION", confirm.Type)
	assert.Equal(t, "Connected to kitchen notifications for rest-1", confirm.Message)

	require.Eventually(t, func() bool { return hub.ActiveSubscribers() == 1 }, time.Second, 5*time.Millisecond)

	sent := hub.NotifyKitchen(context.Background(), "rest-1", notification.Notification{
		Type:    notification.TypeNewOrder,
		OrderID: "o-1",
		Message: "New order from Ana",
	})
	assert.Equal(t, 1, sent)

	// heartbeats may interleave
	var got notification.Notification
	for {
		frame := reader.next(t)
		if frame == ": heartbeat" {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &got))
		break
	}
	assert.Equal(t, "o-1", got.OrderID)
	assert.Equal(t, notification.TypeNewOrder, got.Type)

	// a heartbeat eventually arrives on an idle stream
	assert.Equal(t, ": heartbeat", reader.next(t))

	cancel()
	require.Eventually(t, func() bool { return hub.ActiveSubscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPublish(t *testing.T) {
	hub := impl.NewHub(impl.Config{})
	var got []notification.Notification
	hub.Subscribe("c1", notification.Customer, "cust-1", func(n notification.Notification) error {
		got = append(got, n)
		return nil
	})
	router := newRouter(hub, nil, DefaultStreamConfig())

	w := httptest.NewRecorder()
	body := `{"type":"ORDER_READY","orderId":"o-5","message":"ready"}`
	r := httptest.NewRequest(http.MethodPost, "/notifications/publish?type=customer&target=cust-1", strings.NewReader(body))
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"sent":1}`, w.Body.String())
	require.Len(t, got, 1)
	assert.NotZero(t, got[0].Timestamp)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/notifications/publish?type=customer&target=cust-1", strings.NewReader(`{"type":"BOGUS","orderId":"o"}`))
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetrics(t *testing.T) {
	hub := impl.NewHub(impl.Config{})
	hub.Subscribe("k1", notification.Kitchen, "rest-1", func(notification.Notification) error { return nil })
	router := newRouter(hub, nil, DefaultStreamConfig())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notifications/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.EqualValues(t, 1, m["n_subscription"])
}

func TestSubscribe_reconnectWithSameClientID(t *testing.T) {
	hub := impl.NewHub(impl.Config{PendingWindow: time.Minute, PendingLimit: 8})
	server := httptest.NewServer(newRouter(hub, nil, StreamConfig{
		HeartbeatInterval: 50 * time.Millisecond,
		WriteTimeout:      time.Second,
		QueueSize:         8,
	}))
	defer server.Close()

	open := func(ctx context.Context) (*http.Response, *sseReader) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			server.URL+"/notifications/subscribe?type=kitchen&target=rest-1&clientId=k1", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		reader := &sseReader{scanner: bufio.NewScanner(resp.Body)}
		reader.next(t) // CONNECTION
		return resp, reader
	}

	oldCtx, oldCancel := context.WithCancel(context.Background())
	defer oldCancel()
	oldResp, oldReader := open(oldCtx)
	defer oldResp.Body.Close()
	require.Eventually(t, func() bool { return hub.ActiveSubscribers() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resp, reader := open(ctx)
	defer resp.Body.Close()

	// the replaced stream is ended by the hub
	for oldReader.scanner.Scan() {
	}
	oldCancel()

	assert.Equal(t, 1, hub.ActiveSubscribers())
	sent := hub.NotifyKitchen(context.Background(), "rest-1", notification.Notification{
		Type:    notification.TypeNewOrder,
		OrderID: "o-2",
		Message: "New order from Ana",
	})
	assert.Equal(t, 1, sent)

	var got notification.Notification
	for {
		frame := reader.next(t)
		if frame == ": heartbeat" {
			continue
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &got))
		break
	}
	assert.Equal(t, "o-2", got.OrderID)
}
