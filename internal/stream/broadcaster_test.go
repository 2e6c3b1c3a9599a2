package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liquidity-router/internal/domain"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func waitForSubscribers(t *testing.T, b *Broadcaster, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.Subscribers() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscriber count never reached %d, have %d", want, b.Subscribers())
}

func TestBroadcaster_PublishReachesSubscribers(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()

	srv := httptest.NewServer(b)
	defer srv.Close()

	c1 := dial(t, srv.URL)
	defer c1.Close()
	c2 := dial(t, srv.URL)
	defer c2.Close()
	waitForSubscribers(t, b, 2)

	fill := &domain.FillRecord{
		FillID:      "fill-1",
		RequestID:   "req-1",
		Market:      "A/B:10",
		Discipline:  domain.DisciplineSingle,
		Given:       100_000,
		Received:    90_000,
		TimestampMs: 1000,
	}
	b.Publish(fill)

	for _, conn := range []*websocket.Conn{c1, c2} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var got domain.FillRecord
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, "fill-1", got.FillID)
		assert.Equal(t, uint64(100_000), got.Given)
	}
}

func TestBroadcaster_DisconnectedSubscriberIsRemoved(t *testing.T) {
	b := NewBroadcaster(nil, nil)
	defer b.Close()

	srv := httptest.NewServer(b)
	defer srv.Close()

	c := dial(t, srv.URL)
	waitForSubscribers(t, b, 1)

	c.Close()
	waitForSubscribers(t, b, 0)

	// Publishing with no subscribers is a no-op.
	b.Publish(&domain.FillRecord{FillID: "fill-1"})
}

func TestBroadcaster_SlowSubscriberIsDropped(t *testing.T) {
	cfg := DefaultBroadcasterConfig()
	cfg.SendBuffer = 1
	b := NewBroadcaster(&cfg, nil)
	defer b.Close()

	srv := httptest.NewServer(b)
	defer srv.Close()

	c := dial(t, srv.URL)
	defer c.Close()
	waitForSubscribers(t, b, 1)

	// Flood well past the send buffer without the client reading.
	for i := 0; i < 100; i++ {
		b.Publish(&domain.FillRecord{FillID: "fill-1"})
	}

	waitForSubscribers(t, b, 0)
}

func TestBroadcaster_CloseRejectsNewConnections(t *testing.T) {
	b := NewBroadcaster(nil, nil)

	srv := httptest.NewServer(b)
	defer srv.Close()

	c := dial(t, srv.URL)
	defer c.Close()
	waitForSubscribers(t, b, 1)

	b.Close()
	assert.Equal(t, 0, b.Subscribers())
}
