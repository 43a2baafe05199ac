package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagesearch/internal/models"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastsIngestedImages(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Shutdown()

	srv := httptest.NewServer(Handler(hub))
	defer srv.Close()

	a, b := dial(t, srv), dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	hub.ImagesIngested(context.Background(), []models.Image{
		{ID: 1, Filename: "cat.jpg", URL: "/static/image/cat.jpg"},
		{ID: 2, Filename: "dog.jpg", URL: "/static/image/dog.jpg"},
	})

	for _, conn := range []*websocket.Conn{a, b} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var first, second Message
		require.NoError(t, conn.ReadJSON(&first))
		require.NoError(t, conn.ReadJSON(&second))
		assert.Equal(t, Message{Type: TypeImageIngested, ID: 1, Filename: "cat.jpg", URL: "/static/image/cat.jpg"}, first)
		assert.Equal(t, int64(2), second.ID)
	}
}

func TestHub_UnregistersClosedClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Shutdown()

	srv := httptest.NewServer(Handler(hub))
	defer srv.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	hub.Shutdown()
	hub.Shutdown()

	done := make(chan struct{})
	go func() {
		hub.Broadcast(Message{Type: TypeImageIngested, ID: 1})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked after shutdown")
	}
}
