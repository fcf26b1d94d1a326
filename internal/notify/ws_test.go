package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestStreamRelaysPublishedNotifications(t *testing.T) {
	client := newRedisClient(t)
	pub := NewRedisPublisher(client)
	stream := NewStream(pub, "*", slog.New(slog.NewTextHandler(io.Discard, nil)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream.Serve(w, r, r.URL.Query().Get("user"))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is open before the upgrade completes.
	require.NoError(t, pub.Publish(context.Background(), "u1", Message{ID: "n1", Type: TypeComment, Title: "New comment"}))
	require.NoError(t, pub.Publish(context.Background(), "u2", Message{ID: "n2", Type: TypeComment, Title: "Not for u1"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	require.Equal(t, "n1", msg.ID)
}
