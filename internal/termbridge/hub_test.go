package termbridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/conbus/xp/internal/busproto"
)

func TestHubBroadcastsAttachedEngineSignalsToConnectedMonitors(t *testing.T) {
	hub := NewHub(nil)
	stop := make(chan struct{})
	defer close(stop)
	go hub.Run(stop)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutine time to register the connection before the
	// engine emits, so the first event isn't missed.
	time.Sleep(20 * time.Millisecond)

	engine := busproto.New(busproto.DefaultConfig("127.0.0.1", 0), nil)
	hub.Attach(engine)
	engine.OnConnectionMade.Emit(busproto.ConnectionMadeEvent{})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "connection_made", got.Type)
}
