package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/meeting/m-1/"
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close() //nolint:errcheck
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(mt, data)
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("X-CSRFToken", "csrf-1")
	tokens := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-1", TokenType: "Bearer"})
	d := NewWebSocketDialer(header, tokens, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := d.Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	got := <-headers
	assert.Equal(t, "csrf-1", got.Get("X-CSRFToken"))
	assert.Equal(t, "Bearer tok-1", got.Get("Authorization"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ping"}`, string(data))
}

func TestWebSocketDialerHandshakeStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	d := NewWebSocketDialer(nil, nil, false)
	_, err := d.Dial(context.Background(), wsURL(srv))
	require.Error(t, err)

	var he *HandshakeError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusForbidden, he.StatusCode)
}

func TestWebSocketDialerRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	_, err := NewWebSocketDialer(nil, nil, false).Dial(context.Background(), url)
	require.Error(t, err)
	var he *HandshakeError
	assert.False(t, errors.As(err, &he), "a refused dial has no handshake status")
}
