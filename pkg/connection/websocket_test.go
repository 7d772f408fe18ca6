package connection

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-session/internal/controller"
	"voice-session/internal/session"
)

type stubView struct {
	mu sync.Mutex
	v  controller.View
}

func (s *stubView) View() controller.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

func (s *stubView) set(v controller.View) {
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamsLevels(t *testing.T) {
	src := &stubView{v: controller.View{
		State:      session.Connected,
		AgentBands: []float32{0.5, 0, 0},
		MicBands:   []float32{0.1},
	}}
	wh := NewWebsocketHandler(src, 5*time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(wh.HandleWebsocketMessage))
	defer srv.Close()

	conn := dial(t, srv)

	var msg LevelMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg.State)
	assert.Equal(t, []float32{0.5, 0, 0}, msg.Agent)
	assert.Equal(t, []float32{0.1}, msg.Mic)

	src.set(controller.View{State: session.Disconnected, Error: "left"})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "disconnected", msg.State)
	assert.Equal(t, "left", msg.Error)
}

func TestUnchangedLevelsAreNotResent(t *testing.T) {
	src := &stubView{v: controller.View{State: session.Connected}}
	wh := NewWebsocketHandler(src, 5*time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(wh.HandleWebsocketMessage))
	defer srv.Close()

	conn := dial(t, srv)
	var msg LevelMessage
	require.NoError(t, conn.ReadJSON(&msg))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	err := conn.ReadJSON(&msg)
	assert.Error(t, err, "no second frame while nothing changed")
}

func TestMessageEqual(t *testing.T) {
	a := LevelMessage{State: "connected", Agent: []float32{1}}
	assert.True(t, a.equal(LevelMessage{State: "connected", Agent: []float32{1}}))
	assert.False(t, a.equal(LevelMessage{State: "connected", Agent: []float32{0.5}}))
	assert.False(t, a.equal(LevelMessage{State: "connecting", Agent: []float32{1}}))
}
