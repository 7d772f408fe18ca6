package connection

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-session/internal/controller"
)

// ViewSource is polled for the levels sent to viewers.
type ViewSource interface {
	View() controller.View
}

// LevelMessage is one frame pushed to a browser viewer.
type LevelMessage struct {
	State   string    `json:"state"`
	Loading bool      `json:"loading"`
	Agent   []float32 `json:"agent"`
	Mic     []float32 `json:"mic"`
	Voice   string    `json:"voice,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func messageFrom(v controller.View) LevelMessage {
	return LevelMessage{
		State:   v.State.String(),
		Loading: v.Loading,
		Agent:   v.AgentBands,
		Mic:     v.MicBands,
		Voice:   v.SelectedVoice,
		Error:   v.Error,
	}
}

func (m LevelMessage) equal(o LevelMessage) bool {
	return m.State == o.State && m.Loading == o.Loading && m.Voice == o.Voice &&
		m.Error == o.Error && slices.Equal(m.Agent, o.Agent) && slices.Equal(m.Mic, o.Mic)
}

// WebsocketHandler streams level frames to every connected viewer.
type WebsocketHandler struct {
	source   ViewSource
	interval time.Duration
	logger   zerolog.Logger
}

func NewWebsocketHandler(source ViewSource, interval time.Duration) *WebsocketHandler {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &WebsocketHandler{
		source:   source,
		interval: interval,
		logger:   log.With().Str("module", "websocket").Logger(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	ReadBufferSize:    1024,
	WriteBufferSize:   1024 * 4,
	EnableCompression: false,
}

// HandleWebsocketMessage upgrades the request and sends a frame whenever
// the levels change, until the viewer goes away.
func (wh *WebsocketHandler) HandleWebsocketMessage(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wh.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()
	wh.logger.Debug().Str("remote", r.RemoteAddr).Msg("Viewer connected")

	// viewers never send; reading only notices the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wh.interval)
	defer ticker.Stop()

	var last LevelMessage
	first := true
	for {
		msg := messageFrom(wh.source.View())
		if first || !msg.equal(last) {
			conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				wh.logger.Debug().Err(err).Msg("Viewer write failed")
				return
			}
			last, first = msg, false
		}

		select {
		case <-closed:
			wh.logger.Debug().Str("remote", r.RemoteAddr).Msg("Viewer disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
