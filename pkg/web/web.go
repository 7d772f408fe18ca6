package web

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"voice-session/pkg/connection"
	"voice-session/tmplt"
)

var page = template.Must(template.New("page").Parse(tmplt.HtmlPage))

type pageData struct {
	Title string
}

// NewMux serves the level viewer page and its websocket feed.
func NewMux(wh *connection.WebsocketHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := page.Execute(w, pageData{Title: "Voice session"}); err != nil {
			log.Warn().Err(err).Msg("Render page")
		}
	})
	mux.HandleFunc("/ws", wh.HandleWebsocketMessage)
	return mux
}

// StartWebInterface serves the viewer on addr until ctx is done.
func StartWebInterface(ctx context.Context, addr string, wh *connection.WebsocketHandler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           NewMux(wh),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msgf("Level viewer at http://%s/", addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
