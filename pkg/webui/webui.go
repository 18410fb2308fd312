// Package webui serves a live view of the session's progress log over a
// websocket, so a long build can be followed from a browser while the CLI
// keeps the terminal.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forgeloop/forgeloop/pkg/progress"
	"github.com/forgeloop/forgeloop/pkg/utils"
)

const indexPage = `<!DOCTYPE html>
<html>
<head><title>forgeloop progress</title></head>
<body>
<h1>Build progress</h1>
<ul id="entries"></ul>
<script>
const ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = (ev) => {
  const entries = JSON.parse(ev.data) || [];
  document.getElementById("entries").innerHTML = entries.map(e =>
    "<li>" + (e.success ? "&#9989;" : "&#10060;") + " step " + e.step + ": " + e.label + "</li>"
  ).join("");
};
</script>
</body>
</html>`

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server streams progress log updates for one project root.
type Server struct {
	Root   string
	Logger *utils.Logger
}

// ListenAndServe blocks serving the progress view on addr until the context
// is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, indexPage)
	})
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.Logger.LogProcessStep("Progress view listening on http://" + addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handleWS pushes the full entry list on connect and again whenever it
// grows. Polling the persisted log keeps the server decoupled from the
// orchestrator process.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.LogError(fmt.Errorf("websocket upgrade failed: %w", err))
		return
	}
	defer conn.Close()

	lastCount := -1
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		log, err := progress.Load(s.Root)
		if err == nil {
			entries := log.Entries()
			if len(entries) != lastCount {
				lastCount = len(entries)
				payload, err := json.Marshal(entries)
				if err == nil {
					if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				}
			}
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
