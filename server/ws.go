package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/adalundhe/vaultd/core/notify"
)

// WebSocket timing. Pongs must arrive within pongWait of each ping or the
// observer is declared dead.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// =============================================================================
// Observer registry
// =============================================================================

// observerRegistry tracks connected observers and pauses the checker when
// nobody is listening, so an idle daemon stops polling the remote.
type observerRegistry struct {
	checker *notify.Checker
	logger  *slog.Logger

	mu    sync.Mutex
	count int
}

func newObserverRegistry(checker *notify.Checker, logger *slog.Logger) *observerRegistry {
	return &observerRegistry{checker: checker, logger: logger}
}

func (o *observerRegistry) add() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.count++
	if o.count == 1 && o.checker != nil {
		o.logger.Info("first observer connected, resuming checks")
		o.checker.Resume()
	}
}

func (o *observerRegistry) remove() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.count--
	if o.count == 0 && o.checker != nil {
		o.logger.Info("last observer disconnected, pausing checks")
		o.checker.Pause()
	}
}

// =============================================================================
// Handler
// =============================================================================

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the CORS layer in front of this
	// handler; the upgrader accepts what got through it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and forwards hub events to it
// until either side goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "notifications unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	user := UserFrom(r.Context())
	sub := s.hub.Subscribe()
	s.observers.add()
	s.logger.Info("observer connected", "user", user, "subscriber", sub.ID())

	defer func() {
		s.hub.Unsubscribe(sub.ID())
		s.observers.remove()
		conn.Close()
		s.logger.Info("observer disconnected", "user", user, "subscriber", sub.ID())
	}()

	// Reader: discard client frames, keep the pong deadline fresh.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case event, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
