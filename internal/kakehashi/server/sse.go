package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bdobrica/Kakehashi/internal/kakehashi/tools"
)

// DefaultHeartbeat is the interval between keepalive comments on /sse.
const DefaultHeartbeat = 30 * time.Second

// DefaultMaxSSEConnections caps concurrent /sse streams.
const DefaultMaxSSEConnections = 1000

// catalogEvent is the first event sent on every stream.
type catalogEvent struct {
	Type  string             `json:"type"`
	Tools []tools.Descriptor `json:"tools"`
}

// hub tracks open SSE streams so they can be counted, capped and closed on
// shutdown.
type hub struct {
	mu     sync.Mutex
	max    int
	open   int
	closed bool
	done   chan struct{}
}

func newHub(max int) *hub {
	if max <= 0 {
		max = DefaultMaxSSEConnections
	}
	return &hub{max: max, done: make(chan struct{})}
}

// acquire reserves a stream slot. It fails when the hub is full or closed.
func (h *hub) acquire() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.open >= h.max {
		return false
	}
	h.open++
	return true
}

func (h *hub) release() {
	h.mu.Lock()
	h.open--
	h.mu.Unlock()
}

// Len reports the number of open streams.
func (h *hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open
}

// close ends every open stream and refuses new ones.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		close(h.done)
	}
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !s.hub.acquire() {
		writeError(w, http.StatusServiceUnavailable, "too many SSE connections")
		return
	}
	defer s.hub.release()

	log := s.requestLogger(r)
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.Warn("sse: clear write deadline", "err", err)
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Headers", "Cache-Control")
	w.WriteHeader(http.StatusOK)

	payload, err := json.Marshal(catalogEvent{Type: "tools", Tools: s.dispatcher.Registry().Catalog()})
	if err != nil {
		log.Error("sse: encode catalog", "err", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		log.Debug("sse: flush failed", "err", err)
		return
	}
	log.Debug("sse: stream opened", "open", s.hub.Len())

	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Debug("sse: client went away")
			return
		case <-s.hub.done:
			return
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				log.Debug("sse: heartbeat write failed", "err", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
