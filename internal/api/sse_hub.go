package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"simagg/app"
)

// keepAlive is how often an idle stream receives a ping
var keepAlive = 30 * time.Second

// SSEClient is one connected event stream. An empty Experiment receives
// every event.
type SSEClient struct {
	Experiment string
	Channel    chan app.ProgressEvent
}

// SSEHub fans aggregation progress out to Server-Sent Events clients
type SSEHub struct {
	mu      sync.RWMutex
	clients map[chan app.ProgressEvent]string
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	return &SSEHub{clients: make(map[chan app.ProgressEvent]string)}
}

func (h *SSEHub) register(c SSEClient) {
	h.mu.Lock()
	h.clients[c.Channel] = c.Experiment
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[SSE] Client registered (experiment=%q, total clients: %d)", c.Experiment, n)
}

func (h *SSEHub) unregister(c SSEClient) {
	h.mu.Lock()
	delete(h.clients, c.Channel)
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("[SSE] Client unregistered (remaining clients: %d)", n)
}

// Broadcast delivers ev to every interested client without blocking. Events
// without an experiment go to everyone.
func (h *SSEHub) Broadcast(ev app.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch, exp := range h.clients {
		if exp != "" && ev.Experiment != "" && exp != ev.Experiment {
			continue
		}
		select {
		case ch <- ev:
		default:
			log.Printf("[SSE] Client channel full, skipping %s event", ev.Stage)
		}
	}
}

// ClientCount returns the number of connected streams
func (h *SSEHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleSSE streams progress events until the client disconnects
func (h *SSEHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := SSEClient{
		Experiment: r.URL.Query().Get("experiment"),
		Channel:    make(chan app.ProgressEvent, 16),
	}
	h.register(client)
	defer h.unregister(client)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case ev := <-client.Channel:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[SSE] Failed to marshal event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", payload)
			flusher.Flush()
		case now := <-ticker.C:
			fmt.Fprintf(w, "event: ping\ndata: {\"timestamp\":%q}\n\n", now.UTC().Format(time.RFC3339))
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
