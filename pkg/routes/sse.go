package routes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// NodeNotifier provides a way to notify SSE subscribers about node changes
type NodeNotifier struct {
	subscribers map[chan struct{}]struct{}
	mu          sync.RWMutex
}

// NewNodeNotifier creates a new NodeNotifier
func NewNodeNotifier() *NodeNotifier {
	return &NodeNotifier{
		subscribers: make(map[chan struct{}]struct{}),
	}
}

// Subscribe adds a new subscriber that will be notified on node changes
func (nn *NodeNotifier) Subscribe() chan struct{} {
	nn.mu.Lock()
	defer nn.mu.Unlock()
	ch := make(chan struct{}, 1)
	nn.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber
func (nn *NodeNotifier) Unsubscribe(ch chan struct{}) {
	nn.mu.Lock()
	defer nn.mu.Unlock()
	delete(nn.subscribers, ch)
	close(ch)
}

// Notify triggers all subscribers about a change
func (nn *NodeNotifier) Notify() {
	nn.mu.RLock()
	defer nn.mu.RUnlock()
	for ch := range nn.subscribers {
		select {
		case ch <- struct{}{}:
		default:
			// Channel already has a pending notification, skip
		}
	}
}

// SSE endpoint for node updates
func (wr *WebRouter) nodesSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if wr.Notifier == nil {
		slog.Warn("SSE endpoint called but Notifier is nil")
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	notifyCh := wr.Notifier.Subscribe()
	defer wr.Notifier.Unsubscribe(notifyCh)

	ctx := r.Context()

	ticker := time.NewTicker(30 * time.Second) // Heartbeat to keep connection alive
	defer ticker.Stop()

	tail := time.Duration(wr.cfg.LastHeardDefault) * time.Second

	sendNodesUpdate := func() error {
		rows := dataRows(wr.snap.NodesWithUser(), tail, "", time.Now())
		body, err := json.Marshal(rows)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: nodes-update\ndata: %s\n\n", body); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// Send initial data
	if err := sendNodesUpdate(); err != nil {
		slog.Error("error sending initial SSE data", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-notifyCh:
			if err := sendNodesUpdate(); err != nil {
				slog.Error("error sending SSE update", "error", err)
				return
			}
		case <-ticker.C:
			// Send heartbeat comment to keep connection alive
			if _, err := fmt.Fprintf(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
