package notify

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// WriteTimeout is the timeout for writing to SSE clients. Prevents a stale
// connection from blocking a broadcast.
const WriteTimeout = 2 * time.Second

// Client represents a connected SSE client.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
}

// Broadcaster manages SSE client connections and pushes status transitions to
// all of them. It implements Notifier.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*Client)}
}

// AddClient registers a new SSE client connection.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:      fmt.Sprintf("client-%d", b.nextID),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[client.ID] = client
	total := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", client.ID).Int("totalClients", total).Msg("SSE client connected")
	return client, nil
}

// RemoveClient drops a client connection. Safe to call more than once.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	_, present := b.clients[client.ID]
	delete(b.clients, client.ID)
	total := len(b.clients)
	b.mu.Unlock()

	if present {
		select {
		case <-client.Done:
		default:
			close(client.Done)
		}
	}

	log.Debug().Str("clientId", client.ID).Int("totalClients", total).Msg("SSE client disconnected")
}

// StatusChanged broadcasts a status transition to every connected client.
func (b *Broadcaster) StatusChanged(change StatusChange) {
	payload, err := json.Marshal(change)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal status change")
		return
	}
	b.broadcast(fmt.Sprintf("event: status\ndata: %s\n\n", payload))
}

// broadcast writes a raw SSE message to all clients concurrently, dropping
// any client whose write fails or times out.
func (b *Broadcaster) broadcast(message string) {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, client := range b.clients {
		clients = append(clients, client)
	}
	b.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, client := range clients {
		select {
		case <-client.Done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if !writeWithTimeout(c, message) {
				log.Debug().Str("clientId", c.ID).Msg("Dropping stale SSE client")
				b.RemoveClient(c)
			}
		}(client)
	}
	wg.Wait()
}

// writeWithTimeout reports whether the write completed within WriteTimeout.
func writeWithTimeout(client *Client, message string) bool {
	done := make(chan bool, 1)

	go func() {
		if _, err := client.Writer.Write([]byte(message)); err != nil {
			done <- false
			return
		}
		client.Flusher.Flush()
		done <- true
	}()

	select {
	case ok := <-done:
		return ok
	case <-time.After(WriteTimeout):
		return false
	case <-client.Done:
		return true
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP handles an SSE subscription request and blocks until the client
// disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	fmt.Fprintf(w, "event: connected\ndata: {\"clientId\":%q}\n\n", client.ID)
	client.Flusher.Flush()

	<-r.Context().Done()
}
