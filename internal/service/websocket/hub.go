package websocket

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"evdetect/internal/logger"
	"evdetect/internal/model"
)

const writeWait = 5 * time.Second

// ErrHubStopped is returned for alerts sent after Run returned.
var ErrHubStopped = errors.New("viewer hub stopped")

// FrameMessage carries a live camera frame to viewers.
type FrameMessage struct {
	Type   string `json:"type"`
	Camera string `json:"camera"`
	Image  string `json:"image"`
}

// AlertMessage carries an emergency protocol alert to viewers.
type AlertMessage struct {
	Type  string      `json:"type"`
	Alert model.Alert `json:"alert"`
}

type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	alerts     chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logger.Logger
}

func NewHubService(logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		alerts:     make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves register, unregister and broadcast requests until ctx is done,
// then closes every client.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)

	for {
		// alerts go out ahead of queued frames
		select {
		case message := <-h.alerts:
			h.send(message)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", count)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			count := len(h.clients)
			h.mutex.Unlock()
			h.logger.Info("Viewer disconnected. Total: %d", count)

		case message := <-h.alerts:
			h.send(message)

		case message := <-h.broadcast:
			h.send(message)
		}
	}
}

func (h *HubService) send(message []byte) {
	h.mutex.RLock()
	var failed []*websocket.Conn
	for client := range h.clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Error("Error sending message: %v", err)
			failed = append(failed, client)
		}
	}
	h.mutex.RUnlock()

	if len(failed) == 0 {
		return
	}
	h.mutex.Lock()
	for _, client := range failed {
		delete(h.clients, client)
		client.Close()
	}
	h.mutex.Unlock()
}

// Register adds a viewer; no-op after the hub stopped.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a viewer; no-op after the hub stopped.
func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every viewer. When viewers cannot keep up
// the message is dropped rather than stalling the detection pipeline.
func (h *HubService) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
	}
}

// BroadcastJSON encodes v and broadcasts it.
func (h *HubService) BroadcastJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode viewer message: %w", err)
	}
	h.Broadcast(data)
	return nil
}

// BroadcastFrame sends a raw JPEG frame of a camera to viewers.
func (h *HubService) BroadcastFrame(image []byte, camera string) {
	if h.GetClientCount() == 0 {
		return
	}
	_ = h.BroadcastJSON(FrameMessage{
		Type:   "frame",
		Camera: camera,
		Image:  base64.StdEncoding.EncodeToString(image),
	})
}

// Name and Send let the hub act as an alert sink.
func (h *HubService) Name() string { return "websocket" }

// Send queues an alert on its own channel so it is never dropped behind
// frames. It waits for room until ctx is done.
func (h *HubService) Send(ctx context.Context, a model.Alert) error {
	data, err := json.Marshal(AlertMessage{Type: "alert", Alert: a})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	select {
	case h.alerts <- data:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return fmt.Errorf("alert queue full: %w", ctx.Err())
	}
}

func (h *HubService) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}
