package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/agentarena/api/internal/model"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
)

// Topic identifies what a client follows.
type Topic string

// JobTopic is the topic for one experiment.
func JobTopic(jobID string) Topic { return Topic("job:" + jobID) }

// BatchTopic is the topic for one batch. It also carries progress for every
// experiment in the batch.
func BatchTopic(batchID string) Topic { return Topic("batch:" + batchID) }

// Client represents a WebSocket client
type Client struct {
	Topic Topic
	Conn  *websocket.Conn
	Send  chan []byte
}

// NewClient creates a client with a buffered send queue.
func NewClient(topic Topic, conn *websocket.Conn) *Client {
	return &Client{Topic: topic, Conn: conn, Send: make(chan []byte, sendBuffer)}
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by topic
	clients map[Topic]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	// Closed once Run has returned
	done chan struct{}

	logger *slog.Logger
	mu     sync.RWMutex
}

// BroadcastMessage is a payload for every subscriber of the listed topics.
type BroadcastMessage struct {
	Topics  []Topic
	Message []byte
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[Topic]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, sendBuffer),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop. It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.Topic] == nil {
				h.clients[client.Topic] = make(map[*Client]bool)
			}
			h.clients[client.Topic][client] = true
			h.mu.Unlock()
			h.logger.Debug("websocket client registered", "topic", client.Topic)

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()
			h.logger.Debug("websocket client unregistered", "topic", client.Topic)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for _, topic := range msg.Topics {
				for client := range h.clients[topic] {
					select {
					case client.Send <- msg.Message:
					default:
						// Slow consumer
						h.drop(client)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a client. Callers hold mu.
func (h *Hub) drop(client *Client) {
	clients, ok := h.clients[client.Topic]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.Topic)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.clients {
		for client := range clients {
			h.drop(client)
		}
	}
}

// Subscribers returns how many clients follow topic.
func (h *Hub) Subscribers(topic Topic) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Register adds a new client. After the hub has stopped the client's send
// queue is closed straight away.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// publish queues a message without blocking the caller; the queue calls in
// from job goroutines and must never wait on slow sockets.
func (h *Hub) publish(msg interface{}, topics ...Topic) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal websocket message", "error", err)
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{Topics: topics, Message: data}:
	default:
		h.logger.Warn("websocket broadcast buffer full, dropping message", "topics", topics)
	}
}

func topicsFor(jobID, batchID string) []Topic {
	topics := []Topic{JobTopic(jobID)}
	if batchID != "" {
		topics = append(topics, BatchTopic(batchID))
	}
	return topics
}

// NotifyProgress sends a progress update to job and batch subscribers
func (h *Hub) NotifyProgress(jobID, batchID string, progress int, status model.JobStatus) {
	h.publish(model.WSProgressMessage{
		Type:     model.WSMessageTypeProgress,
		JobID:    jobID,
		BatchID:  batchID,
		Progress: progress,
		Status:   status,
	}, topicsFor(jobID, batchID)...)
}

// NotifyComplete sends a completion message to job and batch subscribers
func (h *Hub) NotifyComplete(jobID, batchID string, resultFiles []string) {
	h.publish(model.WSCompleteMessage{
		Type:        model.WSMessageTypeComplete,
		JobID:       jobID,
		BatchID:     batchID,
		ResultFiles: resultFiles,
	}, topicsFor(jobID, batchID)...)
}

// NotifyError sends a failure message to job and batch subscribers
func (h *Hub) NotifyError(jobID, batchID, message string) {
	h.publish(model.WSErrorMessage{
		Type:    model.WSMessageTypeError,
		JobID:   jobID,
		BatchID: batchID,
		Error: model.WSError{
			Code:    "EXPERIMENT_FAILED",
			Message: message,
		},
	}, topicsFor(jobID, batchID)...)
}

// NotifyBatchComplete tells batch subscribers every experiment has finished
func (h *Hub) NotifyBatchComplete(batchID string, status model.BatchStatus) {
	h.publish(model.WSBatchCompleteMessage{
		Type:    model.WSMessageTypeBatchComplete,
		BatchID: batchID,
		Status:  status,
	}, BatchTopic(batchID))
}

// HandleConnection serves one socket until the peer goes away.
func (h *Hub) HandleConnection(c *websocket.Conn, topic Topic) {
	client := NewClient(topic, c)

	h.Register(client)
	defer h.Unregister(client)

	// Writer
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	// Reader
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "topic", topic, "error", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.publishTo(client, data)
		}
	}
}

// publishTo replies to one client through the hub so the send cannot race
// with the hub closing the channel.
func (h *Hub) publishTo(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client.Topic][client] {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}
