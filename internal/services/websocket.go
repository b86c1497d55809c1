package services

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sterilization-gateway/internal/cache"
	"sterilization-gateway/internal/logging"
	"sterilization-gateway/internal/models"
)

const maxConnsPerUser = 10

var ErrTooManyConnections = errors.New("too many websocket connections for user")

// Conn is the part of *websocket.Conn the manager writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// InvalidateMessage tells a browser which query groups to refetch.
type InvalidateMessage struct {
	Type   string        `json:"type"` // "invalidate"
	Groups []cache.Group `json:"groups"`
}

// AlertsMessage carries the full per-cycle severity map.
type AlertsMessage struct {
	Type string                     `json:"type"` // "alerts"
	Map  map[string]models.Severity `json:"map"`
}

// WebSocketManager manages WebSocket connections for users
type WebSocketManager struct {
	connections map[string]map[Conn]bool // user key -> set of connections
	mutex       sync.Mutex
	logger      *logging.Logger
}

func NewWebSocketManager(logger *logging.Logger) *WebSocketManager {
	return &WebSocketManager{
		connections: make(map[string]map[Conn]bool),
		logger:      logger,
	}
}

// AddConnection registers conn for user. It refuses the eleventh connection.
func (m *WebSocketManager) AddConnection(user string, conn Conn) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, exists := m.connections[user]; !exists {
		m.connections[user] = make(map[Conn]bool)
	}
	if len(m.connections[user]) >= maxConnsPerUser {
		m.logger.Warnf("Max connections reached for user %s", user)
		return ErrTooManyConnections
	}
	m.connections[user][conn] = true
	m.logger.Infof("Added WebSocket connection for user %s (total: %d)", user, len(m.connections[user]))
	return nil
}

// RemoveConnection removes a WebSocket connection
func (m *WebSocketManager) RemoveConnection(user string, conn Conn) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if conns, exists := m.connections[user]; exists {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.connections, user)
		}
		m.logger.Infof("Removed WebSocket connection for user %s (remaining: %d)", user, len(conns))
	}
}

// Count returns the number of open connections across users.
func (m *WebSocketManager) Count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	n := 0
	for _, conns := range m.connections {
		n += len(conns)
	}
	return n
}

// SendToUser sends a message to all WebSocket connections of a user
func (m *WebSocketManager) SendToUser(user string, message []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sendLocked(user, message)
}

// SendTo writes message to one registered connection, e.g. the initial state
// after a browser connects. Writes go through the manager so they never race
// with a broadcast.
func (m *WebSocketManager) SendTo(user string, conn Conn, message []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	conns, exists := m.connections[user]
	if !exists || !conns[conn] {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
		m.logger.Errorf("Failed to send WebSocket message to user %s: %v", user, err)
		delete(conns, conn)
		_ = conn.Close()
		if len(conns) == 0 {
			delete(m.connections, user)
		}
	}
}

// Broadcast sends message to every connection.
func (m *WebSocketManager) Broadcast(message []byte) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for user := range m.connections {
		m.sendLocked(user, message)
	}
}

func (m *WebSocketManager) BroadcastInvalidate(groups []cache.Group) {
	m.broadcastJSON(InvalidateMessage{Type: "invalidate", Groups: groups})
}

func (m *WebSocketManager) BroadcastAlerts(severities map[string]models.Severity) {
	m.broadcastJSON(AlertsMessage{Type: "alerts", Map: severities})
}

// AlertsPayload encodes the alerts message for a single connection.
func AlertsPayload(severities map[string]models.Severity) ([]byte, error) {
	return json.Marshal(AlertsMessage{Type: "alerts", Map: severities})
}

func (m *WebSocketManager) broadcastJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		m.logger.Errorf("Encode websocket message failed: %v", err)
		return
	}
	m.Broadcast(payload)
}

// sendLocked writes to each of user's connections and drops the ones that fail.
func (m *WebSocketManager) sendLocked(user string, message []byte) {
	conns, exists := m.connections[user]
	if !exists {
		return
	}
	for conn := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			m.logger.Errorf("Failed to send WebSocket message to user %s: %v", user, err)
			delete(conns, conn)
			_ = conn.Close()
		}
	}
	if len(conns) == 0 {
		delete(m.connections, user)
	}
}

// CloseAll closes every connection; used on shutdown.
func (m *WebSocketManager) CloseAll() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for user, conns := range m.connections {
		for conn := range conns {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
		}
		delete(m.connections, user)
	}
}
