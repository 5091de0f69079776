package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/lightsout/go/internal/leaderboard"
	"github.com/mcdev12/lightsout/go/internal/session"
	"github.com/rs/zerolog/log"
)

// StageSource provides the snapshot sent to a display when it connects
type StageSource interface {
	Stage(ctx context.Context) session.Stage
}

// MetricsCollector records display connection activity
type MetricsCollector interface {
	SetConnections(n int)
	RecordBroadcastDropped()
}

type noopMetrics struct{}

func (noopMetrics) SetConnections(int) {}
func (noopMetrics) RecordBroadcastDropped() {}

// ConnectionManager pushes stage snapshots and committed records to every
// connected display
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	source   StageSource
	metrics  MetricsCollector

	broadcastCh chan []byte
}

// Connection represents a WebSocket connection to a display
type Connection struct {
	ID      string
	Remote  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// displays are served from the kiosk itself or a LAN host
			return true
		},
	}
}

var _ session.Observer = (*ConnectionManager)(nil)

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, source StageSource) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		source:      source,
		metrics:     noopMetrics{},
		broadcastCh: make(chan []byte, 256),
	}
}

// WithMetrics attaches a metrics collector
func (cm *ConnectionManager) WithMetrics(m MetricsCollector) *ConnectionManager {
	if m != nil {
		cm.metrics = m
	}
	return cm
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			cm.closeAll()
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// StageChanged implements session.Observer
func (cm *ConnectionManager) StageChanged(stage session.Stage) {
	cm.enqueue(MessageTypeStage, stage)
}

// RecordCommitted implements session.Observer
func (cm *ConnectionManager) RecordCommitted(entry leaderboard.Entry, rank int) {
	cm.enqueue(MessageTypeRecord, leaderboard.RankedEntry{Rank: rank, Entry: entry, DisplayMS: entry.TimeMS()})
}

func (cm *ConnectionManager) enqueue(t MessageType, data any) {
	message, err := newStreamMessage(t, data, time.Now())
	if err != nil {
		log.Error().Err(err).Str("message_type", string(t)).Msg("failed to marshal message for broadcast")
		return
	}

	select {
	case cm.broadcastCh <- message:
	default:
		cm.metrics.RecordBroadcastDropped()
		log.Warn().Str("message_type", string(t)).Msg("broadcast channel full, dropping message")
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and sends the
// current stage right away
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Remote:      r.RemoteAddr,
		Conn:        conn,
		Send:        make(chan []byte, 64),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	// registered first so nothing broadcast after this snapshot is missed;
	// clients order by stage version
	if initial, err := newStreamMessage(MessageTypeStage, cm.source.Stage(r.Context()), time.Now()); err == nil {
		connection.Send <- initial
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote", connection.Remote).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	cm.connections[conn] = true
	n := len(cm.connections)
	cm.mu.Unlock()

	cm.metrics.SetConnections(n)
	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", n).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	if _, exists := cm.connections[conn]; !exists {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, conn)
	close(conn.Send)
	n := len(cm.connections)
	cm.mu.Unlock()

	cm.metrics.SetConnections(n)
	log.Info().
		Str("connection_id", conn.ID).
		Str("remote", conn.Remote).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) handleBroadcast(message []byte) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- message:
		default:
			log.Warn().
				Str("connection_id", conn.ID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().Int("connections", len(targets)).Msg("message broadcasted")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		cm.unregisterConnection(conn)
	}
}

// ConnectionStats summarises active display connections
type ConnectionStats struct {
	TotalConnections int `json:"total_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return ConnectionStats{TotalConnections: len(cm.connections)}
}

// Count returns the number of connected displays
func (cm *ConnectionManager) Count() int {
	return cm.GetConnectionStats().TotalConnections
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are processed.
// Displays have nothing to say.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	})

	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
