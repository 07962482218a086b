package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket message types
const (
	EventTypeCheckedIn  = "visitor_checked_in"
	EventTypeCheckedOut = "visitor_checked_out"
	messageTypePing     = "ping"
	messageTypePong     = "pong"
)

// VisitorEvent is a server-pushed notification about visitor activity.
type VisitorEvent struct {
	Type      string    `json:"type"`
	VisitID   string    `json:"visit_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventsClient maintains a persistent WebSocket to the backend's visitor
// event stream so the kiosk can refresh immediately instead of waiting for
// the next poll. The connection is optional: everything works without it,
// just slower.
type EventsClient struct {
	baseURL string
	token   string
	onEvent func(VisitorEvent)

	mu            sync.RWMutex
	conn          *websocket.Conn
	connected     bool
	reconnectChan chan struct{}
	stopChan      chan struct{}
	stopOnce      sync.Once

	// Configuration
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration
	pingInterval      time.Duration
	writeTimeout      time.Duration
	readTimeout       time.Duration
	handshakeTimeout  time.Duration
}

// NewEventsClient creates a client for the visitor event stream. onEvent is
// invoked for every received event; it must not block.
func NewEventsClient(baseURL, token string, onEvent func(VisitorEvent)) *EventsClient {
	return &EventsClient{
		baseURL:           baseURL,
		token:             token,
		onEvent:           onEvent,
		reconnectChan:     make(chan struct{}, 1),
		stopChan:          make(chan struct{}),
		reconnectDelay:    5 * time.Second,
		maxReconnectDelay: 5 * time.Minute,
		pingInterval:      30 * time.Second,
		writeTimeout:      10 * time.Second,
		readTimeout:       60 * time.Second,
		handshakeTimeout:  10 * time.Second,
	}
}

// Start begins the connection and its management goroutine. A failed initial
// connection is not an error; the reconnect loop keeps trying.
func (ec *EventsClient) Start() {
	if err := ec.connect(); err != nil {
		logWarn("Initial event stream connection failed (will retry)", "error", err)
		ec.requestReconnect()
	}
	go ec.connectionManager()
}

// Stop closes the connection and stops reconnecting.
func (ec *EventsClient) Stop() {
	ec.stopOnce.Do(func() { close(ec.stopChan) })

	ec.mu.Lock()
	defer ec.mu.Unlock()

	if ec.conn != nil {
		ec.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = ec.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		ec.conn.Close()
		ec.conn = nil
	}
	ec.connected = false
}

// IsConnected returns whether the event stream is currently up.
func (ec *EventsClient) IsConnected() bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	return ec.connected
}

// connect establishes the WebSocket connection.
func (ec *EventsClient) connect() error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	if ec.conn != nil {
		ec.conn.Close()
		ec.conn = nil
		ec.connected = false
	}

	u, err := url.Parse(ec.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return fmt.Errorf("unsupported URL scheme: %s", u.Scheme)
	}
	u.Path = "/visitors/ws/"
	if ec.token != "" {
		q := u.Query()
		q.Set("token", ec.token)
		u.RawQuery = q.Encode()
	}

	dialer := &websocket.Dialer{HandshakeTimeout: ec.handshakeTimeout}
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("event stream connection failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("event stream connection failed: %w", err)
	}

	ec.conn = conn
	ec.connected = true
	logInfo("Event stream connected", "url", ec.baseURL)

	go ec.readLoop(conn)
	go ec.pingLoop(conn)

	return nil
}

// connectionManager handles reconnection with doubling backoff.
func (ec *EventsClient) connectionManager() {
	currentDelay := ec.reconnectDelay

	for {
		select {
		case <-ec.stopChan:
			return
		case <-ec.reconnectChan:
			logDebug("Event stream reconnecting", "wait", currentDelay.String())

			timer := time.NewTimer(currentDelay)
			select {
			case <-ec.stopChan:
				timer.Stop()
				return
			case <-timer.C:
				if err := ec.connect(); err != nil {
					logWarn("Event stream reconnection failed", "error", err)
					currentDelay *= 2
					if currentDelay > ec.maxReconnectDelay {
						currentDelay = ec.maxReconnectDelay
					}
					ec.requestReconnect()
				} else {
					currentDelay = ec.reconnectDelay
				}
			}
		}
	}
}

// readLoop consumes messages until the connection drops, then triggers a
// reconnect.
func (ec *EventsClient) readLoop(conn *websocket.Conn) {
	defer func() {
		ec.mu.Lock()
		if ec.conn == conn {
			ec.connected = false
		}
		ec.mu.Unlock()
		ec.requestReconnect()
	}()

	for {
		select {
		case <-ec.stopChan:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(ec.readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logWarn("Event stream read error", "error", err)
			}
			return
		}
		ec.handleMessage(message)
	}
}

// pingLoop keeps the connection alive.
func (ec *EventsClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(ec.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ec.stopChan:
			return
		case <-ticker.C:
			ec.mu.RLock()
			current := ec.conn
			ec.mu.RUnlock()
			if current != conn {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(ec.writeTimeout))
			msg, _ := json.Marshal(map[string]interface{}{
				"type":      messageTypePing,
				"timestamp": time.Now(),
			})
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logDebug("Event stream ping failed", "error", err)
				return
			}
		}
	}
}

// handleMessage dispatches a received message to the event callback.
func (ec *EventsClient) handleMessage(message []byte) {
	var event VisitorEvent
	if err := json.Unmarshal(message, &event); err != nil {
		logDebug("Ignoring malformed event message", "error", err)
		return
	}

	switch event.Type {
	case messageTypePong, messageTypePing:
		// keepalive traffic
	case EventTypeCheckedIn, EventTypeCheckedOut:
		if ec.onEvent != nil {
			ec.onEvent(event)
		}
	default:
		logDebug("Unknown event type", "type", event.Type)
	}
}

func (ec *EventsClient) requestReconnect() {
	select {
	case <-ec.stopChan:
	case ec.reconnectChan <- struct{}{}:
	default:
	}
}
