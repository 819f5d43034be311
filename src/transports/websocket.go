package transports

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/square-key-labs/omni-ai/src/frames"
	"github.com/square-key-labs/omni-ai/src/logger"
	"github.com/square-key-labs/omni-ai/src/serializers"
)

// ErrClosed is returned by WriteFrame after the connection was closed.
var ErrClosed = errors.New("websocket connection closed")

// WebSocketConfig holds configuration for a gateway connection
type WebSocketConfig struct {
	Serializer   serializers.FrameSerializer // Protocol serializer (Retell)
	WriteTimeout time.Duration               // Per-message write deadline, 0 disables
}

// WebSocketConn is one duplex connection to a call gateway. Reads must come
// from a single goroutine; writes may come from any goroutine.
type WebSocketConn struct {
	id           string
	conn         *websocket.Conn
	serializer   serializers.FrameSerializer
	writeTimeout time.Duration

	writeMu   sync.Mutex // Protect concurrent writes to WebSocket
	closed    bool
	closeOnce sync.Once

	log *logger.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Gateways connect from arbitrary origins
	},
}

// Upgrade switches an HTTP request to a WebSocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, config WebSocketConfig) (*WebSocketConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return NewWebSocketConn(conn, config), nil
}

// NewWebSocketConn wraps an established connection.
func NewWebSocketConn(conn *websocket.Conn, config WebSocketConfig) *WebSocketConn {
	if config.Serializer == nil {
		panic("WebSocketConn requires a serializer")
	}
	id := "ws-" + uuid.NewString()[:8]
	return &WebSocketConn{
		id:           id,
		conn:         conn,
		serializer:   config.Serializer,
		writeTimeout: config.WriteTimeout,
		log:          logger.WithPrefix("WebSocket").With("conn", id),
	}
}

func (c *WebSocketConn) ID() string {
	return c.id
}

// ReadFrame blocks for the next inbound frame. Payloads the serializer cannot
// handle are returned as errors wrapping serializers.ErrMalformedFrame or
// serializers.ErrUnsupportedFrame; the connection stays usable. Any other
// error means the connection is gone.
func (c *WebSocketConn) ReadFrame() (frames.Frame, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.log.Warn("Read error: %v", err)
			}
			return nil, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return c.serializer.Deserialize(data)
	}
}

// WriteFrame serializes and sends frame.
func (c *WebSocketConn) WriteFrame(frame frames.Frame) error {
	data, err := c.serializer.Serialize(frame)
	if err != nil {
		return err
	}

	msgType := websocket.TextMessage
	if c.serializer.Type() == serializers.SerializerTypeBinary {
		msgType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(msgType, data); err != nil {
		return fmt.Errorf("write %s: %w", frame.Name(), err)
	}
	return nil
}

// Close sends a close message and releases the connection. Safe to call more
// than once.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.closed = true
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
		c.writeMu.Unlock()
		c.log.Debug("Connection closed")
	})
	return err
}
