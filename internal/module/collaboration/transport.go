package collaboration

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Transport accepts inbound websocket connections on a fixed path and wires
// their lifecycle to the hub. It is policy-free: all protocol decisions live
// in the hub.
type Transport struct {
	hub        *Hub
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     *zap.Logger
}

// NewTransport creates the websocket transport adapter.
func NewTransport(hub *Hub, sendBuffer int, logger *zap.Logger) *Transport {
	return &Transport{
		hub:        hub,
		sendBuffer: sendBuffer,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Identity is asserted by the client at join time and trusted;
			// the embedding application's auth layer owns origin policy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Register attaches the websocket endpoint to the router at path.
func (t *Transport) Register(r *gin.Engine, path string) {
	r.GET(path, t.handleWebSocket)
}

func (t *Transport) handleWebSocket(c *gin.Context) {
	ws, err := t.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConn(ws, t.sendBuffer)
	conn.Start()
	session := t.hub.NewSession(conn)

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		t.hub.HandleFrame(session, data)
	}

	// Close or error: prune the registry entry and let the hub broadcast
	// user_offline to the project's remaining connections.
	t.hub.Disconnect(session)
	conn.Close()
}
