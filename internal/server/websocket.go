// Package server implements the HTTP API and the editor websocket endpoint.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/protocol"
	"github.com/zot/qrcanvas/internal/session"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// connection is one websocket client. gorilla allows a single writer at a time.
type connection struct {
	conn      *websocket.Conn
	sessionID string
	writeMu   sync.Mutex
}

func (c *connection) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WebSocketEndpoint handles editor websocket connections.
type WebSocketEndpoint struct {
	config      *config.Config
	connections map[string]*connection // connectionID -> connection
	sessionSvc  map[string]*ChanSvc    // sessionID -> executor (serializes editor messages)
	sessions    *session.Manager
	handler     *protocol.Handler
	mu          sync.RWMutex
}

// NewWebSocketEndpoint creates a new WebSocket endpoint.
func NewWebSocketEndpoint(cfg *config.Config, sessions *session.Manager) *WebSocketEndpoint {
	return &WebSocketEndpoint{
		config:      cfg,
		connections: make(map[string]*connection),
		sessionSvc:  make(map[string]*ChanSvc),
		sessions:    sessions,
	}
}

// SetHandler sets the protocol handler. It must be called before serving.
func (ws *WebSocketEndpoint) SetHandler(handler *protocol.Handler) {
	ws.handler = handler
}

// Log logs a message via the config.
func (ws *WebSocketEndpoint) Log(level int, format string, args ...interface{}) {
	ws.config.Log(level, format, args...)
}

// getOrCreateSvc returns the executor for a session, creating if needed.
func (ws *WebSocketEndpoint) getOrCreateSvc(sessionID string) *ChanSvc {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if svc, ok := ws.sessionSvc[sessionID]; ok {
		return svc
	}

	svc := NewSvc()
	ws.sessionSvc[sessionID] = svc
	RunSvc(svc)
	return svc
}

// SessionClosed stops a session's executor and disconnects its clients.
func (ws *WebSocketEndpoint) SessionClosed(sessionID string) {
	ws.mu.Lock()
	if svc, ok := ws.sessionSvc[sessionID]; ok {
		svc.Stop()
		delete(ws.sessionSvc, sessionID)
	}
	var conns []*connection
	for _, c := range ws.connections {
		if c.sessionID == sessionID {
			conns = append(conns, c)
		}
	}
	ws.mu.Unlock()

	for _, c := range conns {
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "editor closed"),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		c.conn.Close()
	}
}

// ExecuteInSession runs fn within a session's executor, serialized with
// websocket message processing for that editor.
func (ws *WebSocketEndpoint) ExecuteInSession(sessionID string, fn func() (interface{}, error)) (interface{}, error) {
	return SvcSync(ws.getOrCreateSvc(sessionID), fn)
}

// HandleWebSocket upgrades the request and attaches the connection to sess.
func (ws *WebSocketEndpoint) HandleWebSocket(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.Log(0, "WebSocket upgrade failed: %v", err)
		return
	}

	connectionID := generateConnectionID()
	c := &connection{conn: conn, sessionID: sess.ID}

	ws.mu.Lock()
	ws.connections[connectionID] = c
	ws.mu.Unlock()

	ws.Log(1, "WebSocket connected: session=%s artifact=%s conn=%s", sess.ID, sess.ArtifactID(), connectionID)
	sess.AddConnection(connectionID)

	// the new client starts from the current scene
	if msg, err := protocol.NewMessage(protocol.MsgScene, protocol.State(sess)); err == nil {
		ws.Send(connectionID, msg)
	}

	go ws.readPump(connectionID, c)
}

// readPump reads messages from a WebSocket connection.
func (ws *WebSocketEndpoint) readPump(connectionID string, c *connection) {
	defer func() {
		ws.onDisconnect(connectionID)
		c.conn.Close()
	}()

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				ws.Log(0, "WebSocket error: %v", err)
			}
			break
		}

		sess, ok := ws.sessions.GetSession(c.sessionID)
		if !ok {
			break
		}

		// one message at a time per editor, in arrival order
		_, err = ws.ExecuteInSession(c.sessionID, func() (interface{}, error) {
			ws.processMessage(sess.Context(), connectionID, sess, message)
			return nil, nil
		})
		if err != nil {
			break
		}
	}
}

// processMessage handles a single message, an array or a gesture batch.
func (ws *WebSocketEndpoint) processMessage(ctx context.Context, connectionID string, sess *session.Session, message []byte) {
	// Recover from panics to prevent server crashes
	defer func() {
		if r := recover(); r != nil {
			ws.Log(0, "PANIC in processMessage: %v", r)
			ws.sendResponse(connectionID, &protocol.Response{
				Error: fmt.Sprintf("internal error: %v", r),
				Code:  protocol.CodeInternal,
			})
		}
	}()

	msgs, gesture, err := protocol.ParseMessages(message)
	if err != nil {
		ws.Log(0, "Failed to parse message: %v", err)
		ws.sendResponse(connectionID, protocol.ErrorResponse(err))
		return
	}

	resps, err := ws.handler.HandleBatch(ctx, connectionID, sess, msgs, gesture)
	if err != nil {
		ws.Log(0, "Failed to handle message: %v", err)
	}
	for _, resp := range resps {
		ws.sendResponse(connectionID, resp)
	}
}

// sendResponse sends a response to a connection.
func (ws *WebSocketEndpoint) sendResponse(connectionID string, resp *protocol.Response) error {
	ws.mu.RLock()
	c, ok := ws.connections[connectionID]
	ws.mu.RUnlock()
	if !ok {
		return nil
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if ws.config.Verbosity() >= 4 {
		ws.Log(4, "[OUT] RESPONSE: to=%s data=%s", connectionID, data)
	} else {
		ws.Log(2, "[OUT] RESPONSE: to=%s", connectionID)
	}
	return c.write(data)
}

// onDisconnect handles connection close.
func (ws *WebSocketEndpoint) onDisconnect(connectionID string) {
	ws.mu.Lock()
	c, ok := ws.connections[connectionID]
	delete(ws.connections, connectionID)
	ws.mu.Unlock()
	if !ok {
		return
	}

	ws.Log(1, "WebSocket disconnected: session=%s conn=%s", c.sessionID, connectionID)
	if sess, ok := ws.sessions.GetSession(c.sessionID); ok {
		sess.RemoveConnection(connectionID)
	}
}

// Send sends a message to a specific connection.
func (ws *WebSocketEndpoint) Send(connectionID string, msg *protocol.Message) error {
	ws.mu.RLock()
	c, ok := ws.connections[connectionID]
	ws.mu.RUnlock()
	if !ok {
		return nil
	}

	ws.logOut(msg, connectionID)
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	return c.write(data)
}

// Broadcast sends a message to every connection on a session except one.
func (ws *WebSocketEndpoint) Broadcast(sessionID, exceptConnectionID string, msg *protocol.Message) error {
	ws.mu.RLock()
	var conns []*connection
	for id, c := range ws.connections {
		if c.sessionID == sessionID && id != exceptConnectionID {
			conns = append(conns, c)
		}
	}
	ws.mu.RUnlock()
	if len(conns) == 0 {
		return nil
	}

	ws.logOut(msg, "session:"+sessionID)
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	for _, c := range conns {
		c.write(data)
	}
	return nil
}

func (ws *WebSocketEndpoint) logOut(msg *protocol.Message, to string) {
	msgType := strings.ToUpper(string(msg.Type))
	if ws.config.Verbosity() >= 4 {
		ws.Log(4, "[OUT] %s: to=%s data=%s", msgType, to, string(msg.Data))
	} else {
		ws.Log(2, "[OUT] %s: to=%s", msgType, to)
	}
}

// ConnectionCount returns the number of open connections.
func (ws *WebSocketEndpoint) ConnectionCount() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.connections)
}

// CloseAll disconnects every client.
func (ws *WebSocketEndpoint) CloseAll() {
	ws.mu.RLock()
	var conns []*connection
	for _, c := range ws.connections {
		conns = append(conns, c)
	}
	ws.mu.RUnlock()
	for _, c := range conns {
		c.conn.Close()
	}
}

func generateConnectionID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return "conn-" + hex.EncodeToString(bytes)
}
