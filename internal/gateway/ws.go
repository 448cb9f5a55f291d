package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bazaar.dev/realtime/internal/config"
	"bazaar.dev/realtime/internal/pkg/logger"
	"bazaar.dev/realtime/internal/pkg/worker"
)

// disconnectTimeout bounds presence cleanup after the peer is gone.
const disconnectTimeout = 5 * time.Second

// TaskRunner starts a long-lived task bound to the service lifecycle.
// *worker.Pools satisfies it.
type TaskRunner interface {
	SubmitDetached(poolName string, task worker.Task) error
}

// WSServer serves the gateway over websockets.
type WSServer struct {
	gw       *Gateway
	runner   TaskRunner
	cfg      config.GatewayConfig
	upgrader websocket.Upgrader
}

// NewWSServer creates a WSServer.
func NewWSServer(gw *Gateway, runner TaskRunner, cfg config.GatewayConfig) *WSServer {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = cfg.PingInterval * 12 / 5
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 << 10
	}
	s := &WSServer{gw: gw, runner: runner, cfg: cfg}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin allows any origin when none are configured. Non-browser clients
// send no Origin header and are always allowed.
func (s *WSServer) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin)
}

// tokenFromRequest reads the token from the query string, then from an
// Authorization bearer header.
func tokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := tokenFromRequest(r)

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConn(uuid.NewString(), ws, s.cfg)
	if err := s.runner.SubmitDetached(worker.PoolRealtime, conn.writePump); err != nil {
		logger.Warn("Write pump rejected, closing connection", zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server busy"),
			time.Now().Add(s.cfg.WriteWait))
		_ = ws.Close()
		return
	}

	ctx := r.Context()
	ws.SetReadLimit(s.cfg.MaxMessageBytes)

	if token == "" {
		token = s.awaitAuthFrame(ws)
	}
	sess, err := s.gw.Authenticate(ctx, conn, token)
	if err != nil {
		conn.Close()
		return
	}

	s.readLoop(ctx, ws, conn, sess)

	conn.Close()
	cleanupCtx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	s.gw.Disconnect(cleanupCtx, sess)
}

// awaitAuthFrame reads the first frame, expecting {"event":"auth","data":{"token":...}}.
// It returns "" on timeout or any other frame.
func (s *WSServer) awaitAuthFrame(ws *websocket.Conn) string {
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return ""
	}
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil || in.Event != EventAuth {
		return ""
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(in.Data, &payload); err != nil {
		return ""
	}
	return payload.Token
}

func (s *WSServer) readLoop(ctx context.Context, ws *websocket.Conn, conn *wsConn, sess *Session) {
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("Websocket read failed", zap.String("socket_id", conn.ID()), zap.Error(err))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			send(conn, EventAck, Ack{Error: "malformed frame"})
			continue
		}
		ack := s.gw.Dispatch(ctx, sess, in)
		if in.Ack != "" || !ack.OK {
			send(conn, EventAck, ack)
		}
	}
}

// wsConn is one websocket. Frames are queued on send and written by a single
// write pump; a full buffer drops frames instead of blocking the sender.
type wsConn struct {
	id        string
	ws        *websocket.Conn
	cfg       config.GatewayConfig
	send      chan []byte
	closing   chan struct{}
	closeOnce sync.Once
}

func newWSConn(id string, ws *websocket.Conn, cfg config.GatewayConfig) *wsConn {
	return &wsConn{
		id:      id,
		ws:      ws,
		cfg:     cfg,
		send:    make(chan []byte, max(cfg.SendBuffer, 1)),
		closing: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send implements realtime.Socket.
func (c *wsConn) Send(frame []byte) bool {
	select {
	case <-c.closing:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close asks the write pump to flush queued frames and close the socket.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() { close(c.closing) })
}

func (c *wsConn) write(mt int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	return c.ws.WriteMessage(mt, data)
}

func (c *wsConn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.closing:
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ctx.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		}
	}
}

// flush writes whatever is still queued.
func (c *wsConn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
