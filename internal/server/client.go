package server

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/lounge/internal/chat"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client is one authenticated WebSocket connection bound to a session.
type Client struct {
	conn    *websocket.Conn
	srv     *Server
	sess    *chat.Session
	addr    string
	limiter *rateLimiter
	log     *zap.Logger
}

func newClient(conn *websocket.Conn, srv *Server, sess *chat.Session, addr string) *Client {
	return &Client{
		conn:    conn,
		srv:     srv,
		sess:    sess,
		addr:    addr,
		limiter: newRateLimiter(srv.opts.RateLimit),
		log:     srv.log.With(zap.String("remote", addr), zap.String("user", sess.Username())),
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the read failure at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", zap.Int64("max", c.srv.opts.MaxFrameSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Info("unexpected websocket close", zap.Error(err))
	default:
		c.log.Info("websocket read error", zap.Error(err))
	}
}

// processFrame decodes one client frame and acts on it.
func (c *Client) processFrame(raw []byte) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.log.Debug("invalid frame", zap.Error(err))
		c.srv.hub.Notify(c.sess, "invalid frame; expected JSON")
		return
	}
	switch f.Type {
	case frameLine:
		c.srv.handleLine(c.sess, c.limiter, f.Body)
	case frameReload:
		_ = c.srv.proc.Reload(c.sess)
	default:
		c.srv.hub.Notify(c.sess, "unknown frame type "+f.Type)
	}
}

func (c *Client) readPump(idle *idleTimer) {
	defer func() {
		c.srv.proc.Exit(c.sess)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		idle.reset()
		c.processFrame(raw)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case m, ok := <-c.sess.Outbound():
		return c.handleMessage(m, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("closing connection in writePump", zap.Error(err))
	}
}

// handleMessage writes one outgoing message and returns false if the connection should be closed
func (c *Client) handleMessage(m chat.Message, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if !ok {
		return c.writeCloseMessage()
	}
	if err := c.conn.WriteJSON(frameFromMessage(m)); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Debug("writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("writing close message", zap.Error(err))
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("writing ping", zap.Error(err))
		return false
	}
	return true
}
