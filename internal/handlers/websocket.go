package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mossy-p/watchparty-signaling/config"
	"github.com/mossy-p/watchparty-signaling/internal/logger"
	"github.com/mossy-p/watchparty-signaling/internal/metrics"
	"github.com/mossy-p/watchparty-signaling/internal/models"
	"github.com/mossy-p/watchparty-signaling/internal/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size; SDP blobs with many candidates stay well below it.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

var log = logger.NewNamed("handlers")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

// Client is a single websocket connection. It implements relay.Conn.
type Client struct {
	id        string
	conn      *websocket.Conn
	send      chan *models.Envelope
	closeOnce sync.Once

	hub     *relay.Hub
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

func (c *Client) ID() string {
	return c.id
}

// Send is called from the hub goroutine only.
func (c *Client) Send(env *models.Envelope) bool {
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Close ends the write pump, which then closes the socket.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func newLimiter(limits config.LimitConfig) *rate.Limiter {
	if limits.MessagesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := limits.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limits.MessagesPerSecond), burst)
}

// HandleSignaling upgrades the request to a websocket and attaches the
// connection to the hub.
func HandleSignaling(hub *relay.Hub, m *metrics.Metrics, limits config.LimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("failed to upgrade connection", zap.Error(err))
			return
		}

		client := &Client{
			id:      uuid.NewString(),
			conn:    conn,
			send:    make(chan *models.Envelope, sendBufferSize),
			hub:     hub,
			limiter: newLimiter(limits),
			metrics: m,
		}

		if err := hub.Register(client); err != nil {
			log.Warn("rejecting connection", zap.Error(err))
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}

		log.Debug("peer connected",
			zap.String("connId", client.id),
			zap.String("remote", conn.RemoteAddr().String()))

		go client.writePump()
		go client.readPump()
	}
}

// readPump pumps frames from the websocket to the hub. It is the only reader
// of the connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Info("websocket error", zap.String("connId", c.id), zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			c.metrics.Dropped.WithLabelValues(metrics.ReasonRateLimited).Inc()
			log.Warn("rate limit exceeded, dropping frame", zap.String("connId", c.id))
			continue
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.metrics.Dropped.WithLabelValues(metrics.ReasonMalformed).Inc()
			log.Warn("failed to parse frame", zap.String("connId", c.id), zap.Error(err))
			continue
		}

		sig, err := models.DecodeSignal(c.id, &env)
		if err != nil {
			c.metrics.Dropped.WithLabelValues(metrics.ReasonMalformed).Inc()
			log.Warn("invalid signal", zap.String("connId", c.id), zap.Error(err))
			continue
		}

		if err := c.hub.Dispatch(sig); err != nil {
			if errors.Is(err, relay.ErrHubStopped) {
				return
			}
			log.Error("dispatch failed", zap.String("connId", c.id), zap.Error(err))
		}
	}
}

// writePump pumps envelopes from the send channel to the websocket. It is
// the only writer of the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, env.Frame()); err != nil {
				log.Info("failed to write message", zap.String("connId", c.id), zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
