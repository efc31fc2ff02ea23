// README: WebSocket endpoints: topic subscriptions and the driver location stream.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"courier/internal/http/middleware"
	"courier/internal/modules/broadcast"
	"courier/internal/modules/driver"
	"courier/internal/modules/location"
	"courier/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	controlBuffer  = 8
)

var errForbiddenTopic = errors.New("forbidden topic")

type StreamHandler struct {
	hub      *broadcast.Hub
	tracker  *location.Tracker
	registry *driver.Registry
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewStreamHandler(hub *broadcast.Hub, tracker *location.Tracker, registry *driver.Registry, log *slog.Logger) *StreamHandler {
	return &StreamHandler{
		hub:      hub,
		tracker:  tracker,
		registry: registry,
		log:      log.With("component", "ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// controlMsg is sent by subscribers to change their topic set after connecting.
type controlMsg struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type ackFrame struct {
	Type    string `json:"type"`
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Subscribe upgrades to a WebSocket attached to every ?channel= topic. The subscription
// lives exactly as long as the connection.
func (h *StreamHandler) Subscribe(c *gin.Context) {
	callerDriver := h.callerDriverID(c)
	channels := c.QueryArray("channel")
	for _, topic := range channels {
		if err := h.authorize(c, callerDriver, topic); err != nil {
			writeTopicError(c, topic, err)
			return
		}
	}

	// Attach before the handshake completes so nothing published after the 101 is missed.
	sub := h.hub.Subscribe(channels...)
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.Close(sub)
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	sess := h.newSession(conn, sub)
	h.log.Info("subscriber connected", "uid", middleware.CallerUID(c), "channels", channels)

	sess.run(func(data []byte) {
		var msg controlMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.log.Warn("malformed control message", "err", err)
			sess.send(errorFrame{Type: "error", Error: "malformed message"})
			return
		}
		if err := h.authorize(c, callerDriver, msg.Channel); err != nil {
			sess.send(errorFrame{Type: "error", Error: err.Error()})
			return
		}
		switch msg.Action {
		case "subscribe":
			h.hub.Join(sess.sub, msg.Channel)
		case "unsubscribe":
			h.hub.Leave(sess.sub, msg.Channel)
		default:
			sess.send(errorFrame{Type: "error", Error: "unknown action " + msg.Action})
			return
		}
		sess.send(ackFrame{Type: "ack", Action: msg.Action, Channel: msg.Channel})
	})
	h.log.Info("subscriber disconnected", "uid", middleware.CallerUID(c))
}

// DriverStream accepts a continuous stream of pings from the caller's driver profile and
// pushes that driver's assignment notifications back on the same socket.
func (h *StreamHandler) DriverStream(c *gin.Context) {
	me, ok := self(c, h.registry)
	if !ok {
		return
	}
	sub := h.hub.Subscribe(broadcast.AssignmentTopic(me.ID))
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.Close(sub)
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	sess := h.newSession(conn, sub)
	sess.log = sess.log.With("driver_id", me.ID)
	sess.log.Info("driver stream connected")

	sess.run(func(data []byte) {
		var ping location.Ping
		if err := json.Unmarshal(data, &ping); err != nil {
			sess.log.Warn("malformed location message", "err", err)
			sess.send(errorFrame{Type: "error", Error: "malformed message"})
			return
		}
		if _, err := h.tracker.Ingest(c.Request.Context(), me.ID, ping); err != nil {
			sess.log.Warn("location rejected", "err", err)
			sess.send(errorFrame{Type: "error", Error: err.Error()})
		}
	})
	sess.log.Info("driver stream disconnected")
}

func (h *StreamHandler) callerDriverID(c *gin.Context) types.ID {
	d, err := h.registry.GetByUserID(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		return ""
	}
	return d.ID
}

// authorize lets any authenticated caller follow a delivery; assignment topics belong to
// their driver and to admins.
func (h *StreamHandler) authorize(c *gin.Context, callerDriver types.ID, topic string) error {
	kind, id, _, ok := broadcast.ParseTopic(topic)
	if !ok {
		return errors.New("unknown channel " + topic)
	}
	if kind == "driver" && !middleware.IsAdmin(c) && id != callerDriver {
		return errForbiddenTopic
	}
	return nil
}

func writeTopicError(c *gin.Context, topic string, err error) {
	if errors.Is(err, errForbiddenTopic) {
		writeError(c, http.StatusForbidden, "forbidden channel "+topic)
		return
	}
	writeError(c, http.StatusBadRequest, err.Error())
}

type session struct {
	conn *websocket.Conn
	sub  *broadcast.Subscription
	hub  *broadcast.Hub
	out  chan any
	log  *slog.Logger
}

func (h *StreamHandler) newSession(conn *websocket.Conn, sub *broadcast.Subscription) *session {
	return &session{
		conn: conn,
		sub:  sub,
		hub:  h.hub,
		out:  make(chan any, controlBuffer),
		log:  h.log,
	}
}

// run reads until the peer goes away, then unsubscribes and waits for the writer.
func (s *session) run(onMessage func([]byte)) {
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(done)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read ended", "err", err)
			}
			break
		}
		onMessage(data)
	}

	close(done)
	s.hub.Close(s.sub)
	<-writerDone
}

func (s *session) writeLoop(done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case env, ok := <-s.sub.C():
			if !ok {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := s.write(env); err != nil {
				return
			}
		case frame := <-s.out:
			if err := s.write(frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *session) write(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(v); err != nil {
		s.log.Debug("websocket write failed", "err", err)
		return err
	}
	return nil
}

// send queues a frame for the writer without blocking the reader.
func (s *session) send(v any) {
	select {
	case s.out <- v:
	default:
		s.log.Debug("control frame dropped")
	}
}
