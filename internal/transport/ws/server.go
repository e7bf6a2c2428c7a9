package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/agentrun/internal/config"
	"github.com/xiaot623/agentrun/internal/domain"
)

// RunCanceller is the part of the run service the bridge calls.
type RunCanceller interface {
	CancelRun(ctx context.Context, runID string) (domain.RunStatus, error)
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *Hub
	runs     RunCanceller
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a new WebSocket server. runs may be nil, in which
// case cancel_run is refused.
func NewServer(cfg *config.Config, h *Hub, runs RunCanceller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	c := *cfg
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 65536
	}
	return &Server{
		cfg:  &c,
		hub:  h,
		runs: runs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger.With("component", "ws"),
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
	e.GET("/v1/ws", s.HandleWebSocket)
}

// HandleWebSocket upgrades the request. ?subscriber_id= names the
// subscriber to resume; each ?topic= is subscribed right away.
// GET /ws?subscriber_id=&topic=
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return err
	}

	conn := s.hub.NewConnection(ws, strings.TrimSpace(c.QueryParam("subscriber_id")))
	s.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	_ = s.hub.SendJSONToConnection(conn, BaseMessage{
		Type:         TypeHelloAck,
		Ts:           time.Now().UnixMilli(),
		SubscriberID: conn.SubscriberID,
	})
	for _, topic := range c.QueryParams()["topic"] {
		s.subscribe(conn, SubscribeMessage{Topic: topic})
	}

	go s.writePump(conn)
	go s.readPump(conn)
	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket error", "connection_id", conn.ID, "error", err)
			}
			return
		}
		s.handleMessage(conn, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("failed to write message", "connection_id", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-conn.Done():
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// handleMessage dispatches incoming control messages.
func (s *Server) handleMessage(conn *Connection, data []byte) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, base, ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case TypeHello:
		_ = s.hub.SendJSONToConnection(conn, BaseMessage{
			Type:         TypeHelloAck,
			Ts:           time.Now().UnixMilli(),
			RequestID:    base.RequestID,
			SubscriberID: conn.SubscriberID,
		})
	case TypeSubscribe, TypeUnsubscribe:
		var msg SubscribeMessage
		if err := json.Unmarshal(data, &msg); err != nil || strings.TrimSpace(msg.Topic) == "" {
			s.sendError(conn, base, ErrorCodeInvalidMessage, "topic is required")
			return
		}
		if base.Type == TypeSubscribe {
			s.subscribe(conn, msg)
			return
		}
		s.hub.Unsubscribe(conn, msg.Topic)
		s.ack(conn, TypeUnsubscribed, msg)
	case TypeCancelRun:
		s.handleCancelRun(conn, base)
	default:
		s.sendError(conn, base, ErrorCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

func (s *Server) subscribe(conn *Connection, msg SubscribeMessage) {
	if err := s.hub.Subscribe(conn, msg.Topic, msg.Recreate); err != nil {
		s.logger.Warn("subscribe failed", "subscriber_id", conn.SubscriberID, "topic", msg.Topic, "error", err)
		s.sendError(conn, msg.BaseMessage, ErrorCodeSubscribeFail, err.Error())
		return
	}
	s.ack(conn, TypeSubscribed, msg)
}

func (s *Server) ack(conn *Connection, typ string, msg SubscribeMessage) {
	_ = s.hub.SendJSONToConnection(conn, TopicMessage{
		BaseMessage: BaseMessage{
			Type:         typ,
			Ts:           time.Now().UnixMilli(),
			RequestID:    msg.RequestID,
			SubscriberID: conn.SubscriberID,
		},
		Topic: msg.Topic,
	})
}

// handleCancelRun handles run cancellation requests.
func (s *Server) handleCancelRun(conn *Connection, msg BaseMessage) {
	if msg.RunID == "" {
		s.sendError(conn, msg, ErrorCodeInvalidMessage, "run_id is required")
		return
	}
	if s.runs == nil {
		s.sendError(conn, msg, ErrorCodeCancelFail, "run cancellation is not available")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		status, err := s.runs.CancelRun(ctx, msg.RunID)
		if err != nil {
			s.logger.Warn("cancel run failed", "run_id", msg.RunID, "error", err)
			s.sendError(conn, msg, ErrorCodeCancelFail, err.Error())
			return
		}
		_ = s.hub.SendJSONToConnection(conn, RunStatusMessage{
			BaseMessage: BaseMessage{
				Type:         TypeRunStatus,
				Ts:           time.Now().UnixMilli(),
				RequestID:    msg.RequestID,
				SubscriberID: conn.SubscriberID,
				RunID:        msg.RunID,
			},
			Status: string(status),
		})
	}()
}

// sendError sends an error message to a connection.
func (s *Server) sendError(conn *Connection, req BaseMessage, code, message string) {
	_ = s.hub.SendJSONToConnection(conn, ErrorMessage{
		BaseMessage: BaseMessage{
			Type:         TypeError,
			Ts:           time.Now().UnixMilli(),
			RequestID:    req.RequestID,
			SubscriberID: conn.SubscriberID,
			RunID:        req.RunID,
		},
		Code:    code,
		Message: message,
	})
}
