package handler

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/dto"
	"github.com/noah-isme/student-portal-api/internal/models"
	"github.com/noah-isme/student-portal-api/internal/service"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = (wsPongWait * 9) / 10
	wsReadLimit    = 4096
	wsPresenceWait = 5 * time.Second
)

// MonthCache is the per-connection calendar cache.
type MonthCache interface {
	ViewMonth(year int, month time.Month) (string, error)
	Entry(key string) ([]models.Event, bool)
	Updates() <-chan service.CacheUpdate
	Close()
}

// PresenceTracker is the per-connection presence heartbeat.
type PresenceTracker interface {
	Start(ctx context.Context) error
	SetVisible(ctx context.Context, visible bool) error
	Stop(ctx context.Context) error
}

type sessionMetrics interface {
	SessionOpened()
	SessionClosed()
}

// WSHandler upgrades /ws and runs one viewer session per connection.
type WSHandler struct {
	upgrader websocket.Upgrader
	caches   func(viewerID string) MonthCache
	presence func(userID string) PresenceTracker
	metrics  sessionMetrics
	logger   *zap.Logger
}

// NewWSHandler constructs the handler. allowOrigin decides cross-origin
// upgrades; requests without an Origin header are always accepted.
func NewWSHandler(caches func(viewerID string) MonthCache, presence func(userID string) PresenceTracker, allowOrigin func(string) bool, metrics sessionMetrics, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin == nil || allowOrigin(origin)
			},
		},
		caches:   caches,
		presence: presence,
		metrics:  metrics,
		logger:   logger,
	}
}

// Serve godoc
// @Summary Live calendar and presence session
// @Description Upgrades to a websocket. Clients send view_month and visibility messages and receive merged month entries.
// @Tags Calendar
// @Param access_token query string false "Access token when headers cannot be set"
// @Success 101
// @Router /ws [get]
func (h *WSHandler) Serve(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", claims.UserID), zap.Error(err))
		return
	}

	s := &wsSession{
		conn:    conn,
		userID:  claims.UserID,
		cache:   h.caches(claims.UserID),
		out:     make(chan dto.WSServerMessage, 16),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  h.logger.With(zap.String("user_id", claims.UserID)),
	}
	if h.presence != nil {
		s.presence = h.presence(claims.UserID)
	}
	if h.metrics != nil {
		h.metrics.SessionOpened()
		defer h.metrics.SessionClosed()
	}
	s.run()
}

type wsSession struct {
	conn     *websocket.Conn
	userID   string
	cache    MonthCache
	presence PresenceTracker
	out      chan dto.WSServerMessage
	done     chan struct{}
	stopped  chan struct{}
	logger   *zap.Logger
}

func (s *wsSession) run() {
	s.logger.Info("websocket session opened")
	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), wsPresenceWait)
		if err := s.presence.Start(ctx); err != nil {
			s.logger.Warn("presence start failed", zap.Error(err))
		}
		cancel()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	s.readLoop()

	close(s.done)
	s.cache.Close()
	_ = s.conn.Close()
	wg.Wait()

	if s.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), wsPresenceWait)
		if err := s.presence.Stop(ctx); err != nil {
			s.logger.Warn("presence stop failed", zap.Error(err))
		}
		cancel()
	}
	s.logger.Info("websocket session closed")
}

func (s *wsSession) readLoop() {
	s.conn.SetReadLimit(wsReadLimit)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg dto.WSClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		s.handle(msg)
	}
}

func (s *wsSession) handle(msg dto.WSClientMessage) {
	switch msg.Type {
	case dto.WSViewMonth:
		if msg.Month < 0 || msg.Month > 11 {
			s.send(dto.WSServerMessage{Type: dto.WSError, Message: "month must be between 0 and 11"})
			return
		}
		if !models.ValidCalendarYear(msg.Year) {
			s.send(dto.WSServerMessage{Type: dto.WSError, Message: fmt.Sprintf("year must be between %d and %d", models.MinCalendarYear, models.MaxCalendarYear)})
			return
		}
		key, err := s.cache.ViewMonth(msg.Year, time.Month(msg.Month+1))
		if err != nil {
			s.send(dto.WSServerMessage{Type: dto.WSError, Message: err.Error()})
			return
		}
		if events, ok := s.cache.Entry(key); ok {
			s.send(dto.WSServerMessage{Type: dto.WSEvents, Key: key, Events: events})
		}
	case dto.WSVisibility:
		if msg.Visible == nil || s.presence == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), wsPresenceWait)
		defer cancel()
		if err := s.presence.SetVisible(ctx, *msg.Visible); err != nil {
			s.logger.Warn("presence update failed", zap.Error(err))
		}
	default:
		s.send(dto.WSServerMessage{Type: dto.WSError, Message: "unknown message type " + msg.Type})
	}
}

func (s *wsSession) send(msg dto.WSServerMessage) {
	select {
	case s.out <- msg:
	case <-s.done:
	case <-s.stopped:
	}
}

func (s *wsSession) writeLoop() {
	defer close(s.stopped)
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	updates := s.cache.Updates()

	for {
		var msg dto.WSServerMessage
		select {
		case <-s.done:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			msg = dto.WSServerMessage{Type: dto.WSEvents, Key: update.Key, Events: update.Events}
		case msg = <-s.out:
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = s.conn.Close()
				return
			}
			continue
		}

		_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := s.conn.WriteJSON(msg); err != nil {
			s.logger.Debug("websocket write failed", zap.Error(err))
			_ = s.conn.Close()
			return
		}
	}
}
