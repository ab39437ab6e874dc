package http

import (
	"context"
	"sync"
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/shared/logger"
	"github.com/ahmadnk31/gsm-sync/internal/sync/adapter/feed"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"
	"github.com/ahmadnk31/gsm-sync/internal/sync/usecase"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationHub fans dispatched notifications out to WebSocket clients.
// A single session subscription feeds every connected client through a
// per-connection buffered channel; a slow client drops messages instead of
// blocking the dispatch path.
type NotificationHub struct {
	log         logger.Logger
	scope       model.ViewScope
	tokenSecret string

	mu      sync.RWMutex
	clients map[string]chan model.Notification
}

// NewNotificationHub creates a hub and registers it with the session's
// notification stream. Subscribers authenticate with the same bearer tokens
// the feed transport uses, signed with tokenSecret.
func NewNotificationHub(session *usecase.SyncSession, tokenSecret string, log logger.Logger) *NotificationHub {
	hub := &NotificationHub{
		log:         log.WithComponent("notification-hub"),
		scope:       session.Scope(),
		tokenSecret: tokenSecret,
		clients:     make(map[string]chan model.Notification),
	}
	session.OnNotification(hub.broadcast)
	return hub
}

// RegisterRoutes registers the notification WebSocket endpoint.
func (h *NotificationHub) RegisterRoutes(router fiber.Router) {
	wsGroup := router.Group("/ws")

	wsGroup.Use(func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return h.authorize(c)
	})

	wsGroup.Get("/notify", websocket.New(h.handleConnection))
}

// authorize validates the feed token passed as a query parameter and pins the
// connection to this session's viewer.
func (h *NotificationHub) authorize(c *fiber.Ctx) error {
	tokenScope, err := feed.ParseFeedToken(h.tokenSecret, c.Query("token"))
	if err != nil {
		h.log.Warn("Rejected notification subscriber with invalid token",
			zap.Error(err))
		return fiber.ErrUnauthorized
	}
	if tokenScope.ViewerID != h.scope.ViewerID {
		h.log.Warn("Rejected notification subscriber for another viewer",
			zap.String("tokenViewerID", tokenScope.ViewerID))
		return fiber.ErrForbidden
	}
	return c.Next()
}

// broadcast delivers one notification to every connected client.
func (h *NotificationHub) broadcast(notification model.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for subscriberID, ch := range h.clients {
		select {
		case ch <- notification:
		default:
			h.log.Warn("Dropping notification for slow subscriber",
				zap.String("subscriberID", subscriberID),
				zap.String("notificationKey", notification.Key.String()))
		}
	}
}

// handleConnection is called when a new WebSocket connection is established.
func (h *NotificationHub) handleConnection(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subscriberID := uuid.NewString()
	ch := make(chan model.Notification, 32)

	h.mu.Lock()
	h.clients[subscriberID] = ch
	h.mu.Unlock()

	h.log.Info("Notification subscriber connected",
		zap.String("subscriberID", subscriberID))

	defer func() {
		h.mu.Lock()
		delete(h.clients, subscriberID)
		h.mu.Unlock()

		h.log.Info("Notification subscriber disconnected",
			zap.String("subscriberID", subscriberID))
		conn.Close()
	}()

	// Keep reading to detect disconnection; inbound payloads are ignored.
	go func() {
		defer cancel()
		for {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.log.Warn("Notification connection closed unexpectedly",
						zap.String("subscriberID", subscriberID),
						zap.Error(err))
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case notification := <-ch:
			if err := conn.WriteJSON(notification); err != nil {
				h.log.Warn("Failed to write notification",
					zap.String("subscriberID", subscriberID),
					zap.Error(err))
				return
			}
		}
	}
}
