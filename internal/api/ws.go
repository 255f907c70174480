package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/auth"
	"github.com/lifeboat-sh/lifeboat/internal/websocket"
)

// WSHandler handles the WebSocket upgrade endpoint GET /api/v1/ws.
// Authentication uses a JWT passed as the `token` query parameter instead of
// the Authorization header; browsers cannot set custom headers on WebSocket
// connections opened via the native WebSocket API.
//
// Topic subscription is declared at connection time via the `topics` query
// parameter. With no `topics` parameter the client is subscribed to every
// known topic, which is what a dashboard wants.
//
// Example connection URL:
//
//	ws://host/api/v1/ws?token=<jwt>&topics=jobs,health
type WSHandler struct {
	hub    *websocket.Hub
	auth   *auth.Service
	logger *zap.Logger
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(hub *websocket.Hub, authSvc *auth.Service, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		auth:   authSvc,
		logger: logger.Named("ws_handler"),
	}
}

// allTopics is the subscription set for clients that do not narrow it down.
var allTopics = []string{
	websocket.TopicJobs,
	websocket.TopicRestore,
	websocket.TopicHealth,
	websocket.TopicRecovery,
	websocket.TopicNotifications,
}

// ServeWS handles GET /api/v1/ws.
// It authenticates the request, builds the topic list, upgrades the connection,
// and starts the client read/write pumps. The handler blocks until the
// connection closes; this is expected for WebSocket handlers.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	// JWT is passed as a query parameter because the browser WebSocket API
	// does not support custom headers. Clients must reconnect with a fresh
	// token after expiry.
	email := "anonymous"
	if h.auth.Enabled() {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			ErrUnauthorized(w)
			return
		}

		claims, err := h.auth.ValidateAccessToken(tokenStr)
		if err != nil {
			ErrUnauthorized(w)
			return
		}
		email = claims.Email
	}

	topics := resolveTopics(r)

	client, err := websocket.NewClient(h.hub, w, r, topics, h.logger)
	if err != nil {
		// The response has already been written by the upgrader on error.
		h.logger.Warn("ws: upgrade failed",
			zap.String("user", email),
			zap.Error(err),
		)
		return
	}

	h.logger.Info("ws: client connected",
		zap.String("user", email),
		zap.String("remote_addr", r.RemoteAddr),
		zap.Strings("topics", topics),
	)

	// Run blocks until the connection closes. readPump and writePump handle
	// cleanup and hub unregistration internally.
	client.Run()

	h.logger.Info("ws: client disconnected",
		zap.String("user", email),
		zap.String("remote_addr", r.RemoteAddr),
	)
}

// resolveTopics builds the final topic list for a client connection from the
// comma-separated `topics` query parameter, falling back to every known
// topic when the parameter is absent. Unknown topic names are silently
// ignored; the client simply never receives messages for them.
func resolveTopics(r *http.Request) []string {
	raw := r.URL.Query().Get("topics")
	if raw == "" {
		return append([]string(nil), allTopics...)
	}

	seen := make(map[string]struct{})
	var topics []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, exists := seen[t]; !exists {
			seen[t] = struct{}{}
			topics = append(topics, t)
		}
	}
	return topics
}
