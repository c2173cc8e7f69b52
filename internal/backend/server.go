package backend

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/convosync/internal/auth"
	"github.com/vovakirdan/convosync/internal/config"
	"github.com/vovakirdan/convosync/internal/observability"
	"github.com/vovakirdan/convosync/internal/relay"
	"github.com/vovakirdan/convosync/internal/store"
)

// NewServer builds the reference backend: REST API, socket relay, health and
// metrics endpoints.
func NewServer(hub *relay.Hub, authService *auth.Service, st store.Store, cfg config.ServerConfig, logger *zerolog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(hub, authService, st, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler serves the socket relay on /ws ahead of the gin router, which
// handles everything else.
func NewHandler(hub *relay.Hub, authService *auth.Service, st store.Store, logger *zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(hub, authService, logger))
	mux.Handle("/", NewRouter(hub, authService, st, logger))
	return mux
}

// NewRouter wires the REST, health and metrics routes on a gin engine.
func NewRouter(hub *relay.Hub, authService *auth.Service, st store.Store, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/health", healthHandler)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandlers := NewAuthHandlers(authService, logger)
	router.POST("/api/auth/token", authHandlers.IssueToken)

	h := NewMessageHandlers(st, hub, logger)
	api := router.Group("/api/messages", AuthMiddleware(authService, logger))
	{
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/unread-count", h.UnreadCount)
		api.GET("/conversations/:id", h.ConversationDetail)
		api.POST("/conversations/start", h.StartConversation)
		api.POST("/conversations/:id/mark-read", h.MarkRead)
		api.POST("/messages/send", h.SendMessage)
		api.PUT("/messages/:id/status", h.UpdateMessageStatus)
	}

	return router
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
