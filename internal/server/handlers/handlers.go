package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/application/workflow"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/domain"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/server/middleware"
	"github.com/PEPUNSCARDS/card-vault-pulse/internal/server/websocket"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/config"
)

type Handlers struct {
	WorkflowSvc *workflow.Service
	Logger      zerolog.Logger
	Config      *config.Config
	WsHub       *websocket.WsHub
}

func New(workflowSvc *workflow.Service, logger zerolog.Logger, config *config.Config, wsHub *websocket.WsHub) *Handlers {
	return &Handlers{
		WorkflowSvc: workflowSvc,
		Logger:      logger,
		Config:      config,
		WsHub:       wsHub,
	}
}

func (h *Handlers) SetupHandlers(router *gin.Engine) {
	router.Use(middleware.RequestLogger(h.Logger))

	sessionHandler := NewSessionHandler(h.WorkflowSvc, h.Logger)
	wsHandler := NewWebSocketHandler(h.WsHub, h.Config.WebSocket)
	healthHandler := NewHealthHandler()

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// WebSocket stage updates
	router.GET("/ws", wsHandler.HandleConnection)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.APIKeyAuth(h.Config.Security.APIKey))
	{
		cards := v1.Group("/cards")
		{
			cards.POST("/sessions", sessionHandler.OpenCardSession)
			cards.POST("/topups", sessionHandler.OpenTopUpSession)
		}

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:id", sessionHandler.GetSession)
			sessions.POST("/:id/connect", sessionHandler.ConnectWallet)
			sessions.POST("/:id/pay", sessionHandler.ConfirmPayment)
			sessions.POST("/:id/details", sessionHandler.SubmitDetails)
			sessions.POST("/:id/retry-notification", sessionHandler.RetryNotification)
			sessions.POST("/:id/restart", sessionHandler.Restart)
			sessions.DELETE("/:id", sessionHandler.Abandon)
		}
	}
}

// respondError maps workflow errors onto HTTP responses. Classified flow
// errors keep their reason and funds-moved flag so the UI can tell the user
// whether money left their wallet.
func respondError(c *gin.Context, err error) {
	var flowErr *domain.FlowError
	if errors.As(err, &flowErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":       "Workflow Error",
			"reason":      flowErr.Reason,
			"message":     flowErr.Message,
			"funds_moved": flowErr.FundsMoved,
		})
		return
	}

	status := http.StatusBadRequest
	if strings.Contains(err.Error(), "not found") {
		status = http.StatusNotFound
	}

	c.JSON(status, gin.H{
		"error":   http.StatusText(status),
		"message": err.Error(),
	})
}
