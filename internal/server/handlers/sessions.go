package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/application/workflow"
)

type SessionHandler struct {
	workflowSvc *workflow.Service
	logger      zerolog.Logger
}

func NewSessionHandler(workflowSvc *workflow.Service, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		workflowSvc: workflowSvc,
		logger:      logger,
	}
}

type openCardSessionRequest struct {
	Subdomain string `json:"subdomain"`
}

func (h *SessionHandler) OpenCardSession(c *gin.Context) {
	var req openCardSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, err)
		return
	}

	session, err := h.workflowSvc.OpenCardSession(c.Request.Context(), req.Subdomain)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

type openTopUpRequest struct {
	Subdomain string `json:"subdomain"`
	Amount    string `json:"amount" binding:"required"`
}

func (h *SessionHandler) OpenTopUpSession(c *gin.Context) {
	var req openTopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, err)
		return
	}

	session, err := h.workflowSvc.OpenTopUpSession(c.Request.Context(), req.Subdomain, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (h *SessionHandler) GetSession(c *gin.Context) {
	session, err := h.workflowSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

type connectWalletRequest struct {
	Address string `json:"address" binding:"required"`
	ChainID int64  `json:"chain_id" binding:"required"`
}

func (h *SessionHandler) ConnectWallet(c *gin.Context) {
	var req connectWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, err)
		return
	}

	session, err := h.workflowSvc.ConnectWallet(c.Request.Context(), c.Param("id"), req.Address, req.ChainID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) ConfirmPayment(c *gin.Context) {
	session, err := h.workflowSvc.ConfirmPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, session)
}

type submitDetailsRequest struct {
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
}

func (h *SessionHandler) SubmitDetails(c *gin.Context) {
	var req submitDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, err)
		return
	}

	session, err := h.workflowSvc.SubmitDetails(c.Request.Context(), c.Param("id"), req.FirstName, req.LastName)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) RetryNotification(c *gin.Context) {
	session, err := h.workflowSvc.RetryNotification(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) Restart(c *gin.Context) {
	session, err := h.workflowSvc.Restart(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *SessionHandler) Abandon(c *gin.Context) {
	if err := h.workflowSvc.Abandon(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "abandoned"})
}
