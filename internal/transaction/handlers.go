package transaction

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/pagination"
)

// Handler provides HTTP endpoints for transaction operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public transaction routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.CreateTransaction)
	r.GET("/transactions", h.ListTransactions)
	r.GET("/transactions/:id", h.GetTransaction)
	r.GET("/transactions/code/:code", h.GetTransactionByCode)
	r.POST("/transactions/:id/submit-proof", h.SubmitProof)
}

// RegisterAdminRoutes sets up routes that require staff capabilities.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/transactions/:id/release-funds", h.ReleaseFunds)
	r.POST("/transactions/:id/refund", h.Refund)
	r.GET("/transactions/:id/audit", h.GetAuditTrail)
	r.DELETE("/transactions/:id", h.ArchiveTransaction)
}

// CreateTransaction handles POST /v1/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	t, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create transaction",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"transaction": t})
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// GetTransactionByCode handles GET /v1/transactions/code/:code
func (h *Handler) GetTransactionByCode(c *gin.Context) {
	t, err := h.service.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// ListTransactions handles GET /v1/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	params := pagination.FromQuery(c)
	filter := ListFilter{
		Status:        Status(c.Query("status")),
		ParticipantID: c.Query("participant"),
	}

	items, total, err := h.service.List(c.Request.Context(), filter, params.Offset(), params.PerPage)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, pagination.NewPage(items, params, total))
}

// SubmitProof handles POST /v1/transactions/:id/submit-proof
func (h *Handler) SubmitProof(c *gin.Context) {
	t, err := h.service.MarkPaymentSubmitted(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// ReleaseFunds handles POST /v1/transactions/:id/release-funds
func (h *Handler) ReleaseFunds(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	_ = c.ShouldBindJSON(&req)

	t, err := h.service.ReleaseFunds(c.Request.Context(), authz.ActorFrom(c), c.Param("id"), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// Refund handles POST /v1/transactions/:id/refund
func (h *Handler) Refund(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	t, err := h.service.Refund(c.Request.Context(), authz.ActorFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// GetAuditTrail handles GET /v1/transactions/:id/audit
func (h *Handler) GetAuditTrail(c *gin.Context) {
	id := c.Param("id")
	entries, err := h.service.AuditTrail(c.Request.Context(), authz.ActorFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": id,
		"entries":        entries,
		"count":          len(entries),
	})
}

// ArchiveTransaction handles DELETE /v1/transactions/:id
func (h *Handler) ArchiveTransaction(c *gin.Context) {
	if err := h.service.Archive(c.Request.Context(), authz.ActorFrom(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": true})
}

// respondError maps service errors onto the shared error envelope.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, authz.ErrForbidden):
		status = http.StatusForbidden
		code = "forbidden"
	case errors.Is(err, ErrReasonRequired), errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStatusConflict), errors.Is(err, ErrPaymentNotVerified):
		status = http.StatusConflict
		code = "invalid_state"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
