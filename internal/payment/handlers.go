package payment

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/pagination"
	"github.com/mbd888/safetrade/internal/transaction"
)

// Handler provides HTTP endpoints for payment operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.SubmitProof)
	r.GET("/payments/:id", h.GetPayment)
	r.GET("/transactions/:id/payments", h.ListByTransaction)
}

// RegisterAdminRoutes sets up routes that require staff capabilities.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/payments/pending", h.ListPending)
	r.POST("/payments/:id/verify", h.VerifyPayment)
	r.POST("/payments/:id/reject", h.RejectPayment)
}

// SubmitProof handles POST /v1/payments
func (h *Handler) SubmitProof(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	p, err := h.service.SubmitProof(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"payment": p})
}

// GetPayment handles GET /v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// ListByTransaction handles GET /v1/transactions/:id/payments
func (h *Handler) ListByTransaction(c *gin.Context) {
	payments, err := h.service.ListByTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payments": payments,
		"count":    len(payments),
	})
}

// ListPending handles GET /v1/payments/pending
func (h *Handler) ListPending(c *gin.Context) {
	params := pagination.FromQuery(c)
	payments, total, err := h.service.ListPending(c.Request.Context(), params.Offset(), params.PerPage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pagination.NewPage(payments, params, total))
}

// VerifyPayment handles POST /v1/payments/:id/verify
func (h *Handler) VerifyPayment(c *gin.Context) {
	var req struct {
		Notes string `json:"notes"`
	}
	_ = c.ShouldBindJSON(&req)

	p, err := h.service.Verify(c.Request.Context(), authz.ActorFrom(c), c.Param("id"), req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// RejectPayment handles POST /v1/payments/:id/reject
func (h *Handler) RejectPayment(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	p, err := h.service.Reject(c.Request.Context(), authz.ActorFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	var mismatch *AmountMismatchError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, transaction.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, authz.ErrForbidden):
		status = http.StatusForbidden
		code = "forbidden"
	case errors.As(err, &mismatch):
		status = http.StatusUnprocessableEntity
		code = "amount_mismatch"
	case errors.Is(err, ErrReasonRequired), errors.Is(err, transaction.ErrInvalidInput):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, transaction.ErrInvalidTransition):
		status = http.StatusConflict
		code = "invalid_state"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
