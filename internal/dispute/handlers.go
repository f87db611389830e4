package dispute

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/pagination"
	"github.com/mbd888/safetrade/internal/transaction"
)

// Handler provides HTTP endpoints for dispute operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispute handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public dispute routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/disputes", h.OpenDispute)
	r.GET("/disputes/:id", h.GetDispute)
	r.GET("/transactions/:id/disputes", h.ListByTransaction)
	r.POST("/disputes/:id/evidence", h.SubmitEvidence)
	r.POST("/disputes/:id/withdraw", h.WithdrawDispute)
}

// RegisterAdminRoutes sets up routes that require staff capabilities.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/disputes", h.ListDisputes)
	r.POST("/disputes/:id/escalate", h.EscalateDispute)
	r.POST("/disputes/:id/resolve", h.ResolveDispute)
}

// OpenDispute handles POST /v1/disputes
func (h *Handler) OpenDispute(c *gin.Context) {
	var req OpenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Transaction, opener, and reason are required",
		})
		return
	}

	d, err := h.service.Open(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dispute": d})
}

// GetDispute handles GET /v1/disputes/:id
func (h *Handler) GetDispute(c *gin.Context) {
	d, evidence, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"dispute":  d,
		"evidence": evidence,
	})
}

// ListByTransaction handles GET /v1/transactions/:id/disputes
func (h *Handler) ListByTransaction(c *gin.Context) {
	disputes, err := h.service.ListByTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"disputes": disputes,
		"count":    len(disputes),
	})
}

// ListDisputes handles GET /v1/disputes
func (h *Handler) ListDisputes(c *gin.Context) {
	params := pagination.FromQuery(c)
	disputes, total, err := h.service.List(c.Request.Context(), Status(c.Query("status")), params.Offset(), params.PerPage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pagination.NewPage(disputes, params, total))
}

// SubmitEvidence handles POST /v1/disputes/:id/evidence
func (h *Handler) SubmitEvidence(c *gin.Context) {
	var req EvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Submitter is required",
		})
		return
	}

	e, err := h.service.SubmitEvidence(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"evidence": e})
}

// WithdrawDispute handles POST /v1/disputes/:id/withdraw
func (h *Handler) WithdrawDispute(c *gin.Context) {
	var req struct {
		RequestedBy string `json:"requestedBy" binding:"required"`
		Reason      string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Requester is required",
		})
		return
	}

	d, err := h.service.Close(c.Request.Context(), c.Param("id"), req.RequestedBy, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// EscalateDispute handles POST /v1/disputes/:id/escalate
func (h *Handler) EscalateDispute(c *gin.Context) {
	var req struct {
		AssignTo string `json:"assignTo"`
	}
	_ = c.ShouldBindJSON(&req)

	d, err := h.service.Escalate(c.Request.Context(), authz.ActorFrom(c), c.Param("id"), req.AssignTo)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

// ResolveDispute handles POST /v1/disputes/:id/resolve
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req struct {
		Outcome Outcome `json:"outcome" binding:"required"`
		Notes   string  `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Outcome is required",
		})
		return
	}

	d, err := h.service.Resolve(c.Request.Context(), authz.ActorFrom(c), c.Param("id"), req.Outcome, req.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dispute": d})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, transaction.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, authz.ErrForbidden), errors.Is(err, ErrNotParticipant):
		status = http.StatusForbidden
		code = "forbidden"
	case errors.Is(err, ErrReasonRequired), errors.Is(err, ErrInvalidOutcome),
		errors.Is(err, transaction.ErrInvalidInput):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrDuplicateDispute):
		status = http.StatusConflict
		code = "duplicate_dispute"
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, transaction.ErrInvalidTransition),
		errors.Is(err, transaction.ErrStatusConflict), errors.Is(err, transaction.ErrPaymentNotVerified):
		status = http.StatusConflict
		code = "invalid_state"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
