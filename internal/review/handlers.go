package review

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/safetrade/internal/authz"
	"github.com/mbd888/safetrade/internal/pagination"
	"github.com/mbd888/safetrade/internal/transaction"
)

// Handler provides HTTP endpoints for review operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new review handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public review routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/reviews", h.SubmitReview)
	r.GET("/reviews/:id", h.GetReview)
	r.GET("/reviews", h.ListReviews)
	r.POST("/reviews/:id/flag", h.FlagReview)
	r.GET("/users/:id/review-stats", h.GetUserStats)
}

// RegisterAdminRoutes sets up routes that require staff capabilities.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/reviews/pending", h.ListPending)
	r.GET("/reviews/flagged", h.ListFlagged)
	r.GET("/reviews/stats", h.GetStatistics)
	r.GET("/reviews/:id/flags", h.ListFlags)
	r.POST("/reviews/:id/verify", h.VerifyReview)
	r.POST("/reviews/:id/reject", h.RejectReview)
	r.POST("/reviews/:id/dismiss-flags", h.DismissFlags)
	r.POST("/reviews/reverify", h.ReverifyPending)
}

// SubmitReview handles POST /v1/reviews
func (h *Handler) SubmitReview(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Transaction, reviewer, rating, and content are required",
		})
		return
	}

	r, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"review": r})
}

// GetReview handles GET /v1/reviews/:id
func (h *Handler) GetReview(c *gin.Context) {
	r, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": r})
}

// ListReviews handles GET /v1/reviews
func (h *Handler) ListReviews(c *gin.Context) {
	h.list(c, ListFilter{
		Status:     Status(c.Query("status")),
		VehicleID:  c.Query("vehicle"),
		RevieweeID: c.Query("reviewee"),
		ReviewerID: c.Query("reviewer"),
	})
}

// ListPending handles GET /v1/reviews/pending
func (h *Handler) ListPending(c *gin.Context) {
	h.list(c, ListFilter{Status: StatusPending})
}

// ListFlagged handles GET /v1/reviews/flagged
func (h *Handler) ListFlagged(c *gin.Context) {
	h.list(c, ListFilter{Status: StatusFlagged})
}

func (h *Handler) list(c *gin.Context, filter ListFilter) {
	params := pagination.FromQuery(c)
	reviews, total, err := h.service.List(c.Request.Context(), filter, params.Offset(), params.PerPage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pagination.NewPage(reviews, params, total))
}

// FlagReview handles POST /v1/reviews/:id/flag
func (h *Handler) FlagReview(c *gin.Context) {
	var req FlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Flagger and reason are required",
		})
		return
	}

	r, err := h.service.Flag(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": r})
}

// ListFlags handles GET /v1/reviews/:id/flags
func (h *Handler) ListFlags(c *gin.Context) {
	flags, err := h.service.Flags(c.Request.Context(), authz.ActorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"flags": flags,
		"count": len(flags),
	})
}

// VerifyReview handles POST /v1/reviews/:id/verify
func (h *Handler) VerifyReview(c *gin.Context) {
	r, err := h.service.Verify(c.Request.Context(), authz.ActorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": r})
}

// RejectReview handles POST /v1/reviews/:id/reject
func (h *Handler) RejectReview(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	r, err := h.service.Reject(c.Request.Context(), authz.ActorFrom(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": r})
}

// DismissFlags handles POST /v1/reviews/:id/dismiss-flags
func (h *Handler) DismissFlags(c *gin.Context) {
	r, err := h.service.DismissFlags(c.Request.Context(), authz.ActorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"review": r})
}

// ReverifyPending handles POST /v1/reviews/reverify
func (h *Handler) ReverifyPending(c *gin.Context) {
	if err := authz.ActorFrom(c).Require(authz.CapModerateReviews); err != nil {
		respondError(c, err)
		return
	}

	n, err := h.service.ReverifyPending(c.Request.Context(), 500)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": n})
}

// GetStatistics handles GET /v1/reviews/stats
func (h *Handler) GetStatistics(c *gin.Context) {
	stats, err := h.service.Statistics(c.Request.Context(), authz.ActorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// GetUserStats handles GET /v1/users/:id/review-stats
func (h *Handler) GetUserStats(c *gin.Context) {
	stats, err := h.service.StatsFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, transaction.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, authz.ErrForbidden):
		status = http.StatusForbidden
		code = "forbidden"
	case errors.Is(err, ErrInvalidRating), errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrSelfReview), errors.Is(err, transaction.ErrInvalidInput):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ErrAlreadyFlagged):
		status = http.StatusConflict
		code = "already_flagged"
	case errors.Is(err, ErrInvalidStatus):
		status = http.StatusConflict
		code = "invalid_state"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
