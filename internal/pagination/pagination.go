// Package pagination provides page-number pagination for list endpoints.
package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params holds a parsed page request.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"perPage"`
}

// Offset returns the row offset for the page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// FromQuery parses page/per_page query parameters with clamped defaults.
func FromQuery(c *gin.Context) Params {
	p := Params{Page: 1, PerPage: DefaultPerPage}

	if v := c.Query("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.Page = n
		}
	}
	if v := c.Query("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.PerPage = n
			if p.PerPage > MaxPerPage {
				p.PerPage = MaxPerPage
			}
		}
	}
	return p
}

// Page is the JSON envelope for a paginated result set.
type Page[T any] struct {
	Data    []T  `json:"data"`
	Page    int  `json:"page"`
	PerPage int  `json:"perPage"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// NewPage builds the envelope from a full count and the current slice.
func NewPage[T any](items []T, p Params, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Data:    items,
		Page:    p.Page,
		PerPage: p.PerPage,
		Total:   total,
		HasMore: p.Offset()+len(items) < total,
	}
}
