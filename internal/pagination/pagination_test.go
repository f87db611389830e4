package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func paramsFor(t *testing.T, rawQuery string) Params {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/?"+rawQuery, nil)
	return FromQuery(c)
}

func TestFromQuery(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		wantPage    int
		wantPerPage int
	}{
		{"defaults", "", 1, DefaultPerPage},
		{"explicit", "page=3&per_page=50", 3, 50},
		{"clamped", "per_page=1000", 1, MaxPerPage},
		{"garbage ignored", "page=abc&per_page=-5", 1, DefaultPerPage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := paramsFor(t, tt.query)
			assert.Equal(t, tt.wantPage, p.Page)
			assert.Equal(t, tt.wantPerPage, p.PerPage)
		})
	}
}

func TestOffset(t *testing.T) {
	assert.Equal(t, 0, Params{Page: 1, PerPage: 20}.Offset())
	assert.Equal(t, 40, Params{Page: 3, PerPage: 20}.Offset())
}

func TestNewPage(t *testing.T) {
	p := Params{Page: 2, PerPage: 2}
	page := NewPage([]string{"c", "d"}, p, 5)

	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)

	last := NewPage([]string{"e"}, Params{Page: 3, PerPage: 2}, 5)
	assert.False(t, last.HasMore)

	empty := NewPage[string](nil, Params{Page: 1, PerPage: 2}, 0)
	assert.NotNil(t, empty.Data)
	assert.False(t, empty.HasMore)
}
