package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// DefaultPerPage is the default number of items per page
	DefaultPerPage = 20
	// MaxPerPage is the maximum number of items per page
	MaxPerPage = 100
)

// FromQuery reads page/per_page query parameters with clamping. Garbage
// values fall back to the defaults.
func FromQuery(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(DefaultPerPage)))

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	return page, perPage
}

// Offset converts a page/per_page pair into a SQL offset.
func Offset(page, perPage int) int {
	return (page - 1) * perPage
}
