package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPagination(t *testing.T) {
	p := NewPagination(0, 0, 41)
	assert.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 41, TotalPages: 3}, p)

	p = NewPagination(2, 1000, 10)
	assert.Equal(t, MaxPerPage, p.PerPage)
	assert.Equal(t, 1, p.TotalPages)
	assert.Equal(t, 20, Offset(2, 20))
}
