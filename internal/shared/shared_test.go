package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPagination(t *testing.T) {
	p := NewPagination(2, 10, 25)
	assert.Equal(t, Pagination{Page: 2, Limit: 10, Total: 25, TotalPages: 3}, p)

	p = NewPagination(0, 0, 0)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultLimit, p.Limit)
	assert.Equal(t, 0, p.TotalPages)
}

func TestListFiltersNormalize(t *testing.T) {
	f := ListFilters{Page: -1, Limit: 1000, SortDir: "sideways"}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, MaxLimit, f.Limit)
	assert.Equal(t, SortAsc, f.SortDir)
	assert.Equal(t, 0, f.Offset())

	f = ListFilters{Page: 3, Limit: 20}.Normalize()
	assert.Equal(t, 40, f.Offset())
	assert.Empty(t, f.Filter("status"))
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Risk_Manager ")
	require.NoError(t, err)
	assert.Equal(t, RoleRiskManager, role)

	_, err = ParseRole("superuser")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMapPgError(t *testing.T) {
	assert.NoError(t, MapPgError(nil))
	assert.ErrorIs(t, MapPgError(fmt.Errorf("get: %w", pgx.ErrNoRows)), ErrNotFound)
	assert.ErrorIs(t, MapPgError(&pgconn.PgError{Code: "23505"}), ErrConflict)

	other := errors.New("boom")
	assert.Equal(t, other, MapPgError(other))
}
