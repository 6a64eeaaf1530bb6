package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConditionsBuildScopedWhere(t *testing.T) {
	c := ScopedTo("organization_id", "org-1").
		EqIf("status", "active").
		EqIf("category", "").
		Search("50%_off", "name", "email")

	assert.Equal(t, " WHERE organization_id = $1 AND status = $2 AND (name ILIKE $3 OR email ILIKE $3)", c.Where())
	assert.Equal(t, []any{"org-1", "active", `%50\%\_off%`}, c.Args())

	page, args := c.Page(10, 20)
	assert.Equal(t, " LIMIT $4 OFFSET $5", page)
	assert.Equal(t, []any{"org-1", "active", `%50\%\_off%`, 10, 20}, args)
	assert.Len(t, c.Args(), 3, "paging must not leak into the count arguments")
}

func TestOrderByWhitelist(t *testing.T) {
	allowed := map[string]string{"name": "name", "createdAt": "created_at"}
	assert.Equal(t, " ORDER BY created_at DESC", OrderBy("createdAt", "desc", allowed, "name ASC"))
	assert.Equal(t, " ORDER BY name ASC", OrderBy("name", "", allowed, "created_at DESC"))
	assert.Equal(t, " ORDER BY created_at DESC", OrderBy("name; DROP TABLE users", "asc", allowed, "created_at DESC"))
}
