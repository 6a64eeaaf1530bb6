package db

import (
	"fmt"
	"strings"
)

// Conditions accumulates AND-ed WHERE conditions with positional arguments.
// Every tenant-owned list starts from the organization condition.
type Conditions struct {
	conds []string
	args  []any
}

// ScopedTo starts a condition set restricted to one organization.
func ScopedTo(column, organizationID string) *Conditions {
	c := &Conditions{}
	c.Eq(column, organizationID)
	return c
}

// Arg appends v and returns its placeholder.
func (c *Conditions) Arg(v any) string {
	c.args = append(c.args, v)
	return fmt.Sprintf("$%d", len(c.args))
}

// Add appends a raw condition built with Arg placeholders.
func (c *Conditions) Add(cond string) *Conditions {
	c.conds = append(c.conds, cond)
	return c
}

// Eq adds column = v.
func (c *Conditions) Eq(column string, v any) *Conditions {
	return c.Add(column + " = " + c.Arg(v))
}

// EqIf adds column = v when v is not empty.
func (c *Conditions) EqIf(column, v string) *Conditions {
	if v == "" {
		return c
	}
	return c.Eq(column, v)
}

// Search adds a case-insensitive substring match over columns.
func (c *Conditions) Search(term string, columns ...string) *Conditions {
	if term == "" || len(columns) == 0 {
		return c
	}
	ph := c.Arg("%" + escapeLike(term) + "%")
	parts := make([]string, len(columns))
	for i, col := range columns {
		parts[i] = col + " ILIKE " + ph
	}
	return c.Add("(" + strings.Join(parts, " OR ") + ")")
}

// Where renders the WHERE clause.
func (c *Conditions) Where() string {
	if len(c.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.conds, " AND ")
}

// Args returns the positional arguments collected so far.
func (c *Conditions) Args() []any {
	return c.args
}

// Page renders LIMIT/OFFSET and returns the arguments including them. The
// condition set itself is left untouched so it can serve the count query.
func (c *Conditions) Page(limit, offset int) (string, []any) {
	args := append(append([]any{}, c.args...), limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(c.args)+1, len(c.args)+2), args
}

// OrderBy maps a client sort key onto a whitelisted column expression.
// Unknown keys fall back to def.
func OrderBy(sortBy, dir string, allowed map[string]string, def string) string {
	col, ok := allowed[sortBy]
	if !ok {
		return " ORDER BY " + def
	}
	if strings.EqualFold(dir, "desc") {
		return " ORDER BY " + col + " DESC"
	}
	return " ORDER BY " + col + " ASC"
}

func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}
