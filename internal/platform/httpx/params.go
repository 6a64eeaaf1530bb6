package httpx

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/grc-saas/grc/internal/shared"
)

// ListFilters reads page, limit, search, sort and dir plus the named
// equality filters from the query string.
func ListFilters(r *http.Request, filterNames ...string) shared.ListFilters {
	q := r.URL.Query()
	f := shared.ListFilters{
		Page:    atoiDefault(q.Get("page"), shared.DefaultPage),
		Limit:   atoiDefault(q.Get("limit"), shared.DefaultLimit),
		Search:  strings.TrimSpace(q.Get("search")),
		SortBy:  strings.TrimSpace(q.Get("sort")),
		SortDir: strings.ToLower(strings.TrimSpace(q.Get("dir"))),
	}
	for _, name := range filterNames {
		if v := strings.TrimSpace(q.Get(name)); v != "" {
			if f.Filters == nil {
				f.Filters = make(map[string]string, len(filterNames))
			}
			f.Filters[name] = v
		}
	}
	return f.Normalize()
}

// IDParam returns a UUID route parameter. Malformed ids are reported as
// not found so they are indistinguishable from unknown ones.
func IDParam(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", shared.ErrNotFound
	}
	return id.String(), nil
}

func atoiDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
