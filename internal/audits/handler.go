package audits

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/rbac"
	"github.com/grc-saas/grc/internal/shared"
)

// Handler exposes audit endpoints.
type Handler struct {
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{service: service, rbac: rbac}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	edit := h.rbac.RequireCapability(shared.CapAuditsEdit)

	r.Get("/", h.list)
	r.With(edit).Post("/", h.create)
	r.Get("/{id}", h.get)
	r.With(edit).Put("/{id}", h.update)
	r.With(edit).Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, page, err := h.service.List(r.Context(), caller, httpx.ListFilters(r, "status", "type"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Paginated(w, items, page)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, a)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req Input
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.Create(r.Context(), caller, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Created(w, a, "Audit created successfully")
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req Input
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	a, err := h.service.Update(r.Context(), caller, id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: a, Message: "Audit updated successfully"})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), caller, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Message(w, "Audit deleted successfully")
}
