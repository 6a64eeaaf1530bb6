package integrations

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/rbac"
	"github.com/grc-saas/grc/internal/shared"
)

// Handler exposes integration endpoints.
type Handler struct {
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{service: service, rbac: rbac}
}

// MountRoutes registers integration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	manage := h.rbac.RequireCapability(shared.CapIntegrationsManage)

	r.Get("/", h.list)
	r.With(manage).Post("/", h.create)
	r.With(manage).Put("/{id}", h.update)
	r.With(manage).Delete("/{id}", h.delete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.List(r.Context(), caller)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, items)
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
	i, err := h.service.Create(r.Context(), caller, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Created(w, i, "Integration created successfully")
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
	i, err := h.service.Update(r.Context(), caller, id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: i, Message: "Integration updated successfully"})
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
	httpx.Message(w, "Integration deleted successfully")
}
