package organizations

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/rbac"
	"github.com/grc-saas/grc/internal/shared"
)

// Handler exposes the current organization.
type Handler struct {
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{service: service, rbac: rbac}
}

// MountRoutes registers organization routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.current)
	r.With(h.rbac.RequireCapability(shared.CapOrganizationManage)).Put("/", h.update)
	r.With(h.rbac.RequireCapability(shared.CapOrganizationManage)).Delete("/", h.delete)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	org, err := h.service.Current(r.Context(), caller)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, org)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req UpdateInput
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	org, err := h.service.Update(r.Context(), caller, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: org, Message: "Organization updated successfully"})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), caller); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Message(w, "Organization deleted successfully")
}
