package evidence

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/rbac"
	"github.com/grc-saas/grc/internal/shared"
)

// Handler exposes evidence endpoints.
type Handler struct {
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{service: service, rbac: rbac}
}

// MountControlRoutes registers the routes nested under a control; the
// control id is read from the {id} parameter of the parent route.
func (h *Handler) MountControlRoutes(r chi.Router) {
	r.Get("/", h.listForControl)
	r.With(h.rbac.RequireCapability(shared.CapEvidenceEdit)).Post("/", h.attach)
}

// MountRoutes registers the top-level evidence routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.get)
	r.With(h.rbac.RequireCapability(shared.CapEvidenceEdit)).Delete("/{id}", h.delete)
}

func (h *Handler) listForControl(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	controlID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListForControl(r.Context(), caller, controlID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, items)
}

func (h *Handler) attach(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	controlID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req Input
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.Attach(r.Context(), caller, controlID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Created(w, e, "Evidence added successfully")
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
	e, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, e)
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
	httpx.Message(w, "Evidence deleted successfully")
}
