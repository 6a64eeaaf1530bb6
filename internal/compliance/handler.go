package compliance

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/rbac"
	"github.com/grc-saas/grc/internal/shared"
)

// Handler exposes framework and control endpoints.
type Handler struct {
	service  *Service
	rbac     rbac.Middleware
	evidence func(chi.Router)
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{service: service, rbac: rbac}
}

// WithEvidenceRoutes nests fn under /controls/{id}/evidence.
func (h *Handler) WithEvidenceRoutes(fn func(chi.Router)) *Handler {
	h.evidence = fn
	return h
}

// MountRoutes registers compliance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	edit := h.rbac.RequireCapability(shared.CapComplianceEdit)

	r.Route("/frameworks", func(r chi.Router) {
		r.Get("/", h.listFrameworks)
		r.With(edit).Post("/", h.createFramework)
		r.Get("/{id}/requirements", h.listRequirements)
		r.With(edit).Post("/{id}/requirements", h.createRequirement)
		r.Get("/{id}/summary", h.summary)
	})
	r.Route("/controls", func(r chi.Router) {
		r.Get("/", h.listControls)
		r.With(edit).Post("/", h.createControl)
		r.Get("/{id}", h.getControl)
		r.With(edit).Put("/{id}", h.updateControl)
		r.With(edit).Delete("/{id}", h.deleteControl)
		r.With(h.rbac.RequireCapability(shared.CapComplianceTest)).Post("/{id}/tests", h.recordTest)
		r.With(edit).Put("/{id}/requirements", h.replaceRequirements)
		if h.evidence != nil {
			r.Route("/{id}/evidence", h.evidence)
		}
	})
}

// callerAndID resolves the caller and the {id} route parameter.
func callerAndID(r *http.Request) (identity.Identity, string, error) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		return identity.Identity{}, "", err
	}
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		return identity.Identity{}, "", err
	}
	return caller, id, nil
}

func (h *Handler) listFrameworks(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListFrameworks(r.Context(), caller)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, items)
}

func (h *Handler) createFramework(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req FrameworkInput
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	fw, err := h.service.CreateFramework(r.Context(), caller, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Created(w, fw, "Framework created successfully")
}

func (h *Handler) listRequirements(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListRequirements(r.Context(), caller, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, items)
}

func (h *Handler) createRequirement(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req RequirementInput
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateRequirement(r.Context(), caller, id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Created(w, item, "Requirement created successfully")
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sum, err := h.service.FrameworkSummary(r.Context(), caller, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, sum)
}

func (h *Handler) listControls(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, page, err := h.service.ListControls(r.Context(), caller, httpx.ListFilters(r, "status", "category", "type", "effectiveness"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Paginated(w, items, page)
}

func (h *Handler) getControl(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.GetControl(r.Context(), caller, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, c)
}

func (h *Handler) createControl(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ControlInput
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.CreateControl(r.Context(), caller, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Created(w, c, "Control created successfully")
}

func (h *Handler) updateControl(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ControlInput
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.UpdateControl(r.Context(), caller, id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: c, Message: "Control updated successfully"})
}

func (h *Handler) deleteControl(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteControl(r.Context(), caller, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Message(w, "Control deleted successfully")
}

func (h *Handler) recordTest(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req TestInput
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.RecordTest(r.Context(), caller, id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: c, Message: "Control test recorded"})
}

func (h *Handler) replaceRequirements(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req MappingInput
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ids, err := h.service.ReplaceRequirements(r.Context(), caller, id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"controlId": id, "requirementIds": ids})
}
