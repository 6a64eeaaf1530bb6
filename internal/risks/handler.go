package risks

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/grc-saas/grc/internal/identity"
	"github.com/grc-saas/grc/internal/platform/httpx"
	"github.com/grc-saas/grc/internal/rbac"
	"github.com/grc-saas/grc/internal/shared"
)

var listFilters = []string{"status", "category", "ownerId", "level"}

// PDFRenderer converts an HTML document to PDF.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

// Handler exposes risk register endpoints.
type Handler struct {
	service *Service
	rbac    rbac.Middleware
	pdf     PDFRenderer
	logger  *slog.Logger
}

// NewHandler builds Handler instance.
func NewHandler(service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{service: service, rbac: rbac, logger: slog.Default()}
}

// WithPDF enables GET /export.pdf.
func (h *Handler) WithPDF(renderer PDFRenderer) *Handler {
	h.pdf = renderer
	return h
}

// MountRoutes registers risk routes.
func (h *Handler) MountRoutes(r chi.Router) {
	edit := h.rbac.RequireCapability(shared.CapRisksEdit)

	r.Get("/", h.list)
	r.Get("/export.csv", h.export)
	r.Get("/export.pdf", h.exportPDF)
	r.With(edit).Post("/", h.create)
	r.Get("/{id}", h.get)
	r.With(edit).Put("/{id}", h.update)
	r.With(edit).Delete("/{id}", h.delete)
	r.With(edit).Put("/{id}/controls", h.replaceControls)
}

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

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, page, err := h.service.List(r.Context(), caller, httpx.ListFilters(r, listFilters...))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Paginated(w, items, page)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.Export(r.Context(), caller, httpx.ListFilters(r, listFilters...))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, items); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filename := "risk-register-" + time.Now().UTC().Format(time.DateOnly) + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) exportPDF(w http.ResponseWriter, r *http.Request) {
	if h.pdf == nil {
		httpx.Fail(w, http.StatusServiceUnavailable, "PDF export is not configured")
		return
	}
	caller, err := identity.Require(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.Export(r.Context(), caller, httpx.ListFilters(r, listFilters...))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	now := time.Now().UTC()
	var html bytes.Buffer
	if err := WriteHTML(&html, items, now); err != nil {
		httpx.RespondError(w, err)
		return
	}
	pdf, err := h.pdf.RenderHTML(r.Context(), html.Bytes())
	if err != nil {
		h.logger.Error("render risk register pdf", slog.String("organization_id", caller.OrganizationID), slog.Any("error", err))
		httpx.Fail(w, http.StatusBadGateway, "PDF rendering failed")
		return
	}
	filename := "risk-register-" + now.Format(time.DateOnly) + ".pdf"
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	risk, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, risk)
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
	risk, err := h.service.Create(r.Context(), caller, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Created(w, risk, "Risk created successfully")
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req Input
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	risk, err := h.service.Update(r.Context(), caller, id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Data: risk, Message: "Risk updated successfully"})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), caller, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.Message(w, "Risk deleted successfully")
}

func (h *Handler) replaceControls(w http.ResponseWriter, r *http.Request) {
	caller, id, err := callerAndID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ControlsInput
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ids, err := h.service.ReplaceControls(r.Context(), caller, id, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, map[string]any{"controlIds": ids})
}
