package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hustings/internal/results/models"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/httputil"
	"hustings/pkg/requestcontext"
)

type Service interface {
	Results(ctx context.Context) (*models.Results, error)
}

type Reconciler interface {
	Run(ctx context.Context, repair bool) (*models.Report, error)
}

// Handler publishes results and lets admins trigger reconciliation.
type Handler struct {
	service    Service
	reconciler Reconciler
	logger     *slog.Logger
}

func New(service Service, reconciler Reconciler, logger *slog.Logger) *Handler {
	return &Handler{service: service, reconciler: reconciler, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/results", h.handleResults)
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/reconcile", h.handleReconcile)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	results, err := h.service.Results(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "results failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, results)
}

// handleReconcile runs one pass. ?repair=true rewrites drifting counters.
func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repair := false
	if v := r.URL.Query().Get("repair"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			httputil.WriteError(w, dErrors.NewValidation(dErrors.FieldError{Field: "repair", Message: "must be true or false"}))
			return
		}
		repair = parsed
	}
	report, err := h.reconciler.Run(ctx, repair)
	if err != nil {
		h.logger.ErrorContext(ctx, "reconcile failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
