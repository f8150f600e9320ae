package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hustings/internal/nomination/models"
	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/httputil"
	"hustings/pkg/requestcontext"
)

// Service is the nomination behaviour the HTTP layer needs.
type Service interface {
	Create(ctx context.Context, req *models.NominationRequest) (*models.Nomination, error)
	BulkImport(ctx context.Context, rows []json.RawMessage) (*models.BulkReport, error)
	Get(ctx context.Context, id domain.NominationID) (*models.Nomination, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Nomination, error)
	Stats(ctx context.Context) (models.Stats, error)
	SetStatus(ctx context.Context, id domain.NominationID, to models.Status) (*models.Nomination, error)
	SetAcceptance(ctx context.Context, id domain.NominationID, token string, decision models.Acceptance) (*models.Nomination, error)
	AcceptanceLink(ctx context.Context, id domain.NominationID) (string, error)
}

// Handler serves nomination intake, acceptance and admin review.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the public nominee-facing routes.
func (h *Handler) Register(r chi.Router) {
	r.Post("/nominations", h.handleCreate)
	r.Post("/nominations/{id}/acceptance", h.handleAcceptance)
}

// RegisterAdmin mounts review routes; the caller applies the admin gate.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/nominations", h.handleList)
	r.Post("/nominations/bulk", h.handleBulk)
	r.Get("/nominations/stats", h.handleStats)
	r.Get("/nominations/{id}", h.handleGet)
	r.Put("/nominations/{id}/status", h.handleSetStatus)
	r.Post("/nominations/{id}/acceptance-link", h.handleAcceptanceLink)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req models.NominationRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.service.Create(ctx, &req)
	if err != nil {
		h.fail(ctx, w, "create nomination", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, n)
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var rows []json.RawMessage
	if err := httputil.DecodeJSON(r, &rows); err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.service.BulkImport(ctx, rows)
	if err != nil {
		h.fail(ctx, w, "bulk nomination upload", err)
		return
	}
	status := http.StatusOK
	if report.Failed > 0 && report.Created > 0 {
		status = http.StatusMultiStatus
	} else if report.Created == 0 {
		status = http.StatusUnprocessableEntity
	}
	httputil.WriteJSON(w, status, report)
}

func (h *Handler) handleAcceptance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req models.AcceptanceRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	decision, err := models.ParseDecision(req.Decision)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	n, err := h.service.SetAcceptance(ctx, id, r.URL.Query().Get("token"), decision)
	if err != nil {
		h.fail(ctx, w, "record acceptance", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"id":               n.ID,
		"acceptanceStatus": n.AcceptanceStatus,
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	noms, err := h.service.List(ctx, filter)
	if err != nil {
		h.fail(ctx, w, "list nominations", err)
		return
	}
	if noms == nil {
		noms = []*models.Nomination{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"nominations": noms, "count": len(noms)})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "nomination stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	n, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "get nomination", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req models.StatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		httputil.WriteError(w, dErrors.NewValidation(dErrors.FieldError{Field: "status", Message: "must be approved or rejected"}))
		return
	}
	n, err := h.service.SetStatus(ctx, id, status)
	if err != nil {
		h.fail(ctx, w, "set nomination status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n)
}

func (h *Handler) handleAcceptanceLink(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	link, err := h.service.AcceptanceLink(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "acceptance link", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"link": link})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (domain.NominationID, bool) {
	id, err := domain.ParseNominationID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return domain.NominationID{}, false
	}
	return id, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func parseFilter(r *http.Request) (models.Filter, error) {
	q := r.URL.Query()
	f := models.Filter{Query: q.Get("q")}
	if v := q.Get("position"); v != "" {
		p, err := domain.ParsePosition(v)
		if err != nil {
			return f, err
		}
		f.Position = p
	}
	if v := q.Get("status"); v != "" {
		st, err := models.ParseStatus(v)
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	if v := q.Get("acceptance"); v != "" {
		a := models.Acceptance(v)
		if !a.IsValid() {
			return f, dErrors.New(dErrors.CodeInvalidInput, "unknown acceptance status: "+v)
		}
		f.Acceptance = a
	}
	return f, nil
}
