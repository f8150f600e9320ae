// Package handler lets admins import the voter roster and hand out the
// personal ballot links derived from it.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hustings/internal/roster"
	"hustings/internal/roster/models"
	"hustings/internal/votertoken"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/httputil"
	"hustings/pkg/requestcontext"
)

// Store is the roster store: it takes imports and lists eligible voters.
type Store interface {
	roster.Writer
	ListApproved(ctx context.Context) ([]models.Voter, error)
}

type Handler struct {
	store   Store
	baseURL string
	logger  *slog.Logger
}

func New(store Store, baseURL string, logger *slog.Logger) *Handler {
	return &Handler{store: store, baseURL: baseURL, logger: logger}
}

// Register adds nothing: voters reach the ballot through their links.
func (h *Handler) Register(chi.Router) {}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/roster", h.handleImport)
	r.Get("/voter-links", h.handleLinks)
}

type importResponse struct {
	Voters int `json:"voters"`
}

func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, 8<<20)
	n, err := roster.Load(ctx, r.Body, h.store)
	if err != nil {
		h.logger.WarnContext(ctx, "roster import failed",
			"request_id", requestcontext.RequestID(ctx),
			"admin", requestcontext.AdminSubject(ctx),
			"imported", n,
			"error", err,
		)
		if n == 0 {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "roster must be a JSON array of organizations"))
			return
		}
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "roster import stopped part way"))
		return
	}
	h.logger.InfoContext(ctx, "roster imported",
		"request_id", requestcontext.RequestID(ctx),
		"admin", requestcontext.AdminSubject(ctx),
		"voters", n,
	)
	httputil.WriteJSON(w, http.StatusOK, importResponse{Voters: n})
}

func (h *Handler) handleLinks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	voters, err := h.store.ListApproved(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "voter roster lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeUnavailable, "voter roster unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, votertoken.Links(h.baseURL, voters))
}
