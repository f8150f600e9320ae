package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"hustings/internal/ballot/models"
	"hustings/internal/ballot/session"
	"hustings/internal/candidate"
	settingsmodels "hustings/internal/settings/models"
	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/httputil"
	"hustings/pkg/requestcontext"
)

// Service is the ballot behaviour the HTTP layer needs.
type Service interface {
	Ballot(ctx context.Context) (candidate.Slate, settingsmodels.OpenPositions, error)
	Submit(ctx context.Context, draft models.Draft) (*models.Receipt, error)
	Summary(ctx context.Context) (*models.Summary, error)
}

// BallotRequest carries the voter's token and choices. Votes maps a position
// to a candidate id; an empty id leaves the position blank.
type BallotRequest struct {
	Token          string            `json:"token"`
	Votes          map[string]string `json:"votes"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

// SubmitResponse is the receipt plus the session state it left behind.
type SubmitResponse struct {
	*models.Receipt
	State session.State `json:"state"`
}

// Handler drives a ballot session per request. Nothing is held between
// requests; the token re-authenticates every call.
type Handler struct {
	service   Service
	validator session.Validator
	logger    *slog.Logger
}

func New(service Service, validator session.Validator, logger *slog.Logger) *Handler {
	return &Handler{service: service, validator: validator, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/ballot", h.handleView)
	r.Post("/ballot/review", h.handleReview)
	r.Post("/ballot/submit", h.handleSubmit)
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/ballots", h.handleSummary)
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, err := h.open(ctx, r.URL.Query().Get("token"))
	if err != nil {
		h.fail(ctx, w, "open ballot", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess.View())
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, _, err := h.compose(r)
	if err != nil {
		h.fail(ctx, w, "review ballot", err)
		return
	}
	if _, err := sess.Review(); err != nil {
		h.fail(ctx, w, "review ballot", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess.View())
}

// handleSubmit answers 201 for a new ballot, 200 for a replay and 202 when
// the ballot was stored but its counting is left to reconciliation.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, req, err := h.compose(r)
	if err != nil {
		h.fail(ctx, w, "submit ballot", err)
		return
	}
	if _, err := sess.Review(); err != nil {
		h.fail(ctx, w, "submit ballot", err)
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}
	receipt, err := sess.Submit(ctx, h.service, key)
	if err != nil && !(dErrors.HasCode(err, dErrors.CodePartialCommit) && receipt != nil) {
		h.fail(ctx, w, "submit ballot", err)
		return
	}

	status := http.StatusCreated
	switch {
	case err != nil:
		status = http.StatusAccepted
	case receipt.Replayed:
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, SubmitResponse{Receipt: receipt, State: sess.State()})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.fail(r.Context(), w, "ballot summary", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// open authenticates token and presents the current ballot.
func (h *Handler) open(ctx context.Context, token string) (*session.Session, error) {
	sess := session.New()
	if err := sess.Authenticate(ctx, h.validator, token); err != nil {
		return nil, err
	}
	slate, open, err := h.service.Ballot(ctx)
	if err != nil {
		return nil, err
	}
	if err := sess.Present(slate, open); err != nil {
		return nil, err
	}
	return sess, nil
}

// compose decodes the request, opens a session and applies every vote.
// All bad votes are reported together.
func (h *Handler) compose(r *http.Request) (*session.Session, BallotRequest, error) {
	var req BallotRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		return nil, req, err
	}
	if req.Token == "" {
		req.Token = r.URL.Query().Get("token")
	}
	sess, err := h.open(r.Context(), req.Token)
	if err != nil {
		return nil, req, err
	}

	keys := make([]string, 0, len(req.Votes))
	for k := range req.Votes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var fields []dErrors.FieldError
	for _, k := range keys {
		raw := req.Votes[k]
		if raw == "" {
			continue
		}
		field := "votes." + k
		p, err := domain.ParsePosition(k)
		if err != nil {
			fields = append(fields, dErrors.FieldError{Field: field, Message: "unknown position"})
			continue
		}
		id, err := domain.ParseNominationID(raw)
		if err != nil {
			fields = append(fields, dErrors.FieldError{Field: field, Message: "must be a candidate id"})
			continue
		}
		if err := sess.Select(p, id); err != nil {
			if !dErrors.HasCode(err, dErrors.CodeValidation) {
				return nil, req, err
			}
			fields = append(fields, dErrors.FieldsOf(err)...)
		}
	}
	if len(fields) > 0 {
		return nil, req, dErrors.NewValidation(fields...)
	}
	return sess, req, nil
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
