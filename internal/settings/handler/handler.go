package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"hustings/internal/settings/models"
	"hustings/pkg/domain"
	"hustings/pkg/platform/httputil"
	"hustings/pkg/requestcontext"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Service interface {
	Get(ctx context.Context) (models.OpenPositions, error)
	Set(ctx context.Context, changes map[string]bool) (models.OpenPositions, error)
	Subscribe(ctx context.Context) (<-chan models.OpenPositions, error)
}

// Handler exposes the voting window to admins and streams it to voters.
type Handler struct {
	service  Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Snapshot is the wire shape of the voting window.
type Snapshot struct {
	Open      []domain.Position        `json:"open"`
	Positions map[domain.Position]bool `json:"positions"`
}

func snapshot(open models.OpenPositions) Snapshot {
	s := Snapshot{Open: open.Open(), Positions: open.Complete()}
	if s.Open == nil {
		s.Open = []domain.Position{}
	}
	return s
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/ballot/open-positions", h.handleGet)
	r.Get("/ballot/open-positions/stream", h.handleStream)
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/voting-settings", h.handleGet)
	r.Put("/voting-settings", h.handleSet)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	open, err := h.service.Get(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot(open))
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	var changes map[string]bool
	if err := httputil.DecodeJSON(r, &changes); err != nil {
		httputil.WriteError(w, err)
		return
	}
	open, err := h.service.Set(r.Context(), changes)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot(open))
}

// handleStream upgrades to a websocket and pushes a Snapshot on connect and
// after every change. Client messages are ignored.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	updates, err := h.service.Subscribe(ctx)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return
	}
	defer conn.Close()

	go h.readPump(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case open, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snapshot(open)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed,
// and cancels the stream when the peer goes away.
func (h *Handler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
