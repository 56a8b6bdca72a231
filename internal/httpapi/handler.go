// Package httpapi exposes the manual sync trigger, credential management,
// and last-sync status over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"glucosesync/internal/domain"
	"glucosesync/internal/librelink"
)

// Syncer runs one sync attempt with caller-supplied credentials.
type Syncer interface {
	RunSync(ctx context.Context, creds domain.Credentials) (*domain.SyncStats, error)
}

// CredentialStore persists the account secrets.
type CredentialStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
}

// SyncStateStore reads the last-sync high-water mark for display.
type SyncStateStore interface {
	Get(ctx context.Context, sourceID string) (*domain.SyncState, error)
}

// TransactionManager brackets the paired credential write.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Handler struct {
	syncer    Syncer
	creds     CredentialStore
	syncState SyncStateStore
	txManager TransactionManager
	logger    *slog.Logger
}

func NewHandler(
	syncer Syncer,
	creds CredentialStore,
	syncState SyncStateStore,
	txManager TransactionManager,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		syncer:    syncer,
		creds:     creds,
		syncState: syncState,
		txManager: txManager,
		logger:    logger,
	}
}

// Routes returns the API router. Manual sync requests are deliberately not
// serialized against each other; overlapping runs each open their own
// session and the sink deduplicates the writes.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", h.healthz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/sync", h.runSync)
		r.Put("/credentials", h.putCredentials)
		r.Get("/status", h.status)
	})

	return r
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	stats, err := h.syncer.RunSync(r.Context(), domain.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.logger.Error("manual sync failed", "error", err)
		writeJSON(w, syncErrorStatus(err), errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) putCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: domain.ErrMissingCredentials.Error()})
		return
	}

	// Replace the pair atomically: a background firing must never observe a
	// new email with an old password.
	err := h.txManager.WithTransaction(r.Context(), func(ctx context.Context) error {
		if err := h.creds.Set(ctx, domain.KeyUserEmail, req.Email); err != nil {
			return err
		}
		return h.creds.Set(ctx, domain.KeyUserPassword, req.Password)
	})
	if err != nil {
		h.logger.Error("store credentials failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to store credentials"})
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	LastSyncDate float64 `json:"lastSyncDate"`
	TotalSynced  int64   `json:"totalSynced"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	state, err := h.syncState.Get(r.Context(), domain.SourceID)
	if err != nil {
		h.logger.Error("read sync state failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read sync state"})
		return
	}

	resp := statusResponse{TotalSynced: state.TotalSynced}
	if !state.LastSyncedAt.IsZero() {
		resp.LastSyncDate = float64(state.LastSyncedAt.UnixMilli()) / 1000
	}

	writeJSON(w, http.StatusOK, resp)
}

// syncErrorStatus maps the deepest surfaced error to an HTTP status.
func syncErrorStatus(err error) int {
	if errors.Is(err, domain.ErrMissingCredentials) {
		return http.StatusBadRequest
	}
	var apiErr *librelink.APIError
	if errors.As(err, &apiErr) {
		return http.StatusBadGateway
	}
	var transportErr *librelink.TransportError
	if errors.As(err, &transportErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
