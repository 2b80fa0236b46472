package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fieldsync/internal/config"
	"fieldsync/internal/store"
	"fieldsync/internal/sync"
)

type Handler struct {
	engine *sync.Engine
	cfg    config.ServerConfig
}

func NewHandler(engine *sync.Engine, cfg config.ServerConfig) *Handler {
	return &Handler{
		engine: engine,
		cfg:    cfg,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/mutations", h.EnqueueMutation)
		r.Get("/mutations", h.ListMutations)
		r.Get("/snapshot", h.GetSnapshot)
		r.Post("/sync/trigger", h.TriggerSync)
		r.Get("/sync/status", h.GetSyncStatus)
		r.Get("/sync/history", h.GetSyncHistory)
		r.Get("/conflicts", h.ListConflicts)
		r.Post("/conflicts/{id}/resolve", h.ResolveConflict)
	})

	r.With(h.AuthMiddleware).Get("/ws", h.Watch)

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type enqueueRequest struct {
	EntityType  string          `json:"entityType"`
	EntityID    string          `json:"entityId"`
	Operation   string          `json:"operation"`
	Payload     json.RawMessage `json:"payload"`
	BaseVersion string          `json:"baseVersion"`
}

func (h *Handler) EnqueueMutation(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.engine.EnqueueMutation(r.Context(), req.EntityType, req.EntityID, store.Operation(req.Operation), req.Payload, req.BaseVersion)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (h *Handler) ListMutations(w http.ResponseWriter, r *http.Request) {
	pending, err := h.engine.ListPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"mutations": pending})
}

func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.GetSnapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(snap)
}

func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RetryNow(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	state := h.engine.ConnectionState()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"connection": state,
		"draining":   h.engine.Draining(),
	})
}

func (h *Handler) GetSyncHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	history, err := h.engine.ListHistory(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"history": history})
}

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.GetSnapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"conflicts": snap.Conflicts})
}

type resolveRequest struct {
	Strategy      string          `json:"strategy"`
	MergedPayload json.RawMessage `json:"mergedPayload,omitempty"`
}

func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	err := h.engine.ResolveConflict(r.Context(), conflictID, sync.Strategy(req.Strategy), req.MergedPayload)
	if err != nil {
		writeError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "resolved"})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation),
		errors.Is(err, sync.ErrUnknownStrategy),
		errors.Is(err, sync.ErrMergeRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, sync.ErrNotOnline),
		errors.Is(err, sync.ErrConflictResolved):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware checks the configured bearer token. Browsers cannot set
// headers on WebSocket upgrades, so a token query parameter is accepted too.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			token = r.URL.Query().Get("token")
		}
		if token != h.cfg.AuthToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
