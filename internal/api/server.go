// Package api exposes the administrative REST surface: entity CRUD through
// the mutation gateway, audit listing, snapshot management, and the change
// event stream. Authentication is out of scope; the opaque X-Actor header is
// recorded as the audit actor.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/karateway/controlplane/internal/audit"
	"github.com/karateway/controlplane/internal/domain"
	"github.com/karateway/controlplane/internal/feed"
	"github.com/karateway/controlplane/internal/gateway"
	"github.com/karateway/controlplane/internal/snapshot"
	"github.com/karateway/controlplane/internal/store"
)

var typeBySegment = map[string]domain.EntityType{
	"services":        domain.TypeBackendService,
	"routes":          domain.TypeApiRoute,
	"rate-limits":     domain.TypeRateLimitPolicy,
	"whitelist-rules": domain.TypeWhitelistRule,
	"load-balancers":  domain.TypeLoadBalancerConfig,
}

// Server holds the handler dependencies.
type Server struct {
	gateway   *gateway.Gateway
	store     store.Store
	trail     *audit.Trail
	snapshots *snapshot.Manager
	feed      *feed.Feed
	logger    *zap.Logger
}

// NewServer wires the admin API.
func NewServer(g *gateway.Gateway, s store.Store, t *audit.Trail, sm *snapshot.Manager, f *feed.Feed, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{gateway: g, store: s, trail: t, snapshots: sm, feed: f, logger: logger}
}

// Handler returns the routed admin API wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	for segment := range typeBySegment {
		prefix := "/api/" + segment
		mux.HandleFunc("POST "+prefix, s.createEntity(segment))
		mux.HandleFunc("GET "+prefix, s.listEntities(segment))
		mux.HandleFunc("GET "+prefix+"/{id}", s.getEntity(segment))
		mux.HandleFunc("PUT "+prefix+"/{id}", s.updateEntity(segment))
		mux.HandleFunc("DELETE "+prefix+"/{id}", s.deleteEntity(segment))
	}

	mux.HandleFunc("GET /api/audit", s.listAudit)
	mux.HandleFunc("POST /api/snapshots", s.createSnapshot)
	mux.HandleFunc("GET /api/snapshots", s.listSnapshots)
	mux.HandleFunc("GET /api/snapshots/{name}", s.getSnapshot)
	mux.HandleFunc("GET /api/snapshots/{name}/export", s.exportSnapshot)
	mux.HandleFunc("GET /api/events", s.streamEvents)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return LoggingMiddleware(s.logger, mux)
}

func actorFrom(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "anonymous"
}

func (s *Server) createEntity(segment string) http.HandlerFunc {
	t := typeBySegment[segment]
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := domain.NewEntity(t)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(payload); err != nil {
			writeError(w, &domain.ValidationError{Field: "body", Reason: fmt.Sprintf("invalid JSON: %v", err)})
			return
		}
		created, err := s.gateway.Create(r.Context(), payload, actorFrom(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func (s *Server) listEntities(segment string) http.HandlerFunc {
	t := typeBySegment[segment]
	return func(w http.ResponseWriter, r *http.Request) {
		activeOnly := r.URL.Query().Get("active") == "true"
		entities, err := s.store.ListEntities(r.Context(), t, activeOnly)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entities)
	}
}

func (s *Server) getEntity(segment string) http.HandlerFunc {
	t := typeBySegment[segment]
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, &domain.ValidationError{Field: "id", Reason: "must be a UUID"})
			return
		}
		e, err := s.store.GetEntity(r.Context(), t, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

// updateEntity folds a sparse JSON patch onto the stored state before running
// it through the gateway, so clients can send only the fields they change.
func (s *Server) updateEntity(segment string) http.HandlerFunc {
	t := typeBySegment[segment]
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, &domain.ValidationError{Field: "id", Reason: "must be a UUID"})
			return
		}
		current, err := s.store.GetEntity(r.Context(), t, id)
		if err != nil {
			writeError(w, err)
			return
		}

		var patch map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeError(w, &domain.ValidationError{Field: "body", Reason: fmt.Sprintf("invalid JSON: %v", err)})
			return
		}
		merged, err := mergeEntity(current, patch)
		if err != nil {
			writeError(w, err)
			return
		}

		updated, err := s.gateway.Update(r.Context(), merged, actorFrom(r))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

func (s *Server) deleteEntity(segment string) http.HandlerFunc {
	t := typeBySegment[segment]
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, &domain.ValidationError{Field: "id", Reason: "must be a UUID"})
			return
		}
		if err := s.gateway.Delete(r.Context(), t, id, actorFrom(r)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// mergeEntity overlays top-level patch fields on the current state. The
// identity stays the one the request path addressed: a patch cannot retarget
// the write at another record by carrying its own id.
func mergeEntity(current domain.Entity, patch map[string]json.RawMessage) (domain.Entity, error) {
	base, err := domain.EncodeEntity(current)
	if err != nil {
		return nil, err
	}
	var full map[string]json.RawMessage
	if err := json.Unmarshal(base, &full); err != nil {
		return nil, fmt.Errorf("failed to decode current state: %w", err)
	}
	for k, v := range patch {
		full[k] = v
	}
	id, err := json.Marshal(current.EntityID())
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity id: %w", err)
	}
	full["id"] = id
	merged, err := json.Marshal(full)
	if err != nil {
		return nil, fmt.Errorf("failed to merge update: %w", err)
	}
	e, err := domain.DecodeEntity(current.Type(), merged)
	if err != nil {
		return nil, &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return e, nil
}
