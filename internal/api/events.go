package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/karateway/controlplane/internal/domain"
	"github.com/karateway/controlplane/internal/feed"
)

// streamEvents bridges the change feed onto a server-sent-events response.
// The types query parameter narrows the subscription ("?types=api_routes,
// backend_services"); no parameter means every type. A subscriber that falls
// behind is disconnected with a terminal resync event and must reconnect and
// re-fetch current state.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var types []domain.EntityType
	if raw := r.URL.Query().Get("types"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			t, err := domain.ParseEntityType(strings.TrimSpace(name))
			if err != nil {
				writeError(w, err)
				return
			}
			types = append(types, t)
		}
	}

	sub, err := s.feed.Subscribe(types...)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				if errors.Is(sub.Err(), feed.ErrBacklogExceeded) {
					// Terminal: the client must reconnect and resync.
					_, _ = w.Write([]byte("event: resync_required\ndata: {}\n\n"))
					flusher.Flush()
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to encode change event", zap.Error(err))
				continue
			}
			if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
