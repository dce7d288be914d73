package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/karateway/controlplane/internal/domain"
	"github.com/karateway/controlplane/internal/export"
)

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter domain.AuditFilter
	if tn := q.Get("table_name"); tn != "" {
		t, err := domain.ParseEntityType(tn)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.TableName = t
	}
	if rid := q.Get("record_id"); rid != "" {
		id, err := uuid.Parse(rid)
		if err != nil {
			writeError(w, &domain.ValidationError{Field: "record_id", Reason: "must be a UUID"})
			return
		}
		filter.RecordID = id
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, &domain.ValidationError{Field: "since", Reason: "must be RFC3339"})
			return
		}
		filter.Since = ts
	}
	if until := q.Get("until"); until != "" {
		ts, err := time.Parse(time.RFC3339, until)
		if err != nil {
			writeError(w, &domain.ValidationError{Field: "until", Reason: "must be RFC3339"})
			return
		}
		filter.Until = ts
	}

	records, err := s.trail.List(r.Context(), filter, pageFrom(q.Get("limit"), q.Get("offset")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type createSnapshotRequest struct {
	VersionName string `json:"version_name"`
	Description string `json:"description"`
}

func (s *Server) createSnapshot(w http.ResponseWriter, r *http.Request) {
	var req createSnapshotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.snapshots.Create(r.Context(), req.VersionName, req.Description, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id.String(), "version_name": req.VersionName})
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshots.Get(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	snaps, err := s.snapshots.List(r.Context(), pageFrom(q.Get("limit"), q.Get("offset")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) exportSnapshot(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	snap, err := s.snapshots.Get(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.xlsx"`)
	if err := export.SnapshotWorkbook(snap, w); err != nil {
		s.logger.Error("snapshot export failed", zap.Error(err))
	}
}

func pageFrom(limitStr, offsetStr string) domain.Page {
	var page domain.Page
	if limitStr != "" {
		if v, err := strconv.Atoi(limitStr); err == nil {
			page.Limit = v
		}
	}
	if offsetStr != "" {
		if v, err := strconv.Atoi(offsetStr); err == nil {
			page.Offset = v
		}
	}
	return page.Normalize()
}
