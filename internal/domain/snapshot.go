package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ConfigSnapshot is a named, immutable point-in-time capture of all active
// configuration. SnapshotData maps entity type to the ordered list of active
// entities at the capture's consistent-read point.
type ConfigSnapshot struct {
	ID           uuid.UUID       `json:"id"`
	VersionName  string          `json:"version_name"`
	Description  string          `json:"description,omitempty"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	SnapshotData json.RawMessage `json:"snapshot_data"`
}

// ValidateVersionName checks the snapshot name constraint shared by the
// manager and the API layer.
func ValidateVersionName(name string) error {
	if l := len(name); l < 1 || l > 100 {
		return &ValidationError{Field: "version_name", Reason: "must be between 1 and 100 characters"}
	}
	return nil
}
