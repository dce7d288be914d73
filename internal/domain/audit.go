package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one committed mutation in the append-only trail. Records are
// immutable once written; per entity type their sequence numbers are strictly
// increasing with no gaps.
type AuditRecord struct {
	ID          uuid.UUID       `json:"id"`
	TableName   EntityType      `json:"table_name"`
	RecordID    uuid.UUID       `json:"record_id"`
	Operation   Operation       `json:"operation"`
	OldState    json.RawMessage `json:"old_state,omitempty"`
	NewState    json.RawMessage `json:"new_state,omitempty"`
	Actor       string          `json:"actor"`
	Sequence    int64           `json:"sequence"`
	CommittedAt time.Time       `json:"committed_at"`
}

// AuditFilter narrows an audit listing. Zero-value fields match everything.
type AuditFilter struct {
	TableName EntityType
	RecordID  uuid.UUID
	Since     time.Time
	Until     time.Time
}

// Page is a limit/offset window over a listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps a page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 200
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ChangeEvent notifies subscribers that an entity changed. It carries
// identifying metadata only, never entity payloads: subscribers re-fetch
// authoritative state, which is what makes resync-after-disconnect sufficient.
type ChangeEvent struct {
	EntityType  EntityType `json:"entity_type"`
	RecordID    uuid.UUID  `json:"record_id"`
	Operation   Operation  `json:"operation"`
	Sequence    int64      `json:"sequence"`
	CommittedAt time.Time  `json:"committed_at"`
}
