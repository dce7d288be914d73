package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies one of the five configuration entity kinds. The values
// double as the table names recorded in audit entries.
type EntityType string

const (
	TypeBackendService     EntityType = "backend_services"
	TypeApiRoute           EntityType = "api_routes"
	TypeRateLimitPolicy    EntityType = "rate_limits"
	TypeWhitelistRule      EntityType = "whitelist_rules"
	TypeLoadBalancerConfig EntityType = "load_balancer_config"
)

// EntityTypes lists every entity type in dependency order: parents before the
// types that may reference them.
var EntityTypes = []EntityType{
	TypeBackendService,
	TypeApiRoute,
	TypeRateLimitPolicy,
	TypeWhitelistRule,
	TypeLoadBalancerConfig,
}

// ParseEntityType validates a wire-level entity type string.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range EntityTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", &ValidationError{Field: "entity_type", Reason: fmt.Sprintf("unknown entity type %q", s)}
}

// Operation is the kind of mutation applied to an entity.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Meta carries the fields shared by every entity variant.
type Meta struct {
	ID        uuid.UUID `json:"id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *Meta) EntityID() uuid.UUID { return m.ID }
func (m *Meta) Active() bool        { return m.IsActive }
func (m *Meta) Created() time.Time  { return m.CreatedAt }
func (m *Meta) Updated() time.Time  { return m.UpdatedAt }
func (m *Meta) meta() *Meta         { return m }

// Reference points at a parent entity a child depends on.
type Reference struct {
	Type EntityType
	ID   uuid.UUID
}

// Entity is one of the five configuration variants. The unexported meta method
// seals the interface: only the variants in this package satisfy it, which is
// the structural guarantee that every write carries a known shape through the
// gateway.
type Entity interface {
	EntityID() uuid.UUID
	Type() EntityType
	Active() bool
	Created() time.Time
	Updated() time.Time

	// Validate checks payload shape and field ranges, before any storage access.
	Validate() error
	// References returns the parent entities this entity requires to exist.
	References() []Reference

	meta() *Meta
}

// Initialize stamps a freshly created entity: a new identifier, creation
// timestamps, and active by default. Identifiers are random UUIDs and are
// never reused after deletion.
func Initialize(e Entity, now time.Time) {
	m := e.meta()
	m.ID = uuid.New()
	m.IsActive = true
	m.CreatedAt = now.UTC()
	m.UpdatedAt = now.UTC()
}

// Touch carries forward immutable metadata from the stored entity onto an
// updated payload and bumps the update timestamp.
func Touch(e Entity, current Entity, now time.Time) {
	m := e.meta()
	m.ID = current.EntityID()
	m.CreatedAt = current.meta().CreatedAt
	m.UpdatedAt = now.UTC()
}

// CloneEntity returns a deep copy so stored state never aliases caller state.
func CloneEntity(e Entity) Entity {
	switch v := e.(type) {
	case *BackendService:
		c := *v
		return &c
	case *ApiRoute:
		c := *v
		return &c
	case *RateLimitPolicy:
		c := *v
		return &c
	case *WhitelistRule:
		c := *v
		c.Config = v.Config.clone()
		return &c
	case *LoadBalancerConfig:
		c := *v
		return &c
	}
	return nil
}

// NewEntity returns a zero value of the given variant, used when decoding
// payloads from storage or the wire.
func NewEntity(t EntityType) (Entity, error) {
	switch t {
	case TypeBackendService:
		return &BackendService{}, nil
	case TypeApiRoute:
		return &ApiRoute{}, nil
	case TypeRateLimitPolicy:
		return &RateLimitPolicy{}, nil
	case TypeWhitelistRule:
		return &WhitelistRule{}, nil
	case TypeLoadBalancerConfig:
		return &LoadBalancerConfig{}, nil
	}
	return nil, fmt.Errorf("unknown entity type %q", t)
}

// DecodeEntity unmarshals a stored JSON state into its typed variant.
func DecodeEntity(t EntityType, data []byte) (Entity, error) {
	e, err := NewEntity(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s state: %w", t, err)
	}
	return e, nil
}

// EncodeEntity marshals an entity into the JSON form persisted in audit
// records and snapshots.
func EncodeEntity(e Entity) (json.RawMessage, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s state: %w", e.Type(), err)
	}
	return data, nil
}
