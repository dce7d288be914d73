package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// IdentifierType selects what a rate-limit window is keyed on.
type IdentifierType string

const (
	IdentifierIP     IdentifierType = "ip"
	IdentifierAPIKey IdentifierType = "api_key"
	IdentifierUserID IdentifierType = "user_id"
	IdentifierGlobal IdentifierType = "global"
)

var identifierTypes = map[IdentifierType]bool{
	IdentifierIP: true, IdentifierAPIKey: true, IdentifierUserID: true, IdentifierGlobal: true,
}

// RateLimitPolicy describes a request budget for a route, or globally when
// APIRouteID is nil. Enforcement lives in the proxy data path; this record
// only describes the policy.
type RateLimitPolicy struct {
	Meta
	Name           string         `json:"name"`
	APIRouteID     *uuid.UUID     `json:"api_route_id,omitempty"`
	MaxRequests    int            `json:"max_requests"`
	WindowSeconds  int            `json:"window_seconds"`
	IdentifierType IdentifierType `json:"identifier_type"`
	BurstSize      *int           `json:"burst_size,omitempty"`
}

func (p *RateLimitPolicy) Type() EntityType { return TypeRateLimitPolicy }

func (p *RateLimitPolicy) References() []Reference {
	if p.APIRouteID == nil {
		return nil
	}
	return []Reference{{Type: TypeApiRoute, ID: *p.APIRouteID}}
}

func (p *RateLimitPolicy) Validate() error {
	if l := len(p.Name); l < 1 || l > 100 {
		return &ValidationError{Field: "name", Reason: "must be between 1 and 100 characters"}
	}
	if p.MaxRequests < 1 || p.MaxRequests > 1000000 {
		return &ValidationError{Field: "max_requests", Reason: "must be between 1 and 1000000"}
	}
	if p.WindowSeconds < 1 || p.WindowSeconds > 86400 {
		return &ValidationError{Field: "window_seconds", Reason: "must be between 1 and 86400"}
	}
	if !identifierTypes[p.IdentifierType] {
		return &ValidationError{Field: "identifier_type", Reason: fmt.Sprintf("invalid identifier type %q", p.IdentifierType)}
	}
	if p.BurstSize != nil {
		if v := *p.BurstSize; v < 1 || v > 1000000 {
			return &ValidationError{Field: "burst_size", Reason: "must be between 1 and 1000000"}
		}
	}
	if p.APIRouteID != nil && *p.APIRouteID == uuid.Nil {
		return &ValidationError{Field: "api_route_id", Reason: "must be a valid id when set"}
	}
	return nil
}
