package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// HTTPMethod is the request method an ApiRoute matches.
type HTTPMethod string

const (
	MethodGet     HTTPMethod = "GET"
	MethodPost    HTTPMethod = "POST"
	MethodPut     HTTPMethod = "PUT"
	MethodDelete  HTTPMethod = "DELETE"
	MethodPatch   HTTPMethod = "PATCH"
	MethodHead    HTTPMethod = "HEAD"
	MethodOptions HTTPMethod = "OPTIONS"
)

var httpMethods = map[HTTPMethod]bool{
	MethodGet: true, MethodPost: true, MethodPut: true, MethodDelete: true,
	MethodPatch: true, MethodHead: true, MethodOptions: true,
}

// ParseHTTPMethod normalizes and validates a method string.
func ParseHTTPMethod(s string) (HTTPMethod, error) {
	m := HTTPMethod(strings.ToUpper(s))
	if !httpMethods[m] {
		return "", fmt.Errorf("invalid HTTP method %q", s)
	}
	return m, nil
}

// ApiRoute maps a path pattern and method onto a backend service.
type ApiRoute struct {
	Meta
	PathPattern        string     `json:"path_pattern"`
	Method             HTTPMethod `json:"method"`
	BackendServiceID   uuid.UUID  `json:"backend_service_id"`
	StripPathPrefix    bool       `json:"strip_path_prefix"`
	PreserveHostHeader bool       `json:"preserve_host_header"`
	TimeoutMs          *int       `json:"timeout_ms,omitempty"`
	Priority           int        `json:"priority"`
}

func (r *ApiRoute) Type() EntityType { return TypeApiRoute }

func (r *ApiRoute) References() []Reference {
	return []Reference{{Type: TypeBackendService, ID: r.BackendServiceID}}
}

func (r *ApiRoute) Validate() error {
	if l := len(r.PathPattern); l < 1 || l > 500 {
		return &ValidationError{Field: "path_pattern", Reason: "must be between 1 and 500 characters"}
	}
	if !strings.HasPrefix(r.PathPattern, "/") {
		return &ValidationError{Field: "path_pattern", Reason: "must start with '/'"}
	}
	if !httpMethods[r.Method] {
		return &ValidationError{Field: "method", Reason: fmt.Sprintf("invalid HTTP method %q", r.Method)}
	}
	if r.BackendServiceID == uuid.Nil {
		return &ValidationError{Field: "backend_service_id", Reason: "is required"}
	}
	if r.TimeoutMs != nil {
		if v := *r.TimeoutMs; v < 100 || v > 120000 {
			return &ValidationError{Field: "timeout_ms", Reason: "must be between 100 and 120000"}
		}
	}
	return nil
}
