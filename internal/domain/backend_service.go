package domain

import (
	"fmt"
	"net/url"
)

// BackendService is an upstream service the proxy forwards traffic to.
type BackendService struct {
	Meta
	Name                       string  `json:"name"`
	Description                *string `json:"description,omitempty"`
	BaseURL                    string  `json:"base_url"`
	HealthCheckURL             *string `json:"health_check_url,omitempty"`
	HealthCheckIntervalSeconds *int    `json:"health_check_interval_seconds,omitempty"`
	TimeoutMs                  *int    `json:"timeout_ms,omitempty"`
}

func (s *BackendService) Type() EntityType { return TypeBackendService }

func (s *BackendService) References() []Reference { return nil }

func (s *BackendService) Validate() error {
	if l := len(s.Name); l < 1 || l > 100 {
		return &ValidationError{Field: "name", Reason: "must be between 1 and 100 characters"}
	}
	if err := validateHTTPURL(s.BaseURL); err != nil {
		return &ValidationError{Field: "base_url", Reason: err.Error()}
	}
	if s.HealthCheckURL != nil {
		if err := validateHTTPURL(*s.HealthCheckURL); err != nil {
			return &ValidationError{Field: "health_check_url", Reason: err.Error()}
		}
	}
	if s.HealthCheckIntervalSeconds != nil {
		if v := *s.HealthCheckIntervalSeconds; v < 10 || v > 3600 {
			return &ValidationError{Field: "health_check_interval_seconds", Reason: "must be between 10 and 3600"}
		}
	}
	if s.TimeoutMs != nil {
		if v := *s.TimeoutMs; v < 100 || v > 60000 {
			return &ValidationError{Field: "timeout_ms", Reason: "must be between 100 and 60000"}
		}
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("not a valid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
