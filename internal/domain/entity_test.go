package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntityType(t *testing.T) {
	for _, known := range EntityTypes {
		got, err := ParseEntityType(string(known))
		require.NoError(t, err)
		assert.Equal(t, known, got)
	}

	_, err := ParseEntityType("widgets")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestParseHTTPMethod(t *testing.T) {
	got, err := ParseHTTPMethod("get")
	require.NoError(t, err)
	assert.Equal(t, MethodGet, got)

	_, err = ParseHTTPMethod("TRACE")
	assert.Error(t, err)
}

func TestInitializeAndTouch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &BackendService{Name: "billing", BaseURL: "http://billing:8080"}

	Initialize(svc, now)
	assert.NotEqual(t, uuid.Nil, svc.ID)
	assert.True(t, svc.IsActive)
	assert.Equal(t, now, svc.CreatedAt)
	assert.Equal(t, now, svc.UpdatedAt)

	later := now.Add(time.Hour)
	edit := &BackendService{Name: "billing", BaseURL: "https://billing:9443"}
	Touch(edit, svc, later)
	assert.Equal(t, svc.ID, edit.ID)
	assert.Equal(t, now, edit.CreatedAt)
	assert.Equal(t, later, edit.UpdatedAt)
}

func TestCloneEntityIsDeep(t *testing.T) {
	rule := &WhitelistRule{
		RuleName: "internal-only",
		RuleType: RuleIP,
		Config:   RuleConfig{IP: &IPRuleConfig{CIDRs: []string{"10.0.0.0/8"}}},
	}
	Initialize(rule, time.Now())

	clone := CloneEntity(rule).(*WhitelistRule)
	clone.Config.IP.CIDRs[0] = "0.0.0.0/0"

	assert.Equal(t, "10.0.0.0/8", rule.Config.IP.CIDRs[0])
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	routeID := uuid.New()
	rule := &WhitelistRule{
		RuleName:   "partners",
		RuleType:   RuleJWT,
		APIRouteID: &routeID,
		Config: RuleConfig{JWT: &JWTRuleConfig{
			Issuer:  "https://auth.example.com",
			JWKSURL: "https://auth.example.com/jwks.json",
		}},
		Priority: 10,
	}
	Initialize(rule, time.Now())

	data, err := EncodeEntity(rule)
	require.NoError(t, err)

	decoded, err := DecodeEntity(TypeWhitelistRule, data)
	require.NoError(t, err)
	assert.Equal(t, rule, decoded)
}

func TestBackendServiceValidation(t *testing.T) {
	interval := 30
	timeout := 5000
	valid := &BackendService{
		Name:                       "billing",
		BaseURL:                    "https://billing.internal:8443",
		HealthCheckIntervalSeconds: &interval,
		TimeoutMs:                  &timeout,
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name  string
		field string
		mod   func(*BackendService)
	}{
		{"empty name", "name", func(s *BackendService) { s.Name = "" }},
		{"bad scheme", "base_url", func(s *BackendService) { s.BaseURL = "ftp://billing" }},
		{"no host", "base_url", func(s *BackendService) { s.BaseURL = "http://" }},
		{"interval too low", "health_check_interval_seconds", func(s *BackendService) { v := 5; s.HealthCheckIntervalSeconds = &v }},
		{"timeout too high", "timeout_ms", func(s *BackendService) { v := 90000; s.TimeoutMs = &v }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := *valid
			tc.mod(&svc)
			var verr *ValidationError
			require.ErrorAs(t, svc.Validate(), &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestApiRouteValidation(t *testing.T) {
	valid := &ApiRoute{
		PathPattern:      "/api/v1/users",
		Method:           MethodGet,
		BackendServiceID: uuid.New(),
	}
	require.NoError(t, valid.Validate())

	noSlash := *valid
	noSlash.PathPattern = "api/v1/users"
	var verr *ValidationError
	require.ErrorAs(t, noSlash.Validate(), &verr)
	assert.Equal(t, "path_pattern", verr.Field)

	noService := *valid
	noService.BackendServiceID = uuid.Nil
	require.ErrorAs(t, noService.Validate(), &verr)
	assert.Equal(t, "backend_service_id", verr.Field)
}

func TestRateLimitPolicyValidation(t *testing.T) {
	valid := &RateLimitPolicy{
		Name:           "default",
		MaxRequests:    1000,
		WindowSeconds:  60,
		IdentifierType: IdentifierIP,
	}
	require.NoError(t, valid.Validate())

	badWindow := *valid
	badWindow.WindowSeconds = 90000
	var verr *ValidationError
	require.ErrorAs(t, badWindow.Validate(), &verr)
	assert.Equal(t, "window_seconds", verr.Field)

	badIdentifier := *valid
	badIdentifier.IdentifierType = "session"
	require.ErrorAs(t, badIdentifier.Validate(), &verr)
	assert.Equal(t, "identifier_type", verr.Field)
}
