package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWhitelistRule(t RuleType, cfg RuleConfig) *WhitelistRule {
	return &WhitelistRule{
		RuleName: "rule-under-test",
		RuleType: t,
		Config:   cfg,
	}
}

func TestWhitelistRuleConfigVariants(t *testing.T) {
	cases := []struct {
		name string
		rule *WhitelistRule
	}{
		{"ip", validWhitelistRule(RuleIP, RuleConfig{
			IP: &IPRuleConfig{CIDRs: []string{"10.0.0.0/8", "192.168.1.0/24"}},
		})},
		{"api key", validWhitelistRule(RuleAPIKey, RuleConfig{
			APIKey: &APIKeyRuleConfig{KeyHashes: []string{"sha256:abcd"}},
		})},
		{"jwt", validWhitelistRule(RuleJWT, RuleConfig{
			JWT: &JWTRuleConfig{Issuer: "https://auth.example.com", JWKSURL: "https://auth.example.com/jwks.json"},
		})},
		{"custom", validWhitelistRule(RuleCustom, RuleConfig{
			Custom: &CustomRuleConfig{Expression: `header("X-Env") == "staging"`},
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NoError(t, tc.rule.Validate())
		})
	}
}

func TestWhitelistRuleConfigRejectsMismatch(t *testing.T) {
	var verr *ValidationError

	// Variant does not match the declared type.
	rule := validWhitelistRule(RuleIP, RuleConfig{
		Custom: &CustomRuleConfig{Expression: "true"},
	})
	require.ErrorAs(t, rule.Validate(), &verr)
	assert.Equal(t, "config", verr.Field)

	// More than one variant set.
	rule = validWhitelistRule(RuleIP, RuleConfig{
		IP:     &IPRuleConfig{CIDRs: []string{"10.0.0.0/8"}},
		Custom: &CustomRuleConfig{Expression: "true"},
	})
	require.ErrorAs(t, rule.Validate(), &verr)

	// No variant at all.
	rule = validWhitelistRule(RuleJWT, RuleConfig{})
	require.ErrorAs(t, rule.Validate(), &verr)
}

func TestWhitelistRuleConfigFieldChecks(t *testing.T) {
	cases := []struct {
		name string
		rule *WhitelistRule
	}{
		{"bad cidr", validWhitelistRule(RuleIP, RuleConfig{
			IP: &IPRuleConfig{CIDRs: []string{"10.0.0.0/33"}},
		})},
		{"empty cidrs", validWhitelistRule(RuleIP, RuleConfig{
			IP: &IPRuleConfig{},
		})},
		{"empty key hashes", validWhitelistRule(RuleAPIKey, RuleConfig{
			APIKey: &APIKeyRuleConfig{},
		})},
		{"missing issuer", validWhitelistRule(RuleJWT, RuleConfig{
			JWT: &JWTRuleConfig{JWKSURL: "https://auth.example.com/jwks.json"},
		})},
		{"bad jwks url", validWhitelistRule(RuleJWT, RuleConfig{
			JWT: &JWTRuleConfig{Issuer: "https://auth.example.com", JWKSURL: "not-a-url"},
		})},
		{"blank expression", validWhitelistRule(RuleCustom, RuleConfig{
			Custom: &CustomRuleConfig{Expression: "   "},
		})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var verr *ValidationError
			require.ErrorAs(t, tc.rule.Validate(), &verr)
			assert.Equal(t, "config", verr.Field)
		})
	}
}
