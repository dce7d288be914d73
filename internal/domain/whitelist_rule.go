package domain

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// RuleType selects the matching strategy of a whitelist rule.
type RuleType string

const (
	RuleIP     RuleType = "ip"
	RuleAPIKey RuleType = "api_key"
	RuleJWT    RuleType = "jwt"
	RuleCustom RuleType = "custom"
)

// IPRuleConfig whitelists client addresses by CIDR block.
type IPRuleConfig struct {
	CIDRs []string `json:"cidrs"`
}

// APIKeyRuleConfig whitelists requests carrying one of the listed key hashes.
type APIKeyRuleConfig struct {
	KeyHashes []string `json:"key_hashes"`
}

// JWTRuleConfig whitelists requests bearing a token from the given issuer.
type JWTRuleConfig struct {
	Issuer   string `json:"issuer"`
	Audience string `json:"audience,omitempty"`
	JWKSURL  string `json:"jwks_url"`
}

// CustomRuleConfig carries an opaque matcher expression evaluated by the
// proxy data path.
type CustomRuleConfig struct {
	Expression string `json:"expression"`
}

// RuleConfig is a tagged union: exactly the variant matching the rule's type
// is populated. This replaces the free-form JSON config column of earlier
// schemas with per-type checked payloads.
type RuleConfig struct {
	IP     *IPRuleConfig     `json:"ip,omitempty"`
	APIKey *APIKeyRuleConfig `json:"api_key,omitempty"`
	JWT    *JWTRuleConfig    `json:"jwt,omitempty"`
	Custom *CustomRuleConfig `json:"custom,omitempty"`
}

func (c RuleConfig) clone() RuleConfig {
	out := RuleConfig{}
	if c.IP != nil {
		v := IPRuleConfig{CIDRs: append([]string(nil), c.IP.CIDRs...)}
		out.IP = &v
	}
	if c.APIKey != nil {
		v := APIKeyRuleConfig{KeyHashes: append([]string(nil), c.APIKey.KeyHashes...)}
		out.APIKey = &v
	}
	if c.JWT != nil {
		v := *c.JWT
		out.JWT = &v
	}
	if c.Custom != nil {
		v := *c.Custom
		out.Custom = &v
	}
	return out
}

func (c RuleConfig) validate(t RuleType) error {
	set := 0
	if c.IP != nil {
		set++
	}
	if c.APIKey != nil {
		set++
	}
	if c.JWT != nil {
		set++
	}
	if c.Custom != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one config variant must be set, got %d", set)
	}
	switch t {
	case RuleIP:
		if c.IP == nil {
			return fmt.Errorf("rule type %q requires the ip config variant", t)
		}
		if len(c.IP.CIDRs) == 0 {
			return fmt.Errorf("ip config requires at least one CIDR")
		}
		for _, cidr := range c.IP.CIDRs {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("invalid CIDR %q", cidr)
			}
		}
	case RuleAPIKey:
		if c.APIKey == nil {
			return fmt.Errorf("rule type %q requires the api_key config variant", t)
		}
		if len(c.APIKey.KeyHashes) == 0 {
			return fmt.Errorf("api_key config requires at least one key hash")
		}
	case RuleJWT:
		if c.JWT == nil {
			return fmt.Errorf("rule type %q requires the jwt config variant", t)
		}
		if strings.TrimSpace(c.JWT.Issuer) == "" {
			return fmt.Errorf("jwt config requires an issuer")
		}
		if u, err := url.Parse(c.JWT.JWKSURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("jwt config requires a valid jwks_url")
		}
	case RuleCustom:
		if c.Custom == nil {
			return fmt.Errorf("rule type %q requires the custom config variant", t)
		}
		if strings.TrimSpace(c.Custom.Expression) == "" {
			return fmt.Errorf("custom config requires an expression")
		}
	default:
		return fmt.Errorf("invalid rule type %q", t)
	}
	return nil
}

// WhitelistRule describes an access-control rule for a route, or globally
// when APIRouteID is nil. Matching itself happens in the proxy data path.
type WhitelistRule struct {
	Meta
	RuleName   string     `json:"rule_name"`
	RuleType   RuleType   `json:"rule_type"`
	APIRouteID *uuid.UUID `json:"api_route_id,omitempty"`
	Config     RuleConfig `json:"config"`
	Priority   int        `json:"priority"`
}

func (w *WhitelistRule) Type() EntityType { return TypeWhitelistRule }

func (w *WhitelistRule) References() []Reference {
	if w.APIRouteID == nil {
		return nil
	}
	return []Reference{{Type: TypeApiRoute, ID: *w.APIRouteID}}
}

func (w *WhitelistRule) Validate() error {
	if l := len(w.RuleName); l < 1 || l > 100 {
		return &ValidationError{Field: "rule_name", Reason: "must be between 1 and 100 characters"}
	}
	if w.APIRouteID != nil && *w.APIRouteID == uuid.Nil {
		return &ValidationError{Field: "api_route_id", Reason: "must be a valid id when set"}
	}
	if err := w.Config.validate(w.RuleType); err != nil {
		return &ValidationError{Field: "config", Reason: err.Error()}
	}
	return nil
}
