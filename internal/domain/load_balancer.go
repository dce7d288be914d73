package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// LoadBalancerAlgorithm selects how traffic is spread across a service's
// instances.
type LoadBalancerAlgorithm string

const (
	AlgorithmRoundRobin LoadBalancerAlgorithm = "round_robin"
	AlgorithmLeastConn  LoadBalancerAlgorithm = "least_conn"
	AlgorithmIPHash     LoadBalancerAlgorithm = "ip_hash"
	AlgorithmWeighted   LoadBalancerAlgorithm = "weighted"
)

var lbAlgorithms = map[LoadBalancerAlgorithm]bool{
	AlgorithmRoundRobin: true, AlgorithmLeastConn: true, AlgorithmIPHash: true, AlgorithmWeighted: true,
}

// LoadBalancerConfig tunes balancing for one backend service. At most one
// config may exist per service.
type LoadBalancerConfig struct {
	Meta
	BackendServiceID   uuid.UUID             `json:"backend_service_id"`
	Algorithm          LoadBalancerAlgorithm `json:"algorithm"`
	HealthCheckEnabled bool                  `json:"health_check_enabled"`
	StickyTTLSeconds   *int                  `json:"sticky_ttl_seconds,omitempty"`
}

func (l *LoadBalancerConfig) Type() EntityType { return TypeLoadBalancerConfig }

func (l *LoadBalancerConfig) References() []Reference {
	return []Reference{{Type: TypeBackendService, ID: l.BackendServiceID}}
}

func (l *LoadBalancerConfig) Validate() error {
	if l.BackendServiceID == uuid.Nil {
		return &ValidationError{Field: "backend_service_id", Reason: "is required"}
	}
	if !lbAlgorithms[l.Algorithm] {
		return &ValidationError{Field: "algorithm", Reason: fmt.Sprintf("invalid algorithm %q", l.Algorithm)}
	}
	if l.StickyTTLSeconds != nil {
		if v := *l.StickyTTLSeconds; v < 1 || v > 86400 {
			return &ValidationError{Field: "sticky_ttl_seconds", Reason: "must be between 1 and 86400"}
		}
	}
	return nil
}
