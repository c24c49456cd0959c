package model

import "time"

// EndpointType classifies an endpoint's role within a failover group and
// determines its default Priority (lower wins): PRIMARY=0, SECONDARY=1,
// TERTIARY=2, BACKUP=3.
type EndpointType int8

const (
	EndpointPrimary EndpointType = iota
	EndpointSecondary
	EndpointTertiary
	EndpointBackup
)

func (t EndpointType) String() string {
	switch t {
	case EndpointPrimary:
		return "PRIMARY"
	case EndpointSecondary:
		return "SECONDARY"
	case EndpointTertiary:
		return "TERTIARY"
	case EndpointBackup:
		return "BACKUP"
	default:
		return "UNKNOWN"
	}
}

// DefaultPriority returns the endpoint type's default selection priority.
func (t EndpointType) DefaultPriority() int {
	return int(t)
}

// HealthStatus is the observed health of an endpoint as tracked by probes
// and reporter hooks.
type HealthStatus int8

const (
	StatusUnknown HealthStatus = iota
	StatusHealthy
	StatusDegraded
	StatusUnhealthy
	StatusOffline
)

func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "HEALTHY"
	case StatusDegraded:
		return "DEGRADED"
	case StatusUnhealthy:
		return "UNHEALTHY"
	case StatusOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// ProbeMethod is the wire-level technique a health check uses.
type ProbeMethod string

const (
	ProbeTCP ProbeMethod = "tcp"
	ProbeHTTP ProbeMethod = "http"
	ProbeWS ProbeMethod = "ws"
	ProbePing ProbeMethod = "ping"
)

// HealthCheckConfig configures an endpoint's periodic probe.
type HealthCheckConfig struct {
	Enabled bool
	Interval time.Duration
	Timeout time.Duration
	SuccessThreshold int
	FailureThreshold int
	Method ProbeMethod
}

// Endpoint is a member of a FailoverGroup.
type Endpoint struct {
	ID string
	Name string
	URL string

	Type EndpointType
	Priority int

	Status HealthStatus

	HealthCheck HealthCheckConfig

	FailureCount int
	SuccessCount int

	LatencyMs float64
	LastCheckAt time.Time
	LastSuccessAt time.Time
	LastFailureAt time.Time
}

// Clone returns a value copy safe to hand to a transport callback
// without letting it mutate the manager's bookkeeping copy.
func (e *Endpoint) Clone() Endpoint {
	return *e
}

// Healthy reports whether the endpoint's observed status alone (ignoring
// circuit state, which the FailoverManager layers on separately) permits
// selection.
func (e *Endpoint) Healthy() bool {
	return e.Status == StatusHealthy || e.Status == StatusDegraded
}
