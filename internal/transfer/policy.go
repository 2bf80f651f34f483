package transfer

import "time"

// Operation names a kind of transfer with its own retry behaviour.
type Operation string

const (
	OpUpload   Operation = "upload"
	OpSnapshot Operation = "snapshot"
)

// Policy bounds attempts for one operation.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Timeout  time.Duration
}

// DefaultPolicies: uploads are never retried, snapshots get three tries.
var DefaultPolicies = map[Operation]Policy{
	OpUpload:   {Attempts: 1},
	OpSnapshot: {Attempts: 3, Delay: 2 * time.Second, Timeout: 5 * time.Second},
}

// PolicyFor returns the policy for op, falling back to a single attempt.
func PolicyFor(policies map[Operation]Policy, op Operation) Policy {
	if p, ok := policies[op]; ok && p.Attempts > 0 {
		return p
	}
	return Policy{Attempts: 1}
}

// Policies returns DefaultPolicies with the non-zero fields of overrides
// applied per operation.
func Policies(overrides map[Operation]Policy) map[Operation]Policy {
	out := make(map[Operation]Policy, len(DefaultPolicies)+len(overrides))
	for op, p := range DefaultPolicies {
		out[op] = p
	}
	for op, o := range overrides {
		p := out[op]
		if o.Attempts > 0 {
			p.Attempts = o.Attempts
		}
		if o.Delay > 0 {
			p.Delay = o.Delay
		}
		if o.Timeout > 0 {
			p.Timeout = o.Timeout
		}
		out[op] = p
	}
	return out
}
