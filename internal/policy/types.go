package policy

import (
	"net/netip"
	"time"

	"github.com/gzhole/agentguard/internal/ratelimit"
)

type Decision string

const (
	DecisionAllow       Decision = "ALLOW"
	DecisionBlock       Decision = "BLOCK"
	DecisionRateLimited Decision = "RATE_LIMITED"
)

// Guard names reported in EvalResult.Guard and the audit log.
const (
	GuardRate    = "rate"
	GuardPath    = "path"
	GuardNetwork = "network"
	GuardCommand = "command"
	GuardNone    = "none"
)

// Request describes one side-effecting operation. Only the fields relevant to
// the operation are set; every set field is checked by its guard.
type Request struct {
	Session   string
	Operation ratelimit.Operation

	// Tool is recorded in the audit log only.
	Tool string

	Path  string
	Write bool

	URL string

	Command    string
	WorkingDir string
	// Env lists extra KEY=VALUE entries for the command. Values are
	// redacted in the audit log.
	Env []string
}

type EvalResult struct {
	Decision Decision
	// Guard is the component that produced the decision.
	Guard    string
	Reasons  []string
	Warnings []string

	// WaitTime is set for RATE_LIMITED decisions.
	WaitTime time.Duration
	// ResolvedPath is the canonical path to use for I/O.
	ResolvedPath string
	// Addrs are the validated addresses the URL host resolved to.
	Addrs []netip.Addr

	Explanation string
}

func (r EvalResult) Allowed() bool {
	return r.Decision == DecisionAllow
}

// Reason returns the first reason, or "" when there is none.
func (r EvalResult) Reason() string {
	if len(r.Reasons) == 0 {
		return ""
	}
	return r.Reasons[0]
}
