// Package tools implements the agent's side-effecting tools. Every call is
// admitted and guarded by the policy engine before it runs, and every result
// is sanitized before it is returned.
package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/gzhole/agentguard/internal/policy"
	"github.com/gzhole/agentguard/internal/ratelimit"
)

// ErrInvalidArgument is wrapped by argument validation errors.
var ErrInvalidArgument = errors.New("invalid argument")

type Tool interface {
	Name() string
	Description() string
	// Operation is the rate-limit class charged for each call.
	Operation() ratelimit.Operation
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Guarded is implemented by tools whose arguments name a path, URL or
// command. The registry evaluates the returned request before Execute runs.
type Guarded interface {
	Request(args map[string]any) (policy.Request, error)
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing required argument %q", ErrInvalidArgument, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %q must be a string", ErrInvalidArgument, key)
	}
	return s, nil
}

func optionalString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
