package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gzhole/agentguard/internal/policy"
	"github.com/gzhole/agentguard/internal/ratelimit"
)

const (
	DefaultExecTimeout = 60 * time.Second
	// MaxExecOutput is the rune limit on combined command output.
	MaxExecOutput = 10000
)

// ExecTool runs a screened shell command with a timeout.
type ExecTool struct {
	engine  *policy.Engine
	timeout time.Duration
	env     []string
}

// NewExec creates the exec tool. env holds extra KEY=VALUE entries added to
// the process environment.
func NewExec(engine *policy.Engine, timeout time.Duration, env []string) *ExecTool {
	if timeout <= 0 {
		timeout = DefaultExecTimeout
	}
	return &ExecTool{engine: engine, timeout: timeout, env: env}
}

func (t *ExecTool) Name() string { return "exec" }
func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output. Use with caution."
}
func (t *ExecTool) Operation() ratelimit.Operation {
	return ratelimit.OpToolExec
}

func (t *ExecTool) Request(args map[string]any) (policy.Request, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return policy.Request{}, err
	}
	return policy.Request{
		Command:    command,
		WorkingDir: t.workingDir(optionalString(args, "working_dir")),
		Env:        t.env,
	}, nil
}

func (t *ExecTool) workingDir(dir string) string {
	root := t.engine.Workspace()
	switch {
	case dir == "" && root != "":
		return root
	case dir == "":
		cwd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return cwd
	case !filepath.IsAbs(dir) && root != "":
		return filepath.Join(root, dir)
	}
	return dir
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	command, err := stringArg(args, "command")
	if err != nil {
		return "", err
	}
	dir := t.workingDir(optionalString(args, "working_dir"))

	if verdict := t.engine.Screen(command, dir); !verdict.Allowed {
		return "", errors.New(verdict.Reason)
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(append(os.Environ(), t.env...), "PWD="+dir)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("command timed out after %s", t.timeout)
	}

	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return "", fmt.Errorf("failed to run command: %w", runErr)
	}

	var parts []string
	if stdout.Len() > 0 {
		parts = append(parts, stdout.String())
	}
	if stderr.Len() > 0 {
		parts = append(parts, "STDERR:\n"+stderr.String())
	}
	if exitErr != nil {
		parts = append(parts, fmt.Sprintf("Exit code: %d", exitErr.ExitCode()))
	}
	if len(parts) == 0 {
		return "(no output)", nil
	}
	return truncate(strings.Join(parts, "\n"), MaxExecOutput), nil
}

func truncate(s string, max int) string {
	n := 0
	for i := range s {
		if n == max {
			return fmt.Sprintf("%s\n... (truncated, %d more chars)", s[:i], len([]rune(s[i:])))
		}
		n++
	}
	return s
}
