package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gzhole/agentguard/internal/pathguard"
	"github.com/gzhole/agentguard/internal/redact"
)

type testEnv struct {
	configPath string
	workspace  string
	auditPath  string
}

// newTestEnv writes a config whose workspace and audit log live in a temp dir.
func newTestEnv(t *testing.T, extra string) testEnv {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	env := testEnv{
		configPath: filepath.Join(dir, "config.yaml"),
		workspace:  filepath.Join(dir, "workspace"),
		auditPath:  filepath.Join(dir, "audit.jsonl"),
	}
	content := fmt.Sprintf("workspace: %s\nrestrict_to_workspace: true\nlog:\n  level: error\n  audit_path: %s\n%s",
		env.workspace, env.auditPath, extra)
	if err := os.WriteFile(env.configPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return env
}

func resetFlags() {
	configPath, workspacePath, logLevel = "", "", ""
	checkSession, checkJSON, checkWrite, checkCwd, checkCount = "cli", false, false, "", 1
	logFilterDecision, logFilterGuard, logFilterSession, logLast, logSummary = "", "", "", 0, false
	sanitizeMax, safeNameMax, sanitizeRules = redact.DefaultMaxResultLength, pathguard.DefaultMaxNameLength, false
	configForce = false
	transcribeProvider = ""
	serveMetricsAddr, serveNoMetrics, serveDrain = "", false, 30*time.Second
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags()
	var stdout, stderr bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func exitCode(err error) int {
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if err != nil {
		return -1
	}
	return 0
}

func TestRootCommand_Help(t *testing.T) {
	out, _, err := run(t, "", "--help")
	if err != nil {
		t.Fatalf("--help returned error: %v", err)
	}
	for _, want := range []string{"agentguard", "Usage:", "Available Commands:", "check", "serve"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q\nGot: %s", want, out)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "AgentGuard "+Version) {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestSafeNameCommand(t *testing.T) {
	out, _, err := run(t, "", "safe-name", "../../etc/passwd")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out); got != "_.._etc_passwd" {
		t.Errorf("safe-name = %q", got)
	}
}

func TestSanitizeCommand(t *testing.T) {
	out, _, err := run(t, "key is sk-abcdefghijklmnopqrstuvwxyz123456\n", "sanitize")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "sk-abcdefghijklmnopqrstuvwxyz123456") || !strings.Contains(out, "[REDACTED_API_KEY]") {
		t.Errorf("secret not redacted: %q", out)
	}

	out, _, err = run(t, "", "sanitize", "--max-length", "5", "abcdefghij")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "abcde\n... (truncated, 5 more chars)") {
		t.Errorf("unexpected truncation %q", out)
	}
}

func TestCheckPath(t *testing.T) {
	env := newTestEnv(t, "")

	out, _, err := run(t, "", "--config", env.configPath, "check", "path", "notes.txt")
	if err != nil {
		t.Fatalf("expected allow, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "[ALLOW] ALLOW") || !strings.Contains(out, filepath.Join(env.workspace, "notes.txt")) {
		t.Errorf("unexpected output %q", out)
	}

	out, _, err = run(t, "", "--config", env.configPath, "check", "path", "--write", "../escape.txt")
	if exitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %v", err)
	}
	if !strings.Contains(out, "BLOCK") || !strings.Contains(out, "Guard: path") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCheckURLJSON(t *testing.T) {
	env := newTestEnv(t, "")

	out, _, err := run(t, "", "--config", env.configPath, "check", "url", "--json", "http://127.0.0.1:8080/admin")
	if exitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %v", err)
	}
	var res checkOutput
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if res.Decision != "BLOCK" || res.Guard != "network" {
		t.Errorf("unexpected result %+v", res)
	}
}

func TestCheckCommand(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		command string
		code    int
	}{
		{"ls -la", 0},
		{"echo hi; rm -rf /", 1},
		{"cat $(whoami)", 1},
	}
	for _, tt := range tests {
		_, _, err := run(t, "", "--config", env.configPath, "check", "command", "--", tt.command)
		if got := exitCode(err); got != tt.code {
			t.Errorf("check command %q exit = %d, want %d (%v)", tt.command, got, tt.code, err)
		}
	}
}

func TestCheckRate(t *testing.T) {
	env := newTestEnv(t, "rate_limits:\n  tool_exec:\n    capacity: 2\n    period: 1m\n")

	out, _, err := run(t, "", "--config", env.configPath, "check", "rate", "tool_exec", "--count", "3")
	if exitCode(err) != 1 {
		t.Fatalf("expected exit code 1, got %v", err)
	}
	if !strings.Contains(out, "tool_exec: 2 of 3 admitted") {
		t.Errorf("unexpected output %q", out)
	}
	if !strings.Contains(out, "Rate limit exceeded for tool_exec: max 2 per 1 minute(s). Please wait.") {
		t.Errorf("missing limit message in %q", out)
	}
}

func TestLogCommand(t *testing.T) {
	env := newTestEnv(t, "")

	run(t, "", "--config", env.configPath, "check", "path", "a.txt")
	run(t, "", "--config", env.configPath, "check", "path", "/etc/shadow")
	run(t, "", "--config", env.configPath, "check", "url", "http://localhost/")

	out, _, err := run(t, "", "--config", env.configPath, "log", "--decision", "block")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Count(out, "[BLOCK]") != 2 || strings.Contains(out, "[ALLOW]") {
		t.Errorf("unexpected filtered log %q", out)
	}

	out, _, err = run(t, "", "--config", env.configPath, "log", "--guard", "network", "--last", "1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "http://localhost/") || strings.Contains(out, "/etc/shadow") {
		t.Errorf("unexpected guard filter output %q", out)
	}

	out, _, err = run(t, "", "--config", env.configPath, "log", "--summary")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Total events:    3", "ALLOW:           1", "BLOCK:           2", "Blocked operations:"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}
}

func TestLogCommandEmpty(t *testing.T) {
	env := newTestEnv(t, "")
	out, _, err := run(t, "", "--config", env.configPath, "log")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No audit log entries found.") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, _, err := run(t, "", "--config", path, "config", "init")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("unexpected init output %q", out)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config mode = %o, want 600", perm)
	}

	if _, _, err := run(t, "", "--config", path, "config", "init"); err == nil {
		t.Error("expected init to refuse an existing file")
	}
	if _, _, err := run(t, "", "--config", path, "config", "init", "--force"); err != nil {
		t.Errorf("init --force failed: %v", err)
	}

	data := "providers:\n  openai:\n    api_key: sk-abcdefghijklmnopqrstuvwxyz\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	out, _, err = run(t, "", "--config", path, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "sk-abcdefghijklmnopqrstuvwxyz") || !strings.Contains(out, "sk-a****") {
		t.Errorf("API key not masked:\n%s", out)
	}
}

func TestConfigWarningsPrinted(t *testing.T) {
	env := newTestEnv(t, "exec:\n  restrict_to_workspace: false\n")
	_, stderr, err := run(t, "", "--config", env.configPath, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr, "[AgentGuard] warning: exec.restrict_to_workspace is deprecated") {
		t.Errorf("expected deprecation warning, got %q", stderr)
	}
}

func TestServeProcessesToolCalls(t *testing.T) {
	env := newTestEnv(t, "")
	if err := os.MkdirAll(env.workspace, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.workspace, "hello.txt"), []byte("hi there"), 0o644); err != nil {
		t.Fatal(err)
	}

	stdin := strings.Join([]string{
		`{"tool": "read_file", "args": {"path": "hello.txt"}}`,
		`{"tool": "read_file", "args": {"path": "/etc/passwd"}}`,
		`not a tool call`,
	}, "\n") + "\n"
	out, _, err := run(t, stdin, "--config", env.configPath, "serve", "--no-metrics", "--drain-timeout", "5s")
	if err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 replies, got %q", out)
	}
	var contents []string
	for _, line := range lines {
		var reply struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(line), &reply); err != nil {
			t.Fatalf("reply is not JSON: %q", line)
		}
		contents = append(contents, reply.Content)
	}
	if contents[0] != "hi there" {
		t.Errorf("first reply = %q", contents[0])
	}
	if !strings.HasPrefix(contents[1], "Error: ") {
		t.Errorf("expected a blocked read, got %q", contents[1])
	}
	if !strings.HasPrefix(contents[2], "Error: expected a JSON tool call") {
		t.Errorf("expected a parse error, got %q", contents[2])
	}
}
