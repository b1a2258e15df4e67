package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gzhole/agentguard/internal/redact"
)

var (
	configPath    string
	workspacePath string
	logLevel      string
)

var rootCmd = &cobra.Command{
	Use:   "agentguard",
	Short: "AgentGuard - safety core for tool-using AI agents",
	Long: `AgentGuard sits between chat channels and the OS-level tools an agent
invokes on their behalf. Every file access, shell command and outbound
request is checked against workspace confinement, SSRF rules, injection
screening and per-session rate limits, and every result is scrubbed of
secrets before it leaves the process.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML file (default: $AGENTGUARD_CONFIG or ~/.agentguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&workspacePath, "workspace", "", "Override the configured workspace directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Diagnostic log level: debug, info, warn, error")
}

// ExitCodeError ends the process with Code without printing anything more.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command. Errors other than ExitCodeError are printed
// to stderr after redaction.
func Execute() error {
	err := rootCmd.Execute()
	var exitErr *ExitCodeError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", redact.SanitizeError(err))
	}
	return err
}
