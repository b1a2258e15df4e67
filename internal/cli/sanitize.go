package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/agentguard/internal/pathguard"
	"github.com/gzhole/agentguard/internal/redact"
)

var (
	sanitizeMax   int
	safeNameMax   int
	sanitizeRules bool
)

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize [text...]",
	Short: "Redact secrets from text and truncate it",
	Long: `Redact API keys, tokens, passwords and private keys from the given text,
or from stdin when no text is given, then truncate the result.

  kubectl logs app | agentguard sanitize
  agentguard sanitize "key is sk-..."`,
	RunE: sanitizeCommand,
}

var safeNameCmd = &cobra.Command{
	Use:   "safe-name <name>",
	Short: "Convert a string into a safe single path component",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), pathguard.SafeName(args[0], safeNameMax))
		return nil
	},
}

func init() {
	sanitizeCmd.Flags().IntVar(&sanitizeMax, "max-length", redact.DefaultMaxResultLength, "Maximum characters to keep")
	sanitizeCmd.Flags().BoolVar(&sanitizeRules, "rules", false, "List the redaction rules and exit")
	safeNameCmd.Flags().IntVar(&safeNameMax, "max-length", pathguard.DefaultMaxNameLength, "Maximum length of the result")
	rootCmd.AddCommand(sanitizeCmd, safeNameCmd)
}

func sanitizeCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if sanitizeRules {
		for _, name := range redact.RuleNames() {
			fmt.Fprintln(out, name)
		}
		return nil
	}

	text := strings.Join(args, " ")
	if len(args) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}
	fmt.Fprint(out, redact.SanitizeResult(text, sanitizeMax))
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(out)
	}
	return nil
}
