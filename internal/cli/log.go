package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/gzhole/agentguard/internal/logger"
	"github.com/gzhole/agentguard/internal/policy"
)

var (
	logFilterDecision string
	logFilterGuard    string
	logFilterSession  string
	logLast           int
	logSummary        bool
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "View and filter the audit log",
	Long: `View the AgentGuard audit log with filtering and summary options.

Examples:
  agentguard log                          # Show all entries
  agentguard log --last 20                # Show last 20 entries
  agentguard log --decision BLOCK         # Show only refused operations
  agentguard log --guard network          # Show only SSRF decisions
  agentguard log --summary                # Show summary stats`,
	RunE: logCommand,
}

func init() {
	logCmd.Flags().StringVar(&logFilterDecision, "decision", "", "Filter by decision (ALLOW, BLOCK, RATE_LIMITED)")
	logCmd.Flags().StringVar(&logFilterGuard, "guard", "", "Filter by guard (rate, path, network, command)")
	logCmd.Flags().StringVar(&logFilterSession, "session", "", "Filter by session key")
	logCmd.Flags().IntVar(&logLast, "last", 0, "Show last N entries")
	logCmd.Flags().BoolVar(&logSummary, "summary", false, "Show summary statistics")
	rootCmd.AddCommand(logCmd)
}

func logCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path, err := cfg.AuditPath()
	if err != nil {
		return fmt.Errorf("failed to resolve audit log path: %w", err)
	}

	events, err := logger.ReadEvents(path)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(events) == 0 {
		fmt.Fprintln(out, "No audit log entries found.")
		return nil
	}

	filtered := filterEvents(events)

	if logLast > 0 && logLast < len(filtered) {
		filtered = filtered[len(filtered)-logLast:]
	}

	if logSummary {
		printSummary(out, events)
		return nil
	}

	printEvents(out, filtered)
	return nil
}

func filterEvents(events []logger.AuditEvent) []logger.AuditEvent {
	if logFilterDecision == "" && logFilterGuard == "" && logFilterSession == "" {
		return events
	}

	var filtered []logger.AuditEvent
	for _, e := range events {
		if logFilterDecision != "" && !strings.EqualFold(e.Decision, logFilterDecision) {
			continue
		}
		if logFilterGuard != "" && !strings.EqualFold(e.Guard, logFilterGuard) {
			continue
		}
		if logFilterSession != "" && e.Session != logFilterSession {
			continue
		}
		filtered = append(filtered, e)
	}
	return filtered
}

func printEvents(w io.Writer, events []logger.AuditEvent) {
	for _, e := range events {
		ts := formatTimestamp(e.Timestamp)
		icon := decisionIcon(w, e.Decision)

		fmt.Fprintf(w, "%s %s [%s] %s %s\n", icon, ts, e.Session, e.Operation, e.Target)

		if e.Guard != "" {
			fmt.Fprintf(w, "     Guard: %s\n", e.Guard)
		}
		if e.Tool != "" {
			fmt.Fprintf(w, "     Tool: %s\n", e.Tool)
		}
		for _, r := range e.Reasons {
			fmt.Fprintf(w, "     Reason: %s\n", r)
		}
		if e.Error != "" {
			fmt.Fprintf(w, "     Error: %s\n", e.Error)
		}
		if e.Cwd != "" {
			fmt.Fprintf(w, "     Cwd: %s\n", e.Cwd)
		}
		fmt.Fprintln(w)
	}
}

func printSummary(w io.Writer, all []logger.AuditEvent) {
	counts := map[string]int{}
	guards := map[string]int{}
	errorCount := 0

	for _, e := range all {
		counts[e.Decision]++
		if e.Decision != string(policy.DecisionAllow) {
			guards[e.Guard]++
		}
		if e.Error != "" {
			errorCount++
		}
	}

	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintln(w, "  AgentGuard Audit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════")
	fmt.Fprintf(w, "  Total events:    %d\n", len(all))
	fmt.Fprintf(w, "  ALLOW:           %d\n", counts[string(policy.DecisionAllow)])
	fmt.Fprintf(w, "  BLOCK:           %d\n", counts[string(policy.DecisionBlock)])
	fmt.Fprintf(w, "  RATE_LIMITED:    %d\n", counts[string(policy.DecisionRateLimited)])
	fmt.Fprintf(w, "  Errors:          %d\n", errorCount)
	fmt.Fprintln(w, "═══════════════════════════════════════════")

	if len(all) > 0 {
		fmt.Fprintf(w, "  First event:     %s\n", formatTimestamp(all[0].Timestamp))
		fmt.Fprintf(w, "  Last event:      %s\n", formatTimestamp(all[len(all)-1].Timestamp))
	}

	if len(guards) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Refusals by guard:")
		for _, g := range []string{policy.GuardRate, policy.GuardPath, policy.GuardNetwork, policy.GuardCommand} {
			if n := guards[g]; n > 0 {
				fmt.Fprintf(w, "    %-10s %d\n", g, n)
			}
		}
	}

	blocked := []logger.AuditEvent{}
	for _, e := range all {
		if e.Decision == string(policy.DecisionBlock) {
			blocked = append(blocked, e)
		}
	}
	if len(blocked) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "  Blocked operations:")
		limit := len(blocked)
		if limit > 10 {
			limit = 10
		}
		for _, e := range blocked[len(blocked)-limit:] {
			fmt.Fprintf(w, "    %s %s %s\n", formatTimestamp(e.Timestamp), e.Operation, e.Target)
		}
	}

	fmt.Fprintln(w)
}

// decisionIcon returns an emoji for terminals and a bracketed tag otherwise.
func decisionIcon(w io.Writer, decision string) string {
	if !isTerminal(w) {
		return "[" + decision + "]"
	}
	switch decision {
	case string(policy.DecisionBlock):
		return "\xf0\x9f\x9b\x91" // stop sign
	case string(policy.DecisionRateLimited):
		return "\xe2\x8f\xb3" // hourglass
	case string(policy.DecisionAllow):
		return "\xe2\x9c\x85" // check mark
	default:
		return "\xe2\x9d\x93" // question mark
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func formatTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
