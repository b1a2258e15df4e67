// Package cmdguard screens shell commands before execution.
//
// The screen is deliberately coarse: it rejects anything that looks like
// command chaining, substitution or redirection into a second program,
// regardless of quoting, and refuses a short list of destructive programs.
// It is not a shell parser.
package cmdguard

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gzhole/agentguard/internal/pathguard"
)

// Verdict is the outcome of screening a command.
type Verdict struct {
	Allowed bool
	Reason  string
	// Warnings are audit-only findings that did not block the command.
	Warnings []string
}

// Config configures a Guard.
type Config struct {
	// RestrictToWorkspace confines the working directory and every
	// path-shaped argument to Root.
	RestrictToWorkspace bool
	Root                string
}

// Guard screens commands. It holds no mutable state.
type Guard struct {
	cfg Config
}

func New(cfg Config) *Guard {
	return &Guard{cfg: cfg}
}

// Screen checks command with the sandbox root as working directory.
func (g *Guard) Screen(command string) Verdict {
	return g.ScreenIn(command, "")
}

// ScreenIn checks command as it would run in workingDir. An empty workingDir
// means the sandbox root.
func (g *Guard) ScreenIn(command, workingDir string) Verdict {
	if strings.TrimSpace(command) == "" {
		return blocked("Command blocked: empty command")
	}

	var warnings []string
	for _, t := range ScanUnicode(command) {
		if t.Block {
			return blocked(fmt.Sprintf("Command blocked: hidden character (%s)", t))
		}
		warnings = append(warnings, t.String())
	}

	if construct := findInjection(command); construct != "" {
		return blocked(fmt.Sprintf("Command blocked: possible shell injection (%s)", construct))
	}

	words := splitWords(command)

	if reason := destructive(words.Args); reason != "" {
		return blocked("Command blocked by safety guard: " + reason)
	}

	if g.cfg.RestrictToWorkspace {
		if reason := g.checkWorkspace(words, workingDir); reason != "" {
			return blocked("Command blocked by workspace restriction: " + reason)
		}
	}

	return Verdict{Allowed: true, Warnings: warnings}
}

func blocked(reason string) Verdict {
	return Verdict{Reason: reason}
}

// injectionTokens are checked in order; longer tokens precede their prefixes.
var injectionTokens = []struct {
	token string
	name  string
}{
	{"\n", "newline"},
	{"\r", "carriage return"},
	{"`", "backtick substitution"},
	{"$(", "command substitution $("},
	{"${", "parameter expansion ${"},
	{"<<", "here-document <<"},
	{"<(", "process substitution <("},
	{">(", "process substitution >("},
	{"&&", "command chaining &&"},
	{"||", "command chaining ||"},
	{";", "command separator ;"},
	{"|", "pipe |"},
}

func findInjection(command string) string {
	for _, it := range injectionTokens {
		if strings.Contains(command, it.token) {
			return it.name
		}
	}
	if hasBackgroundOperator(command) {
		return "background operator &"
	}
	return ""
}

// hasBackgroundOperator finds an & that is not part of a >& or &> redirect.
func hasBackgroundOperator(command string) bool {
	for i := 0; i < len(command); i++ {
		if command[i] != '&' {
			continue
		}
		if i > 0 && command[i-1] == '>' {
			continue
		}
		if i+1 < len(command) && command[i+1] == '>' {
			continue
		}
		return true
	}
	return false
}

// wrapper describes a program that runs another program. values lists the
// short options that take a separate value, longValues the long ones.
// positional counts the operands before the wrapped program. assigns allows
// NAME=VALUE words before it. split names options whose value is itself a
// command line.
type wrapper struct {
	values     string
	longValues []string
	positional int
	assigns    bool
	split      []string
}

var commandWrappers = map[string]wrapper{
	"sudo": {
		values: "CDghpRrTtUu",
		longValues: []string{"--close-from", "--chdir", "--group", "--host", "--prompt",
			"--chroot", "--role", "--command-timeout", "--type", "--other-user", "--user"},
		assigns: true,
	},
	"doas":    {values: "Cu"},
	"env":     {values: "uCS", longValues: []string{"--unset", "--chdir"}, assigns: true, split: []string{"-S", "--split-string"}},
	"nohup":   {},
	"exec":    {values: "a"},
	"command": {},
	"time":    {values: "fo", longValues: []string{"--format", "--output"}},
	"nice":    {values: "n", longValues: []string{"--adjustment"}},
	"timeout": {values: "ks", longValues: []string{"--kill-after", "--signal"}, positional: 1},
	"setsid":  {},
}

var alwaysBlocked = map[string]string{
	"shutdown": "system shutdown",
	"reboot":   "system reboot",
	"poweroff": "system poweroff",
	"halt":     "system halt",
	"mkfs":     "filesystem format",
	"dd":       "raw disk write",
	"format":   "disk format",
	"diskpart": "disk partitioning",
	"shred":    "secure file deletion",
	"wipefs":   "filesystem signature wipe",
}

// destructive returns a description when the leading program is on the
// denylist or cannot be told apart from one.
func destructive(args []word) string {
	rest, reason := stripWrappers(args)
	if reason != "" {
		return reason
	}
	if len(rest) == 0 {
		return ""
	}
	program := rest[0]
	if !program.Literal || (program.Pattern && program.Value != "[" && program.Value != "[[") {
		return fmt.Sprintf("program name %q is expanded by the shell", program.Value)
	}
	name := filepath.Base(program.Value)

	if desc, ok := alwaysBlocked[name]; ok {
		return fmt.Sprintf("%s (%s)", desc, name)
	}
	if strings.HasPrefix(name, "mkfs.") {
		return fmt.Sprintf("filesystem format (%s)", name)
	}
	switch name {
	case "rm", "rmdir":
		for _, a := range rest[1:] {
			if isRecursiveFlag(a.Value) {
				return fmt.Sprintf("recursive delete (%s %s)", name, a.Value)
			}
		}
	case "init":
		for _, a := range rest[1:] {
			if a.Value == "0" || a.Value == "6" {
				return fmt.Sprintf("runlevel change (init %s)", a.Value)
			}
		}
	}
	return ""
}

// stripWrappers drops leading wrapper programs with their options and
// operands. It returns a reason when the wrapped program cannot be
// identified.
func stripWrappers(args []word) ([]word, string) {
	for len(args) > 0 {
		name := filepath.Base(args[0].Value)
		w, ok := commandWrappers[name]
		if !ok || !args[0].Literal {
			return args, ""
		}
		args = args[1:]
		var reason string
		if args, reason = w.skipOptions(name, args); reason != "" {
			return nil, reason
		}
		for n := 0; n < w.positional && len(args) > 0; n++ {
			args = args[1:]
		}
	}
	return args, ""
}

func (w wrapper) skipOptions(name string, args []word) ([]word, string) {
	for len(args) > 0 {
		arg := args[0].Value
		switch {
		case arg == "--":
			return args[1:], ""
		case arg == "-":
			args = args[1:]
		case w.assigns && !strings.HasPrefix(arg, "-") && strings.Contains(arg, "="):
			args = args[1:]
		case strings.HasPrefix(arg, "--"):
			opt, _, hasValue := strings.Cut(arg, "=")
			if slices.Contains(w.split, opt) {
				return nil, fmt.Sprintf("%s %s hides the wrapped program", name, opt)
			}
			args = args[1:]
			if !hasValue && slices.Contains(w.longValues, opt) {
				if len(args) == 0 {
					return nil, fmt.Sprintf("%s %s is missing its value", name, opt)
				}
				args = args[1:]
			}
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			args = args[1:]
			for i := 1; i < len(arg); i++ {
				if !strings.ContainsRune(w.values, rune(arg[i])) {
					continue
				}
				if slices.Contains(w.split, "-"+arg[i:i+1]) {
					return nil, fmt.Sprintf("%s -%c hides the wrapped program", name, arg[i])
				}
				// The rest of the cluster is the value; otherwise the next word is.
				if i == len(arg)-1 {
					if len(args) == 0 {
						return nil, fmt.Sprintf("%s -%c is missing its value", name, arg[i])
					}
					args = args[1:]
				}
				break
			}
		default:
			return args, ""
		}
	}
	return args, ""
}

func isRecursiveFlag(arg string) bool {
	if arg == "--recursive" {
		return true
	}
	if strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "--") {
		return strings.ContainsAny(arg[1:], "rR")
	}
	return false
}

// checkWorkspace confines the working directory and every path-shaped word to
// the sandbox root. It returns a reason when anything escapes.
func (g *Guard) checkWorkspace(words commandWords, workingDir string) string {
	root := g.cfg.Root
	if root == "" {
		return "no workspace configured"
	}
	cwd := workingDir
	if cwd == "" {
		cwd = root
	}
	if _, err := pathguard.Resolve(cwd, root); err != nil {
		return fmt.Sprintf("working directory: %v", err)
	}

	var candidates []word
	if len(words.Args) > 0 {
		if first := words.Args[0]; strings.HasPrefix(first.Value, ".") && looksLikePath(first.Value) {
			candidates = append(candidates, first)
		}
		candidates = append(candidates, words.Args[1:]...)
	}
	candidates = append(candidates, words.Other...)

	for _, w := range candidates {
		if !w.Literal && strings.HasPrefix(w.Value, "-") && !strings.Contains(w.Value, "=") {
			return fmt.Sprintf("option %q contains an expansion", w.Value)
		}
		for _, value := range pathValues(w.Value) {
			if userHome(value) {
				return fmt.Sprintf("argument %q names another user's home directory", w.Value)
			}
			if !w.Literal {
				if looksLikePath(value) || value == "" {
					return fmt.Sprintf("argument %q contains an expansion", w.Value)
				}
				continue
			}
			if !looksLikePath(value) {
				continue
			}
			target := value
			if !filepath.IsAbs(target) && !strings.HasPrefix(target, "~") {
				// Plain concatenation keeps any ".." visible to the resolver.
				target = strings.TrimSuffix(cwd, "/") + "/" + target
			}
			if _, err := pathguard.Resolve(target, root); err != nil {
				return err.Error()
			}
		}
	}
	return ""
}

// pathValues returns the parts of an argument that may name a file: the
// argument itself, the value of a --name=value option, or the attached value
// of a short option such as -o/path. An attached value may start after any
// letter of the cluster, so both the earliest start and the first path-like
// start are returned.
func pathValues(arg string) []string {
	if !strings.HasPrefix(arg, "-") {
		return []string{arg}
	}
	if _, value, ok := strings.Cut(arg, "="); ok {
		return []string{value}
	}
	if strings.HasPrefix(arg, "--") || len(arg) <= 2 {
		return nil
	}
	values := []string{arg[2:]}
	if i := strings.IndexAny(arg[2:], "/.~"); i > 0 {
		values = append(values, arg[2+i:])
	}
	return values
}

// userHome reports whether the shell would expand arg as ~user, ~+ or ~-.
// Only ~ and ~/ name the sandboxed process's own home, which the resolver
// handles.
func userHome(arg string) bool {
	if !strings.HasPrefix(arg, "~") {
		return false
	}
	return arg != "~" && !strings.HasPrefix(arg, "~/")
}

// looksLikePath reports whether arg is plausibly a filesystem path.
func looksLikePath(arg string) bool {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		return false
	}
	switch arg {
	case ".", "..", "~":
		return true
	}
	return strings.HasPrefix(arg, "/") ||
		strings.HasPrefix(arg, "./") ||
		strings.HasPrefix(arg, "../") ||
		strings.HasPrefix(arg, "~/") ||
		strings.Contains(arg, "/") ||
		strings.Contains(arg, "..")
}
