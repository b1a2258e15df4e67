// Package pathguard confines filesystem targets to a sandbox root.
//
// Resolution is pure: nothing is cached, and callers are expected to resolve
// again immediately before each I/O operation.
package pathguard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Kind classifies a resolution failure.
type Kind int

const (
	KindTraversal Kind = iota + 1
	KindOutsideSandbox
)

func (k Kind) String() string {
	switch k {
	case KindTraversal:
		return "traversal"
	case KindOutsideSandbox:
		return "outside_sandbox"
	default:
		return "unknown"
	}
}

var (
	ErrTraversal      = errors.New("path traversal detected")
	ErrOutsideSandbox = errors.New("path outside sandbox")
)

// Error reports why a path was refused.
type Error struct {
	Kind Kind
	Path string
	Root string
	Err  error // underlying cause, may be nil
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case KindTraversal:
		msg = fmt.Sprintf("path traversal detected in %q", e.Path)
	default:
		msg = fmt.Sprintf("path %q is outside sandbox %q", e.Path, e.Root)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTraversal:
		return e.Kind == KindTraversal
	case ErrOutsideSandbox:
		return e.Kind == KindOutsideSandbox
	}
	return false
}

func traversal(path, root string) error {
	return &Error{Kind: KindTraversal, Path: path, Root: root}
}

func outside(path, root string, cause error) error {
	return &Error{Kind: KindOutsideSandbox, Path: path, Root: root, Err: cause}
}

// Resolve returns the canonical absolute form of path, which must equal root
// or lie beneath it. Relative paths are taken relative to root.
func Resolve(path, root string) (string, error) {
	if hasParentRef(path) {
		return "", traversal(path, root)
	}

	canonRoot, err := canonicalRoot(root)
	if err != nil {
		return "", outside(path, root, err)
	}

	target := expandHome(path)
	if !filepath.IsAbs(target) {
		target = filepath.Join(canonRoot, target)
	}

	resolved, err := resolveLenient(filepath.Clean(target))
	if err != nil {
		return "", outside(path, root, err)
	}
	if !within(resolved, canonRoot) {
		return "", outside(path, root, nil)
	}
	return resolved, nil
}

// ResolveForWrite resolves path like Resolve and additionally re-resolves and
// confines its parent directory. The root itself is not a write target.
func ResolveForWrite(path, root string) (string, error) {
	resolved, err := Resolve(path, root)
	if err != nil {
		return "", err
	}

	canonRoot, err := canonicalRoot(root)
	if err != nil {
		return "", outside(path, root, err)
	}
	if resolved == canonRoot {
		return "", outside(path, root, errors.New("sandbox root is not a writable target"))
	}

	parent, err := resolveLenient(filepath.Dir(resolved))
	if err != nil {
		return "", outside(path, root, err)
	}
	if !within(parent, canonRoot) {
		return "", outside(path, root, errors.New("parent directory escapes sandbox"))
	}
	return filepath.Join(parent, filepath.Base(resolved)), nil
}

func hasParentRef(path string) bool {
	for _, part := range strings.FieldsFunc(path, isSeparator) {
		if part == ".." {
			return true
		}
	}
	return false
}

func isSeparator(r rune) bool {
	return r == '/' || r == filepath.Separator
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

func canonicalRoot(root string) (string, error) {
	if root == "" {
		return "", errors.New("empty sandbox root")
	}
	abs, err := filepath.Abs(expandHome(root))
	if err != nil {
		return "", fmt.Errorf("absolute root: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(canon)
	if err != nil {
		return "", fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("sandbox root %q is not a directory", canon)
	}
	return canon, nil
}

// resolveLenient evaluates symlinks for the longest existing prefix of p and
// appends the missing remainder unchanged. A dangling symlink fails.
func resolveLenient(p string) (string, error) {
	existing := p
	var rest []string
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		rest = append(rest, filepath.Base(existing))
		existing = parent
	}

	canon, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", existing, err)
	}
	for i := len(rest) - 1; i >= 0; i-- {
		canon = filepath.Join(canon, rest[i])
	}
	return canon, nil
}

// within walks ancestors of p upward until it meets root or the filesystem
// root.
func within(p, root string) bool {
	for {
		if p == root {
			return true
		}
		parent := filepath.Dir(p)
		if parent == p {
			return false
		}
		p = parent
	}
}
