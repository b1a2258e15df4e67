package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gzhole/agentguard/internal/policy"
	"github.com/gzhole/agentguard/internal/ratelimit"
)

const (
	MaxReadSize  = 10 * 1024 * 1024
	MaxWriteSize = 10 * 1024 * 1024
)

// ReadFileTool returns a file's contents.
type ReadFileTool struct {
	engine *policy.Engine
}

func NewReadFile(engine *policy.Engine) *ReadFileTool {
	return &ReadFileTool{engine: engine}
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a file at the given path." }
func (t *ReadFileTool) Operation() ratelimit.Operation {
	return ratelimit.OpFileRead
}

func (t *ReadFileTool) Request(args map[string]any) (policy.Request, error) {
	path, err := stringArg(args, "path")
	return policy.Request{Path: path}, err
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	resolved, err := t.engine.ResolvePath(path, false)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("file not found: %s", path)
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a file: %s", path)
	}
	if info.Size() > MaxReadSize {
		return "", fmt.Errorf("file too large (%d bytes), max allowed: %d bytes", info.Size(), MaxReadSize)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	return string(data), nil
}

// WriteFileTool replaces a file's contents, creating parent directories.
type WriteFileTool struct {
	engine *policy.Engine
}

func NewWriteFile(engine *policy.Engine) *WriteFileTool {
	return &WriteFileTool{engine: engine}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Write content to a file at the given path. Creates parent directories if needed."
}
func (t *WriteFileTool) Operation() ratelimit.Operation {
	return ratelimit.OpFileWrite
}

func (t *WriteFileTool) Request(args map[string]any) (policy.Request, error) {
	path, err := stringArg(args, "path")
	return policy.Request{Path: path, Write: true}, err
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return "", err
	}
	if len(content) > MaxWriteSize {
		return "", fmt.Errorf("content too large (%d bytes), max allowed: %d bytes", len(content), MaxWriteSize)
	}

	resolved, err := t.engine.ResolvePath(path, true)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return "", fmt.Errorf("failed to create parent directory: %w", err)
	}
	// Resolve again now that the parent exists.
	if resolved, err = t.engine.ResolvePath(path, true); err != nil {
		return "", err
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// EditFileTool replaces exactly one occurrence of old_text with new_text.
type EditFileTool struct {
	engine *policy.Engine
}

func NewEditFile(engine *policy.Engine) *EditFileTool {
	return &EditFileTool{engine: engine}
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Edit a file by replacing old_text with new_text. The old_text must exist exactly once in the file."
}
func (t *EditFileTool) Operation() ratelimit.Operation {
	return ratelimit.OpFileWrite
}

func (t *EditFileTool) Request(args map[string]any) (policy.Request, error) {
	path, err := stringArg(args, "path")
	return policy.Request{Path: path, Write: true}, err
}

func (t *EditFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	oldText, err := stringArg(args, "old_text")
	if err != nil {
		return "", err
	}
	newText, err := stringArg(args, "new_text")
	if err != nil {
		return "", err
	}
	if oldText == "" {
		return "", fmt.Errorf("%w: old_text must not be empty", ErrInvalidArgument)
	}

	resolved, err := t.engine.ResolvePath(path, true)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("file not found: %s", path)
	}
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("not a file: %s", path)
	}
	if info.Size() > MaxReadSize {
		return "", fmt.Errorf("file too large (%d bytes), max allowed: %d bytes", info.Size(), MaxReadSize)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	content := string(data)

	switch n := strings.Count(content, oldText); {
	case n == 0:
		return "", errors.New("old_text not found in file, make sure it matches exactly")
	case n > 1:
		return "", fmt.Errorf("old_text appears %d times, provide more context to make it unique", n)
	}

	updated := strings.Replace(content, oldText, newText, 1)
	if len(updated) > MaxWriteSize {
		return "", fmt.Errorf("edited content too large (%d bytes), max allowed: %d bytes", len(updated), MaxWriteSize)
	}
	if err := os.WriteFile(resolved, []byte(updated), info.Mode().Perm()); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return fmt.Sprintf("Successfully edited %s", path), nil
}

// ListDirTool lists a directory, one entry per line, sorted by name.
type ListDirTool struct {
	engine *policy.Engine
}

func NewListDir(engine *policy.Engine) *ListDirTool {
	return &ListDirTool{engine: engine}
}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the contents of a directory." }
func (t *ListDirTool) Operation() ratelimit.Operation {
	return ratelimit.OpFileRead
}

func (t *ListDirTool) Request(args map[string]any) (policy.Request, error) {
	path, err := stringArg(args, "path")
	return policy.Request{Path: path}, err
}

func (t *ListDirTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	resolved, err := t.engine.ResolvePath(path, false)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("directory not found: %s", path)
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", path)
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return "", fmt.Errorf("failed to list directory: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("Directory %s is empty", path), nil
	}

	lines := make([]string, len(entries))
	for i, e := range entries {
		prefix := "[FILE] "
		if e.IsDir() {
			prefix = "[DIR]  "
		}
		lines[i] = prefix + e.Name()
	}
	return strings.Join(lines, "\n"), nil
}
