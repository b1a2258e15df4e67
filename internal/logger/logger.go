package logger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gzhole/agentguard/internal/redact"
)

// defaultMaxLogBytes is the size at which the audit log is rotated to
// <path>.1. Only one rotated file is kept.
const defaultMaxLogBytes int64 = 10 * 1024 * 1024

// AuditEvent records one guard decision.
type AuditEvent struct {
	Timestamp  string   `json:"timestamp"`
	Session    string   `json:"session,omitempty"`
	Operation  string   `json:"operation,omitempty"`
	Guard      string   `json:"guard,omitempty"`
	Tool       string   `json:"tool,omitempty"`
	Target     string   `json:"target,omitempty"`
	Args       []string `json:"args,omitempty"`
	Env        []string `json:"env,omitempty"`
	Cwd        string   `json:"cwd,omitempty"`
	Decision   string   `json:"decision"`
	Reasons    []string `json:"reasons,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMs float64  `json:"duration_ms,omitempty"`
}

type AuditLogger struct {
	path     string
	file     *os.File
	size     int64
	maxBytes int64
	mu       sync.Mutex
}

func New(path string) (*AuditLogger, error) {
	l := &AuditLogger{path: path, maxBytes: defaultMaxLogBytes}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *AuditLogger) open() error {
	if info, err := os.Stat(l.path); err == nil && info.Size() >= l.maxBytes {
		if err := os.Rename(l.path, l.path+".1"); err != nil {
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	l.file = file
	l.size = info.Size()
	return nil
}

// Log appends event as one JSON line. Secrets in the target, arguments,
// environment, reasons and error are redacted before anything is written.
func (l *AuditLogger) Log(event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	event.Target = redact.Sanitize(event.Target)
	event.Args = redact.RedactArgs(event.Args)
	event.Env = redact.RedactEnvVars(event.Env)
	event.Error = redact.Sanitize(event.Error)
	if len(event.Reasons) > 0 {
		reasons := make([]string, len(event.Reasons))
		for i, r := range event.Reasons {
			reasons[i] = redact.Sanitize(r)
		}
		event.Reasons = reasons
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if l.size >= l.maxBytes {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	n, err := l.file.Write(data)
	l.size += int64(n)
	return err
}

func (l *AuditLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	return l.open()
}

func (l *AuditLogger) Path() string {
	return l.path
}

func (l *AuditLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// ReadEvents loads every event in the audit log at path. A missing file
// yields no events; malformed lines are skipped.
func ReadEvents(path string) ([]AuditEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var events []AuditEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var event AuditEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
