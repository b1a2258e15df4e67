package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gzhole/agentguard/internal/bus"
	"github.com/gzhole/agentguard/internal/tools"
)

// ToolCall is the message format ToolProcessor understands.
type ToolCall struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolProcessor treats each message as a JSON tool call and runs it through
// the registry under the message's session key.
type ToolProcessor struct {
	registry *tools.Registry
}

func NewToolProcessor(r *tools.Registry) *ToolProcessor {
	return &ToolProcessor{registry: r}
}

func (p *ToolProcessor) Process(ctx context.Context, msg bus.InboundMessage) (string, error) {
	call, err := ParseToolCall(msg.Content)
	if err != nil {
		return "", err
	}
	return p.registry.Execute(ctx, msg.SessionKey(), call.Tool, call.Args), nil
}

// ParseToolCall decodes content as a ToolCall.
func ParseToolCall(content string) (ToolCall, error) {
	var call ToolCall
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()
	if err := dec.Decode(&call); err != nil {
		return ToolCall{}, fmt.Errorf("expected a JSON tool call like {\"tool\": \"list_dir\", \"args\": {\"path\": \".\"}}: %w", err)
	}
	if dec.More() {
		return ToolCall{}, errors.New("expected a single JSON tool call")
	}
	if strings.TrimSpace(call.Tool) == "" {
		return ToolCall{}, errors.New("tool call is missing the \"tool\" field")
	}
	return call, nil
}
