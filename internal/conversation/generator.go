package conversation

import (
	"context"
	"errors"
)

// Message roles in a generation request.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one prior turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolParam describes a single string or number argument.
type ToolParam struct {
	Name        string
	Type        string // "string" or "number"
	Description string
	Required    bool
}

// ToolSpec is a provider-neutral tool schema.
type ToolSpec struct {
	Name        string
	Description string
	Params      []ToolParam
}

// JSONSchema renders the spec's parameters as a JSON schema object.
func (t ToolSpec) JSONSchema() map[string]any {
	props := make(map[string]any, len(t.Params))
	required := make([]any, 0, len(t.Params))
	for _, p := range t.Params {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		props[p.Name] = map[string]any{"type": typ, "description": p.Description}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ToolCall is a single structured tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// StringArg returns a string argument, or "".
func (c *ToolCall) StringArg(name string) string {
	if c == nil || c.Input == nil {
		return ""
	}
	if s, ok := c.Input[name].(string); ok {
		return s
	}
	return ""
}

// ToolResult feeds a tool's output back to the model.
type ToolResult struct {
	Call    ToolCall
	Content string
}

// GenerateRequest is one generation round.
type GenerateRequest struct {
	System     string
	Messages   []ChatMessage
	Tools      []ToolSpec
	ToolResult *ToolResult
	MaxTokens  int32
}

// Generation is either prose or a single tool call.
type Generation struct {
	Text     string
	ToolCall *ToolCall
}

// Generator is the AI text/tool-call black box.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

var errNoMessages = errors.New("conversation: generation requires at least one message")
