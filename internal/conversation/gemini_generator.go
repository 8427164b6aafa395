package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiGenerator uses Gemini function calling as the fallback provider.
type GeminiGenerator struct {
	client  *genai.Client
	modelID string
}

// NewGeminiGenerator creates a Gemini-backed generator.
func NewGeminiGenerator(ctx context.Context, apiKey, modelID string) (*GeminiGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-1.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, modelID: modelID}, nil
}

var _ Generator = (*GeminiGenerator)(nil)

func (g *GeminiGenerator) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	if len(req.Messages) == 0 {
		return Generation{}, errNoMessages
	}
	model := g.client.GenerativeModel(g.modelID)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if s := strings.TrimSpace(req.System); s != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(s))
	}
	if len(req.Tools) > 0 {
		model.Tools = []*genai.Tool{geminiTool(req.Tools)}
	}

	cs := model.StartChat()
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  geminiRole(msg.Role),
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	last := req.Messages[len(req.Messages)-1]
	parts := []genai.Part{genai.Text(last.Content)}
	if tr := req.ToolResult; tr != nil {
		cs.History = append(cs.History,
			&genai.Content{Role: "user", Parts: parts},
			&genai.Content{Role: "model", Parts: []genai.Part{genai.FunctionCall{Name: tr.Call.Name, Args: tr.Call.Input}}},
		)
		parts = []genai.Part{genai.FunctionResponse{Name: tr.Call.Name, Response: map[string]any{"result": tr.Content}}}
	}

	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return Generation{}, fmt.Errorf("conversation: gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Generation{}, errors.New("conversation: gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.FunctionCall:
			return Generation{
				Text:     strings.TrimSpace(text.String()),
				ToolCall: &ToolCall{ID: p.Name, Name: p.Name, Input: p.Args},
			}, nil
		case genai.Text:
			text.WriteString(string(p))
		}
	}
	reply := strings.TrimSpace(text.String())
	if reply == "" {
		return Generation{}, errors.New("conversation: gemini returned empty content")
	}
	return Generation{Text: reply}, nil
}

// Close releases the underlying client.
func (g *GeminiGenerator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func geminiRole(role string) string {
	if role == RoleAssistant {
		return "model"
	}
	return "user"
}

func geminiTool(specs []ToolSpec) *genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
		for _, p := range spec.Params {
			typ := genai.TypeString
			if p.Type == "number" {
				typ = genai.TypeNumber
			}
			schema.Properties[p.Name] = &genai.Schema{Type: typ, Description: p.Description}
			if p.Required {
				schema.Required = append(schema.Required, p.Name)
			}
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schema,
		})
	}
	return &genai.Tool{FunctionDeclarations: decls}
}
