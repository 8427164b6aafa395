package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockGenerator calls the Bedrock Converse API with tool definitions.
type BedrockGenerator struct {
	api     bedrockConverseAPI
	modelID string
}

// NewBedrockGenerator wraps a Converse client.
func NewBedrockGenerator(api bedrockConverseAPI, modelID string) *BedrockGenerator {
	if api == nil {
		panic("conversation: bedrock converse client cannot be nil")
	}
	return &BedrockGenerator{api: api, modelID: modelID}
}

var _ Generator = (*BedrockGenerator)(nil)

func (g *BedrockGenerator) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	if strings.TrimSpace(g.modelID) == "" {
		return Generation{}, errors.New("conversation: bedrock model id is required")
	}
	messages := make([]brtypes.Message, 0, len(req.Messages)+2)
	for _, msg := range req.Messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := brtypes.ConversationRoleUser
		switch msg.Role {
		case RoleUser:
		case RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return Generation{}, fmt.Errorf("conversation: unsupported role %q", msg.Role)
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
		})
	}
	if len(messages) == 0 {
		return Generation{}, errNoMessages
	}
	if tr := req.ToolResult; tr != nil {
		messages = append(messages,
			brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(tr.Call.ID),
					Name:      aws.String(tr.Call.Name),
					Input:     document.NewLazyDocument(tr.Call.Input),
				}}},
			},
			brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(tr.Call.ID),
					Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: tr.Content}},
				}}},
			},
		)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(g.modelID),
		Messages: messages,
	}
	if s := strings.TrimSpace(req.System); s != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: s}}
	}
	if req.MaxTokens > 0 {
		input.InferenceConfig = &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(req.MaxTokens)}
	}
	if len(req.Tools) > 0 {
		tools := make([]brtypes.Tool, 0, len(req.Tools))
		for _, spec := range req.Tools {
			tools = append(tools, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
				Name:        aws.String(spec.Name),
				Description: aws.String(spec.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(spec.JSONSchema())},
			}})
		}
		input.ToolConfig = &brtypes.ToolConfiguration{Tools: tools}
	}

	out, err := g.api.Converse(ctx, input)
	if err != nil {
		return Generation{}, fmt.Errorf("conversation: bedrock converse: %w", err)
	}
	return bedrockGeneration(out)
}

func bedrockGeneration(out *bedrockruntime.ConverseOutput) (Generation, error) {
	if out == nil {
		return Generation{}, errors.New("conversation: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return Generation{}, errors.New("conversation: bedrock response did not include a message output")
	}
	var text strings.Builder
	for _, block := range msgOut.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberToolUse:
			call := &ToolCall{ID: aws.ToString(b.Value.ToolUseId), Name: aws.ToString(b.Value.Name)}
			if b.Value.Input != nil {
				if err := b.Value.Input.UnmarshalSmithyDocument(&call.Input); err != nil {
					return Generation{}, fmt.Errorf("conversation: decode tool input: %w", err)
				}
			}
			return Generation{Text: strings.TrimSpace(text.String()), ToolCall: call}, nil
		case *brtypes.ContentBlockMemberText:
			text.WriteString(b.Value)
		}
	}
	reply := strings.TrimSpace(text.String())
	if reply == "" {
		return Generation{}, errors.New("conversation: bedrock response contained no text content blocks")
	}
	return Generation{Text: reply}, nil
}
