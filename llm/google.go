package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleModel implements ChatModel against the Gemini API.
type GoogleModel struct {
	apiKey    string
	modelName string
}

// NewGoogleModel returns a ChatModel bound to modelName, defaulting to
// gemini-2.5-flash when modelName is empty.
func NewGoogleModel(apiKey, modelName string) *GoogleModel {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &GoogleModel{apiKey: apiKey, modelName: modelName}
}

// Chat sends messages to Gemini. It does not inspect safety ratings and
// never returns SafetyFilterError; a blocked response with no content
// yields an empty ChatOut.
func (m *GoogleModel) Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}
	if m.apiKey == "" {
		return ChatOut{}, errors.New("llm: google api key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(m.apiKey))
	if err != nil {
		return ChatOut{}, fmt.Errorf("llm: google client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(m.modelName)
	if len(tools) > 0 {
		genModel.Tools = convertGoogleTools(tools)
	}

	resp, err := genModel.GenerateContent(ctx, convertGoogleParts(messages)...)
	if err != nil {
		return ChatOut{}, fmt.Errorf("llm: google request: %w", err)
	}
	return convertGoogleResponse(resp), nil
}

func convertGoogleParts(messages []Message) []genai.Part {
	var parts []genai.Part
	for _, msg := range messages {
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
	}
	return parts
}

func convertGoogleTools(tools []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertGoogleSchema(t.Schema),
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func convertGoogleSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	out := &genai.Schema{Type: genai.TypeObject}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		properties := make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			propMap, ok := val.(map[string]interface{})
			if !ok {
				continue
			}
			ps := &genai.Schema{}
			if typeStr, ok := propMap["type"].(string); ok {
				ps.Type = convertGoogleType(typeStr)
			}
			if desc, ok := propMap["description"].(string); ok {
				ps.Description = desc
			}
			properties[key] = ps
		}
		out.Properties = properties
	}
	out.Required = stringSlice(schema["required"])
	return out
}

func convertGoogleType(typeStr string) genai.Type {
	switch typeStr {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func convertGoogleResponse(resp *genai.GenerateContentResponse) ChatOut {
	var out ChatOut
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(p)
		case genai.FunctionCall:
			out.ToolCalls = append(out.ToolCalls, ToolCall{Name: p.Name, Input: p.Args})
		}
	}
	return out
}

// SafetyFilterError reports that Gemini blocked content on safety grounds.
type SafetyFilterError struct {
	Category string
}

func (e *SafetyFilterError) Error() string {
	return "llm: content blocked by safety filter: " + e.Category
}
