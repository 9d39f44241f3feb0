package functions

import (
	"context"
	"fmt"

	"github.com/stepflow/stepflow/llm"
)

// Chat wraps an llm.ChatModel as a registry.Function. Input keys:
// messages ([]interface{} of {role, content}), system (optional string
// prepended as a system message), tools (optional tool specs, passed
// through to the model).
type Chat struct {
	name  string
	model llm.ChatModel
}

// NewAnthropicChat returns a Chat function backed by Claude.
func NewAnthropicChat(apiKey, modelName string) *Chat {
	return &Chat{name: "llm.anthropic.chat", model: llm.NewAnthropicModel(apiKey, modelName)}
}

// NewOpenAIChat returns a Chat function backed by OpenAI.
func NewOpenAIChat(apiKey, modelName string) *Chat {
	return &Chat{name: "llm.openai.chat", model: llm.NewOpenAIModel(apiKey, modelName)}
}

// NewGoogleChat returns a Chat function backed by Gemini.
func NewGoogleChat(apiKey, modelName string) *Chat {
	return &Chat{name: "llm.google.chat", model: llm.NewGoogleModel(apiKey, modelName)}
}

// Name returns the dotted function name.
func (c *Chat) Name() string { return c.name }

// Call sends the resolved conversation to the underlying provider.
func (c *Chat) Call(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	messages, err := parseMessages(args)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("functions: %s requires at least one message", c.name)
	}

	out, err := c.model.Chat(ctx, messages, parseToolSpecs(args["tools"]))
	if err != nil {
		return nil, fmt.Errorf("functions: %s: %w", c.name, err)
	}

	result := map[string]interface{}{"text": out.Text}
	if len(out.ToolCalls) > 0 {
		calls := make([]interface{}, len(out.ToolCalls))
		for i, tc := range out.ToolCalls {
			input := make(map[string]interface{}, len(tc.Input))
			for k, v := range tc.Input {
				input[k] = v
			}
			calls[i] = map[string]interface{}{"name": tc.Name, "input": input}
		}
		result["tool_calls"] = calls
	}
	return result, nil
}

func parseMessages(args map[string]interface{}) ([]llm.Message, error) {
	var out []llm.Message
	if system, ok := args["system"].(string); ok && system != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	raw, ok := args["messages"].([]interface{})
	if !ok {
		return out, nil
	}
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		if role == "" {
			role = llm.RoleUser
		}
		out = append(out, llm.Message{Role: role, Content: content})
	}
	return out, nil
}

func parseToolSpecs(v interface{}) []llm.ToolSpec {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]llm.ToolSpec, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		desc, _ := m["description"].(string)
		schema, _ := m["schema"].(map[string]interface{})
		out = append(out, llm.ToolSpec{Name: name, Description: desc, Schema: schema})
	}
	return out
}
