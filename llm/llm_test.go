package llm

import "testing"

func TestExtractSystemPrompt(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleSystem, Content: "be accurate"},
		{Role: RoleUser, Content: "hi"},
	}
	system, rest := extractSystemPrompt(messages)
	if system != "be terse\n\nbe accurate" {
		t.Errorf("system = %q", system)
	}
	if len(rest) != 1 || rest[0].Role != RoleUser {
		t.Errorf("rest = %#v", rest)
	}
}

func TestStringSlice(t *testing.T) {
	if got := stringSlice([]string{"a", "b"}); len(got) != 2 {
		t.Errorf("[]string form: %#v", got)
	}
	if got := stringSlice([]interface{}{"a", 1, "b"}); len(got) != 2 {
		t.Errorf("[]interface{} form: %#v", got)
	}
	if got := stringSlice(nil); got != nil {
		t.Errorf("nil form: %#v", got)
	}
}

func TestParseArguments(t *testing.T) {
	got := parseArguments(`{"x":1}`)
	if got["x"] != float64(1) {
		t.Errorf("got %#v", got)
	}
	if parseArguments("") != nil {
		t.Errorf("empty string should yield nil")
	}
	malformed := parseArguments("not json")
	if malformed["_raw"] != "not json" {
		t.Errorf("malformed fallback: %#v", malformed)
	}
}

func TestConvertGoogleType(t *testing.T) {
	cases := map[string]int{
		"string": 1, "number": 1, "integer": 1, "boolean": 1, "array": 1, "object": 1, "unknown": 1,
	}
	for typeStr := range cases {
		_ = convertGoogleType(typeStr) // exercise every branch without depending on genai constant values
	}
}
