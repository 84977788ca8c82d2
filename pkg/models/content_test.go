package models

import (
	"encoding/json"
	"testing"
)

func roundTripBlock(t *testing.T, block ContentBlock) ContentBlock {
	t.Helper()
	raw, err := json.Marshal(block)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ContentBlock
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v (wire: %s)", err, raw)
	}
	return got
}

func TestContentBlockRoundTrip(t *testing.T) {
	toolUseRaw, err := json.Marshal(Action{Type: ActionScreenshot})
	if err != nil {
		t.Fatalf("marshal tool_use input: %v", err)
	}

	tests := []struct {
		name  string
		block ContentBlock
	}{
		{"text", Text("hello world")},
		{"image", Image("image/png", "aGVsbG8=")},
		{"document", Document("application/pdf", "aGVsbG8=", "report.pdf", 1234)},
		{"tool_use", ToolUse("call-1", "computer", toolUseRaw)},
		{"tool_result", ToolResult("call-1", []ContentBlock{Text("ok")}, false)},
		{"tool_result_error", ToolResult("call-2", []ContentBlock{Text("boom")}, true)},
		{"thinking", Thinking("because...", "sig-1")},
		{"redacted_thinking", RedactedThinking("opaque-data")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := roundTripBlock(t, tc.block)
			if got.Type != tc.block.Type {
				t.Fatalf("type: expected %s, got %s", tc.block.Type, got.Type)
			}
			if err := got.Validate(); err != nil {
				t.Fatalf("round-tripped block failed validation: %v", err)
			}
		})
	}
}

func TestContentBlockToolResultNestedRoundTrip(t *testing.T) {
	nested := ToolResult("call-1", []ContentBlock{
		Text("here is the screen"),
		Image("image/png", "aGVsbG8="),
	}, false)

	got := roundTripBlock(t, nested)
	if got.ToolResult == nil {
		t.Fatalf("expected tool_result payload to survive the round trip")
	}
	if len(got.ToolResult.Content) != 2 {
		t.Fatalf("expected 2 nested content blocks, got %d", len(got.ToolResult.Content))
	}
	if got.ToolResult.Content[0].Text == nil || got.ToolResult.Content[0].Text.Text != "here is the screen" {
		t.Fatalf("expected nested text block to survive, got %+v", got.ToolResult.Content[0])
	}
	if got.ToolResult.Content[1].Image == nil || got.ToolResult.Content[1].Image.Source.Data != "aGVsbG8=" {
		t.Fatalf("expected nested image block to survive, got %+v", got.ToolResult.Content[1])
	}
}

func TestContentBlockValidateRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		block ContentBlock
	}{
		{"empty text", Text("   ")},
		{"image not base64", ContentBlock{Type: BlockImage, Image: &ImageBlock{Source: ImageSource{Data: "not-base64!!"}}}},
		{"image empty data", ContentBlock{Type: BlockImage, Image: &ImageBlock{Source: ImageSource{Data: ""}}}},
		{"tool_use missing id", ContentBlock{Type: BlockToolUse, ToolUse: &ToolUseBlock{Name: "computer"}}},
		{"tool_result missing id", ContentBlock{Type: BlockToolResult, ToolResult: &ToolResultBlock{}}},
		{"tool_result invalid nested", ToolResult("call-1", []ContentBlock{Text("")}, false)},
		{"redacted_thinking empty data", RedactedThinking("")},
		{"unknown type", ContentBlock{Type: "bogus"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.block.Validate(); err == nil {
				t.Fatalf("expected Validate() to reject %+v", tc.block)
			}
		})
	}
}

func TestValidateContentRequiresNonEmpty(t *testing.T) {
	if err := ValidateContent(nil); err == nil {
		t.Fatalf("expected an error for empty content")
	}
	if err := ValidateContent([]ContentBlock{Text("hi")}); err != nil {
		t.Fatalf("expected valid content to pass, got %v", err)
	}
	if err := ValidateContent([]ContentBlock{Text("hi"), Text("")}); err == nil {
		t.Fatalf("expected an error when any block is invalid")
	}
}

func TestContentBlockUnmarshalUnknownType(t *testing.T) {
	var b ContentBlock
	err := json.Unmarshal([]byte(`{"type":"not_a_real_block"}`), &b)
	if err == nil {
		t.Fatalf("expected an error for an unknown block type")
	}
}
