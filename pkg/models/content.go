// Package models defines the wire and storage types shared across the
// agent: content blocks, computer-use actions, tasks, messages, and model
// descriptors. These types are deliberately free of any store or transport
// dependency so they can be imported by every other package without cycles.
package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// BlockType discriminates the ContentBlock tagged union.
type BlockType string

const (
	BlockText             BlockType = "text"
	BlockImage            BlockType = "image"
	BlockDocument         BlockType = "document"
	BlockToolUse          BlockType = "tool_use"
	BlockToolResult       BlockType = "tool_result"
	BlockThinking         BlockType = "thinking"
	BlockRedactedThinking BlockType = "redacted_thinking"
)

// ImageSource carries inline base64 image data, mirroring the Anthropic and
// bytebot wire shapes (`{media_type, data, type}`).
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// ContentBlock is the neutral multimodal representation shared by messages
// (C3), provider adapters (C5), and tool results produced by the reasoning
// loop (C8). Exactly one of the variant pointers is populated, matching
// Type. The zero value is invalid.
type ContentBlock struct {
	Type BlockType `json:"-"`

	Text             *TextBlock             `json:"-"`
	Image            *ImageBlock            `json:"-"`
	Document         *DocumentBlock         `json:"-"`
	ToolUse          *ToolUseBlock          `json:"-"`
	ToolResult       *ToolResultBlock       `json:"-"`
	Thinking         *ThinkingBlock         `json:"-"`
	RedactedThinking *RedactedThinkingBlock `json:"-"`
}

type TextBlock struct {
	Text string `json:"text"`
}

type ImageBlock struct {
	Source ImageSource `json:"source"`
}

type DocumentBlock struct {
	Source ImageSource `json:"source"`
	Name   string      `json:"name,omitempty"`
	Size   int64       `json:"size,omitempty"`
}

type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type ToolResultBlock struct {
	ToolUseID string         `json:"tool_use_id"`
	Content   []ContentBlock `json:"content"`
	IsError   bool           `json:"is_error,omitempty"`
}

type ThinkingBlock struct {
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

type RedactedThinkingBlock struct {
	Data string `json:"data"`
}

// Constructors keep call sites terse and always set Type consistently.

func Text(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: &TextBlock{Text: text}}
}

func Image(mediaType, data string) ContentBlock {
	return ContentBlock{Type: BlockImage, Image: &ImageBlock{Source: ImageSource{Type: "base64", MediaType: mediaType, Data: data}}}
}

func Document(mediaType, data, name string, size int64) ContentBlock {
	return ContentBlock{Type: BlockDocument, Document: &DocumentBlock{
		Source: ImageSource{Type: "base64", MediaType: mediaType, Data: data},
		Name:   name,
		Size:   size,
	}}
}

func ToolUse(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolUse: &ToolUseBlock{ID: id, Name: name, Input: input}}
}

func ToolResult(toolUseID string, content []ContentBlock, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResult: &ToolResultBlock{ToolUseID: toolUseID, Content: content, IsError: isError}}
}

func Thinking(thinking, signature string) ContentBlock {
	return ContentBlock{Type: BlockThinking, Thinking: &ThinkingBlock{Thinking: thinking, Signature: signature}}
}

func RedactedThinking(data string) ContentBlock {
	return ContentBlock{Type: BlockRedactedThinking, RedactedThinking: &RedactedThinkingBlock{Data: data}}
}

// Validate enforces the per-variant invariants from the data model: text
// blocks must be non-empty after trimming, tool-use/tool-result ids must be
// non-empty, image data must decode as base64, and tool-result content is
// validated recursively.
func (b ContentBlock) Validate() error {
	switch b.Type {
	case BlockText:
		if b.Text == nil || strings.TrimSpace(b.Text.Text) == "" {
			return fmt.Errorf("text block: text must be non-empty")
		}
		if len(b.Text.Text) > 100_000 {
			return fmt.Errorf("text block: exceeds 100000 characters")
		}
	case BlockImage:
		if b.Image == nil || b.Image.Source.Data == "" {
			return fmt.Errorf("image block: source data is required")
		}
		if _, err := base64.StdEncoding.DecodeString(b.Image.Source.Data); err != nil {
			return fmt.Errorf("image block: data is not valid base64: %w", err)
		}
	case BlockDocument:
		if b.Document == nil || b.Document.Source.Data == "" {
			return fmt.Errorf("document block: source data is required")
		}
		if _, err := base64.StdEncoding.DecodeString(b.Document.Source.Data); err != nil {
			return fmt.Errorf("document block: data is not valid base64: %w", err)
		}
	case BlockToolUse:
		if b.ToolUse == nil || b.ToolUse.ID == "" || b.ToolUse.Name == "" {
			return fmt.Errorf("tool_use block: id and name are required")
		}
	case BlockToolResult:
		if b.ToolResult == nil || b.ToolResult.ToolUseID == "" {
			return fmt.Errorf("tool_result block: tool_use_id is required")
		}
		for i, nested := range b.ToolResult.Content {
			if err := nested.Validate(); err != nil {
				return fmt.Errorf("tool_result block: nested content[%d]: %w", i, err)
			}
		}
	case BlockThinking:
		if b.Thinking == nil {
			return fmt.Errorf("thinking block: payload is required")
		}
	case BlockRedactedThinking:
		if b.RedactedThinking == nil || b.RedactedThinking.Data == "" {
			return fmt.Errorf("redacted_thinking block: data is required")
		}
	default:
		return fmt.Errorf("content block: unknown type %q", b.Type)
	}
	return nil
}

// ValidateContent enforces that a message's content is a non-empty slice of
// individually valid blocks (spec.md §3 Message invariants).
func ValidateContent(content []ContentBlock) error {
	if len(content) == 0 {
		return fmt.Errorf("content must be non-empty")
	}
	for i, block := range content {
		if err := block.Validate(); err != nil {
			return fmt.Errorf("content[%d]: %w", i, err)
		}
	}
	return nil
}

// wireBlock is the flattened on-the-wire shape: a "type" discriminator
// alongside whichever variant fields apply, matching the Anthropic/bytebot
// tagged-union convention rather than a nested envelope.
type wireBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *ImageSource `json:"source,omitempty"`
	Name   string       `json:"name,omitempty"`
	Size   int64        `json:"size,omitempty"`

	ID    string          `json:"id,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   []ContentBlock  `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`

	Signature string `json:"signature,omitempty"`
	Data      string `json:"data,omitempty"`
}

func (b ContentBlock) MarshalJSON() ([]byte, error) {
	w := wireBlock{Type: string(b.Type)}
	switch b.Type {
	case BlockText:
		if b.Text != nil {
			w.Text = b.Text.Text
		}
	case BlockImage:
		if b.Image != nil {
			w.Source = &b.Image.Source
		}
	case BlockDocument:
		if b.Document != nil {
			w.Source = &b.Document.Source
			w.Name = b.Document.Name
			w.Size = b.Document.Size
		}
	case BlockToolUse:
		if b.ToolUse != nil {
			w.ID = b.ToolUse.ID
			w.Name = b.ToolUse.Name
			w.Input = b.ToolUse.Input
		}
	case BlockToolResult:
		if b.ToolResult != nil {
			w.ToolUseID = b.ToolResult.ToolUseID
			w.Content = b.ToolResult.Content
			w.IsError = b.ToolResult.IsError
		}
	case BlockThinking:
		if b.Thinking != nil {
			w.Text = b.Thinking.Thinking
			w.Signature = b.Thinking.Signature
		}
	case BlockRedactedThinking:
		if b.RedactedThinking != nil {
			w.Data = b.RedactedThinking.Data
		}
	}
	return json.Marshal(w)
}

func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b.Type = BlockType(w.Type)
	switch b.Type {
	case BlockText:
		b.Text = &TextBlock{Text: w.Text}
	case BlockImage:
		src := ImageSource{}
		if w.Source != nil {
			src = *w.Source
		}
		b.Image = &ImageBlock{Source: src}
	case BlockDocument:
		src := ImageSource{}
		if w.Source != nil {
			src = *w.Source
		}
		b.Document = &DocumentBlock{Source: src, Name: w.Name, Size: w.Size}
	case BlockToolUse:
		b.ToolUse = &ToolUseBlock{ID: w.ID, Name: w.Name, Input: w.Input}
	case BlockToolResult:
		b.ToolResult = &ToolResultBlock{ToolUseID: w.ToolUseID, Content: w.Content, IsError: w.IsError}
	case BlockThinking:
		b.Thinking = &ThinkingBlock{Thinking: w.Text, Signature: w.Signature}
	case BlockRedactedThinking:
		b.RedactedThinking = &RedactedThinkingBlock{Data: w.Data}
	default:
		return fmt.Errorf("content block: unknown type %q", w.Type)
	}
	return nil
}
