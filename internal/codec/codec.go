// Package codec implements the bidirectional mapping between the
// polymorphic message content variants and the persisted triple
// (content_type, content_data, content_metadata).
package codec

import (
	"encoding/json"
	"fmt"
)

// Content types recognized on the wire. Any other string round-trips as
// Unknown so that newer writers never break older readers.
const (
	TypeMetadata   = "metadata"
	TypeText       = "text"
	TypeImage      = "image"
	TypeToolCall   = "tool_call"
	TypeToolResult = "tool_result"
	TypeImageBatch = "image_batch"
)

// Content is the tagged-union payload of a message. Exactly one of the
// typed fields is meaningful, selected by Type; Unknown carries the raw
// payload for content types this build doesn't recognize.
type Content struct {
	Type string

	Metadata   *MetadataContent
	Text       *TextContent
	Image      *ImageContent
	ToolCall   *ToolCallContent
	ToolResult *ToolResultContent
	ImageBatch *ImageBatchContent
	Unknown    json.RawMessage
}

type MetadataContent struct {
	Title     string `json:"title"`
	CreatedBy string `json:"created_by"`
}

type TextContent struct {
	Text string `json:"text"`
}

type ImageContent struct {
	ImageURL string `json:"image_url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MimeType string `json:"mime_type"`
}

type ToolCallContent struct {
	ToolName   string          `json:"tool_name"`
	ToolCallID string          `json:"tool_call_id"`
	Arguments  json.RawMessage `json:"arguments"`
}

type ToolResultContent struct {
	ToolCallID string          `json:"tool_call_id"`
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result"`
}

type ImageBatchContent struct {
	Images []json.RawMessage `json:"images"`
}

// Encode serializes a Content's payload (minus its discriminator) to its
// canonical textual form. The returned contentType is the wire tag to
// persist alongside contentData.
func Encode(c Content) (contentType string, contentData string, err error) {
	var payload interface{}
	switch c.Type {
	case TypeMetadata:
		if c.Metadata == nil || c.Metadata.Title == "" {
			return "", "", fmt.Errorf("codec: metadata content requires title")
		}
		payload = c.Metadata
	case TypeText:
		if c.Text == nil || c.Text.Text == "" {
			return "", "", fmt.Errorf("codec: text content requires text")
		}
		payload = c.Text
	case TypeImage:
		if c.Image == nil || c.Image.ImageURL == "" {
			return "", "", fmt.Errorf("codec: image content requires image_url")
		}
		payload = c.Image
	case TypeToolCall:
		if c.ToolCall == nil || c.ToolCall.ToolName == "" || c.ToolCall.ToolCallID == "" {
			return "", "", fmt.Errorf("codec: tool_call content requires tool_name and tool_call_id")
		}
		payload = c.ToolCall
	case TypeToolResult:
		if c.ToolResult == nil || c.ToolResult.ToolCallID == "" {
			return "", "", fmt.Errorf("codec: tool_result content requires tool_call_id")
		}
		payload = c.ToolResult
	case TypeImageBatch:
		if c.ImageBatch == nil || len(c.ImageBatch.Images) == 0 {
			return "", "", fmt.Errorf("codec: image_batch content requires images")
		}
		payload = c.ImageBatch
	case "":
		return "", "", fmt.Errorf("codec: content type is required")
	default:
		// Unknown tag minted by this writer: pass the raw payload through
		// unchanged, same as what a decode of an unrecognized tag produces.
		if len(c.Unknown) == 0 {
			return "", "", fmt.Errorf("codec: unrecognized content type %q with no payload", c.Type)
		}
		return c.Type, string(c.Unknown), nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("codec: encode %s: %w", c.Type, err)
	}
	return c.Type, string(data), nil
}

// Decode is the inverse of Encode for every known tag. An unrecognized tag
// returns an opaque Content carrying the original data untouched.
func Decode(contentType string, contentData string) (Content, error) {
	raw := json.RawMessage(contentData)
	switch contentType {
	case TypeMetadata:
		var v MetadataContent
		if err := json.Unmarshal(raw, &v); err != nil {
			return Content{}, fmt.Errorf("codec: decode metadata: %w", err)
		}
		return Content{Type: contentType, Metadata: &v}, nil
	case TypeText:
		var v TextContent
		if err := json.Unmarshal(raw, &v); err != nil {
			return Content{}, fmt.Errorf("codec: decode text: %w", err)
		}
		return Content{Type: contentType, Text: &v}, nil
	case TypeImage:
		var v ImageContent
		if err := json.Unmarshal(raw, &v); err != nil {
			return Content{}, fmt.Errorf("codec: decode image: %w", err)
		}
		return Content{Type: contentType, Image: &v}, nil
	case TypeToolCall:
		var v ToolCallContent
		if err := json.Unmarshal(raw, &v); err != nil {
			return Content{}, fmt.Errorf("codec: decode tool_call: %w", err)
		}
		return Content{Type: contentType, ToolCall: &v}, nil
	case TypeToolResult:
		var v ToolResultContent
		if err := json.Unmarshal(raw, &v); err != nil {
			return Content{}, fmt.Errorf("codec: decode tool_result: %w", err)
		}
		return Content{Type: contentType, ToolResult: &v}, nil
	case TypeImageBatch:
		var v ImageBatchContent
		if err := json.Unmarshal(raw, &v); err != nil {
			return Content{}, fmt.Errorf("codec: decode image_batch: %w", err)
		}
		return Content{Type: contentType, ImageBatch: &v}, nil
	default:
		return Content{Type: contentType, Unknown: append(json.RawMessage(nil), raw...)}, nil
	}
}

// MarshalJSON flattens Content back to the wire shape the HTTP layer
// exchanges with clients: a single object with a "type" discriminator and
// the variant's own fields (or the opaque payload for unknown types).
func (c Content) MarshalJSON() ([]byte, error) {
	var payload json.RawMessage
	switch c.Type {
	case TypeMetadata:
		payload, _ = json.Marshal(c.Metadata)
	case TypeText:
		payload, _ = json.Marshal(c.Text)
	case TypeImage:
		payload, _ = json.Marshal(c.Image)
	case TypeToolCall:
		payload, _ = json.Marshal(c.ToolCall)
	case TypeToolResult:
		payload, _ = json.Marshal(c.ToolResult)
	case TypeImageBatch:
		payload, _ = json.Marshal(c.ImageBatch)
	default:
		payload = c.Unknown
	}

	merged := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &merged); err != nil {
			return nil, fmt.Errorf("codec: marshal %s: %w", c.Type, err)
		}
	}
	typeTag, err := json.Marshal(c.Type)
	if err != nil {
		return nil, err
	}
	merged["type"] = typeTag
	return json.Marshal(merged)
}

// UnmarshalJSON reads the wire shape (a "type" discriminator plus
// variant fields) back into a Content, using Decode so the same
// unknown-tag passthrough rule applies on both paths.
func (c *Content) UnmarshalJSON(data []byte) error {
	var withTag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &withTag); err != nil {
		return fmt.Errorf("codec: unmarshal content: %w", err)
	}
	decoded, err := Decode(withTag.Type, string(data))
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}
