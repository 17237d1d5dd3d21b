package codec_test

import (
	"encoding/json"
	"testing"

	"github.com/chirino/conversation-tree/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := codec.Content{Type: codec.TypeText, Text: &codec.TextContent{Text: "hello"}}

	contentType, contentData, err := codec.Encode(c)
	require.NoError(t, err)
	assert.Equal(t, codec.TypeText, contentType)

	decoded, err := codec.Decode(contentType, contentData)
	require.NoError(t, err)
	require.NotNil(t, decoded.Text)
	assert.Equal(t, "hello", decoded.Text.Text)
}

func TestUnknownTypePassesThroughOpaque(t *testing.T) {
	decoded, err := codec.Decode("future_type", `{"foo":"bar"}`)
	require.NoError(t, err)
	assert.Equal(t, "future_type", decoded.Type)
	assert.JSONEq(t, `{"foo":"bar"}`, string(decoded.Unknown))
}

func TestMarshalJSONFlattensTypeTag(t *testing.T) {
	c := codec.Content{Type: codec.TypeImage, Image: &codec.ImageContent{ImageURL: "https://example.com/a.png", Width: 10, Height: 20}}

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"image","image_url":"https://example.com/a.png","width":10,"height":20,"mime_type":""}`, string(data))
}

func TestUnmarshalJSONRoundTrip(t *testing.T) {
	wire := []byte(`{"type":"tool_call","tool_name":"lookup","tool_call_id":"c1","arguments":{"q":"x"}}`)

	var c codec.Content
	require.NoError(t, json.Unmarshal(wire, &c))
	require.NotNil(t, c.ToolCall)
	assert.Equal(t, "lookup", c.ToolCall.ToolName)
	assert.Equal(t, "c1", c.ToolCall.ToolCallID)
}
