package mcp

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func TestNewRegistersTools(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(nil, logger)
	require.NotNil(t, s.MCPServer())
}

func TestJSONResult(t *testing.T) {
	res, err := jsonResult(map[string]int{"total": 2})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.False(t, res.IsError)

	text, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, `"total": 2`)
}

func TestErrorResult(t *testing.T) {
	res := errorResult("query_id is required")
	assert.True(t, res.IsError)
	text, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	assert.Equal(t, "query_id is required", text.Text)
}
