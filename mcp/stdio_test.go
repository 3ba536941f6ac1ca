package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStdioMCPServer(t *testing.T) {
	assert := assert.New(t)

	in := strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
		``,
		`not json`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"search_codebase","arguments":{"query":"hello"}}}`,
	}, "\n"))

	var out bytes.Buffer

	s := NewStdioMCPServer(in, &out)
	for method, endpoint := range MakeEndpoints(&fakeService{}) {
		require.NoError(t, s.AddEndpoint(method, endpoint))
	}

	assert.Error(s.AddEndpoint(mcp.MethodPing, PingEndpoint(&fakeService{})))

	err := s.Listen(context.Background())
	require.NoError(t, err)

	responses := make([]map[string]any, 0)

	scanner := bufio.NewScanner(&out)
	for scanner.Scan() {
		var resp map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		responses = append(responses, resp)
	}

	if !assert.Len(responses, 4) {
		return
	}

	assert.Equal(float64(1), responses[0]["id"])
	assert.Contains(responses[0], "result")

	assert.Nil(responses[1]["id"])
	if errObj, ok := responses[1]["error"].(map[string]any); assert.True(ok) {
		assert.Equal(float64(mcp.PARSE_ERROR), errObj["code"])
	}

	assert.Equal(float64(2), responses[2]["id"])
	if errObj, ok := responses[2]["error"].(map[string]any); assert.True(ok) {
		assert.Equal(float64(mcp.METHOD_NOT_FOUND), errObj["code"])
	}

	assert.Equal(float64(3), responses[3]["id"])
	assert.Contains(responses[3], "result")
}

func TestStdioMCPServerCancel(t *testing.T) {
	assert := assert.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w := io.Pipe()
	defer w.Close()

	s := NewStdioMCPServer(r, &bytes.Buffer{})

	err := s.Listen(ctx)
	assert.ErrorIs(err, context.Canceled)
}
