package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatvector/internal/tools"
)

const testKey = "mcp_key_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) JSONSchema() tools.Schema {
	return tools.Schema{Name: "echo", Description: "echoes input", Parameters: map[string]any{"type": "object"}}
}
func (echoTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	return map[string]any{"echoed": string(raw)}, nil
}

func newTestServer() *Server {
	reg := tools.NewRegistry()
	reg.Register(echoTool{})
	return NewServer(reg, Config{Whitelist: []string{testKey}})
}

func doRPC(t *testing.T, s *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func initialize(t *testing.T, s *Server) string {
	t.Helper()
	rec := doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, map[string]string{
		"Authorization": "Bearer " + testKey,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	m, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	sid, ok := m["session_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, sid)
	return sid
}

func TestInitialize_WithoutAuthReturns401(t *testing.T) {
	s := newTestServer()
	rec := doRPC(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInitialize_WithValidAuthCreatesSession(t *testing.T) {
	s := newTestServer()
	sid := initialize(t, s)
	assert.True(t, s.sessions.validate(sid))
}

func TestToolsCall_WithoutSessionReturnsSessionInvalid(t *testing.T) {
	s := newTestServer()
	rec := doRPC(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{}}}`,
		map[string]string{"Authorization": "Bearer " + testKey})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeSessionInvalid, resp.Error.Code)
}

func TestToolsCall_WithoutAuthReturnsAuthFailed(t *testing.T) {
	s := newTestServer()
	rec := doRPC(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"echo","arguments":{}}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeAuthFailed, resp.Error.Code)
}

func TestToolsCall_DispatchesToRegisteredTool(t *testing.T) {
	s := newTestServer()
	sid := initialize(t, s)

	rec := doRPC(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"x":1}}}`,
		map[string]string{"Authorization": "Bearer " + testKey, sessionHeader: sid})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestToolsCall_UnknownToolReturnsMethodNotFound(t *testing.T) {
	s := newTestServer()
	sid := initialize(t, s)

	rec := doRPC(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope","arguments":{}}}`,
		map[string]string{"Authorization": "Bearer " + testKey, sessionHeader: sid})
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestToolsList_ReturnsRegisteredSchemas(t *testing.T) {
	s := newTestServer()
	sid := initialize(t, s)

	rec := doRPC(t, s, `{"jsonrpc":"2.0","id":5,"method":"tools/list"}`,
		map[string]string{"Authorization": "Bearer " + testKey, sessionHeader: sid})
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
}

func TestUnknownMethod_ReturnsMethodNotFound(t *testing.T) {
	s := newTestServer()
	sid := initialize(t, s)

	rec := doRPC(t, s, `{"jsonrpc":"2.0","id":6,"method":"bogus"}`,
		map[string]string{"Authorization": "Bearer " + testKey, sessionHeader: sid})
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestMalformedJSON_ReturnsMalformedRequestError(t *testing.T) {
	s := newTestServer()
	rec := doRPC(t, s, `{not json`, nil)
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeParseOrMalformed, resp.Error.Code)
}

func TestSessionLimiter_RejectsOverLimit(t *testing.T) {
	l := newSessionLimiter(2)
	assert.True(t, l.allow("s1"))
	assert.True(t, l.allow("s1"))
	assert.False(t, l.allow("s1"))
	assert.True(t, l.allow("s2"))
}
