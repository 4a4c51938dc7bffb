package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Anniext/bqlens/core"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()

	registry := newTestRegistry(t)
	server := NewServer(&core.MCPConfig{
		Host:           "127.0.0.1",
		Port:           0,
		Timeout:        5 * time.Second,
		MaxConnections: 8,
	}, registry, nil, nil)

	require.NoError(t, server.Start(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})

	return server
}

func dialTestServer(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+server.Addr()+"/mcp", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendRequest(t *testing.T, conn *websocket.Conn, id, method string, params any) {
	t.Helper()

	data, err := json.Marshal(&core.MCPMessage{
		Type:   "request",
		ID:     id,
		Method: method,
		Params: params,
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func receiveMessage(t *testing.T, conn *websocket.Conn) *core.MCPMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var message core.MCPMessage
	require.NoError(t, json.Unmarshal(data, &message))
	return &message
}

func TestServerStartStop(t *testing.T) {
	server := startTestServer(t)
	assert.True(t, server.IsRunning())
	assert.NotEmpty(t, server.Addr())

	// 重复启动被拒绝
	err := server.Start(context.Background(), "127.0.0.1:0")
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
	assert.False(t, server.IsRunning())

	// 重复停止是幂等的
	require.NoError(t, server.Stop(ctx))
}

func TestServerAnalyzeRoundTrip(t *testing.T) {
	server := startTestServer(t)
	conn := dialTestServer(t, server)

	sendRequest(t, conn, "req-1", MethodAnalyzeQuery, map[string]any{
		"query": "SELECT * FROM orders",
	})

	message := receiveMessage(t, conn)
	assert.Equal(t, "response", message.Type)
	assert.Equal(t, "req-1", message.ID)
	require.Nil(t, message.Error)

	result, ok := message.Result.(map[string]any)
	require.True(t, ok)
	analysis, ok := result["analysis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, analysis["select_star"])
	assert.Equal(t, "rule_based", result["source"])
}

func TestServerMethodNotFound(t *testing.T) {
	server := startTestServer(t)
	conn := dialTestServer(t, server)

	sendRequest(t, conn, "req-1", "no_such_tool", nil)

	message := receiveMessage(t, conn)
	require.NotNil(t, message.Error)
	assert.Equal(t, ErrCodeMethodNotFound, message.Error.Code)
}

func TestServerInvalidJSON(t *testing.T) {
	server := startTestServer(t)
	conn := dialTestServer(t, server)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	message := receiveMessage(t, conn)
	require.NotNil(t, message.Error)
	assert.Equal(t, ErrCodeParse, message.Error.Code)
}

func TestServerPingPong(t *testing.T) {
	server := startTestServer(t)
	conn := dialTestServer(t, server)

	data, err := json.Marshal(&core.MCPMessage{Type: "notification", Method: "ping"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	message := receiveMessage(t, conn)
	assert.Equal(t, "notification", message.Type)
	assert.Equal(t, "pong", message.Method)
}

func TestServerBroadcast(t *testing.T) {
	server := startTestServer(t)
	conn := dialTestServer(t, server)

	// 等待连接登记完成
	require.Eventually(t, func() bool {
		return server.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, server.BroadcastNotification(&core.MCPNotification{
		Method: "catalog.updated",
		Params: map[string]any{"patterns": 6},
	}))

	message := receiveMessage(t, conn)
	assert.Equal(t, "notification", message.Type)
	assert.Equal(t, "catalog.updated", message.Method)
}
