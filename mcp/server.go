package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Anniext/bqlens/core"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsConnection 一条 WebSocket 连接。
type wsConnection struct {
	id        string
	conn      *websocket.Conn
	sendChan  chan []byte
	closeOnce sync.Once
	closeChan chan struct{}
}

func (c *wsConnection) close() {
	c.closeOnce.Do(func() {
		close(c.closeChan)
		c.conn.Close()
	})
}

// send 将消息排入发送队列，连接已关闭或队列满时返回错误。
func (c *wsConnection) send(data []byte) error {
	select {
	case c.sendChan <- data:
		return nil
	case <-c.closeChan:
		return core.ErrMCPConnectionClosed
	default:
		return fmt.Errorf("连接 %s 发送队列已满", c.id)
	}
}

// Server MCP 服务器，实现 core.MCPServer 接口。
// 通过 WebSocket 承载 MCP 消息，每条连接一个读循环和一个写循环。
type Server struct {
	config      *core.MCPConfig          // MCP 配置
	registry    *HandlerRegistry         // 处理器注册表
	upgrader    websocket.Upgrader       // WebSocket 升级器
	connections map[string]*wsConnection // 活跃连接
	listener    net.Listener             // 底层监听器
	httpServer  *http.Server             // HTTP 服务器
	logger      core.Logger              // 日志记录器
	metrics     core.MetricsCollector    // 指标收集器
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	mu          sync.RWMutex
}

// NewServer 创建 MCP 服务器。
func NewServer(config *core.MCPConfig, registry *HandlerRegistry, logger core.Logger, metrics core.MetricsCollector) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		config:   config,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		connections: make(map[string]*wsConnection),
		logger:      logger,
		metrics:     metrics,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start 启动服务器并在 addr 上监听。
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("MCP 服务器已在运行")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleUpgrade)

	s.listener = listener
	s.httpServer = &http.Server{Handler: mux}
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("MCP 服务器异常退出", "error", err.Error())
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("MCP 服务器已启动", "address", listener.Addr().String())
	}
	return nil
}

// Stop 停止服务器并关闭全部连接。
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()

	for _, conn := range s.connections {
		conn.close()
	}
	s.connections = make(map[string]*wsConnection)
	httpServer := s.httpServer
	s.mu.Unlock()

	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}

	s.wg.Wait()

	if s.logger != nil {
		s.logger.Info("MCP 服务器已停止")
	}
	return nil
}

// RegisterHandler 注册处理器
func (s *Server) RegisterHandler(method string, handler core.MCPHandler) error {
	return s.registry.Register(method, handler)
}

// BroadcastNotification 向所有连接广播通知。
func (s *Server) BroadcastNotification(notification *core.MCPNotification) error {
	message := &core.MCPMessage{
		Type:   "notification",
		Method: notification.Method,
		Params: notification.Params,
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	s.mu.RLock()
	connections := make([]*wsConnection, 0, len(s.connections))
	for _, conn := range s.connections {
		connections = append(connections, conn)
	}
	s.mu.RUnlock()

	for _, conn := range connections {
		if err := conn.send(data); err != nil && s.logger != nil {
			s.logger.Debug("广播发送失败", "connection_id", conn.id, "error", err.Error())
		}
	}
	return nil
}

// Addr 返回实际监听地址，未启动时为空串。
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// IsRunning 报告服务器是否正在运行。
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ConnectionCount 返回活跃连接数。
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// handleUpgrade 将 HTTP 请求升级为 WebSocket 连接。
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	full := s.config.MaxConnections > 0 && len(s.connections) >= s.config.MaxConnections
	s.mu.RUnlock()
	if full {
		http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("WebSocket 升级失败", "error", err.Error())
		}
		return
	}

	connection := &wsConnection{
		id:        uuid.New().String(),
		conn:      wsConn,
		sendChan:  make(chan []byte, 64),
		closeChan: make(chan struct{}),
	}

	s.mu.Lock()
	s.connections[connection.id] = connection
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("新连接已建立", "connection_id", connection.id)
	}
	if s.metrics != nil {
		s.metrics.IncrementCounter("mcp_connections_opened_total", nil)
	}

	s.wg.Add(2)
	go s.writeLoop(connection)
	go s.readLoop(connection)
}

// readLoop 连接读循环。
func (s *Server) readLoop(c *wsConnection) {
	defer s.wg.Done()
	defer func() {
		c.close()
		s.mu.Lock()
		delete(s.connections, c.id)
		s.mu.Unlock()

		if s.logger != nil {
			s.logger.Info("连接已关闭", "connection_id", c.id)
		}
		if s.metrics != nil {
			s.metrics.IncrementCounter("mcp_connections_closed_total", nil)
		}
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-c.closeChan:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var message core.MCPMessage
		if err := json.Unmarshal(data, &message); err != nil {
			s.sendMessage(c, &core.MCPMessage{
				Type:  "response",
				Error: &core.MCPError{Code: ErrCodeParse, Message: core.ErrMCPInvalidMessage.Message},
			})
			continue
		}

		s.handleMessage(c, &message)
	}
}

// writeLoop 连接写循环，附带心跳。
func (s *Server) writeLoop(c *wsConnection) {
	defer s.wg.Done()

	ticker := time.NewTicker(core.DefaultHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.sendChan:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.closeChan:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

// handleMessage 按消息类型分发。
func (s *Server) handleMessage(c *wsConnection, message *core.MCPMessage) {
	switch message.Type {
	case "request":
		s.handleRequest(c, message)
	case "notification":
		s.handleNotification(c, message)
	default:
		if s.logger != nil {
			s.logger.Warn("未知消息类型", "type", message.Type, "connection_id", c.id)
		}
	}
}

// handleRequest 处理请求消息，每个请求独立协程并受超时约束。
func (s *Server) handleRequest(c *wsConnection, message *core.MCPMessage) {
	if s.metrics != nil {
		s.metrics.IncrementCounter("mcp_requests_received_total", map[string]string{"method": message.Method})
	}

	request := &core.MCPRequest{
		ID:     message.ID,
		Method: message.Method,
		Params: message.Params,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		response := s.dispatch(request)
		s.sendResponse(c, response)

		if s.metrics != nil {
			s.metrics.IncrementCounter("mcp_requests_processed_total", map[string]string{
				"method": message.Method,
			})
		}
	}()
}

// dispatch 执行一次请求分发。
func (s *Server) dispatch(request *core.MCPRequest) *core.MCPResponse {
	if err := validateRequest(request); err != nil {
		return errorResponse(request.ID, ErrCodeInvalidRequest, err.Error(), nil)
	}

	handler, exists := s.registry.Get(request.Method)
	if !exists {
		return errorResponse(request.ID, ErrCodeMethodNotFound, core.ErrMCPMethodNotFound.Message, map[string]any{
			"method": request.Method,
		})
	}

	timeout := s.config.Timeout
	if timeout <= 0 {
		timeout = core.DefaultMessageTimeout
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	response, err := handler.Handle(ctx, request)
	if err != nil {
		return bqErrorResponse(request.ID, err)
	}
	return response
}

// handleNotification 处理通知消息。
func (s *Server) handleNotification(c *wsConnection, message *core.MCPMessage) {
	switch message.Method {
	case "ping":
		s.sendMessage(c, &core.MCPMessage{
			Type:   "notification",
			Method: "pong",
			Params: map[string]any{"timestamp": time.Now().Unix()},
		})
	default:
		if s.logger != nil {
			s.logger.Debug("未处理的通知", "method", message.Method, "connection_id", c.id)
		}
	}
}

func (s *Server) sendResponse(c *wsConnection, response *core.MCPResponse) {
	s.sendMessage(c, &core.MCPMessage{
		Type:   "response",
		ID:     response.ID,
		Result: response.Result,
		Error:  response.Error,
	})
}

func (s *Server) sendMessage(c *wsConnection, message *core.MCPMessage) {
	data, err := json.Marshal(message)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("消息序列化失败", "error", err.Error())
		}
		return
	}

	if err := c.send(data); err != nil && s.logger != nil {
		s.logger.Debug("消息发送失败", "connection_id", c.id, "error", err.Error())
	}
}
