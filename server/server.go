// Package server 提供慢查询浏览与分析的 Web 界面和 JSON API。
package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Anniext/bqlens/core"
	"github.com/Anniext/bqlens/monitor"
	"github.com/Anniext/bqlens/security"
)

//go:embed templates/*.html
var templateFS embed.FS

// sessionCookieName 会话令牌的 Cookie 名。
const sessionCookieName = "bqlens_session"

// anonymousUser Web 界面未接入账号体系，所有访客共用该用户名。
const anonymousUser = "web"

// Server Web 服务器。
// analyzer：分析网关。
// store：慢查询仓库。
// sessions：会话管理器。
// tokens：会话令牌管理器。
// guard：查询入口守卫。
type Server struct {
	config     *core.ServerConfig     // 服务器配置
	analyzer   core.QueryAnalyzer     // 分析网关
	store      core.QueryStore        // 慢查询仓库
	sessions   core.SessionManager    // 会话管理器
	tokens     core.TokenManager      // 令牌管理器
	guard      *security.QueryGuard   // 查询守卫
	logger     core.Logger            // 日志记录器
	metrics    core.MetricsCollector  // 指标收集器
	health     *monitor.HealthManager // 健康管理器，可选
	templates  *template.Template     // 页面模板
	httpServer *http.Server
	listener   net.Listener
	running    bool
	mu         sync.RWMutex
}

// NewServer 创建 Web 服务器。
func NewServer(
	config *core.ServerConfig,
	analyzer core.QueryAnalyzer,
	store core.QueryStore,
	sessions core.SessionManager,
	tokens core.TokenManager,
	guard *security.QueryGuard,
	logger core.Logger,
	metrics core.MetricsCollector,
) (*Server, error) {
	funcs := template.FuncMap{
		"formatBytes":    core.FormatBytes,
		"formatDuration": core.FormatDuration,
		"truncate":       core.TruncateString,
	}
	templates, err := template.New("bqlens").Funcs(funcs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, core.WrapError(err, core.ErrorTypeInternal, "TEMPLATE_PARSE_FAILED", "页面模板解析失败")
	}

	return &Server{
		config:    config,
		analyzer:  analyzer,
		store:     store,
		sessions:  sessions,
		tokens:    tokens,
		guard:     guard,
		logger:    logger,
		metrics:   metrics,
		templates: templates,
	}, nil
}

// SetHealthManager 接入健康管理器，/health 端点据此输出各组件状态。
func (s *Server) SetHealthManager(health *monitor.HealthManager) {
	s.health = health
}

// Handler 返回完整路由，测试通过它直接驱动请求。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.withSession(s.handleIndex))
	mux.HandleFunc("/analyze", s.withSession(s.handleAnalyze))
	mux.HandleFunc("/optimize", s.withSession(s.handleOptimize))
	mux.HandleFunc("/history", s.withSession(s.handleHistory))
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/api/queries", s.withSession(s.apiQueries))
	mux.HandleFunc("/api/queries/", s.withSession(s.apiQueryByID))
	mux.HandleFunc("/api/analyze", s.withSession(s.apiAnalyze))
	mux.HandleFunc("/api/optimize", s.withSession(s.apiOptimize))

	return s.instrument(mux)
}

// Start 启动服务器。
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("Web 服务器已在运行")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", addr, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.running = true

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("Web 服务器异常退出", "error", err.Error())
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("Web 服务器已启动", "address", listener.Addr().String())
	}
	return nil
}

// Stop 停止服务器。
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.logger != nil {
		s.logger.Info("Web 服务器正在停止")
	}
	return s.httpServer.Shutdown(ctx)
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

// instrument 请求级日志与指标。
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := core.GenerateRequestID()
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)

		if s.metrics != nil {
			s.metrics.IncrementCounter("http_requests_total", map[string]string{
				"path":   r.URL.Path,
				"method": r.Method,
			})
			s.metrics.RecordHistogram("http_request_duration_ms",
				float64(time.Since(start).Milliseconds()),
				map[string]string{"path": r.URL.Path})
		}
		if s.logger != nil {
			s.logger.Debug("http 请求完成",
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"duration_ms", time.Since(start).Milliseconds())
		}
	})
}

// ctxKey 请求上下文键类型。
type ctxKey string

const userContextKey ctxKey = "user"

// withSession 会话中间件。
// Cookie 中的令牌有效时复用既有会话，否则创建新会话并下发新令牌。
func (s *Server) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := s.resolveUser(r)
		if user == nil {
			created, err := s.startSession(w, r)
			if err != nil {
				if s.logger != nil {
					s.logger.Warn("会话创建失败", "error", err.Error())
				}
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
			user = created
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	}
}

// resolveUser 从 Cookie 中恢复用户，令牌无效或会话已过期时返回 nil。
func (s *Server) resolveUser(r *http.Request) *core.UserInfo {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return nil
	}

	user, err := s.tokens.ValidateToken(cookie.Value)
	if err != nil {
		return nil
	}

	if _, err := s.sessions.GetSession(r.Context(), user.SessionID); err != nil {
		return nil
	}
	return user
}

// startSession 创建新会话并写入令牌 Cookie。
func (s *Server) startSession(w http.ResponseWriter, r *http.Request) (*core.UserInfo, error) {
	session, err := s.sessions.CreateSession(r.Context(), anonymousUser)
	if err != nil {
		return nil, err
	}

	user := &core.UserInfo{
		ID:        session.UserID,
		Username:  session.UserID,
		SessionID: session.SessionID,
	}

	token, err := s.tokens.IssueToken(user)
	if err != nil {
		return nil, err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return user, nil
}

// currentUser 取出中间件放入上下文的用户。
func currentUser(r *http.Request) *core.UserInfo {
	user, _ := r.Context().Value(userContextKey).(*core.UserInfo)
	return user
}
