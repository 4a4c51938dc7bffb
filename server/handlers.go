package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Anniext/bqlens/core"
	"github.com/Anniext/bqlens/monitor"
)

// indexView 首页渲染数据。
type indexView struct {
	Filter  core.QueryFilter
	Queries []*core.SlowQuery
}

// analyzeView 分析/优化页渲染数据。
type analyzeView struct {
	QueryText string
	Error     string
	Result    *core.AnalysisResult
}

type optimizeView struct {
	QueryText string
	Error     string
	Result    *core.OptimizationResult
}

type historyView struct {
	Records []*core.AnalysisRecord
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	filter := parseFilter(r)
	queries, err := s.store.ListQueries(r.Context(), &filter)
	if err != nil {
		s.renderError(w, err)
		return
	}

	s.render(w, "index.html", indexView{Filter: filter, Queries: queries})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	view := analyzeView{}

	switch r.Method {
	case http.MethodGet:
		// 从慢查询列表跳转时预填查询文本
		if queryID := r.URL.Query().Get("query_id"); queryID != "" {
			if query, err := s.store.GetQuery(r.Context(), queryID); err == nil {
				view.QueryText = query.QueryText
			}
		}
	case http.MethodPost:
		view.QueryText = r.FormValue("query")
		if err := s.guard.CheckQuery(view.QueryText); err != nil {
			view.Error = userMessage(err)
			break
		}

		result := s.analyzer.Analyze(r.Context(), view.QueryText)
		view.Result = result
		s.recordHistory(r, &core.AnalysisRecord{
			QueryText:   view.QueryText,
			IssuesFound: result.IssuesFound,
			Source:      result.Source,
			Timestamp:   time.Now(),
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.render(w, "analyze.html", view)
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	view := optimizeView{}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		view.QueryText = r.FormValue("query")
		if err := s.guard.CheckQuery(view.QueryText); err != nil {
			view.Error = userMessage(err)
			break
		}

		result := s.analyzer.Optimize(r.Context(), view.QueryText)
		view.Result = result
		s.recordHistory(r, &core.AnalysisRecord{
			QueryText:   view.QueryText,
			IssuesFound: result.Analysis.HasIssues(),
			Source:      result.Source,
			Timestamp:   time.Now(),
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.render(w, "optimize.html", view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	view := historyView{}

	if user := currentUser(r); user != nil {
		if session, err := s.sessions.GetSession(r.Context(), user.SessionID); err == nil {
			// 最近的记录排在前面
			for i := len(session.History) - 1; i >= 0; i-- {
				view.Records = append(view.Records, session.History[i])
			}
		}
	}

	s.render(w, "history.html", view)
}

// handleHealth 输出健康报告。未接入健康管理器时退化为静态存活响应。
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": core.Version,
		})
		return
	}

	report := s.health.CheckHealth(r.Context())
	status := http.StatusOK
	if report.OverallStatus == monitor.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

// apiQueries GET /api/queries，JSON 形式的慢查询列表。
func (s *Server) apiQueries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filter := parseFilter(r)
	queries, err := s.store.ListQueries(r.Context(), &filter)
	if err != nil {
		s.writeBQError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"queries": queries,
		"count":   len(queries),
	})
}

// apiQueryByID GET /api/queries/{id}
func (s *Server) apiQueryByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	queryID := strings.TrimPrefix(r.URL.Path, "/api/queries/")
	if queryID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "query id is required")
		return
	}

	query, err := s.store.GetQuery(r.Context(), queryID)
	if err != nil {
		s.writeBQError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, query)
}

// analyzeRequest JSON API 的请求体。
type analyzeRequest struct {
	Query string `json:"query"`
}

// apiAnalyze POST /api/analyze
func (s *Server) apiAnalyze(w http.ResponseWriter, r *http.Request) {
	query, ok := s.readAnalyzeRequest(w, r)
	if !ok {
		return
	}

	result := s.analyzer.Analyze(r.Context(), query)
	s.recordHistory(r, &core.AnalysisRecord{
		QueryText:   query,
		IssuesFound: result.IssuesFound,
		Source:      result.Source,
		Timestamp:   time.Now(),
	})
	s.writeJSON(w, http.StatusOK, result)
}

// apiOptimize POST /api/optimize
func (s *Server) apiOptimize(w http.ResponseWriter, r *http.Request) {
	query, ok := s.readAnalyzeRequest(w, r)
	if !ok {
		return
	}

	result := s.analyzer.Optimize(r.Context(), query)
	s.recordHistory(r, &core.AnalysisRecord{
		QueryText:   query,
		IssuesFound: result.Analysis.HasIssues(),
		Source:      result.Source,
		Timestamp:   time.Now(),
	})
	s.writeJSON(w, http.StatusOK, result)
}

// readAnalyzeRequest 解析并校验 JSON 请求体。
func (s *Server) readAnalyzeRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "", false
	}

	var request analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return "", false
	}

	if err := s.guard.CheckQuery(request.Query); err != nil {
		s.writeBQError(w, err)
		return "", false
	}
	return request.Query, true
}

// recordHistory 写入会话历史，失败只记日志。
func (s *Server) recordHistory(r *http.Request, record *core.AnalysisRecord) {
	user := currentUser(r)
	if user == nil {
		return
	}
	if err := s.sessions.AppendHistory(r.Context(), user.SessionID, record); err != nil && s.logger != nil {
		s.logger.Debug("会话历史写入失败", "session_id", user.SessionID, "error", err.Error())
	}
}

func parseFilter(r *http.Request) core.QueryFilter {
	filter := core.QueryFilter{
		User: r.URL.Query().Get("user"),
	}
	if raw := r.URL.Query().Get("min_runtime_ms"); raw != "" {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil && value > 0 {
			filter.MinRuntimeMS = value
		}
	}
	return filter
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil && s.logger != nil {
		s.logger.Error("模板渲染失败", "template", name, "error", err.Error())
	}
}

func (s *Server) renderError(w http.ResponseWriter, err error) {
	if s.logger != nil {
		s.logger.Error("页面处理失败", "error", err.Error())
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && s.logger != nil {
		s.logger.Error("JSON 响应写入失败", "error", err.Error())
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message})
}

// writeBQError 将 BQError 映射为 HTTP 状态码。
func (s *Server) writeBQError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	if bqErr := core.GetBQError(err); bqErr != nil {
		message = bqErr.Code
		switch bqErr.Type {
		case core.ErrorTypeValidation:
			status = http.StatusBadRequest
		case core.ErrorTypeNotFound:
			status = http.StatusNotFound
		case core.ErrorTypeAuth:
			status = http.StatusUnauthorized
		}
	}

	s.writeJSONError(w, status, message)
}

// userMessage 页面上展示的错误文案。
func userMessage(err error) string {
	if bqErr := core.GetBQError(err); bqErr != nil {
		switch bqErr.Code {
		case "QUERY_TOO_LONG":
			return "Query text exceeds the configured length limit."
		case "MISSING_PARAMETER":
			return "Please paste a query before submitting."
		}
	}
	return "The query could not be processed."
}
