// Package apitest はREST APIの契約をメモリ上で再現するテスト用サーバーを提供する。
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/customervoice/internal/model"
)

// RecordedRequest はサーバーが受け取ったリクエストの要約。
type RecordedRequest struct {
	Method        string
	Path          string
	EscapedPath   string
	Query         url.Values
	Authorization string
	ContentType   string
}

type account struct {
	user     model.User
	password string
}

// Server はREST APIの偽実装。
// 状態はすべてメモリ上にあり、テストから直接参照・変更できる。
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	accounts    map[string]*account // email -> account
	tokens      map[string]string   // token -> email
	competitors []model.Competitor
	insights    model.InsightsResponse
	digest      model.DigestResponse
	digestToken string
	ingested    map[string]bool // source_id + "/" + source_review_id
	requests    []RecordedRequest
	failures    []failure
	delay       time.Duration
	now         func() time.Time
}

type failure struct {
	status     int
	retryAfter string
}

// New は偽サーバーを起動する。テスト終了時に自動で停止する。
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		ingested: make(map[string]bool),
		now:      func() time.Time { return time.Now().UTC() },
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record)

	r.Post("/auth/register", s.handleRegister)
	r.Post("/auth/login", s.handleLogin)
	r.Get("/auth/me", s.handleMe)

	r.Get("/insights", s.handleInsights)
	r.Post("/ingest", s.handleIngest)
	r.Post("/analyze", s.handleAnalyze)
	r.Post("/digest/run", s.handleDigest)

	r.Route("/competitors", func(r chi.Router) {
		r.Get("/", s.handleListCompetitors)
		r.Post("/", s.handleCreateCompetitor)
		r.Get("/{id}", s.handleGetCompetitor)
		r.Patch("/{id}", s.handleUpdateCompetitor)
		r.Delete("/{id}", s.handleDeleteCompetitor)
		r.Get("/{id}/comparison", s.handleComparison)
	})
	return r
}

// record はリクエストを記録し、予約された失敗応答があれば返す。
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, RecordedRequest{
			Method:        r.Method,
			Path:          r.URL.Path,
			EscapedPath:   r.URL.EscapedPath(),
			Query:         r.URL.Query(),
			Authorization: r.Header.Get("Authorization"),
			ContentType:   r.Header.Get("Content-Type"),
		})
		var f *failure
		if len(s.failures) > 0 {
			f = &s.failures[0]
			s.failures = s.failures[1:]
		}
		delay := s.delay
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		if f != nil {
			if f.retryAfter != "" {
				w.Header().Set("Retry-After", f.retryAfter)
			}
			body := model.ErrorResponse{
				Error:   errorCode(f.status),
				Message: http.StatusText(f.status),
			}
			if f.status == http.StatusTooManyRequests {
				body.Message = "Too many requests."
				body.Guidance = "Wait before retrying."
			}
			writeJSON(w, f.status, body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// FailNext は次のn回のリクエストに指定ステータスのエラーを返すよう予約する。
// retryAfterが空でなければRetry-Afterヘッダーを付ける。
func (s *Server) FailNext(n, status int, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, failure{status: status, retryAfter: retryAfter})
	}
}

// SetDelay はすべての応答を遅延させる。
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Requests は受け取ったリクエストの一覧を返す。
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// RequestCount はパスに一致するリクエストの件数を返す。
func (s *Server) RequestCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// AddUser はアカウントを登録し、そのユーザーを返す。
func (s *Server) AddUser(email, password, displayName string) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, password, displayName)
}

func (s *Server) addUserLocked(email, password, displayName string) model.User {
	now := s.now()
	u := model.User{
		UserID:    uuid.NewString(),
		Email:     email,
		Role:      "analyst",
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if displayName != "" {
		name := displayName
		u.DisplayName = &name
	}
	s.accounts[email] = &account{user: u, password: password}
	return u
}

// IssueToken はユーザーの有効なトークンを発行する。
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueTokenLocked(email)
}

func (s *Server) issueTokenLocked(email string) string {
	token := "tok-" + uuid.NewString()
	s.tokens[token] = email
	return token
}

// RevokeToken はトークンを無効にする。以降 /auth/me は401を返す。
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// SetInsights は GET /insights が返すスナップショットを設定する。
func (s *Server) SetInsights(resp model.InsightsResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = resp
}

// SetDigest はダイジェストのトークンと応答のひな形を設定する。
func (s *Server) SetDigest(token string, resp model.DigestResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digestToken = token
	s.digest = resp
}

// AddCompetitor は競合を直接登録する。
func (s *Server) AddCompetitor(name string, tags ...string) model.Competitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	c := model.Competitor{
		CompetitorID: uuid.NewString(),
		Name:         name,
		Tags:         append([]string{}, tags...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.competitors = append(s.competitors, c)
	return c
}

// Competitors は登録済みの競合を返す。
func (s *Server) Competitors() []model.Competitor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Competitor(nil), s.competitors...)
}

func (s *Server) userForRequest(r *http.Request) (*model.User, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.tokens[token]
	if !ok {
		return nil, false
	}
	acc, ok := s.accounts[email]
	if !ok || !acc.user.IsActive {
		return nil, false
	}
	u := acc.user
	return &u, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "body", "invalid JSON")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeValidation(w, "email", "value is not a valid email address")
		return
	}
	if len(req.Password) < 8 {
		writeValidation(w, "password", "String should have at least 8 characters")
		return
	}

	s.mu.Lock()
	if _, exists := s.accounts[req.Email]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, model.ErrorResponse{
			Error:   "conflict",
			Message: "An account with this email already exists.",
			Details: []model.ErrorDetail{{Field: "email", Issue: "must be unique"}},
		})
		return
	}
	u := s.addUserLocked(req.Email, req.Password, req.DisplayName)
	token := s.issueTokenLocked(req.Email)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, model.AuthSuccessResponse{Token: token, User: u})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "body", "invalid JSON")
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Email]
	if !ok || acc.password != req.Password {
		s.mu.Unlock()
		writeUnauthorized(w, "Invalid credentials.")
		return
	}
	if !acc.user.IsActive {
		s.mu.Unlock()
		writeUnauthorized(w, "Account is inactive.")
		return
	}
	now := s.now()
	acc.user.LastLoginAt = &now
	u := acc.user
	token := s.issueTokenLocked(req.Email)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, model.AuthSuccessResponse{Token: token, User: u})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := s.userForRequest(r)
	if !ok {
		writeUnauthorized(w, "Authentication required.")
		return
	}
	writeJSON(w, http.StatusOK, model.MeResponse{User: *u})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	s.mu.Lock()
	resp := s.insights
	s.mu.Unlock()

	resp.Pagination.Page = page
	resp.Pagination.PageSize = pageSize
	resp.Pagination.TotalPages = (resp.Pagination.TotalItems + pageSize - 1) / pageSize
	if resp.SentimentTrend == nil {
		resp.SentimentTrend = []model.SentimentTrendPoint{}
	}
	if resp.TopicDistribution == nil {
		resp.TopicDistribution = []model.TopicDistributionItem{}
	}
	if resp.SourceBreakdown == nil {
		resp.SourceBreakdown = []model.SourceBreakdownItem{}
	}
	if resp.RecentReviews == nil {
		resp.RecentReviews = []model.RecentReview{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req model.ReviewIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "body", "invalid JSON")
		return
	}
	if _, err := uuid.Parse(req.SourceID); err != nil {
		writeValidation(w, "source_id", "Input should be a valid UUID")
		return
	}
	for i, item := range req.Reviews {
		if item.Body == "" {
			writeValidation(w, "reviews."+strconv.Itoa(i)+".body", "body is required")
			return
		}
		if item.Rating != nil && (*item.Rating < 0 || *item.Rating > 5) {
			writeValidation(w, "reviews."+strconv.Itoa(i)+".rating", "Input should be between 0 and 5")
			return
		}
	}

	s.mu.Lock()
	resp := model.ReviewIngestResponse{ReviewIDs: []string{}, Message: "Reviews accepted for processing."}
	for _, item := range req.Reviews {
		key := req.SourceID + "/" + item.SourceReviewID
		if s.ingested[key] {
			resp.DuplicateCount++
			continue
		}
		s.ingested[key] = true
		resp.IngestedCount++
		resp.ReviewIDs = append(resp.ReviewIDs, uuid.NewString())
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req model.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeValidation(w, "text", "Field required")
		return
	}

	text := strings.ToLower(req.Text)
	sentiment := model.Sentiment{Label: model.SentimentNeutral, Score: 0}
	switch {
	case strings.Contains(text, "love") || strings.Contains(text, "great"):
		sentiment = model.Sentiment{Label: model.SentimentPositive, Score: 0.8}
	case strings.Contains(text, "slow") || strings.Contains(text, "bad"):
		sentiment = model.Sentiment{Label: model.SentimentNegative, Score: -0.6}
	}
	topics := []model.TopicScore{}
	if strings.Contains(text, "slow") || strings.Contains(text, "fast") {
		topics = append(topics, model.TopicScore{TopicLabel: "performance", TopicConfidence: 0.9})
	}
	writeJSON(w, http.StatusOK, model.AnalyzeResponse{Sentiment: sentiment, Topics: topics})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	expected := s.digestToken
	resp := s.digest
	s.mu.Unlock()

	token, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if expected == "" || token != expected {
		writeUnauthorized(w, "Invalid digest token.")
		return
	}

	var req model.DigestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeValidation(w, "body", "invalid JSON")
			return
		}
	}

	end := s.now()
	if req.TimeframeEnd != nil {
		end = *req.TimeframeEnd
	}
	start := end.AddDate(0, 0, -7)
	if req.TimeframeStart != nil {
		start = *req.TimeframeStart
	}
	if !start.Before(end) {
		writeValidation(w, "timeframe_end", "timeframe_end must be after timeframe_start")
		return
	}

	resp.DigestID = uuid.NewString()
	resp.TimeframeStart = start
	resp.TimeframeEnd = end
	resp.GeneratedAt = s.now()
	if resp.Highlights == nil {
		resp.Highlights = []string{}
	}
	if resp.KeyMetrics == nil {
		resp.KeyMetrics = map[string]any{}
	}
	if req.IncludeCompetitors != nil && !*req.IncludeCompetitors {
		resp.CompetitorSummary = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListCompetitors(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	s.mu.Lock()
	items := append([]model.Competitor(nil), s.competitors...)
	s.mu.Unlock()

	// 新しい順
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	total := len(items)
	from := min((page-1)*pageSize, total)
	to := min(from+pageSize, total)

	writeJSON(w, http.StatusOK, model.CompetitorListResponse{
		Pagination: model.Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalItems: total,
			TotalPages: (total + pageSize - 1) / pageSize,
		},
		Items: append([]model.Competitor{}, items[from:to]...),
	})
}

func (s *Server) handleCreateCompetitor(w http.ResponseWriter, r *http.Request) {
	var req model.CompetitorCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeValidation(w, "name", "String should have at least 1 character")
		return
	}

	s.mu.Lock()
	for _, c := range s.competitors {
		if c.Name == req.Name {
			s.mu.Unlock()
			writeConflict(w)
			return
		}
	}
	now := s.now()
	c := model.Competitor{
		CompetitorID: uuid.NewString(),
		Name:         req.Name,
		URL:          req.URL,
		Description:  req.Description,
		Tags:         append([]string{}, req.Tags...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.competitors = append(s.competitors, c)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) findCompetitorLocked(id string) int {
	for i, c := range s.competitors {
		if c.CompetitorID == id {
			return i
		}
	}
	return -1
}

func (s *Server) handleGetCompetitor(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	idx := s.findCompetitorLocked(chi.URLParam(r, "id"))
	var c model.Competitor
	if idx >= 0 {
		c = s.competitors[idx]
	}
	s.mu.Unlock()

	if idx < 0 {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateCompetitor(w http.ResponseWriter, r *http.Request) {
	var req model.CompetitorUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeValidation(w, "body", "invalid JSON")
		return
	}

	s.mu.Lock()
	idx := s.findCompetitorLocked(chi.URLParam(r, "id"))
	if idx < 0 {
		s.mu.Unlock()
		writeNotFound(w)
		return
	}
	c := s.competitors[idx]
	if req.Name != nil {
		for i, other := range s.competitors {
			if i != idx && other.Name == *req.Name {
				s.mu.Unlock()
				writeConflict(w)
				return
			}
		}
		c.Name = *req.Name
	}
	if req.URL != nil {
		c.URL = *req.URL
	}
	if req.Description != nil {
		c.Description = *req.Description
	}
	if req.Tags != nil {
		c.Tags = append([]string{}, (*req.Tags)...)
	}
	c.UpdatedAt = s.now()
	s.competitors[idx] = c
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCompetitor(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	idx := s.findCompetitorLocked(chi.URLParam(r, "id"))
	if idx < 0 {
		s.mu.Unlock()
		writeNotFound(w)
		return
	}
	s.competitors = append(s.competitors[:idx], s.competitors[idx+1:]...)
	s.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleComparison(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	idx := s.findCompetitorLocked(chi.URLParam(r, "id"))
	var c model.Competitor
	if idx >= 0 {
		c = s.competitors[idx]
	}
	s.mu.Unlock()

	if idx < 0 {
		writeNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, model.CompetitorComparisonResponse{
		Competitor:          c,
		SelfSentiment:       model.SentimentSummary{Positive: 12, Neutral: 5, Negative: 3, AverageScore: 0.42, ReviewCount: 20},
		CompetitorSentiment: model.SentimentSummary{Positive: 6, Neutral: 4, Negative: 6, AverageScore: 0.05, ReviewCount: 16},
		TopTopics: []model.TopicComparison{
			{TopicLabel: "pricing", SelfShare: 0.2, CompetitorShare: 0.45, Delta: 0.25},
			{TopicLabel: "support", SelfShare: 0.3, CompetitorShare: 0.15, Delta: -0.15},
		},
	})
}

// pageParams はpage/page_sizeを読み取る。既定は1/25、page_sizeの上限は100。
func pageParams(r *http.Request) (int, int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil || pageSize < 1 {
		pageSize = 25
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func errorCode(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	default:
		if status >= 500 {
			return "server_error"
		}
		return "bad_request"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeValidation(w http.ResponseWriter, field, issue string) {
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
		Error:   "validation_error",
		Message: "Request validation failed.",
		Details: []model.ErrorDetail{{Field: field, Issue: issue}},
	})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized", Message: message})
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, model.ErrorResponse{
		Error:   "not_found",
		Message: "Competitor not found.",
		Details: []model.ErrorDetail{},
	})
}

func writeConflict(w http.ResponseWriter) {
	writeJSON(w, http.StatusConflict, model.ErrorResponse{
		Error:   "conflict",
		Message: "Competitor with this name already exists.",
		Details: []model.ErrorDetail{{Field: "name", Issue: "must be unique"}},
	})
}
