package handler

import (
	"net/http"
	"strings"

	"github.com/hitoshi/customervoice/internal/middleware"
	"github.com/hitoshi/customervoice/internal/model"
)

// maxIngestBatch は1リクエストで取り込めるレビューの上限。
const maxIngestBatch = 500

// IngestRecorder は取り込み件数の通知先。*metrics.Collector が実装する。
type IngestRecorder interface {
	RecordReviewsIngested(count int)
}

// ReviewHandler はレビューの取り込みと解析のハンドラー。
type ReviewHandler struct {
	workspaces WorkspaceProvider
	recorder   IngestRecorder
}

// NewReviewHandler はReviewHandlerを生成する。recorderはnil可。
func NewReviewHandler(workspaces WorkspaceProvider, recorder IngestRecorder) *ReviewHandler {
	return &ReviewHandler{workspaces: workspaces, recorder: recorder}
}

// Ingest はレビューをREST APIへ取り込む。
// POST /api/reviews/ingest
func (h *ReviewHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	var req model.ReviewIngestRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.SourceID) == "" {
		middleware.WriteValidationError(w, "source_id", "required")
		return
	}
	if len(req.Reviews) == 0 || len(req.Reviews) > maxIngestBatch {
		middleware.WriteValidationError(w, "reviews", "must contain between 1 and 500 reviews")
		return
	}
	for _, rv := range req.Reviews {
		if rv.SourceReviewID == "" || strings.TrimSpace(rv.Body) == "" {
			middleware.WriteValidationError(w, "reviews", "each review needs source_review_id and body")
			return
		}
	}

	resp, err := ws.API.Ingest(r.Context(), req)
	if err != nil {
		middleware.WriteUpstreamError(w, err)
		return
	}
	if h.recorder != nil {
		h.recorder.RecordReviewsIngested(resp.IngestedCount)
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Analyze は任意のテキストを解析する。
// POST /api/reviews/analyze
func (h *ReviewHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	var req model.AnalyzeRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		middleware.WriteValidationError(w, "text", "required")
		return
	}

	resp, err := ws.API.Analyze(r.Context(), req)
	if err != nil {
		middleware.WriteUpstreamError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}
