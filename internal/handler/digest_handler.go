package handler

import (
	"bytes"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/customervoice/internal/digest"
	"github.com/hitoshi/customervoice/internal/middleware"
	"github.com/hitoshi/customervoice/internal/model"
)

// DigestHandler はダイジェストのプレビューを生成するハンドラー。
type DigestHandler struct {
	workspaces WorkspaceProvider
	logger     *slog.Logger
	now        func() time.Time
}

// NewDigestHandler はDigestHandlerを生成する。
func NewDigestHandler(workspaces WorkspaceProvider, logger *slog.Logger) *DigestHandler {
	return &DigestHandler{workspaces: workspaces, logger: logger, now: time.Now}
}

type digestPreviewRequest struct {
	Frequency string `json:"frequency,omitempty"`
}

type digestPreviewResponse struct {
	Frequency  digest.Frequency       `json:"frequency"`
	Subject    string                 `json:"subject"`
	Digest     *model.DigestResponse  `json:"digest"`
	Praise     []model.TopicSpotlight `json:"praise"`
	Complaints []model.TopicSpotlight `json:"complaints"`
	Text       string                 `json:"text"`
}

// Preview は指定頻度（省略時はワークスペースの設定）の期間でダイジェストを生成する。
// POST /api/digest/preview
func (h *DigestHandler) Preview(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	var req digestPreviewRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	freq := ws.Preferences(r.Context()).DigestFrequency
	if req.Frequency != "" {
		f, err := digest.ParseFrequency(req.Frequency)
		if err != nil {
			middleware.WriteValidationError(w, "frequency", "must be weekly or monthly")
			return
		}
		freq = f
	}

	d, err := ws.API.RunDigest(r.Context(), freq.Request(h.now()))
	if err != nil {
		middleware.WriteUpstreamError(w, err)
		return
	}

	var text bytes.Buffer
	if err := digest.RenderText(&text, d); err != nil {
		h.logger.Error("ダイジェストの描画に失敗しました", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	praise, complaints := digest.SplitTopics(d)
	middleware.WriteJSON(w, http.StatusOK, digestPreviewResponse{
		Frequency:  freq,
		Subject:    digest.Subject(d, freq),
		Digest:     d,
		Praise:     nonNil(praise),
		Complaints: nonNil(complaints),
		Text:       text.String(),
	})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
