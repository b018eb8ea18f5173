package handler

import (
	"net/http"
	"slices"

	"github.com/hitoshi/customervoice/internal/ingest"
	"github.com/hitoshi/customervoice/internal/middleware"
)

// SourceHandler は接続済みソースの一覧とフィード取り込みのハンドラー。
type SourceHandler struct {
	workspaces WorkspaceProvider
	sources    []ingest.Source
	options    ingest.ImporterOptions
	recorder   IngestRecorder
}

// NewSourceHandler はSourceHandlerを生成する。
// sourcesは起動時に読み込んだソース定義、optionsはフィード取得の設定。
func NewSourceHandler(workspaces WorkspaceProvider, sources []ingest.Source, options ingest.ImporterOptions, recorder IngestRecorder) *SourceHandler {
	return &SourceHandler{workspaces: workspaces, sources: sources, options: options, recorder: recorder}
}

type importRequest struct {
	SourceIDs []string `json:"source_ids,omitempty"`
}

type importResult struct {
	SourceID       string `json:"source_id"`
	Name           string `json:"name"`
	IngestedCount  int    `json:"ingested_count"`
	DuplicateCount int    `json:"duplicate_count"`
	Error          string `json:"error,omitempty"`
}

// List は接続済みソースを返す。
// GET /api/sources
func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"sources": nonNil(h.sources)})
}

// Import はソースのフィードを取得してレビューを取り込む。
// source_idsを省略した場合はすべてのソースが対象になる。
// すべて失敗した場合は502を返す。
// POST /api/sources/import
func (h *SourceHandler) Import(w http.ResponseWriter, r *http.Request) {
	ws, ok := currentWorkspace(w, r, h.workspaces)
	if !ok {
		return
	}
	var req importRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	targets := h.sources
	if len(req.SourceIDs) > 0 {
		targets = nil
		for _, id := range req.SourceIDs {
			i := slices.IndexFunc(h.sources, func(s ingest.Source) bool { return s.ID == id })
			if i < 0 {
				middleware.WriteValidationError(w, "source_ids", "unknown source "+id)
				return
			}
			targets = append(targets, h.sources[i])
		}
	}
	if len(targets) == 0 {
		middleware.WriteValidationError(w, "source_ids", "no sources are configured")
		return
	}

	importer := ingest.NewImporter(ws.API, h.options)
	results, err := importer.ImportAll(r.Context(), targets)

	out := make([]importResult, 0, len(results))
	total := 0
	for _, res := range results {
		item := importResult{SourceID: res.Source.ID, Name: res.Source.Name}
		if res.Err != nil {
			item.Error = res.Err.Error()
		} else if res.Response != nil {
			item.IngestedCount = res.Response.IngestedCount
			item.DuplicateCount = res.Response.DuplicateCount
			total += res.Response.IngestedCount
		}
		out = append(out, item)
	}
	if h.recorder != nil && total > 0 {
		h.recorder.RecordReviewsIngested(total)
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusBadGateway
	}
	middleware.WriteJSON(w, status, map[string]any{"results": out})
}
