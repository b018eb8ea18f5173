package ingest

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hitoshi/customervoice/internal/model"
)

// SampleSource はサンプルデータ内のソース定義。
type SampleSource struct {
	ID string `json:"id"`
	model.SourceMetadata
}

// SampleReview はサンプルデータ内のレビュー。source_idでソースに紐づく。
type SampleReview struct {
	SourceID string `json:"source_id"`
	model.ReviewIngestItem
}

// Sample はサンプルデータファイルの内容。
type Sample struct {
	Sources []SampleSource `json:"sources"`
	Reviews []SampleReview `json:"reviews"`
}

// LoadSample はサンプルデータのJSONファイルを読み込む。
func LoadSample(path string) (*Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load sample data %s: %w", path, err)
	}
	var s Sample
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unable to parse sample data %s: %w", path, err)
	}
	return &s, nil
}

// BuildIngestPayloads はレビューをソースごとにまとめ、ソースの初出順に取り込み要求を返す。
// ソース定義が見つからない場合はsource_metadataを送らない。
func BuildIngestPayloads(s *Sample) []model.ReviewIngestRequest {
	if s == nil {
		return nil
	}
	meta := make(map[string]model.SourceMetadata, len(s.Sources))
	for _, src := range s.Sources {
		meta[src.ID] = src.SourceMetadata
	}

	index := make(map[string]int)
	var payloads []model.ReviewIngestRequest
	for _, r := range s.Reviews {
		i, ok := index[r.SourceID]
		if !ok {
			req := model.ReviewIngestRequest{
				SourceID:                r.SourceID,
				OverwriteSourceMetadata: true,
			}
			if m, found := meta[r.SourceID]; found {
				req.SourceMetadata = &m
			}
			payloads = append(payloads, req)
			i = len(payloads) - 1
			index[r.SourceID] = i
		}
		payloads[i].Reviews = append(payloads[i].Reviews, r.ReviewIngestItem)
	}
	return payloads
}
