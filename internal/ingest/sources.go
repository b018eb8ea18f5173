// Package ingest はレビューソースの読み込みとREST APIへの取り込みを扱う。
//
// ソースはYAMLで定義し、各ソースのフィードを取得してレビューに変換する。
// サンプルデータのJSONからの一括取り込みもここで扱う。
package ingest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hitoshi/customervoice/internal/model"
)

// Source は接続済みのレビューソース。
// URLはフィードそのものか、フィードを宣言したHTMLページ。
type Source struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	Platform   string `yaml:"platform,omitempty" json:"platform,omitempty"`
	ExternalID string `yaml:"external_id,omitempty" json:"external_id,omitempty"`
	URL        string `yaml:"url" json:"url"`
	Language   string `yaml:"language,omitempty" json:"language,omitempty"`
}

// Metadata はAPIへ送るソースの付帯情報を返す。
func (s Source) Metadata() *model.SourceMetadata {
	return &model.SourceMetadata{
		ExternalID: s.ExternalID,
		Name:       s.Name,
		Platform:   s.Platform,
		URL:        s.URL,
	}
}

// Validate は必須項目とIDの形式を検証する。
func (s Source) Validate() error {
	var errs []error
	if _, err := uuid.Parse(s.ID); err != nil {
		errs = append(errs, fmt.Errorf("id %q is not a UUID", s.ID))
	}
	if strings.TrimSpace(s.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(s.URL) == "" {
		errs = append(errs, errors.New("url is required"))
	}
	return errors.Join(errs...)
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// ParseSources はYAMLからソース一覧を読み込む。
// IDの重複や不正なソースがあればエラーを返す。
func ParseSources(data []byte) ([]Source, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	seen := make(map[string]bool, len(f.Sources))
	for i, s := range f.Sources {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("sources[%d]: duplicate id %s", i, s.ID)
		}
		seen[s.ID] = true
	}
	return f.Sources, nil
}

// LoadSources はファイルからソース一覧を読み込む。
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseSources(data)
}
