// Package security はレビュー本文の無害化と外部フィード取得時のSSRF対策を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はHTMLを含むテキストから表示用のプレーンテキストを取り出す。
// 並行利用しても安全。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はすべてのタグを除去するTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// PlainText はタグを除去し、文字参照を戻し、連続する空白を1つにまとめる。
// script/styleの中身は残らない。
func (s *TextSanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.policy.Sanitize(raw)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}

var defaultSanitizer = NewTextSanitizer()

// PlainText はパッケージ既定のTextSanitizerでPlainTextを呼ぶ。
func PlainText(raw string) string {
	return defaultSanitizer.PlainText(raw)
}
