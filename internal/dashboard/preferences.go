package dashboard

import (
	"context"
	"fmt"

	"github.com/hitoshi/customervoice/internal/digest"
	"github.com/hitoshi/customervoice/internal/storage"
)

// ThemePreferenceKey は表示テーマの保存キー。
const ThemePreferenceKey = "cv_theme"

// Theme はダッシュボードの表示テーマ。
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// ParseTheme は文字列をThemeに変換する。未知の値はエラー。
func ParseTheme(s string) (Theme, error) {
	switch Theme(s) {
	case ThemeDark, ThemeLight:
		return Theme(s), nil
	}
	return "", fmt.Errorf("unknown theme %q", s)
}

// Toggle は反対のテーマを返す。
func (t Theme) Toggle() Theme {
	if t == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

// Preferences はワークスペースごとの表示設定。
type Preferences struct {
	Theme           Theme            `json:"theme"`
	DigestFrequency digest.Frequency `json:"digest_frequency"`
}

// PreferencesUpdate は設定の部分更新。nilのフィールドは変更しない。
type PreferencesUpdate struct {
	Theme           *string `json:"theme,omitempty"`
	DigestFrequency *string `json:"digest_frequency,omitempty"`
	ToggleTheme     bool    `json:"toggle_theme,omitempty"`
}

// FieldError は入力値の検証エラー。
type FieldError struct {
	Field string
	Issue string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Issue
}

// LoadPreferences は保存済みの設定を読み込む。
// 値がないか不正な場合はダークテーマと週次ダイジェストになる。
func LoadPreferences(ctx context.Context, store *storage.SoftStore) Preferences {
	theme := ThemeDark
	if v, ok := store.Get(ctx, ThemePreferenceKey); ok {
		if t, err := ParseTheme(v); err == nil {
			theme = t
		}
	}
	return Preferences{
		Theme:           theme,
		DigestFrequency: digest.LoadFrequency(ctx, store),
	}
}

// ApplyPreferences は更新を検証して保存し、更新後の設定を返す。
// いずれかの値が不正な場合は何も保存しない。
func ApplyPreferences(ctx context.Context, store *storage.SoftStore, update PreferencesUpdate) (Preferences, error) {
	prefs := LoadPreferences(ctx, store)

	if update.Theme != nil {
		t, err := ParseTheme(*update.Theme)
		if err != nil {
			return prefs, &FieldError{Field: "theme", Issue: "must be dark or light"}
		}
		prefs.Theme = t
	} else if update.ToggleTheme {
		prefs.Theme = prefs.Theme.Toggle()
	}
	if update.DigestFrequency != nil {
		f, err := digest.ParseFrequency(*update.DigestFrequency)
		if err != nil {
			return LoadPreferences(ctx, store), &FieldError{Field: "digest_frequency", Issue: "must be weekly or monthly"}
		}
		prefs.DigestFrequency = f
	}

	store.Set(ctx, ThemePreferenceKey, string(prefs.Theme))
	digest.SaveFrequency(ctx, store, prefs.DigestFrequency)
	return prefs, nil
}
