// Package model はCustomer Voice REST APIのドメインモデルとエラー型を定義する。
package model

import "time"

// User はREST APIが返す認証済みユーザーを表す。
type User struct {
	UserID      string     `json:"user_id"`
	Email       string     `json:"email"`
	DisplayName *string    `json:"display_name"`
	Role        string     `json:"role"`
	IsAdmin     bool       `json:"is_admin"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

// Name は表示名を返す。表示名が未設定の場合はメールアドレスを返す。
func (u *User) Name() string {
	if u.DisplayName != nil && *u.DisplayName != "" {
		return *u.DisplayName
	}
	return u.Email
}

// Session はクライアントが保持する認証セッション。
// Userが非nilならTokenは必ず空でない。
type Session struct {
	Token string
	User  *User
}

// Authenticated はユーザー情報まで確定したセッションかどうかを返す。
func (s Session) Authenticated() bool {
	return s.Token != "" && s.User != nil
}

// LoginRequest は POST /auth/login のリクエストボディ。
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest は POST /auth/register のリクエストボディ。
// AdminInviteは管理者招待コード（任意）。
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	AdminInvite string `json:"admin_invite,omitempty"`
}

// AuthSuccessResponse はログイン・登録成功時のレスポンス。
type AuthSuccessResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// MeResponse は GET /auth/me のレスポンス。
type MeResponse struct {
	User User `json:"user"`
}
