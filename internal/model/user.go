// Package model はドメインモデルを定義する。
package model

// Credentials はログイン時に呼び出し元から受け取る認証情報を表す。
// 入力専用であり、永続化やログ出力は行わない。
type Credentials struct {
	Username string
	Password string
}

// SessionPayload はIdPの認証結果を表す。
// IdPから受け取った値をそのまま呼び出し元へ返す。
type SessionPayload struct {
	ID           int64
	Username     string
	Email        string
	FirstName    string
	LastName     string
	Gender       string
	Image        string
	AccessToken  string
	RefreshToken string
}

// Usable はセッションとして利用可能な結果かどうかを返す。
// ユーザー名・アクセストークン・リフレッシュトークンのいずれかが空の場合は
// 空レスポンスとして扱う。
func (p *SessionPayload) Usable() bool {
	if p == nil {
		return false
	}
	return p.Username != "" && p.AccessToken != "" && p.RefreshToken != ""
}

// ProfilePayload はIdPから取得したユーザープロフィールを表す。
type ProfilePayload struct {
	ID        int64
	Username  string
	Email     string
	FirstName string
	LastName  string
	Gender    string
	Image     string
	Phone     string
	BirthDate string
}

// UserListPayload はIdPのユーザー一覧の1ページ分を表す。
type UserListPayload struct {
	Users []ProfilePayload
	Total int
	Skip  int
	Limit int
}
