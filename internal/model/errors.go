package model

import (
	"errors"
	"fmt"
)

// ErrEmptyProviderResponse はIdPが成功応答を返したが結果が空だった場合のエラー。
// 呼び出し元には認証失敗として報告する。
var ErrEmptyProviderResponse = errors.New("empty response from identity provider")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, provider, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因となったエラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeAuthenticationFailed   = "AUTHENTICATION_FAILED"
	ErrCodeProfileRetrievalFailed = "PROFILE_RETRIEVAL_FAILED"
	ErrCodeListUsersFailed        = "LIST_USERS_FAILED"
	ErrCodeStoreUnavailable       = "STORE_UNAVAILABLE"
	ErrCodeMissingCredential      = "MISSING_CREDENTIAL"
)

// HasCode はerrのチェーンに指定コードのAPIErrorが含まれるかを返す。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// causeMessage は原因エラーのメッセージを返す。nilの場合は空文字。
func causeMessage(cause error) string {
	if cause == nil {
		return ""
	}
	return cause.Error()
}

// NewAuthenticationFailedError はログイン失敗エラーを生成する。
// IdPによる拒否、空レスポンス、監査レコードの保存失敗のいずれもこのエラーになる。
func NewAuthenticationFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeAuthenticationFailed,
		Message:  fmt.Sprintf("認証に失敗しました: %s", causeMessage(cause)),
		Category: "auth",
		Action:   "ユーザー名とパスワードを確認して、再度ログインしてください。",
		Err:      cause,
	}
}

// NewProfileRetrievalFailedError はプロフィール取得失敗エラーを生成する。
func NewProfileRetrievalFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeProfileRetrievalFailed,
		Message:  fmt.Sprintf("ユーザー情報の取得に失敗しました: %s", causeMessage(cause)),
		Category: "auth",
		Action:   "アクセストークンが有効か確認し、必要であれば再度ログインしてください。",
		Err:      cause,
	}
}

// NewListUsersFailedError はユーザー一覧取得失敗エラーを生成する。
func NewListUsersFailedError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeListUsersFailed,
		Message:  fmt.Sprintf("ユーザー一覧の取得に失敗しました: %s", causeMessage(cause)),
		Category: "provider",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewStoreUnavailableError は監査ストアの読み取り失敗エラーを生成する。
func NewStoreUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  fmt.Sprintf("ログイン履歴の取得に失敗しました: %s", causeMessage(cause)),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewMissingCredentialError はアクセストークン未指定エラーを生成する。
func NewMissingCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCredential,
		Message:  "アクセストークンが必要です。",
		Category: "auth",
		Action:   "有効なアクセストークンを指定してください。",
	}
}
