package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/authgate/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードとHTTPステータスの対応表。
var statusByCode = map[string]int{
	model.ErrCodeAuthenticationFailed:   http.StatusBadRequest,
	model.ErrCodeProfileRetrievalFailed: http.StatusBadRequest,
	model.ErrCodeListUsersFailed:        http.StatusBadRequest,
	model.ErrCodeMissingCredential:      http.StatusUnauthorized,
	model.ErrCodeStoreUnavailable:       http.StatusServiceUnavailable,
}

// StatusForCode はエラーコードに対応するHTTPステータスを返す。
// 未知のコードは500になる。
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteError はerrに含まれるAPIErrorのコードからステータスを決めて書き込む。
// APIErrorを含まない、または未知のコードの場合は内部エラーとして扱う。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		WriteInternalServerError(w)
		return
	}
	status := StatusForCode(apiErr.Code)
	if status == http.StatusInternalServerError {
		WriteInternalServerError(w)
		return
	}
	WriteErrorResponse(w, status, apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
