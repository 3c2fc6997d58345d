// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

const defaultAccessTokenCookie = "accessToken"

// maxRequestBodyBytes はログインリクエストボディの上限。
const maxRequestBodyBytes = 1 << 20

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Login(ctx context.Context, creds model.Credentials) (*model.SessionPayload, error)
	GetProfile(ctx context.Context, accessCredential string) (*model.ProfilePayload, error)
	ListUsers(ctx context.Context) (*model.UserListPayload, error)
	GetHistory(ctx context.Context, subject string) ([]*model.AuditRecord, error)
	GetAllHistory(ctx context.Context) ([]*model.AuditRecord, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// AccessTokenCookie は/meでアクセストークンを読むCookie名。
	AccessTokenCookie string
}

// AuthHandler は認証委譲とログイン履歴のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	if config.AccessTokenCookie == "" {
		config.AccessTokenCookie = defaultAccessTokenCookie
	}
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// sessionResponse はログイン成功時のレスポンス。
type sessionResponse struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Gender       string `json:"gender"`
	Image        string `json:"image"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// profileResponse はユーザープロフィールのレスポンス。
type profileResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Gender    string `json:"gender"`
	Image     string `json:"image"`
	Phone     string `json:"phone"`
	BirthDate string `json:"birthDate"`
}

// userListResponse はユーザー一覧のレスポンス。
type userListResponse struct {
	Users []profileResponse `json:"users"`
	Total int               `json:"total"`
	Skip  int               `json:"skip"`
	Limit int               `json:"limit"`
}

// loginLogResponse はログイン履歴1件のレスポンス。
type loginLogResponse struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	LoginTime    time.Time `json:"loginTime"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
}

// Login はIdPへログインを委譲する。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return
	}

	session, err := h.service.Login(r.Context(), model.Credentials{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

// Me は現在のユーザー情報を返す。
// アクセストークンはCookieから読み、なければAuthorizationヘッダーのBearerを使う。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.GetProfile(r.Context(), h.accessCredential(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toProfileResponse(*profile))
}

// accessCredential はリクエストからアクセストークンを取り出す。見つからない場合は空文字。
func (h *AuthHandler) accessCredential(r *http.Request) string {
	if cookie, err := r.Cookie(h.config.AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// Users はIdPのユーザー一覧を返す。
// GET /api/auth/users
func (h *AuthHandler) Users(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListUsers(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	resp := userListResponse{
		Users: make([]profileResponse, len(list.Users)),
		Total: list.Total,
		Skip:  list.Skip,
		Limit: list.Limit,
	}
	for i, u := range list.Users {
		resp.Users[i] = toProfileResponse(u)
	}

	writeJSON(w, http.StatusOK, resp)
}

// LoginHistory は指定ユーザーのログイン履歴を新しい順に返す。
// GET /api/auth/login-history/{username}
func (h *AuthHandler) LoginHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.GetHistory(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoginLogResponses(records))
}

// LoginLogs は全ユーザーのログイン履歴を新しい順に返す。
// GET /api/auth/login-logs
func (h *AuthHandler) LoginLogs(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.GetAllHistory(r.Context())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toLoginLogResponses(records))
}

func toSessionResponse(s *model.SessionPayload) sessionResponse {
	return sessionResponse{
		ID:           s.ID,
		Username:     s.Username,
		Email:        s.Email,
		FirstName:    s.FirstName,
		LastName:     s.LastName,
		Gender:       s.Gender,
		Image:        s.Image,
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
	}
}

func toProfileResponse(p model.ProfilePayload) profileResponse {
	return profileResponse{
		ID:        p.ID,
		Username:  p.Username,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Gender:    p.Gender,
		Image:     p.Image,
		Phone:     p.Phone,
		BirthDate: p.BirthDate,
	}
}

// toLoginLogResponses は監査レコードをレスポンス形式に変換する。
// 0件の場合もnullではなく空配列を返す。
func toLoginLogResponses(records []*model.AuditRecord) []loginLogResponse {
	out := make([]loginLogResponse, len(records))
	for i, rec := range records {
		out[i] = loginLogResponse{
			ID:           rec.ID,
			Username:     rec.Subject,
			LoginTime:    rec.CreatedAt,
			AccessToken:  rec.AccessCredential,
			RefreshToken: rec.RefreshCredential,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
