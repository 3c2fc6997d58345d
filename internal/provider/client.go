// Package provider は外部IDプロバイダ（DummyJSON互換API）のHTTPクライアントを提供する。
// ログイン、認証済みユーザーのプロフィール取得、ユーザー一覧取得の3操作を扱う。
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

const (
	// DefaultBaseURL はDummyJSONのベースURL。
	DefaultBaseURL = "https://dummyjson.com"
	// DefaultTimeout は外部呼び出しのデフォルトタイムアウト。
	DefaultTimeout = 10 * time.Second

	loginPath   = "/auth/login"
	profilePath = "/auth/me"
	usersPath   = "/users"

	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 4 << 20
)

// ErrUnexpectedStatus はプロバイダが2xx以外のステータスを返したことを示す。
var ErrUnexpectedStatus = errors.New("provider returned unexpected status")

// StatusError はプロバイダの非2xxレスポンスを表す。
// Messageはレスポンスボディの"message"フィールド（存在する場合）。
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("provider returned status %d", e.StatusCode)
}

// Unwrap はErrUnexpectedStatusを返す。
func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Config はClientの設定。
type Config struct {
	BaseURL string
	Timeout time.Duration
	// TokenTTLMinutes が正の場合、ログイン時にexpiresInMinsとして送る。
	TokenTTLMinutes int
	// HTTPClient が未指定の場合はTimeout付きのクライアントを生成する。
	HTTPClient *http.Client
}

// Client はDummyJSON互換のIDプロバイダクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokenTTL   int
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		tokenTTL:   cfg.TokenTTLMinutes,
	}
}

// loginRequest はPOST /auth/login のリクエストボディ。
type loginRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	ExpiresInMins int    `json:"expiresInMins,omitempty"`
}

// sessionResponse はPOST /auth/login のレスポンス。
// 旧バージョンのDummyJSONはアクセストークンを"token"で返すため両方受け付ける。
type sessionResponse struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Gender       string `json:"gender"`
	Image        string `json:"image"`
	AccessToken  string `json:"accessToken"`
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Authenticate は資格情報をプロバイダのセッションと交換する。
// レスポンスボディが空またはnullの場合はnil, nilを返す（呼び出し元が失敗として扱う）。
func (c *Client) Authenticate(ctx context.Context, creds model.Credentials) (*model.SessionPayload, error) {
	body, err := json.Marshal(loginRequest{
		Username:      creds.Username,
		Password:      creds.Password,
		ExpiresInMins: max(c.tokenTTL, 0),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode login request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, loginPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var resp *sessionResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	access := resp.AccessToken
	if access == "" {
		access = resp.Token
	}

	return &model.SessionPayload{
		ID:           resp.ID,
		Username:     resp.Username,
		Email:        resp.Email,
		FirstName:    resp.FirstName,
		LastName:     resp.LastName,
		Gender:       resp.Gender,
		Image:        resp.Image,
		AccessToken:  access,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// profileResponse はGET /auth/me およびユーザー一覧の各要素のレスポンス。
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

func (p profileResponse) toModel() model.ProfilePayload {
	return model.ProfilePayload{
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

// userListResponse はGET /users のレスポンス。
type userListResponse struct {
	Users []profileResponse `json:"users"`
	Total int               `json:"total"`
	Skip  int               `json:"skip"`
	Limit int               `json:"limit"`
}

// GetProfile はAuthorizationヘッダ値（"Bearer ..."）を使って現在のユーザーを取得する。
func (c *Client) GetProfile(ctx context.Context, bearerHeaderValue string) (*model.ProfilePayload, error) {
	req, err := c.newRequest(ctx, http.MethodGet, profilePath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", bearerHeaderValue)

	var resp *profileResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	profile := resp.toModel()
	return &profile, nil
}

// ListUsers はプロバイダのユーザー一覧（先頭ページ）を取得する。
func (c *Client) ListUsers(ctx context.Context) (*model.UserListPayload, error) {
	req, err := c.newRequest(ctx, http.MethodGet, usersPath, nil)
	if err != nil {
		return nil, err
	}

	var resp *userListResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}

	list := &model.UserListPayload{
		Users: make([]model.ProfilePayload, len(resp.Users)),
		Total: resp.Total,
		Skip:  resp.Skip,
		Limit: resp.Limit,
	}
	for i, u := range resp.Users {
		list.Users[i] = u.toModel()
	}
	return list, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "AuthGate/1.0")
	return req, nil
}

// do はリクエストを実行し、2xxならoutへデコードする。
// 空ボディとJSONのnullはoutをnilのままにする。
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request %s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}

// errorMessage はエラーレスポンスの"message"フィールドを取り出す。
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}
