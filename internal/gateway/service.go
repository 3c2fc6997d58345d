// Package gateway は認証委譲と監査ログのドメインロジックを提供する。
// IdPへのログイン委譲、成功したログインの監査レコード保存、ログイン履歴の参照を扱う。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

const tracerName = "github.com/hitoshi/authgate/internal/gateway"

// IdentityProvider は外部IdPへの呼び出しを抽象化するインターフェース。
// 結果がnilかつエラーもnilの場合は空レスポンスを表す。
type IdentityProvider interface {
	Authenticate(ctx context.Context, creds model.Credentials) (*model.SessionPayload, error)
	GetProfile(ctx context.Context, bearerHeaderValue string) (*model.ProfilePayload, error)
	ListUsers(ctx context.Context) (*model.UserListPayload, error)
}

// Service は認証ゲートウェイのサービス層。
// 自身は可変状態を持たず、並行リクエストから安全に呼び出せる。
type Service struct {
	provider IdentityProvider
	repo     repository.AuditRepository
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。loggerがnilの場合はslog.Default()を使う。
func NewService(
	provider IdentityProvider,
	repo repository.AuditRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		repo:     repo,
		metrics:  collector,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// Login は資格情報をIdPに委譲し、成功時に監査レコードを保存してからセッションを返す。
// IdPの拒否、空レスポンス、監査レコードの保存失敗はすべてAUTHENTICATION_FAILEDになり、
// いずれの場合もセッションは返さない。
func (s *Service) Login(ctx context.Context, creds model.Credentials) (*model.SessionPayload, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.Login",
		trace.WithAttributes(attribute.String("enduser.id", creds.Username)))
	defer span.End()

	s.logger.InfoContext(ctx, "login attempt", slog.String("username", creds.Username))

	start := time.Now()
	session, err := s.provider.Authenticate(ctx, creds)
	s.metrics.RecordProviderCall(metrics.OperationAuthenticate, err, time.Since(start))
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginRejected)
		return nil, s.loginFailed(ctx, span, creds.Username, err)
	}
	if !session.Usable() {
		s.metrics.RecordLogin(metrics.LoginEmptyResponse)
		return nil, s.loginFailed(ctx, span, creds.Username, model.ErrEmptyProviderResponse)
	}

	s.logger.InfoContext(ctx, "provider authentication succeeded", slog.String("username", session.Username))

	rec, err := s.repo.Insert(ctx, model.NewAuditDraft(session.Username, session.AccessToken, session.RefreshToken))
	s.metrics.RecordAuditWrite(err)
	if err != nil {
		s.metrics.RecordLogin(metrics.LoginAuditWriteFailed)
		return nil, s.loginFailed(ctx, span, creds.Username, fmt.Errorf("failed to save login log: %w", err))
	}

	s.metrics.RecordLogin(metrics.LoginSucceeded)
	s.logger.InfoContext(ctx, "login log saved",
		slog.String("username", rec.Subject),
		slog.String("login_log_id", rec.ID),
	)
	span.SetAttributes(attribute.String("authgate.login_log_id", rec.ID))

	return session, nil
}

func (s *Service) loginFailed(ctx context.Context, span trace.Span, username string, cause error) error {
	s.logger.WarnContext(ctx, "authentication failed",
		slog.String("username", username),
		slog.String("error", cause.Error()),
	)
	span.RecordError(cause)
	span.SetStatus(codes.Error, "authentication failed")
	return model.NewAuthenticationFailedError(cause)
}

// GetProfile はアクセストークンを使ってIdPから現在のユーザー情報を取得する。
// トークンが空の場合はIdPを呼び出さずMISSING_CREDENTIALを返す。
func (s *Service) GetProfile(ctx context.Context, accessCredential string) (*model.ProfilePayload, error) {
	if strings.TrimSpace(accessCredential) == "" {
		return nil, model.NewMissingCredentialError()
	}

	ctx, span := s.tracer.Start(ctx, "gateway.GetProfile")
	defer span.End()

	start := time.Now()
	profile, err := s.provider.GetProfile(ctx, "Bearer "+accessCredential)
	if err == nil && profile == nil {
		err = model.ErrEmptyProviderResponse
	}
	s.metrics.RecordProviderCall(metrics.OperationGetProfile, err, time.Since(start))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to get user information", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile retrieval failed")
		return nil, model.NewProfileRetrievalFailedError(err)
	}

	return profile, nil
}

// ListUsers はIdPのユーザー一覧を返す。
func (s *Service) ListUsers(ctx context.Context) (*model.UserListPayload, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.ListUsers")
	defer span.End()

	start := time.Now()
	list, err := s.provider.ListUsers(ctx)
	if err == nil && list == nil {
		err = model.ErrEmptyProviderResponse
	}
	s.metrics.RecordProviderCall(metrics.OperationListUsers, err, time.Since(start))
	if err != nil {
		s.logger.WarnContext(ctx, "failed to get users", slog.String("error", err.Error()))
		span.RecordError(err)
		span.SetStatus(codes.Error, "list users failed")
		return nil, model.NewListUsersFailedError(err)
	}

	return list, nil
}

// GetHistory は指定ユーザーのログイン履歴を新しい順に返す。
// 履歴がない場合は空スライスを返す。
func (s *Service) GetHistory(ctx context.Context, subject string) ([]*model.AuditRecord, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.GetHistory",
		trace.WithAttributes(attribute.String("enduser.id", subject)))
	defer span.End()

	records, err := s.repo.FindBySubjectOrderByTimeDesc(ctx, subject)
	if err != nil {
		return nil, s.storeFailed(ctx, span, err)
	}
	return nonNil(records), nil
}

// GetAllHistory は全ユーザーのログイン履歴を新しい順に返す。
func (s *Service) GetAllHistory(ctx context.Context) ([]*model.AuditRecord, error) {
	ctx, span := s.tracer.Start(ctx, "gateway.GetAllHistory")
	defer span.End()

	records, err := s.repo.FindAllOrderByTimeDesc(ctx)
	if err != nil {
		return nil, s.storeFailed(ctx, span, err)
	}
	return nonNil(records), nil
}

func (s *Service) storeFailed(ctx context.Context, span trace.Span, err error) error {
	s.logger.ErrorContext(ctx, "failed to read login logs", slog.String("error", err.Error()))
	span.RecordError(err)
	span.SetStatus(codes.Error, "store unavailable")
	return model.NewStoreUnavailableError(err)
}

// RecordLogin はIdPを経由せずに監査レコードを直接保存する。
// 運用時のストア疎通確認（seedサブコマンド）に使う。
func (s *Service) RecordLogin(ctx context.Context, subject, accessCredential, refreshCredential string) (*model.AuditRecord, error) {
	rec, err := s.repo.Insert(ctx, model.NewAuditDraft(subject, accessCredential, refreshCredential))
	s.metrics.RecordAuditWrite(err)
	if err != nil {
		if errors.Is(err, model.ErrInvalidAuditRecord) {
			return nil, err
		}
		return nil, model.NewStoreUnavailableError(err)
	}

	s.logger.InfoContext(ctx, "login log recorded",
		slog.String("username", rec.Subject),
		slog.String("login_log_id", rec.ID),
	)
	return rec, nil
}

func nonNil(records []*model.AuditRecord) []*model.AuditRecord {
	if records == nil {
		return []*model.AuditRecord{}
	}
	return records
}
