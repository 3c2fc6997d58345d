package model

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// MaxCredentialLength は監査レコードに保存するトークンの最大文字数。
const MaxCredentialLength = 1000

// MaxSubjectLength は監査レコードに保存するユーザー名の最大文字数。
const MaxSubjectLength = 255

// ErrInvalidAuditRecord は監査レコードの内容が保存条件を満たさない場合のエラー。
var ErrInvalidAuditRecord = errors.New("invalid audit record")

// AuditRecord はログイン成功の監査レコード（ログイン履歴）を表す。
// IDとCreatedAtはストアが挿入時に採番する。作成後は変更しない。
type AuditRecord struct {
	ID                string
	Subject           string
	CreatedAt         time.Time
	AccessCredential  string
	RefreshCredential string
}

// NewAuditDraft はストアへ渡す挿入前の監査レコードを生成する。
func NewAuditDraft(subject, accessCredential, refreshCredential string) *AuditRecord {
	return &AuditRecord{
		Subject:           subject,
		AccessCredential:  accessCredential,
		RefreshCredential: refreshCredential,
	}
}

// Validate は挿入前の監査レコードを検証する。
// subjectと両トークンは必須で、subjectはMaxSubjectLength文字以内、
// トークンはMaxCredentialLength文字以内。
func (r *AuditRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidAuditRecord)
	}
	if r.Subject == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidAuditRecord)
	}
	if n := utf8.RuneCountInString(r.Subject); n > MaxSubjectLength {
		return fmt.Errorf("%w: subject exceeds %d characters (%d)", ErrInvalidAuditRecord, MaxSubjectLength, n)
	}
	if err := validateCredential("access credential", r.AccessCredential); err != nil {
		return err
	}
	if err := validateCredential("refresh credential", r.RefreshCredential); err != nil {
		return err
	}
	return nil
}

func validateCredential(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidAuditRecord, name)
	}
	if n := utf8.RuneCountInString(value); n > MaxCredentialLength {
		return fmt.Errorf("%w: %s exceeds %d characters (%d)", ErrInvalidAuditRecord, name, MaxCredentialLength, n)
	}
	return nil
}
