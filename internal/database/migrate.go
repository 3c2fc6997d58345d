// Package database はデータベース接続とマイグレーション管理を提供する。
package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Dialect はマイグレーション対象のSQL方言。
type Dialect string

const (
	// DialectPostgres はPostgreSQLを示す。
	DialectPostgres Dialect = "postgres"
	// DialectSQLite はSQLite（modernc.org/sqlite）を示す。
	DialectSQLite Dialect = "sqlite"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// NewMigrator はマイグレーション実行用のmigrateインスタンスを生成する。
// PostgreSQLの場合databaseURLは接続URL、SQLiteの場合はデータベースファイルのパスを指定する。
// SQLiteはパスをURLに埋め込まず、OpenSQLiteで開いた接続をドライバに渡す。
func NewMigrator(dialect Dialect, databaseURL string) (*migrate.Migrate, error) {
	var dir string
	switch dialect {
	case DialectPostgres:
		dir = "migrations/postgres"
	case DialectSQLite:
		dir = "migrations/sqlite"
	default:
		return nil, fmt.Errorf("unsupported migration dialect: %q", dialect)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	if dialect == DialectSQLite {
		return newSQLiteMigrator(src, databaseURL)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// newSQLiteMigrator はSQLiteファイルを開き、その接続でmigrateインスタンスを生成する。
// 接続はmigrateインスタンスのCloseで閉じられる。
func newSQLiteMigrator(src source.Driver, path string) (*migrate.Migrate, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}

// RunMigrations はすべてのマイグレーションを適用する。
// すでに最新の場合はエラーなしで返る。
func RunMigrations(dialect Dialect, databaseURL string) error {
	m, err := NewMigrator(dialect, databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
