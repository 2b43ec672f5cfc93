package infra

import (
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"dovecot-keyhandler/config"
)

const sqlitePrefix = "sqlite:"

// 監査DBの種別
const (
	AuditStoreDisabled = "disabled"
	AuditStoreSQLite   = "sqlite"
	AuditStoreMySQL    = "mysql"
)

// AuditStoreKind はAUDIT_DATABASE_URLから監査DBの種別を判定する。
func AuditStoreKind(dsn string) string {
	switch {
	case dsn == "":
		return AuditStoreDisabled
	case strings.HasPrefix(dsn, sqlitePrefix):
		return AuditStoreSQLite
	default:
		return AuditStoreMySQL
	}
}

// NewDB は監査DBへのgorm接続を初期化する。
// "sqlite:" で始まるDSNはSQLite、それ以外はMySQLとして扱う。
func NewDB(dsn string, cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		dialector = sqlite.Open(path)
	} else {
		mysqlDSN, err := normalizeMySQLDSN(dsn)
		if err != nil {
			return nil, err
		}
		dialector = mysql.Open(mysqlDSN)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if cfg != nil && cfg.OtelEnabled {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("enabling gorm tracing: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// 接続プール設定
	if AuditStoreKind(dsn) == AuditStoreSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}

// normalizeMySQLDSN はDATETIME列をtime.Timeで読めるようparseTimeを有効にする。
func normalizeMySQLDSN(dsn string) (string, error) {
	mc, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parsing mysql dsn: %w", err)
	}
	mc.ParseTime = true
	if mc.Loc == nil {
		mc.Loc = time.UTC
	}
	return mc.FormatDSN(), nil
}
