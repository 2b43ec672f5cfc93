package domain

import "time"

// MigrationStatus はマイグレーションの適用状態を表す
type MigrationStatus string

const (
	MigrationStatusPending MigrationStatus = "pending"
	MigrationStatusApplied MigrationStatus = "applied"
)

// Migration は監査DBのスキーママイグレーションを表す
type Migration struct {
	Version   string     // 例: "20260301000000"
	Name      string     // ファイル名から抽出
	AppliedAt *time.Time // 未適用の場合はnil
	Path      string     // fs.FS内のパス
	Status    MigrationStatus
}
