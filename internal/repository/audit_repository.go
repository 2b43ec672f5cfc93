// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"dovecot-keyhandler/internal/domain"
)

// AuditEventModel はgorm用のモデル定義。
type AuditEventModel struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Endpoint  string    `gorm:"type:varchar(32);not null;index:idx_endpoint"`
	Email     string    `gorm:"type:varchar(254);not null;default:'';index:idx_email_created"`
	Field     string    `gorm:"type:varchar(32);not null;default:''"`
	Outcome   string    `gorm:"type:varchar(32);not null"`
	RequestID string    `gorm:"type:varchar(128);not null;default:''"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index:idx_email_created"`
}

// TableName はテーブル名を返す。
func (AuditEventModel) TableName() string {
	return "audit_events"
}

// BeforeCreate はレコード作成前にUUIDを生成する。
func (e *AuditEventModel) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

func (e *AuditEventModel) toDomain() *domain.AuditEvent {
	return &domain.AuditEvent{
		ID:        e.ID,
		Endpoint:  domain.Endpoint(e.Endpoint),
		Email:     e.Email,
		Field:     e.Field,
		Outcome:   domain.Outcome(e.Outcome),
		RequestID: e.RequestID,
		CreatedAt: e.CreatedAt,
	}
}

// AuditRepository は監査記録の永続化を提供する。
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository は新しいAuditRepositoryを生成する。
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create は監査記録を保存する。
func (r *AuditRepository) Create(ctx context.Context, event *domain.AuditEvent) error {
	model := &AuditEventModel{
		ID:        event.ID,
		Endpoint:  string(event.Endpoint),
		Email:     event.Email,
		Field:     event.Field,
		Outcome:   string(event.Outcome),
		RequestID: event.RequestID,
		CreatedAt: event.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		slog.ErrorContext(ctx, "failed to create audit event",
			"operation", "create",
			"endpoint", event.Endpoint,
			"error", err,
		)
		return err
	}
	event.ID = model.ID
	event.CreatedAt = model.CreatedAt
	return nil
}

// FindRecent は新しい順に最大limit件の監査記録を取得する。emailが空なら全件対象。
func (r *AuditRepository) FindRecent(ctx context.Context, email string, limit int) ([]*domain.AuditEvent, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if email != "" {
		q = q.Where("email = ?", email)
	}

	var models []AuditEventModel
	if err := q.Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to find audit events",
			"operation", "find_recent",
			"email", email,
			"error", err,
		)
		return nil, err
	}

	events := make([]*domain.AuditEvent, len(models))
	for i := range models {
		events[i] = models[i].toDomain()
	}
	return events, nil
}
