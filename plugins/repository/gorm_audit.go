package repository

import (
	"context"
	"time"

	"github.com/AzielCF/az-desk/plugins/domain"
	"gorm.io/gorm"
)

// PluginAuditModel es el modelo persistente de una entrada de auditoría
type PluginAuditModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	PluginID  string    `gorm:"index;size:128;not null"`
	Action    string    `gorm:"size:128;not null"`
	Attempt   int       `gorm:"not null"`
	Status    string    `gorm:"size:16;not null"`
	Error     string    `gorm:"type:text"`
	Timestamp time.Time `gorm:"index;not null"`
}

func (PluginAuditModel) TableName() string {
	return "plugin_audit_entries"
}

// GormAuditSink persiste la auditoría de plugins en la base de datos
type GormAuditSink struct {
	db *gorm.DB
}

func NewGormAuditSink(db *gorm.DB) (*GormAuditSink, error) {
	if err := db.AutoMigrate(&PluginAuditModel{}); err != nil {
		return nil, err
	}
	return &GormAuditSink{db: db}, nil
}

func (s *GormAuditSink) Append(ctx context.Context, entry domain.AuditEntry) error {
	model := PluginAuditModel{
		PluginID:  entry.PluginID,
		Action:    entry.Action,
		Attempt:   entry.Attempt,
		Status:    entry.Status,
		Error:     entry.Error,
		Timestamp: entry.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormAuditSink) List(ctx context.Context, pluginID string, limit int) ([]domain.AuditEntry, error) {
	query := s.db.WithContext(ctx).Model(&PluginAuditModel{}).Order("id DESC")
	if pluginID != "" {
		query = query.Where("plugin_id = ?", pluginID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []PluginAuditModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	entries := make([]domain.AuditEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, domain.AuditEntry{
			PluginID:  m.PluginID,
			Action:    m.Action,
			Attempt:   m.Attempt,
			Status:    m.Status,
			Error:     m.Error,
			Timestamp: m.Timestamp,
		})
	}
	return entries, nil
}
