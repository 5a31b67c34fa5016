package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/AzielCF/az-desk/pipeline/domain"
	"gorm.io/gorm"
)

// SessionMessageModel persiste un turno de conversación
type SessionMessageModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	MessageID string    `gorm:"size:64;not null;uniqueIndex"`
	SessionID string    `gorm:"size:64;not null;index"`
	Role      string    `gorm:"size:16;not null"`
	Text      string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"not null"`
}

func (SessionMessageModel) TableName() string {
	return "session_messages"
}

// GormMessageStore persiste el historial de sesiones en la base de datos
type GormMessageStore struct {
	db *gorm.DB
}

func NewGormMessageStore(db *gorm.DB) (*GormMessageStore, error) {
	if err := db.AutoMigrate(&SessionMessageModel{}); err != nil {
		return nil, fmt.Errorf("message store migration failed: %w", err)
	}
	return &GormMessageStore{db: db}, nil
}

func (s *GormMessageStore) Append(ctx context.Context, msg domain.Message) error {
	model := SessionMessageModel{
		MessageID: msg.ID,
		SessionID: msg.SessionID,
		Role:      msg.Role,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *GormMessageStore) List(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	query := s.db.WithContext(ctx).Model(&SessionMessageModel{}).
		Where("session_id = ?", sessionID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []SessionMessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	// Invertir al orden cronológico que espera el pipeline
	msgs := make([]domain.Message, len(models))
	for i, m := range models {
		msgs[len(models)-1-i] = domain.Message{
			ID:        m.MessageID,
			SessionID: m.SessionID,
			Role:      m.Role,
			Text:      m.Text,
			Timestamp: m.Timestamp,
		}
	}
	return msgs, nil
}
