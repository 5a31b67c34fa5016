package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AzielCF/az-desk/channels/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChannelMappingModel persiste el vínculo identidad externa → sesión.
// El índice único es la garantía atómica del first-writer-wins.
type ChannelMappingModel struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	Channel        string    `gorm:"size:128;not null;uniqueIndex:idx_channel_external_user"`
	ExternalUserID string    `gorm:"size:256;not null;uniqueIndex:idx_channel_external_user"`
	SessionID      string    `gorm:"size:64;not null;index"`
	Metadata       string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (ChannelMappingModel) TableName() string {
	return "channel_mappings"
}

// MessageReceiptModel persiste los recibos de idempotencia
type MessageReceiptModel struct {
	ID                uint      `gorm:"primaryKey;autoIncrement"`
	Channel           string    `gorm:"size:128;not null;uniqueIndex:idx_channel_provider_msg"`
	ProviderMessageID string    `gorm:"size:256;not null;uniqueIndex:idx_channel_provider_msg"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (MessageReceiptModel) TableName() string {
	return "channel_message_receipts"
}

// GormStore implementa el Store de canales sobre la base de datos
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&ChannelMappingModel{}, &MessageReceiptModel{}); err != nil {
		return nil, fmt.Errorf("channel store migration failed: %w", err)
	}
	return &GormStore{db: db}, nil
}

// LinkChannelConversation inserta con DO NOTHING sobre el índice único y
// relee: si otro escritor ganó la carrera, su mapping es el que vale.
func (s *GormStore) LinkChannelConversation(ctx context.Context, req domain.LinkRequest) (domain.ChannelMapping, bool, error) {
	sessionID := req.SessionIDHint
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	metadata := ""
	if len(req.Metadata) > 0 {
		if data, err := json.Marshal(req.Metadata); err == nil {
			metadata = string(data)
		}
	}

	candidate := ChannelMappingModel{
		Channel:        req.Channel,
		ExternalUserID: req.ExternalUserID,
		SessionID:      sessionID,
		Metadata:       metadata,
		CreatedAt:      time.Now().UTC(),
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&candidate)
	if result.Error != nil {
		return domain.ChannelMapping{}, false, result.Error
	}
	created := result.RowsAffected == 1

	var model ChannelMappingModel
	err := s.db.WithContext(ctx).
		Where("channel = ? AND external_user_id = ?", req.Channel, req.ExternalUserID).
		First(&model).Error
	if err != nil {
		return domain.ChannelMapping{}, false, err
	}

	return modelToMapping(model), created, nil
}

func (s *GormStore) GetChannelMapping(ctx context.Context, channel, externalUserID string) (*domain.ChannelMapping, error) {
	var model ChannelMappingModel
	err := s.db.WithContext(ctx).
		Where("channel = ? AND external_user_id = ?", channel, externalUserID).
		First(&model).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	mapping := modelToMapping(model)
	return &mapping, nil
}

func (s *GormStore) HasMessageReceipt(ctx context.Context, channel, providerMessageID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&MessageReceiptModel{}).
		Where("channel = ? AND provider_message_id = ?", channel, providerMessageID).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) RecordMessageReceipt(ctx context.Context, channel, providerMessageID string) (bool, error) {
	receipt := MessageReceiptModel{
		Channel:           channel,
		ProviderMessageID: providerMessageID,
		CreatedAt:         time.Now().UTC(),
	}
	// DO NOTHING sobre el índice único: RowsAffected dice quién ganó
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&receipt)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func modelToMapping(model ChannelMappingModel) domain.ChannelMapping {
	var metadata map[string]string
	if model.Metadata != "" {
		_ = json.Unmarshal([]byte(model.Metadata), &metadata)
	}
	return domain.ChannelMapping{
		Channel:        model.Channel,
		ExternalUserID: model.ExternalUserID,
		SessionID:      model.SessionID,
		Metadata:       metadata,
		CreatedAt:      model.CreatedAt,
	}
}
