package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
)

// AppendTurns stores turns in one transaction. Insertion order is the
// conversation order since ids are sequential.
func (s *GormStore) AppendTurns(ctx context.Context, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]TurnModel, 0, len(turns))
	for _, t := range turns {
		m := turnToModel(t)
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		models = append(models, m)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range models {
			if err := tx.Create(&models[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// RecentTurns returns the newest turns for phone, newest first.
func (s *GormStore) RecentTurns(ctx context.Context, phone string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return []domain.Turn{}, nil
	}
	var models []TurnModel
	if err := s.db.WithContext(ctx).Where("phone = ?", phone).
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	turns := make([]domain.Turn, 0, len(models))
	for _, m := range models {
		turns = append(turns, turnFromModel(m))
	}
	return turns, nil
}

// GetProfile returns the stored summary for phone.
func (s *GormStore) GetProfile(ctx context.Context, phone string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "phone = ?", phone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return domain.Profile{Phone: model.Phone, Summary: model.Summary, UpdatedAt: model.UpdatedAt}, true, nil
}

// UpsertProfile replaces the summary for phone wholesale.
func (s *GormStore) UpsertProfile(ctx context.Context, p domain.Profile) error {
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	model := ProfileModel{Phone: p.Phone, Summary: p.Summary, UpdatedAt: updatedAt}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary", "updated_at"}),
	}).Create(&model).Error
}

func turnToModel(t domain.Turn) TurnModel {
	return TurnModel{
		Phone:     t.Phone,
		Role:      string(t.Role),
		Message:   t.Message,
		CreatedAt: t.CreatedAt,
	}
}

func turnFromModel(m TurnModel) domain.Turn {
	return domain.Turn{
		Phone:     m.Phone,
		Role:      domain.Role(m.Role),
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}
}
