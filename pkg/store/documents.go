package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/WillianCassan/chatbot-with-rag/pkg/domain"
)

// InsertDocument stores a new document. A hash already held by another
// document yields ErrDuplicate.
func (s *GormStore) InsertDocument(ctx context.Context, doc domain.Document) error {
	model := documentToModel(doc)
	return translateWriteError(s.db.WithContext(ctx).Create(&model).Error)
}

// HasHash reports whether a live document carries hash.
func (s *GormStore) HasHash(ctx context.Context, hash string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&DocumentModel{}).Where("file_hash = ?", hash).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(ctx context.Context, id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// UpdateDocumentMetadata replaces the admin-editable fields and returns the
// updated record.
func (s *GormStore) UpdateDocumentMetadata(ctx context.Context, id string, meta domain.DocumentMetadata) (domain.Document, bool, error) {
	var updated DocumentModel
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&DocumentModel{}).Where("id = ?", id).Updates(map[string]any{
			"title":       meta.Title,
			"group_name":  meta.Group,
			"subgroup":    meta.Subgroup,
			"responsible": meta.Responsible,
			"description": meta.Description,
			"updated_at":  time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		found = true
		return tx.First(&updated, "id = ?", id).Error
	})
	if err != nil {
		return domain.Document{}, false, err
	}
	if !found {
		return domain.Document{}, false, nil
	}
	return documentFromModel(updated), true, nil
}

// SetDocumentStatus updates status and error message.
func (s *GormStore) SetDocumentStatus(ctx context.Context, id string, status domain.DocumentStatus, errMsg string) error {
	return s.db.WithContext(ctx).Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(status),
			"error_message": errMsg,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// DeleteDocument removes the record. Remaining chunks go with it through
// the foreign key cascade.
func (s *GormStore) DeleteDocument(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&DocumentModel{}, "id = ?", id).Error
}

// ListDocuments returns all documents ordered by title, group and subgroup.
func (s *GormStore) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).
		Order("title ASC").Order("group_name ASC").Order("subgroup ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return documentsFromModels(models), nil
}

// ListDocumentsPage returns one page, newest submissions first.
func (s *GormStore) ListDocumentsPage(ctx context.Context, offset, limit int) (domain.DocumentPage, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&DocumentModel{}).Count(&total).Error; err != nil {
		return domain.DocumentPage{}, err
	}
	var models []DocumentModel
	if err := s.db.WithContext(ctx).
		Order("submitted_at DESC").Order("title ASC").
		Offset(offset).Limit(limit).
		Find(&models).Error; err != nil {
		return domain.DocumentPage{}, err
	}
	return domain.DocumentPage{Items: documentsFromModels(models), Total: total}, nil
}

// CountPanel counts documents plus distinct groups and subgroups.
func (s *GormStore) CountPanel(ctx context.Context) (domain.PanelCounts, error) {
	var row struct {
		DocumentCount int64
		GroupCount    int64
		SubgroupCount int64
	}
	err := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Select("COUNT(*) AS document_count, COUNT(DISTINCT group_name) AS group_count, COUNT(DISTINCT subgroup) AS subgroup_count").
		Scan(&row).Error
	if err != nil {
		return domain.PanelCounts{}, err
	}
	return domain.PanelCounts{Documents: row.DocumentCount, Groups: row.GroupCount, Subgroups: row.SubgroupCount}, nil
}

// GroupSummaries counts documents per group and subgroup.
func (s *GormStore) GroupSummaries(ctx context.Context) ([]domain.GroupSummary, error) {
	var rows []struct {
		GroupName     string
		Subgroup      string
		DocumentCount int64
	}
	err := s.db.WithContext(ctx).Model(&DocumentModel{}).
		Select("group_name, subgroup, COUNT(*) AS document_count").
		Group("group_name").Group("subgroup").
		Order("group_name ASC").Order("subgroup ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.GroupSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.GroupSummary{Group: r.GroupName, Subgroup: r.Subgroup, Documents: r.DocumentCount})
	}
	return out, nil
}

// LastSubmission returns the newest submission time, if any document exists.
func (s *GormStore) LastSubmission(ctx context.Context) (time.Time, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).Order("submitted_at DESC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return model.SubmittedAt, true, nil
}

func documentsFromModels(models []DocumentModel) []domain.Document {
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:           d.ID,
		Filename:     d.Filename,
		ObjectName:   d.ObjectName,
		FileHash:     d.FileHash,
		Title:        d.Title,
		Group:        d.Group,
		Subgroup:     d.Subgroup,
		Responsible:  d.Responsible,
		Description:  d.Description,
		Status:       string(d.Status),
		ErrorMessage: d.ErrorMessage,
		SizeBytes:    d.SizeBytes,
		SubmittedAt:  d.SubmittedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:           m.ID,
		Filename:     m.Filename,
		ObjectName:   m.ObjectName,
		FileHash:     m.FileHash,
		Title:        m.Title,
		Group:        m.Group,
		Subgroup:     m.Subgroup,
		Responsible:  m.Responsible,
		Description:  m.Description,
		Status:       domain.DocumentStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		SizeBytes:    m.SizeBytes,
		SubmittedAt:  m.SubmittedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
