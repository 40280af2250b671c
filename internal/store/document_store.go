package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/aihub/knowledge-engine/internal/database"
	"github.com/aihub/knowledge-engine/internal/models"
)

// documentStore 文档仓库实现
type documentStore struct {
	db *gorm.DB
}

// NewDocumentStore 创建文档仓库
func NewDocumentStore(db *gorm.DB) DocumentStore {
	return &documentStore{db: db}
}

func (s *documentStore) conn(ctx context.Context) *gorm.DB {
	return database.FromContext(ctx, s.db)
}

func (s *documentStore) GetByCode(ctx context.Context, scope Scope, code string) (*models.KnowledgeBaseDocument, error) {
	var doc models.KnowledgeBaseDocument
	if err := s.conn(ctx).Where("code = ?", code).First(&doc).Error; err != nil {
		return nil, translateError(err, "document", code)
	}
	return &doc, nil
}

func (s *documentStore) ListByKnowledgeCode(ctx context.Context, scope Scope, knowledgeCode string, page, pageSize int) ([]*models.KnowledgeBaseDocument, error) {
	query := s.conn(ctx).Where("knowledge_base_code = ?", knowledgeCode).Order("id ASC")
	if pageSize > 0 {
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * pageSize).Limit(pageSize)
	}

	var docs []*models.KnowledgeBaseDocument
	if err := query.Find(&docs).Error; err != nil {
		return nil, translateError(err, "document", "")
	}
	return docs, nil
}

func (s *documentStore) CountByKnowledgeCode(ctx context.Context, scope Scope, knowledgeCode string) (int64, error) {
	var total int64
	err := s.conn(ctx).Model(&models.KnowledgeBaseDocument{}).
		Where("knowledge_base_code = ?", knowledgeCode).
		Count(&total).Error
	if err != nil {
		return 0, translateError(err, "document", "")
	}
	return total, nil
}

func (s *documentStore) Create(ctx context.Context, scope Scope, doc *models.KnowledgeBaseDocument) error {
	if err := s.conn(ctx).Create(doc).Error; err != nil {
		return translateError(err, "document", doc.Code)
	}
	return nil
}

func (s *documentStore) Save(ctx context.Context, scope Scope, doc *models.KnowledgeBaseDocument) error {
	if err := s.conn(ctx).Save(doc).Error; err != nil {
		return translateError(err, "document", doc.Code)
	}
	return nil
}

func (s *documentStore) Destroy(ctx context.Context, scope Scope, code string) error {
	err := s.conn(ctx).Where("code = ?", code).Delete(&models.KnowledgeBaseDocument{}).Error
	if err != nil {
		return translateError(err, "document", code)
	}
	return nil
}
