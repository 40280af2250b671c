package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/aihub/knowledge-engine/internal/database"
	"github.com/aihub/knowledge-engine/internal/models"
)

// knowledgeBaseStore 知识库仓库实现
type knowledgeBaseStore struct {
	db *gorm.DB
}

// NewKnowledgeBaseStore 创建知识库仓库
func NewKnowledgeBaseStore(db *gorm.DB) KnowledgeBaseStore {
	return &knowledgeBaseStore{db: db}
}

func (s *knowledgeBaseStore) conn(ctx context.Context) *gorm.DB {
	return database.FromContext(ctx, s.db)
}

func (s *knowledgeBaseStore) applyScope(query *gorm.DB, scope Scope) *gorm.DB {
	if !scope.IsSystem() {
		query = query.Where("organization_code = ?", scope.OrganizationCode)
	}
	return query
}

func (s *knowledgeBaseStore) GetByCode(ctx context.Context, scope Scope, code string) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	query := s.applyScope(s.conn(ctx).Where("code = ?", code), scope)
	if err := query.First(&kb).Error; err != nil {
		return nil, translateError(err, "knowledge base", code)
	}
	return &kb, nil
}

// ListAfterID 游标分页，按id升序
func (s *knowledgeBaseStore) ListAfterID(ctx context.Context, scope Scope, afterID uint64, limit int) ([]*models.KnowledgeBase, error) {
	if limit <= 0 {
		limit = 100
	}
	var kbs []*models.KnowledgeBase
	query := s.applyScope(s.conn(ctx).Where("id > ?", afterID), scope)
	if err := query.Order("id ASC").Limit(limit).Find(&kbs).Error; err != nil {
		return nil, translateError(err, "knowledge base", "")
	}
	return kbs, nil
}

func (s *knowledgeBaseStore) Create(ctx context.Context, scope Scope, kb *models.KnowledgeBase) error {
	if err := s.conn(ctx).Create(kb).Error; err != nil {
		return translateError(err, "knowledge base", kb.Code)
	}
	return nil
}

func (s *knowledgeBaseStore) Save(ctx context.Context, scope Scope, kb *models.KnowledgeBase) error {
	if err := s.conn(ctx).Save(kb).Error; err != nil {
		return translateError(err, "knowledge base", kb.Code)
	}
	return nil
}

func (s *knowledgeBaseStore) UpdateSyncStatus(ctx context.Context, scope Scope, code string, status models.SyncStatus) error {
	err := s.conn(ctx).Model(&models.KnowledgeBase{}).
		Where("code = ?", code).
		Update("sync_status", status).Error
	if err != nil {
		return translateError(err, "knowledge base", code)
	}
	return nil
}

func (s *knowledgeBaseStore) Destroy(ctx context.Context, scope Scope, code string) error {
	query := s.applyScope(s.conn(ctx).Where("code = ?", code), scope)
	if err := query.Delete(&models.KnowledgeBase{}).Error; err != nil {
		return translateError(err, "knowledge base", code)
	}
	return nil
}
