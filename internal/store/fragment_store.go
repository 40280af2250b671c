package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aihub/knowledge-engine/internal/database"
	"github.com/aihub/knowledge-engine/internal/kberrors"
	"github.com/aihub/knowledge-engine/internal/models"
)

// fragmentStore 片段仓库实现
type fragmentStore struct {
	db *gorm.DB
}

// NewFragmentStore 创建片段仓库
func NewFragmentStore(db *gorm.DB) FragmentStore {
	return &fragmentStore{db: db}
}

func (s *fragmentStore) conn(ctx context.Context) *gorm.DB {
	return database.FromContext(ctx, s.db)
}

// GetByID 按主键获取片段，forUpdate时加行锁用于读改写
func (s *fragmentStore) GetByID(ctx context.Context, scope Scope, id uint64, forUpdate bool) (*models.KnowledgeBaseFragment, error) {
	query := s.conn(ctx)
	if forUpdate {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var fragment models.KnowledgeBaseFragment
	if err := query.First(&fragment, id).Error; err != nil {
		return nil, translateError(err, "fragment", "")
	}
	return &fragment, nil
}

func (s *fragmentStore) GetByIDs(ctx context.Context, scope Scope, ids []uint64) ([]*models.KnowledgeBaseFragment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var fragments []*models.KnowledgeBaseFragment
	if err := s.conn(ctx).Where("id IN ?", ids).Find(&fragments).Error; err != nil {
		return nil, translateError(err, "fragment", "")
	}
	return fragments, nil
}

func (s *fragmentStore) GetByBusinessID(ctx context.Context, scope Scope, knowledgeCode, businessID string) (*models.KnowledgeBaseFragment, error) {
	var fragment models.KnowledgeBaseFragment
	err := s.conn(ctx).
		Where("knowledge_code = ? AND business_id = ?", knowledgeCode, businessID).
		First(&fragment).Error
	if err != nil {
		return nil, translateError(err, "fragment", businessID)
	}
	return &fragment, nil
}

func (s *fragmentStore) GetByPointID(ctx context.Context, scope Scope, knowledgeCode, pointID string) (*models.KnowledgeBaseFragment, error) {
	var fragment models.KnowledgeBaseFragment
	err := s.conn(ctx).
		Where("knowledge_code = ? AND point_id = ?", knowledgeCode, pointID).
		First(&fragment).Error
	if err != nil {
		return nil, translateError(err, "fragment", pointID)
	}
	return &fragment, nil
}

// Query 分页查询片段
func (s *fragmentStore) Query(ctx context.Context, scope Scope, q FragmentQuery) ([]*models.KnowledgeBaseFragment, error) {
	query := s.applyQuery(ctx, q)

	if q.PageSize > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * q.PageSize).Limit(q.PageSize)
	}

	var fragments []*models.KnowledgeBaseFragment
	if err := query.Order("id ASC").Find(&fragments).Error; err != nil {
		return nil, translateError(err, "fragment", "")
	}
	return fragments, nil
}

func (s *fragmentStore) Count(ctx context.Context, scope Scope, q FragmentQuery) (int64, error) {
	var total int64
	if err := s.applyQuery(ctx, q).Count(&total).Error; err != nil {
		return 0, translateError(err, "fragment", "")
	}
	return total, nil
}

func (s *fragmentStore) applyQuery(ctx context.Context, q FragmentQuery) *gorm.DB {
	query := s.conn(ctx).Model(&models.KnowledgeBaseFragment{})

	if q.WithDeleted {
		query = query.Unscoped()
	}
	if q.KnowledgeCode != "" {
		query = query.Where("knowledge_code = ?", q.KnowledgeCode)
	}
	if q.DocumentCode != "" {
		if q.IsDefaultDocumentCode {
			// 历史片段document_code为空，归属知识库默认文档
			query = query.Where("(document_code = ? OR document_code = '')", q.DocumentCode)
		} else {
			query = query.Where("document_code = ?", q.DocumentCode)
		}
	}
	if q.OnlyUntagged {
		query = query.Where("document_code = ''")
	}
	if q.SyncStatus != nil {
		query = query.Where("sync_status = ?", *q.SyncStatus)
	}
	if len(q.SyncStatusIn) > 0 {
		query = query.Where("sync_status IN ?", q.SyncStatusIn)
	}
	if q.MaxSyncTimes != nil {
		query = query.Where("sync_times < ?", *q.MaxSyncTimes)
	}
	if q.Version != nil {
		query = query.Where("version = ?", *q.Version)
	}
	return query
}

// Save 有主键为更新，无主键为插入
func (s *fragmentStore) Save(ctx context.Context, scope Scope, fragment *models.KnowledgeBaseFragment) error {
	fragment.SyncStatusMessage = models.TruncateSyncStatusMessage(fragment.SyncStatusMessage)
	if err := s.conn(ctx).Save(fragment).Error; err != nil {
		return translateError(err, "fragment", "")
	}
	return nil
}

func (s *fragmentStore) SaveBatch(ctx context.Context, scope Scope, fragments []*models.KnowledgeBaseFragment) error {
	if len(fragments) == 0 {
		return nil
	}
	for _, f := range fragments {
		f.SyncStatusMessage = models.TruncateSyncStatusMessage(f.SyncStatusMessage)
	}
	if err := s.conn(ctx).Save(fragments).Error; err != nil {
		return translateError(err, "fragment", "")
	}
	return nil
}

func (s *fragmentStore) Destroy(ctx context.Context, scope Scope, id uint64) error {
	if err := s.conn(ctx).Delete(&models.KnowledgeBaseFragment{}, id).Error; err != nil {
		return translateError(err, "fragment", "")
	}
	return nil
}

func (s *fragmentStore) DestroyByIDs(ctx context.Context, scope Scope, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.conn(ctx).Where("id IN ?", ids).Delete(&models.KnowledgeBaseFragment{}).Error; err != nil {
		return translateError(err, "fragment", "")
	}
	return nil
}

func (s *fragmentStore) DestroyByPointIDs(ctx context.Context, scope Scope, knowledgeCode string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	err := s.conn(ctx).
		Where("knowledge_code = ? AND point_id IN ?", knowledgeCode, pointIDs).
		Delete(&models.KnowledgeBaseFragment{}).Error
	if err != nil {
		return translateError(err, "fragment", "")
	}
	return nil
}

func (s *fragmentStore) DestroyByKnowledgeCode(ctx context.Context, scope Scope, knowledgeCode string) error {
	err := s.conn(ctx).
		Where("knowledge_code = ?", knowledgeCode).
		Delete(&models.KnowledgeBaseFragment{}).Error
	if err != nil {
		return translateError(err, "fragment", "")
	}
	return nil
}

// ChangeSyncStatus 单片段状态转换
// 进入终态（Synced/SyncFailed）时sync_times加一，其余转换不累计
func (s *fragmentStore) ChangeSyncStatus(ctx context.Context, scope Scope, id uint64, to models.SyncStatus, message string) error {
	return s.changeSyncStatus(ctx, []uint64{id}, to, message)
}

// ChangeSyncStatusBatch 批量状态转换
func (s *fragmentStore) ChangeSyncStatusBatch(ctx context.Context, scope Scope, ids []uint64, to models.SyncStatus, message string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.changeSyncStatus(ctx, ids, to, message)
}

func (s *fragmentStore) changeSyncStatus(ctx context.Context, ids []uint64, to models.SyncStatus, message string) error {
	if !to.Valid() {
		return kberrors.NewInvalidConfig("invalid sync status %q", to)
	}

	updates := map[string]interface{}{
		"sync_status":         to,
		"sync_status_message": models.TruncateSyncStatusMessage(message),
	}
	if models.SyncTimesDelta(to) > 0 {
		updates["sync_times"] = gorm.Expr("sync_times + ?", models.SyncTimesDelta(to))
	}

	err := s.conn(ctx).Model(&models.KnowledgeBaseFragment{}).
		Where("id IN ?", ids).
		Updates(updates).Error
	if err != nil {
		return translateError(err, "fragment", "")
	}
	return nil
}

// RebuildByKnowledgeCode 全库重建：所有片段置为Rebuilding并清零重试计数
func (s *fragmentStore) RebuildByKnowledgeCode(ctx context.Context, scope Scope, knowledgeCode string) error {
	err := s.conn(ctx).Model(&models.KnowledgeBaseFragment{}).
		Where("knowledge_code = ?", knowledgeCode).
		Updates(map[string]interface{}{
			"sync_status":         models.SyncStatusRebuilding,
			"sync_times":          0,
			"sync_status_message": "",
		}).Error
	if err != nil {
		return translateError(err, "fragment", "")
	}
	return nil
}

// ReplaceDocumentFragments 事务内替换文档片段
// 删除旧片段与插入新片段在同一事务提交，读方不会看到半替换状态
func (s *fragmentStore) ReplaceDocumentFragments(ctx context.Context, scope Scope, knowledgeCode, documentCode string, fresh []*models.KnowledgeBaseFragment) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("knowledge_code = ? AND (document_code = ? OR document_code = '')", knowledgeCode, documentCode).
			Delete(&models.KnowledgeBaseFragment{}).Error
		if err != nil {
			return translateError(err, "fragment", "")
		}
		if len(fresh) == 0 {
			return nil
		}
		for _, f := range fresh {
			f.SyncStatusMessage = models.TruncateSyncStatusMessage(f.SyncStatusMessage)
		}
		if err := tx.Create(fresh).Error; err != nil {
			return translateError(err, "fragment", "")
		}
		return nil
	})
}

// SyncStatusByDocumentCodes 查询每个文档下片段的状态集合，供聚合器使用
func (s *fragmentStore) SyncStatusByDocumentCodes(ctx context.Context, scope Scope, knowledgeCode string, documentCodes []string) (map[string][]models.SyncStatus, error) {
	if len(documentCodes) == 0 {
		return map[string][]models.SyncStatus{}, nil
	}

	type row struct {
		DocumentCode string
		SyncStatus   models.SyncStatus
	}
	var rows []row
	err := s.conn(ctx).Model(&models.KnowledgeBaseFragment{}).
		Select("document_code, sync_status").
		Where("knowledge_code = ? AND document_code IN ?", knowledgeCode, documentCodes).
		Find(&rows).Error
	if err != nil {
		return nil, translateError(err, "fragment", "")
	}

	result := make(map[string][]models.SyncStatus, len(documentCodes))
	for _, r := range rows {
		result[r.DocumentCode] = append(result[r.DocumentCode], r.SyncStatus)
	}
	return result, nil
}

// translateError 将gorm错误映射到引擎错误码
func translateError(err error, resource, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return kberrors.NewNotFound(resource, key)
	}
	if isLockError(err) {
		return kberrors.NewPersistenceConflict(err)
	}
	return err
}

func isLockError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "could not obtain lock") ||
		strings.Contains(msg, "deadlock detected") ||
		strings.Contains(msg, "lock timeout")
}
