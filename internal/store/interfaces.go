package store

import (
	"context"

	"github.com/aihub/knowledge-engine/internal/models"
)

// FragmentQuery 片段分页查询条件
type FragmentQuery struct {
	KnowledgeCode string
	DocumentCode  string
	// IsDefaultDocumentCode 为true时DocumentCode条件额外匹配空document_code
	// 的历史片段（文档模型之前的数据归属默认文档）
	IsDefaultDocumentCode bool
	// OnlyUntagged 为true时仅匹配document_code为空的片段
	OnlyUntagged bool
	SyncStatus   *models.SyncStatus
	SyncStatusIn          []models.SyncStatus
	MaxSyncTimes          *uint
	Version               *uint64
	WithDeleted           bool
	Page                  int
	PageSize              int
}

// FragmentStore 片段仓库接口
//
// scope只在知识库仓库上产生过滤条件（见Scope说明）：文档和片段
// 没有组织列，租户边界在入口处按知识库校验后，片段级调用默认
// 已在授权的知识库内，scope参数透传仅为保持调用形态一致
type FragmentStore interface {
	GetByID(ctx context.Context, scope Scope, id uint64, forUpdate bool) (*models.KnowledgeBaseFragment, error)
	GetByIDs(ctx context.Context, scope Scope, ids []uint64) ([]*models.KnowledgeBaseFragment, error)
	GetByBusinessID(ctx context.Context, scope Scope, knowledgeCode, businessID string) (*models.KnowledgeBaseFragment, error)
	GetByPointID(ctx context.Context, scope Scope, knowledgeCode, pointID string) (*models.KnowledgeBaseFragment, error)
	Query(ctx context.Context, scope Scope, q FragmentQuery) ([]*models.KnowledgeBaseFragment, error)
	Count(ctx context.Context, scope Scope, q FragmentQuery) (int64, error)
	Save(ctx context.Context, scope Scope, fragment *models.KnowledgeBaseFragment) error
	SaveBatch(ctx context.Context, scope Scope, fragments []*models.KnowledgeBaseFragment) error
	Destroy(ctx context.Context, scope Scope, id uint64) error
	DestroyByIDs(ctx context.Context, scope Scope, ids []uint64) error
	DestroyByPointIDs(ctx context.Context, scope Scope, knowledgeCode string, pointIDs []string) error
	DestroyByKnowledgeCode(ctx context.Context, scope Scope, knowledgeCode string) error
	ChangeSyncStatus(ctx context.Context, scope Scope, id uint64, to models.SyncStatus, message string) error
	ChangeSyncStatusBatch(ctx context.Context, scope Scope, ids []uint64, to models.SyncStatus, message string) error
	RebuildByKnowledgeCode(ctx context.Context, scope Scope, knowledgeCode string) error
	ReplaceDocumentFragments(ctx context.Context, scope Scope, knowledgeCode, documentCode string, fresh []*models.KnowledgeBaseFragment) error
	SyncStatusByDocumentCodes(ctx context.Context, scope Scope, knowledgeCode string, documentCodes []string) (map[string][]models.SyncStatus, error)
}

// DocumentStore 文档仓库接口
type DocumentStore interface {
	GetByCode(ctx context.Context, scope Scope, code string) (*models.KnowledgeBaseDocument, error)
	ListByKnowledgeCode(ctx context.Context, scope Scope, knowledgeCode string, page, pageSize int) ([]*models.KnowledgeBaseDocument, error)
	CountByKnowledgeCode(ctx context.Context, scope Scope, knowledgeCode string) (int64, error)
	Create(ctx context.Context, scope Scope, doc *models.KnowledgeBaseDocument) error
	Save(ctx context.Context, scope Scope, doc *models.KnowledgeBaseDocument) error
	Destroy(ctx context.Context, scope Scope, code string) error
}

// KnowledgeBaseStore 知识库仓库接口
type KnowledgeBaseStore interface {
	GetByCode(ctx context.Context, scope Scope, code string) (*models.KnowledgeBase, error)
	// ListAfterID 游标分页，按id升序返回id大于afterID的知识库
	ListAfterID(ctx context.Context, scope Scope, afterID uint64, limit int) ([]*models.KnowledgeBase, error)
	Create(ctx context.Context, scope Scope, kb *models.KnowledgeBase) error
	Save(ctx context.Context, scope Scope, kb *models.KnowledgeBase) error
	UpdateSyncStatus(ctx context.Context, scope Scope, code string, status models.SyncStatus) error
	Destroy(ctx context.Context, scope Scope, code string) error
}
