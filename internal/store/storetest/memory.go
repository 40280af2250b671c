// Package storetest 提供仓库接口的内存实现，供上层编排逻辑测试使用
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aihub/knowledge-engine/internal/kberrors"
	"github.com/aihub/knowledge-engine/internal/models"
	"github.com/aihub/knowledge-engine/internal/store"
)

// MemoryStores 三张表的内存仓库
type MemoryStores struct {
	mu          sync.Mutex
	nextKBID    uint64
	nextDocID   uint64
	nextFragID  uint64
	kbs         map[string]*models.KnowledgeBase
	docs        map[string]*models.KnowledgeBaseDocument
	fragments   map[uint64]*models.KnowledgeBaseFragment
}

// New 创建空的内存仓库
func New() *MemoryStores {
	return &MemoryStores{
		kbs:       make(map[string]*models.KnowledgeBase),
		docs:      make(map[string]*models.KnowledgeBaseDocument),
		fragments: make(map[uint64]*models.KnowledgeBaseFragment),
	}
}

// KnowledgeBases 知识库仓库视图
func (m *MemoryStores) KnowledgeBases() store.KnowledgeBaseStore { return (*memoryKBStore)(m) }

// Documents 文档仓库视图
func (m *MemoryStores) Documents() store.DocumentStore { return (*memoryDocStore)(m) }

// Fragments 片段仓库视图
func (m *MemoryStores) Fragments() store.FragmentStore { return (*memoryFragmentStore)(m) }

// AddKnowledgeBase 预置知识库
func (m *MemoryStores) AddKnowledgeBase(kb *models.KnowledgeBase) *models.KnowledgeBase {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextKBID++
	kb.ID = m.nextKBID
	m.kbs[kb.Code] = kb
	return kb
}

// AddDocument 预置文档
func (m *MemoryStores) AddDocument(doc *models.KnowledgeBaseDocument) *models.KnowledgeBaseDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDocID++
	doc.ID = m.nextDocID
	m.docs[doc.Code] = doc
	return doc
}

// AddFragment 预置片段
func (m *MemoryStores) AddFragment(f *models.KnowledgeBaseFragment) *models.KnowledgeBaseFragment {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextFragID++
	f.ID = m.nextFragID
	if f.SyncStatus == "" {
		f.SyncStatus = models.SyncStatusNotSynced
	}
	m.fragments[f.ID] = f
	return f
}

// FragmentByID 按id取片段，测试断言用
func (m *MemoryStores) FragmentByID(id uint64) *models.KnowledgeBaseFragment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fragments[id]
}

// AllFragments 返回全部片段，按id升序
func (m *MemoryStores) AllFragments() []*models.KnowledgeBaseFragment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedFragmentsLocked(func(*models.KnowledgeBaseFragment) bool { return true })
}

func (m *MemoryStores) sortedFragmentsLocked(match func(*models.KnowledgeBaseFragment) bool) []*models.KnowledgeBaseFragment {
	var out []*models.KnowledgeBaseFragment
	for _, f := range m.fragments {
		if match(f) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func matchQuery(f *models.KnowledgeBaseFragment, q store.FragmentQuery) bool {
	if q.KnowledgeCode != "" && f.KnowledgeCode != q.KnowledgeCode {
		return false
	}
	if q.DocumentCode != "" {
		if q.IsDefaultDocumentCode {
			if f.DocumentCode != q.DocumentCode && f.DocumentCode != "" {
				return false
			}
		} else if f.DocumentCode != q.DocumentCode {
			return false
		}
	}
	if q.OnlyUntagged && f.DocumentCode != "" {
		return false
	}
	if q.SyncStatus != nil && f.SyncStatus != *q.SyncStatus {
		return false
	}
	if len(q.SyncStatusIn) > 0 {
		found := false
		for _, s := range q.SyncStatusIn {
			if f.SyncStatus == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.MaxSyncTimes != nil && f.SyncTimes >= *q.MaxSyncTimes {
		return false
	}
	if q.Version != nil && f.Version != *q.Version {
		return false
	}
	return true
}

func paginate[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

type memoryKBStore MemoryStores

func (m *memoryKBStore) GetByCode(ctx context.Context, scope store.Scope, code string) (*models.KnowledgeBase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kb, ok := m.kbs[code]
	if !ok {
		return nil, kberrors.NewNotFound("knowledge base", code)
	}
	if !scope.IsSystem() && scope.OrganizationCode != "" && kb.OrganizationCode != scope.OrganizationCode {
		return nil, kberrors.NewNotFound("knowledge base", code)
	}
	return kb, nil
}

func (m *memoryKBStore) ListAfterID(ctx context.Context, scope store.Scope, afterID uint64, limit int) ([]*models.KnowledgeBase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.KnowledgeBase
	for _, kb := range m.kbs {
		if kb.ID > afterID {
			out = append(out, kb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryKBStore) Create(ctx context.Context, scope store.Scope, kb *models.KnowledgeBase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextKBID++
	kb.ID = m.nextKBID
	m.kbs[kb.Code] = kb
	return nil
}

func (m *memoryKBStore) Save(ctx context.Context, scope store.Scope, kb *models.KnowledgeBase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kbs[kb.Code] = kb
	return nil
}

func (m *memoryKBStore) UpdateSyncStatus(ctx context.Context, scope store.Scope, code string, status models.SyncStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kb, ok := m.kbs[code]
	if !ok {
		return kberrors.NewNotFound("knowledge base", code)
	}
	kb.SyncStatus = status
	return nil
}

func (m *memoryKBStore) Destroy(ctx context.Context, scope store.Scope, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kbs, code)
	return nil
}

type memoryDocStore MemoryStores

func (m *memoryDocStore) GetByCode(ctx context.Context, scope store.Scope, code string) (*models.KnowledgeBaseDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[code]
	if !ok {
		return nil, kberrors.NewNotFound("document", code)
	}
	return doc, nil
}

func (m *memoryDocStore) ListByKnowledgeCode(ctx context.Context, scope store.Scope, knowledgeCode string, page, pageSize int) ([]*models.KnowledgeBaseDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.KnowledgeBaseDocument
	for _, doc := range m.docs {
		if doc.KnowledgeBaseCode == knowledgeCode {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, page, pageSize), nil
}

func (m *memoryDocStore) CountByKnowledgeCode(ctx context.Context, scope store.Scope, knowledgeCode string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, doc := range m.docs {
		if doc.KnowledgeBaseCode == knowledgeCode {
			total++
		}
	}
	return total, nil
}

func (m *memoryDocStore) Create(ctx context.Context, scope store.Scope, doc *models.KnowledgeBaseDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.Code]; ok {
		return kberrors.NewPersistenceConflict(fmt.Errorf("document %s already exists", doc.Code))
	}
	m.nextDocID++
	doc.ID = m.nextDocID
	m.docs[doc.Code] = doc
	return nil
}

func (m *memoryDocStore) Save(ctx context.Context, scope store.Scope, doc *models.KnowledgeBaseDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.Code] = doc
	return nil
}

func (m *memoryDocStore) Destroy(ctx context.Context, scope store.Scope, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, code)
	return nil
}

type memoryFragmentStore MemoryStores

func (m *memoryFragmentStore) GetByID(ctx context.Context, scope store.Scope, id uint64, forUpdate bool) (*models.KnowledgeBaseFragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fragments[id]
	if !ok {
		return nil, kberrors.NewNotFound("fragment", "")
	}
	return f, nil
}

func (m *memoryFragmentStore) GetByIDs(ctx context.Context, scope store.Scope, ids []uint64) ([]*models.KnowledgeBaseFragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.KnowledgeBaseFragment
	for _, id := range ids {
		if f, ok := m.fragments[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memoryFragmentStore) GetByBusinessID(ctx context.Context, scope store.Scope, knowledgeCode, businessID string) (*models.KnowledgeBaseFragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fragments {
		if f.KnowledgeCode == knowledgeCode && f.BusinessID == businessID {
			return f, nil
		}
	}
	return nil, kberrors.NewNotFound("fragment", businessID)
}

func (m *memoryFragmentStore) GetByPointID(ctx context.Context, scope store.Scope, knowledgeCode, pointID string) (*models.KnowledgeBaseFragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fragments {
		if f.KnowledgeCode == knowledgeCode && f.PointID == pointID {
			return f, nil
		}
	}
	return nil, kberrors.NewNotFound("fragment", pointID)
}

func (m *memoryFragmentStore) Query(ctx context.Context, scope store.Scope, q store.FragmentQuery) ([]*models.KnowledgeBaseFragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := (*MemoryStores)(m).sortedFragmentsLocked(func(f *models.KnowledgeBaseFragment) bool {
		return matchQuery(f, q)
	})
	return paginate(out, q.Page, q.PageSize), nil
}

func (m *memoryFragmentStore) Count(ctx context.Context, scope store.Scope, q store.FragmentQuery) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := (*MemoryStores)(m).sortedFragmentsLocked(func(f *models.KnowledgeBaseFragment) bool {
		return matchQuery(f, q)
	})
	return int64(len(out)), nil
}

func (m *memoryFragmentStore) Save(ctx context.Context, scope store.Scope, fragment *models.KnowledgeBaseFragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fragment.ID == 0 {
		m.nextFragID++
		fragment.ID = m.nextFragID
	}
	m.fragments[fragment.ID] = fragment
	return nil
}

func (m *memoryFragmentStore) SaveBatch(ctx context.Context, scope store.Scope, fragments []*models.KnowledgeBaseFragment) error {
	for _, f := range fragments {
		if err := m.Save(ctx, scope, f); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryFragmentStore) Destroy(ctx context.Context, scope store.Scope, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fragments, id)
	return nil
}

func (m *memoryFragmentStore) DestroyByIDs(ctx context.Context, scope store.Scope, ids []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.fragments, id)
	}
	return nil
}

func (m *memoryFragmentStore) DestroyByPointIDs(ctx context.Context, scope store.Scope, knowledgeCode string, pointIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]struct{}, len(pointIDs))
	for _, id := range pointIDs {
		wanted[id] = struct{}{}
	}
	for id, f := range m.fragments {
		if f.KnowledgeCode != knowledgeCode {
			continue
		}
		if _, ok := wanted[f.PointID]; ok {
			delete(m.fragments, id)
		}
	}
	return nil
}

func (m *memoryFragmentStore) DestroyByKnowledgeCode(ctx context.Context, scope store.Scope, knowledgeCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, f := range m.fragments {
		if f.KnowledgeCode == knowledgeCode {
			delete(m.fragments, id)
		}
	}
	return nil
}

func (m *memoryFragmentStore) ChangeSyncStatus(ctx context.Context, scope store.Scope, id uint64, to models.SyncStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fragments[id]
	if !ok {
		return kberrors.NewNotFound("fragment", "")
	}
	f.SyncStatus = to
	f.SyncStatusMessage = models.TruncateSyncStatusMessage(message)
	f.SyncTimes += uint(models.SyncTimesDelta(to))
	return nil
}

func (m *memoryFragmentStore) ChangeSyncStatusBatch(ctx context.Context, scope store.Scope, ids []uint64, to models.SyncStatus, message string) error {
	for _, id := range ids {
		if err := m.ChangeSyncStatus(ctx, scope, id, to, message); err != nil {
			return err
		}
	}
	return nil
}

func (m *memoryFragmentStore) RebuildByKnowledgeCode(ctx context.Context, scope store.Scope, knowledgeCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.fragments {
		if f.KnowledgeCode == knowledgeCode {
			f.SyncStatus = models.SyncStatusRebuilding
			f.SyncTimes = 0
			f.SyncStatusMessage = ""
		}
	}
	return nil
}

func (m *memoryFragmentStore) ReplaceDocumentFragments(ctx context.Context, scope store.Scope, knowledgeCode, documentCode string, fresh []*models.KnowledgeBaseFragment) error {
	m.mu.Lock()
	for id, f := range m.fragments {
		if f.KnowledgeCode != knowledgeCode {
			continue
		}
		if f.DocumentCode == documentCode || f.DocumentCode == "" {
			delete(m.fragments, id)
		}
	}
	m.mu.Unlock()
	return m.SaveBatch(ctx, scope, fresh)
}

func (m *memoryFragmentStore) SyncStatusByDocumentCodes(ctx context.Context, scope store.Scope, knowledgeCode string, documentCodes []string) (map[string][]models.SyncStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]struct{}, len(documentCodes))
	for _, code := range documentCodes {
		wanted[code] = struct{}{}
	}
	out := make(map[string][]models.SyncStatus)
	for _, f := range (*MemoryStores)(m).sortedFragmentsLocked(func(f *models.KnowledgeBaseFragment) bool {
		return f.KnowledgeCode == knowledgeCode
	}) {
		if len(documentCodes) > 0 {
			if _, ok := wanted[f.DocumentCode]; !ok {
				continue
			}
		}
		out[f.DocumentCode] = append(out[f.DocumentCode], f.SyncStatus)
	}
	return out, nil
}
