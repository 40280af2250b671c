package storetest

import (
	"context"

	"github.com/aihub/knowledge-engine/internal/models"
)

// PassthroughTx 直接执行回调的事务实现，不提供回滚语义
type PassthroughTx struct{}

func (PassthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// RollbackTx 带快照回滚的事务实现
// 进入回调前快照仓库状态，回调返回错误时整体恢复，
// 模拟数据库事务的回滚语义
type RollbackTx struct {
	Stores *MemoryStores
}

func (t RollbackTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := t.Stores.snapshot()
	if err := fn(ctx); err != nil {
		t.Stores.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	nextKBID   uint64
	nextDocID  uint64
	nextFragID uint64
	kbs        map[string]*models.KnowledgeBase
	docs       map[string]*models.KnowledgeBaseDocument
	fragments  map[uint64]*models.KnowledgeBaseFragment
}

func (m *MemoryStores) snapshot() memorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := memorySnapshot{
		nextKBID:   m.nextKBID,
		nextDocID:  m.nextDocID,
		nextFragID: m.nextFragID,
		kbs:        make(map[string]*models.KnowledgeBase, len(m.kbs)),
		docs:       make(map[string]*models.KnowledgeBaseDocument, len(m.docs)),
		fragments:  make(map[uint64]*models.KnowledgeBaseFragment, len(m.fragments)),
	}
	for k, v := range m.kbs {
		c := *v
		snap.kbs[k] = &c
	}
	for k, v := range m.docs {
		c := *v
		snap.docs[k] = &c
	}
	for k, v := range m.fragments {
		c := *v
		snap.fragments[k] = &c
	}
	return snap
}

func (m *MemoryStores) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextKBID = snap.nextKBID
	m.nextDocID = snap.nextDocID
	m.nextFragID = snap.nextFragID
	m.kbs = snap.kbs
	m.docs = snap.docs
	m.fragments = snap.fragments
}
