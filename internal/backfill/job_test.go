package backfill

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/models"
	"github.com/aihub/knowledge-engine/internal/store"
	"github.com/aihub/knowledge-engine/internal/store/storetest"
)

func newTestJob(stores *storetest.MemoryStores, cursor CursorStore, opts Options) *Job {
	return NewJob(
		stores.KnowledgeBases(),
		stores.Documents(),
		stores.Fragments(),
		storetest.RollbackTx{Stores: stores},
		cursor,
		opts,
		zap.NewNop(),
	)
}

func addLegacyKB(stores *storetest.MemoryStores, code string, fragments int) *models.KnowledgeBase {
	kb := stores.AddKnowledgeBase(&models.KnowledgeBase{Code: code, Enabled: true})
	for i := 0; i < fragments; i++ {
		stores.AddFragment(&models.KnowledgeBaseFragment{
			KnowledgeCode: code,
			DocumentCode:  "",
			Content:       "legacy fragment",
			SyncStatus:    models.SyncStatusSynced,
		})
	}
	return kb
}

func TestRunMigratesLegacyKnowledgeBase(t *testing.T) {
	stores := storetest.New()
	// 150个片段跨两个内页
	addLegacyKB(stores, "kb-legacy", 150)

	cursor := NewMemoryCursorStore()
	job := newTestJob(stores, cursor, Options{PageSize: 100, FragmentPageSize: 100})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Migrated)
	assert.Equal(t, 0, summary.Failed)

	// 默认文档被创建，全部片段重新归档到该文档
	doc, err := stores.Documents().GetByCode(context.Background(), store.SystemScope, "kb-legacy-default")
	require.NoError(t, err)
	assert.Equal(t, "kb-legacy", doc.KnowledgeBaseCode)
	assert.Equal(t, DefaultDocumentName, doc.Name)

	for _, f := range stores.AllFragments() {
		assert.Equal(t, doc.Code, f.DocumentCode)
	}
}

func TestRunSkipsKnowledgeBaseWithDocuments(t *testing.T) {
	stores := storetest.New()
	kb := stores.AddKnowledgeBase(&models.KnowledgeBase{Code: "kb-new", Enabled: true})
	stores.AddDocument(&models.KnowledgeBaseDocument{Code: "doc-1", KnowledgeBaseCode: kb.Code})
	stores.AddFragment(&models.KnowledgeBaseFragment{
		KnowledgeCode: kb.Code,
		DocumentCode:  "doc-1",
		Content:       "already tagged",
	})

	job := newTestJob(stores, NewMemoryCursorStore(), Options{})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 0, summary.Migrated)
	assert.Equal(t, 1, summary.Skipped)
}

func TestRunSkipsKnowledgeBaseWithoutFragments(t *testing.T) {
	stores := storetest.New()
	stores.AddKnowledgeBase(&models.KnowledgeBase{Code: "kb-empty", Enabled: true})

	job := newTestJob(stores, NewMemoryCursorStore(), Options{})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Migrated)
	assert.Equal(t, 1, summary.Skipped)

	// 事务回滚后不留下空的默认文档
	_, err = stores.Documents().GetByCode(context.Background(), store.SystemScope, "kb-empty-default")
	assert.Error(t, err)
}

func TestRunIsolatesKnowledgeBaseFailure(t *testing.T) {
	stores := storetest.New()
	addLegacyKB(stores, "kb-bad", 2)
	addLegacyKB(stores, "kb-good", 2)

	// 默认文档编码被其他知识库的文档占用，kb-bad迁移时创建冲突
	stores.AddDocument(&models.KnowledgeBaseDocument{
		Code:              "kb-bad-default",
		KnowledgeBaseCode: "kb-other",
	})

	job := newTestJob(stores, NewMemoryCursorStore(), Options{})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Migrated)

	// 后续知识库不受失败影响
	doc, err := stores.Documents().GetByCode(context.Background(), store.SystemScope, "kb-good-default")
	require.NoError(t, err)
	assert.Equal(t, "kb-good", doc.KnowledgeBaseCode)
}

func TestRunAdvancesCursor(t *testing.T) {
	stores := storetest.New()
	addLegacyKB(stores, "kb-a", 3)
	last := addLegacyKB(stores, "kb-b", 3)

	cursor := NewMemoryCursorStore()
	job := newTestJob(stores, cursor, Options{PageSize: 10})

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	saved, err := cursor.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, last.ID, saved)
}

func TestRunResumesFromCursor(t *testing.T) {
	stores := storetest.New()
	first := addLegacyKB(stores, "kb-done", 2)
	addLegacyKB(stores, "kb-todo", 2)

	cursor := NewMemoryCursorStore()
	require.NoError(t, cursor.Set(context.Background(), first.ID))

	job := newTestJob(stores, cursor, Options{})

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	// 游标之前的知识库不再扫描
	assert.Equal(t, 1, summary.Scanned)
	assert.Equal(t, 1, summary.Migrated)

	_, err = stores.Documents().GetByCode(context.Background(), store.SystemScope, "kb-done-default")
	assert.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	stores := storetest.New()
	addLegacyKB(stores, "kb-a", 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := newTestJob(stores, NewMemoryCursorStore(), Options{})
	_, err := job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryCursorStoreRoundTrip(t *testing.T) {
	cursor := NewMemoryCursorStore()

	v, err := cursor.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v)

	require.NoError(t, cursor.Set(context.Background(), 42))
	v, err = cursor.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}
