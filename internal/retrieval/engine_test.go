package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/kberrors"
	"github.com/aihub/knowledge-engine/internal/keyword"
	"github.com/aihub/knowledge-engine/internal/models"
	"github.com/aihub/knowledge-engine/internal/store"
	"github.com/aihub/knowledge-engine/internal/store/storetest"
	"github.com/aihub/knowledge-engine/internal/vectordb"
)

// fakeEmbedder 记录调用次数，断言查询向量只编码一次
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text, modelRef string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 2 }
func (f *fakeEmbedder) Ready() bool     { return true }

// fakeVectorStore 按collection返回预置命中或预置故障
type fakeVectorStore struct {
	hits map[string][]vectordb.SearchHit
	errs map[string]error
}

func (f *fakeVectorStore) Upsert(ctx context.Context, collection string, points []vectordb.Point) error {
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter string) ([]vectordb.SearchHit, error) {
	if err, ok := f.errs[collection]; ok {
		return nil, err
	}
	hits := f.hits[collection]
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeVectorStore) DeleteByPointIDs(ctx context.Context, collection string, pointIDs []string) error {
	return nil
}

func (f *fakeVectorStore) DeleteCollection(ctx context.Context, collection string) error {
	return nil
}

func (f *fakeVectorStore) Ready() bool { return true }

// fakeIndexer 按index返回预置关键词命中
type fakeIndexer struct {
	matches map[string][]keyword.Match
}

func (f *fakeIndexer) IndexFragment(ctx context.Context, index string, doc keyword.FragmentDoc) error {
	return nil
}

func (f *fakeIndexer) RemoveByPointIDs(ctx context.Context, index string, pointIDs []string) error {
	return nil
}

func (f *fakeIndexer) Search(ctx context.Context, index, query string, topK int) ([]keyword.Match, error) {
	return f.matches[index], nil
}

func (f *fakeIndexer) DeleteIndex(ctx context.Context, index string) error { return nil }
func (f *fakeIndexer) Ready() bool                                         { return true }

func hit(pointID string, score float64, text string) vectordb.SearchHit {
	return vectordb.SearchHit{
		PointID: pointID,
		Score:   score,
		Payload: map[string]any{"text": text},
	}
}

func addKB(stores *storetest.MemoryStores, code string, cfg models.RetrieveConfig) {
	stores.AddKnowledgeBase(&models.KnowledgeBase{
		Code:           code,
		Enabled:        true,
		RetrieveConfig: cfg,
	})
}

func newTestEngine(stores *storetest.MemoryStores, vs *fakeVectorStore, idx keyword.Indexer) (*Engine, *fakeEmbedder) {
	if idx == nil {
		idx = &keyword.NoopIndexer{}
	}
	embedder := &fakeEmbedder{}
	engine := NewEngine(stores.KnowledgeBases(), stores.Fragments(), embedder, vs, idx, "kb", zap.NewNop())
	return engine, embedder
}

func TestSimilarityEmptyInput(t *testing.T) {
	engine, _ := newTestEngine(storetest.New(), &fakeVectorStore{}, nil)

	results, err := engine.Similarity(context.Background(), store.SystemScope, nil, "query")
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = engine.Similarity(context.Background(), store.SystemScope, []string{"kb-1"}, "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSimilarityThresholdAppliedPerKnowledgeBase(t *testing.T) {
	stores := storetest.New()
	addKB(stores, "kb-1", models.RetrieveConfig{ScoreThreshold: 0.5, ScoreThresholdEnabled: true})
	addKB(stores, "kb-2", models.RetrieveConfig{})

	vs := &fakeVectorStore{hits: map[string][]vectordb.SearchHit{
		"kb_kb_1": {hit("p1", 0.9, "high"), hit("p2", 0.3, "low")},
		"kb_kb_2": {hit("p3", 0.6, "mid")},
	}}
	engine, embedder := newTestEngine(stores, vs, nil)

	results, err := engine.Similarity(context.Background(), store.SystemScope, []string{"kb-1", "kb-2"}, "query")
	require.NoError(t, err)

	// kb-1的0.3命中被阈值过滤，kb-2无阈值全部保留
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].PointID)
	assert.Equal(t, "kb-1", results[0].KnowledgeCode)
	assert.Equal(t, "p3", results[1].PointID)
	assert.Equal(t, "kb-2", results[1].KnowledgeCode)

	// 查询向量只编码一次
	assert.Equal(t, 1, embedder.calls)
}

func TestSimilaritySkipsDisabledAndMissing(t *testing.T) {
	stores := storetest.New()
	addKB(stores, "kb-on", models.RetrieveConfig{})
	stores.AddKnowledgeBase(&models.KnowledgeBase{Code: "kb-off", Enabled: false})

	vs := &fakeVectorStore{hits: map[string][]vectordb.SearchHit{
		"kb_kb_on":  {hit("p1", 0.8, "enabled hit")},
		"kb_kb_off": {hit("p2", 0.9, "disabled hit")},
	}}
	engine, _ := newTestEngine(stores, vs, nil)

	results, err := engine.Similarity(context.Background(), store.SystemScope,
		[]string{"kb-off", "kb-missing", "kb-on"}, "query")
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].PointID)
}

func TestSimilarityDeterministicTieBreak(t *testing.T) {
	stores := storetest.New()
	addKB(stores, "kb-a", models.RetrieveConfig{})
	addKB(stores, "kb-b", models.RetrieveConfig{})

	vs := &fakeVectorStore{hits: map[string][]vectordb.SearchHit{
		"kb_kb_a": {hit("pa", 0.7, "a")},
		"kb_kb_b": {hit("pb", 0.7, "b")},
	}}
	engine, _ := newTestEngine(stores, vs, nil)

	// 分数相同，入参顺序决定先后
	for i := 0; i < 5; i++ {
		results, err := engine.Similarity(context.Background(), store.SystemScope, []string{"kb-b", "kb-a"}, "query")
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "pb", results[0].PointID)
		assert.Equal(t, "pa", results[1].PointID)
	}
}

func TestSimilarityTopKOverride(t *testing.T) {
	stores := storetest.New()
	addKB(stores, "kb-1", models.RetrieveConfig{TopK: 10})

	vs := &fakeVectorStore{hits: map[string][]vectordb.SearchHit{
		"kb_kb_1": {hit("p1", 0.9, "a"), hit("p2", 0.8, "b"), hit("p3", 0.7, "c")},
	}}
	engine, _ := newTestEngine(stores, vs, nil)

	results, err := engine.Similarity(context.Background(), store.SystemScope, []string{"kb-1"}, "query", WithTopK(2))
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSimilarityUnknownMethodRejected(t *testing.T) {
	stores := storetest.New()
	addKB(stores, "kb-1", models.RetrieveConfig{})
	engine, _ := newTestEngine(stores, &fakeVectorStore{}, nil)

	_, err := engine.Similarity(context.Background(), store.SystemScope, []string{"kb-1"}, "query",
		WithSearchMethod("fuzzy"))
	require.Error(t, err)
	assert.True(t, kberrors.IsCode(err, kberrors.CodeInvalidConfig))
}

func TestSimilarityHybridWeightedScore(t *testing.T) {
	stores := storetest.New()
	addKB(stores, "kb-1", models.RetrieveConfig{
		SearchMethod:    models.SearchMethodHybrid,
		RerankingMode:   models.RerankingModeWeightedScore,
		RerankingEnable: true,
	})

	vs := &fakeVectorStore{hits: map[string][]vectordb.SearchHit{
		"kb_kb_1": {hit("p1", 0.5, "vector only"), hit("p2", 0.5, "both signals")},
	}}
	idx := &fakeIndexer{matches: map[string][]keyword.Match{
		"kb_kb_1": {{PointID: "p2", Content: "both signals", Score: 10}},
	}}
	engine, _ := newTestEngine(stores, vs, idx)

	results, err := engine.Similarity(context.Background(), store.SystemScope, []string{"kb-1"}, "query")
	require.NoError(t, err)

	// 向量分数相同时，关键词信号把p2排到前面
	require.Len(t, results, 2)
	assert.Equal(t, "p2", results[0].PointID)
	assert.InDelta(t, 0.6*0.5+0.4*1.0, results[0].Score, 1e-9)
	assert.InDelta(t, 0.6*0.5, results[1].Score, 1e-9)
}

func TestSimilarityRerankKeepsThresholdSurvivors(t *testing.T) {
	stores := storetest.New()
	addKB(stores, "kb-1", models.RetrieveConfig{
		SearchMethod:          models.SearchMethodHybrid,
		RerankingMode:         models.RerankingModeWeightedScore,
		RerankingEnable:       true,
		ScoreThreshold:        0.5,
		ScoreThresholdEnabled: true,
	})

	vs := &fakeVectorStore{hits: map[string][]vectordb.SearchHit{
		"kb_kb_1": {
			hit("p1", 0.7, "vector only"),
			hit("p2", 0.6, "both signals"),
			hit("p3", 0.3, "below threshold"),
		},
	}}
	idx := &fakeIndexer{matches: map[string][]keyword.Match{
		"kb_kb_1": {{PointID: "p2", Content: "both signals", Score: 10}},
	}}
	engine, _ := newTestEngine(stores, vs, idx)

	results, err := engine.Similarity(context.Background(), store.SystemScope, []string{"kb-1"}, "query")
	require.NoError(t, err)

	// 阈值按原始向量分数过滤：p1(0.7)通过，加权后0.42仍保留；
	// p3(0.3)被过滤；重排只改变顺序，不改变通过阈值的集合
	require.Len(t, results, 2)
	assert.Equal(t, "p2", results[0].PointID)
	assert.InDelta(t, 0.6*0.6+0.4*1.0, results[0].Score, 1e-9)
	assert.Equal(t, "p1", results[1].PointID)
	assert.InDelta(t, 0.6*0.7, results[1].Score, 1e-9)
}

func TestSimilaritySkipsUnavailableKnowledgeBase(t *testing.T) {
	stores := storetest.New()
	addKB(stores, "kb-bad", models.RetrieveConfig{SearchMethod: models.SearchMethodSemantic})
	addKB(stores, "kb-good", models.RetrieveConfig{SearchMethod: models.SearchMethodSemantic})

	vs := &fakeVectorStore{
		hits: map[string][]vectordb.SearchHit{
			"kb_kb_good": {hit("p1", 0.9, "healthy")},
		},
		errs: map[string]error{
			"kb_kb_bad": kberrors.NewVectorStoreUnavailable(errors.New("collection offline")),
		},
	}
	engine, _ := newTestEngine(stores, vs, nil)

	// 单库后端故障只跳过该库，其余知识库照常返回
	results, err := engine.Similarity(context.Background(), store.SystemScope, []string{"kb-bad", "kb-good"}, "query")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "p1", results[0].PointID)
	assert.Equal(t, "kb-good", results[0].KnowledgeCode)
}

func TestSimilarityKeywordOnlyMethod(t *testing.T) {
	stores := storetest.New()
	addKB(stores, "kb-1", models.RetrieveConfig{SearchMethod: models.SearchMethodKeyword})

	idx := &fakeIndexer{matches: map[string][]keyword.Match{
		"kb_kb_1": {
			{PointID: "p1", Content: "exact phrase", Score: 8},
			{PointID: "p2", Content: "partial", Score: 4},
		},
	}}
	engine, embedder := newTestEngine(stores, &fakeVectorStore{}, idx)

	results, err := engine.Similarity(context.Background(), store.SystemScope, []string{"kb-1"}, "query")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].PointID)
	// 纯关键词检索不触发向量化
	assert.Equal(t, 0, embedder.calls)
}

func TestSimilarityAttachesFragmentIdentity(t *testing.T) {
	stores := storetest.New()
	addKB(stores, "kb-1", models.RetrieveConfig{})
	fragment := stores.AddFragment(&models.KnowledgeBaseFragment{
		KnowledgeCode: "kb-1",
		DocumentCode:  "doc-9",
		PointID:       "p1",
		Content:       "stored content",
		SyncStatus:    models.SyncStatusSynced,
	})

	vs := &fakeVectorStore{hits: map[string][]vectordb.SearchHit{
		"kb_kb_1": {hit("p1", 0.9, "stored content")},
	}}
	engine, _ := newTestEngine(stores, vs, nil)

	results, err := engine.Similarity(context.Background(), store.SystemScope, []string{"kb-1"}, "query")
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, fragment.ID, results[0].FragmentID)
	assert.Equal(t, "doc-9", results[0].DocumentCode)
}
