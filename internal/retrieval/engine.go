package retrieval

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/embedding"
	"github.com/aihub/knowledge-engine/internal/kberrors"
	"github.com/aihub/knowledge-engine/internal/keyword"
	"github.com/aihub/knowledge-engine/internal/metrics"
	"github.com/aihub/knowledge-engine/internal/models"
	"github.com/aihub/knowledge-engine/internal/store"
	"github.com/aihub/knowledge-engine/internal/vectordb"
)

// 加权融合默认权重，向量信号为主
const (
	defaultVectorWeight  = 0.6
	defaultKeywordWeight = 0.4
)

// Result 跨知识库检索结果
type Result struct {
	KnowledgeCode string         `json:"knowledge_code"`
	DocumentCode  string         `json:"document_code,omitempty"`
	FragmentID    uint64         `json:"fragment_id,omitempty"`
	PointID       string         `json:"point_id"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Score         float64        `json:"score"`
}

// Options 调用方覆盖项，零值字段不生效
type Options struct {
	TopK           int
	ScoreThreshold *float64
	SearchMethod   string
}

// Option 检索调用选项
type Option func(*Options)

// WithTopK 覆盖每个知识库的返回条数
func WithTopK(topK int) Option {
	return func(o *Options) {
		o.TopK = topK
	}
}

// WithScoreThreshold 覆盖相似度阈值
func WithScoreThreshold(threshold float64) Option {
	return func(o *Options) {
		o.ScoreThreshold = &threshold
	}
}

// WithSearchMethod 覆盖检索方式
func WithSearchMethod(method string) Option {
	return func(o *Options) {
		o.SearchMethod = method
	}
}

// Engine 跨知识库相似检索引擎
type Engine struct {
	kbStore       store.KnowledgeBaseStore
	fragmentStore store.FragmentStore
	embedder      embedding.Embedder
	vectorStore   vectordb.Store
	indexer       keyword.Indexer
	prefix        string
	logger        *zap.Logger
}

// NewEngine 创建检索引擎
func NewEngine(
	kbStore store.KnowledgeBaseStore,
	fragmentStore store.FragmentStore,
	embedder embedding.Embedder,
	vectorStore vectordb.Store,
	indexer keyword.Indexer,
	collectionPrefix string,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		kbStore:       kbStore,
		fragmentStore: fragmentStore,
		embedder:      embedder,
		vectorStore:   vectorStore,
		indexer:       indexer,
		prefix:        collectionPrefix,
		logger:        logger.Named("retrieval"),
	}
}

// Similarity 在多个知识库内检索与query最相似的片段
// 每个知识库使用自身的检索配置；停用、不存在或后端故障的知识库
// 跳过不报错，只有配置错误会使整体调用失败
// 结果按分数降序，分数相同时按入参知识库顺序、再按库内命中顺序排列
func (e *Engine) Similarity(ctx context.Context, scope store.Scope, knowledgeCodes []string, query string, opts ...Option) ([]Result, error) {
	metrics.RetrievalRequestsTotal.Inc()
	started := time.Now()
	defer func() {
		metrics.RetrievalDuration.Observe(time.Since(started).Seconds())
	}()

	if len(knowledgeCodes) == 0 || query == "" {
		return []Result{}, nil
	}

	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	if options.SearchMethod != "" && !validSearchMethod(options.SearchMethod) {
		return nil, kberrors.NewInvalidConfig("unknown search method: %s", options.SearchMethod)
	}

	// 向量只编码一次，同一查询在多个知识库间复用
	var queryVector []float32
	var embedErr error
	embedOnce := func(modelRef string) ([]float32, error) {
		if queryVector != nil || embedErr != nil {
			return queryVector, embedErr
		}
		queryVector, embedErr = e.embedder.Embed(ctx, query, modelRef)
		return queryVector, embedErr
	}

	grouped := make([][]Result, 0, len(knowledgeCodes))
	seen := make(map[string]struct{}, len(knowledgeCodes))
	for _, code := range knowledgeCodes {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}

		kb, err := e.kbStore.GetByCode(ctx, scope, code)
		if err != nil {
			if kberrors.IsCode(err, kberrors.CodeNotFound) {
				e.logger.Debug("skip missing knowledge base", zap.String("knowledge_code", code))
				continue
			}
			e.logger.Warn("knowledge base lookup failed, skipping",
				zap.String("knowledge_code", code), zap.Error(err))
			continue
		}
		if !kb.Enabled {
			e.logger.Debug("skip disabled knowledge base", zap.String("knowledge_code", code))
			continue
		}

		cfg := kb.RetrieveConfig.Normalized()
		if options.SearchMethod != "" {
			cfg.SearchMethod = options.SearchMethod
		}
		if options.TopK > 0 {
			cfg.TopK = options.TopK
		}
		if options.ScoreThreshold != nil {
			cfg.ScoreThreshold = *options.ScoreThreshold
			cfg.ScoreThresholdEnabled = true
		}

		results, err := e.searchKnowledgeBase(ctx, kb, cfg, query, embedOnce)
		if err != nil {
			// 配置错误直接上抛，单库的后端故障跳过不影响其余知识库
			if kberrors.IsCode(err, kberrors.CodeInvalidConfig) {
				return nil, err
			}
			e.logger.Warn("knowledge base search failed, skipping",
				zap.String("knowledge_code", kb.Code), zap.Error(err))
			continue
		}
		e.attachFragments(ctx, scope, kb.Code, results)
		if len(results) > 0 {
			grouped = append(grouped, results)
		}
	}

	return mergeGrouped(grouped), nil
}

// searchKnowledgeBase 按单个知识库的配置检索并重排
func (e *Engine) searchKnowledgeBase(
	ctx context.Context,
	kb *models.KnowledgeBase,
	cfg models.RetrieveConfig,
	query string,
	embedOnce func(modelRef string) ([]float32, error),
) ([]Result, error) {
	collection := vectordb.CollectionName(e.prefix, kb.Code)

	var vectorHits []vectordb.SearchHit
	var keywordHits []keyword.Match
	var err error

	switch cfg.SearchMethod {
	case models.SearchMethodSemantic:
		vectorHits, err = e.searchVector(ctx, kb, collection, cfg.TopK, embedOnce)
	case models.SearchMethodKeyword:
		keywordHits, err = e.searchKeyword(ctx, collection, query, cfg.TopK)
	case models.SearchMethodHybrid:
		vectorHits, err = e.searchVector(ctx, kb, collection, cfg.TopK, embedOnce)
		if err == nil {
			keywordHits, err = e.searchKeyword(ctx, collection, query, cfg.TopK)
		}
	default:
		return nil, kberrors.NewInvalidConfig("unknown search method: %s", cfg.SearchMethod)
	}
	if err != nil {
		return nil, err
	}

	results := e.buildResults(kb.Code, vectorHits, keywordHits, cfg)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if cfg.TopK > 0 && len(results) > cfg.TopK {
		results = results[:cfg.TopK]
	}
	return results, nil
}

func (e *Engine) searchVector(
	ctx context.Context,
	kb *models.KnowledgeBase,
	collection string,
	topK int,
	embedOnce func(modelRef string) ([]float32, error),
) ([]vectordb.SearchHit, error) {
	vector, err := embedOnce(kb.Model)
	if err != nil {
		return nil, err
	}
	hits, err := e.vectorStore.Search(ctx, collection, vector, topK, "")
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (e *Engine) searchKeyword(ctx context.Context, index, query string, topK int) ([]keyword.Match, error) {
	if !e.indexer.Ready() {
		return nil, nil
	}
	matches, err := e.indexer.Search(ctx, index, query, topK)
	if err != nil {
		// 关键词信号缺失时降级为纯向量分数
		e.logger.Warn("keyword search failed, falling back to vector scores",
			zap.String("index", index), zap.Error(err))
		return nil, nil
	}
	return matches, nil
}

// buildResults 融合向量命中与关键词命中
// 阈值按原始信号分数过滤，过滤后的候选才参与加权重排，
// 重排只改变幸存者的顺序，不改变哪些候选通过阈值
func (e *Engine) buildResults(knowledgeCode string, vectorHits []vectordb.SearchHit, keywordHits []keyword.Match, cfg models.RetrieveConfig) []Result {
	keywordScores := make(map[string]float64, len(keywordHits))
	maxKeywordScore := 0.0
	for _, m := range keywordHits {
		if m.Score > maxKeywordScore {
			maxKeywordScore = m.Score
		}
	}
	for _, m := range keywordHits {
		score := m.Score
		if maxKeywordScore > 0 {
			score = m.Score / maxKeywordScore
		}
		keywordScores[m.PointID] = score
	}

	rerank := cfg.RerankingEnable && cfg.RerankingMode == models.RerankingModeWeightedScore
	belowThreshold := func(raw float64) bool {
		return cfg.ScoreThresholdEnabled && raw < cfg.ScoreThreshold
	}

	results := make([]Result, 0, len(vectorHits)+len(keywordHits))
	covered := make(map[string]struct{}, len(vectorHits))
	for _, hit := range vectorHits {
		covered[hit.PointID] = struct{}{}
		if belowThreshold(hit.Score) {
			continue
		}
		score := hit.Score
		if rerank {
			score = defaultVectorWeight*hit.Score + defaultKeywordWeight*keywordScores[hit.PointID]
		}
		results = append(results, Result{
			KnowledgeCode: knowledgeCode,
			PointID:       hit.PointID,
			Content:       payloadText(hit.Payload),
			Metadata:      payloadMetadata(hit.Payload),
			Score:         score,
		})
	}
	for _, m := range keywordHits {
		if _, ok := covered[m.PointID]; ok {
			continue
		}
		if cfg.SearchMethod == models.SearchMethodSemantic {
			continue
		}
		if belowThreshold(keywordScores[m.PointID]) {
			continue
		}
		score := keywordScores[m.PointID]
		if rerank {
			score = defaultKeywordWeight * score
		}
		results = append(results, Result{
			KnowledgeCode: knowledgeCode,
			PointID:       m.PointID,
			Content:       m.Content,
			Score:         score,
		})
	}
	return results
}

// attachFragments 回查片段行，补全命中结果的片段标识
// 片段已被删除的命中保留向量库内容，标识留空
func (e *Engine) attachFragments(ctx context.Context, scope store.Scope, knowledgeCode string, results []Result) {
	for i := range results {
		fragment, err := e.fragmentStore.GetByPointID(ctx, scope, knowledgeCode, results[i].PointID)
		if err != nil {
			continue
		}
		results[i].FragmentID = fragment.ID
		results[i].DocumentCode = fragment.DocumentCode
		if results[i].Content == "" {
			results[i].Content = fragment.Content
		}
	}
}

// mergeGrouped 合并各知识库的结果
// 分数降序；相同分数按知识库入参顺序，再按库内命中顺序，保证结果可复现
func mergeGrouped(grouped [][]Result) []Result {
	type ranked struct {
		Result
		group int
		index int
	}
	total := 0
	for _, g := range grouped {
		total += len(g)
	}
	all := make([]ranked, 0, total)
	for gi, g := range grouped {
		for i, r := range g {
			all = append(all, ranked{Result: r, group: gi, index: i})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		if all[i].group != all[j].group {
			return all[i].group < all[j].group
		}
		return all[i].index < all[j].index
	})
	merged := make([]Result, 0, total)
	for _, r := range all {
		merged = append(merged, r.Result)
	}
	return merged
}

func validSearchMethod(method string) bool {
	switch method {
	case models.SearchMethodSemantic, models.SearchMethodKeyword, models.SearchMethodHybrid:
		return true
	}
	return false
}

func payloadText(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if text, ok := payload["text"].(string); ok {
		return text
	}
	return ""
}

func payloadMetadata(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	if meta, ok := payload["metadata"].(map[string]any); ok {
		return meta
	}
	return nil
}
