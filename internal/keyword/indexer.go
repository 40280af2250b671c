package keyword

import "context"

// FragmentDoc 供索引用的片段文档
type FragmentDoc struct {
	PointID       string
	FragmentID    uint64
	KnowledgeCode string
	DocumentCode  string
	Content       string
	Metadata      map[string]interface{}
}

// Match 关键词检索命中
type Match struct {
	PointID   string
	Content   string
	Score     float64
	Highlight string
}

// Indexer 全文索引接口
// 为keyword/hybrid检索方式和weighted-score重排提供词法信号
type Indexer interface {
	IndexFragment(ctx context.Context, index string, doc FragmentDoc) error
	RemoveByPointIDs(ctx context.Context, index string, pointIDs []string) error
	Search(ctx context.Context, index, query string, topK int) ([]Match, error)
	DeleteIndex(ctx context.Context, index string) error
	Ready() bool
}

// NoopIndexer 默认占位实现，关键词信号缺失时检索退化为纯向量分数
type NoopIndexer struct{}

func (n *NoopIndexer) IndexFragment(ctx context.Context, index string, doc FragmentDoc) error {
	return nil
}

func (n *NoopIndexer) RemoveByPointIDs(ctx context.Context, index string, pointIDs []string) error {
	return nil
}

func (n *NoopIndexer) Search(ctx context.Context, index, query string, topK int) ([]Match, error) {
	return nil, nil
}

func (n *NoopIndexer) DeleteIndex(ctx context.Context, index string) error {
	return nil
}

func (n *NoopIndexer) Ready() bool {
	return false
}
