package vectordb

import (
	"context"
	"strings"
)

// Point 向量库记录
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// SearchHit 检索命中
type SearchHit struct {
	PointID string
	Score   float64
	Payload map[string]interface{}
}

// Store 向量存储抽象
// collection命名由调用方持有（从知识库code派生），生命周期内保持稳定
type Store interface {
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, queryVector []float32, topK int, filter string) ([]SearchHit, error)
	DeleteByPointIDs(ctx context.Context, collection string, pointIDs []string) error
	DeleteCollection(ctx context.Context, collection string) error
	Ready() bool
}

// CollectionName 由知识库code派生collection名称
// 每次向量库调用都使用知识库自身的collection，杜绝跨租户写入
func CollectionName(prefix, knowledgeCode string) string {
	if prefix == "" {
		prefix = "kb"
	}
	return prefix + "_" + sanitizeCode(knowledgeCode)
}

// sanitizeCode 替换collection名中的非法字符
func sanitizeCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
