package tokenizer

import (
	"crypto/md5"
	"encoding/hex"
)

// cacheBypassLength 超过该字符数的文本不进缓存
// 长文本哈希与存储的开销抵消了缓存收益
const cacheBypassLength = 1000

// CountCache 请求级token计数缓存
// 以内容哈希为键，生命周期由调用方控制（一次逻辑请求一个实例），
// 不得跨请求共享。缓存关闭与开启的计数结果必须一致。
type CountCache struct {
	count  CountFunc
	cached map[string]int
}

// NewCountCache 创建计数缓存，count为nil时使用本地估算
func NewCountCache(count CountFunc) *CountCache {
	if count == nil {
		count = Estimate
	}
	return &CountCache{
		count:  count,
		cached: make(map[string]int),
	}
}

// Count 计算文本token数，短文本命中缓存
func (c *CountCache) Count(text string) int {
	if len([]rune(text)) > cacheBypassLength {
		return c.count(text)
	}

	key := hashKey(text)
	if n, ok := c.cached[key]; ok {
		return n
	}

	n := c.count(text)
	c.cached[key] = n
	return n
}

// Size 当前缓存条目数
func (c *CountCache) Size() int {
	return len(c.cached)
}

func hashKey(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
