package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateEmpty(t *testing.T) {
	assert.Equal(t, 0, Estimate(""))
}

func TestEstimateNonEmptyAtLeastOne(t *testing.T) {
	assert.GreaterOrEqual(t, Estimate("a"), 1)
	assert.GreaterOrEqual(t, Estimate("."), 1)
	assert.GreaterOrEqual(t, Estimate(" x "), 1)
}

func TestEstimateCJKPerCharacter(t *testing.T) {
	// CJK按字符计，10个汉字约13个token
	n := Estimate("一二三四五六七八九十")
	assert.Equal(t, 13, n)
}

func TestEstimateLatinPerWord(t *testing.T) {
	// 拉丁文按单词计，字符数不直接影响结果
	short := Estimate("go is fun")
	long := Estimate("concurrency simplifies architecture")
	assert.Equal(t, 3, short)
	assert.Equal(t, 3, long)
}

func TestEstimateUpperBound(t *testing.T) {
	text := strings.Repeat("文", 100)
	assert.LessOrEqual(t, Estimate(text), 200)
}

func TestEstimateMixedContent(t *testing.T) {
	n := Estimate("版本 v2 发布了 release notes 详见文档")
	assert.Greater(t, n, 0)
}

func TestCountCacheHit(t *testing.T) {
	calls := 0
	cache := NewCountCache(func(text string) int {
		calls++
		return len(text)
	})

	first := cache.Count("hello")
	second := cache.Count("hello")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, cache.Size())
}

func TestCountCacheBypassLongText(t *testing.T) {
	calls := 0
	cache := NewCountCache(func(text string) int {
		calls++
		return len(text)
	})

	long := strings.Repeat("x", 1001)
	cache.Count(long)
	cache.Count(long)

	// 超长文本不进缓存，每次都重新计数
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, cache.Size())
}

func TestCountCacheMatchesUncached(t *testing.T) {
	cache := NewCountCache(nil)
	texts := []string{"hello world", "一句中文。", "", "mixed 内容 text"}
	for _, text := range texts {
		assert.Equal(t, Estimate(text), cache.Count(text), "cache diverged for %q", text)
	}
}

func TestCountCacheDefaultFunc(t *testing.T) {
	cache := NewCountCache(nil)
	assert.Equal(t, Estimate("some text"), cache.Count("some text"))
}
