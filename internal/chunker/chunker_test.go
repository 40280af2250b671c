package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/knowledge-engine/internal/kberrors"
)

// runeCount 按字符计数的token函数，计数可加，便于断言块大小
func runeCount(text string) int {
	return utf8.RuneCountInString(text)
}

func TestNewRejectsOverlapNotLessThanSize(t *testing.T) {
	_, err := New(Options{ChunkSize: 100, ChunkOverlap: 100})
	require.Error(t, err)
	assert.True(t, kberrors.IsCode(err, kberrors.CodeInvalidConfig))

	_, err = New(Options{ChunkSize: 100, ChunkOverlap: 150})
	require.Error(t, err)
}

func TestSplitEmptyText(t *testing.T) {
	c, err := New(Options{ChunkSize: 100, CountTokens: runeCount})
	require.NoError(t, err)

	assert.Nil(t, c.Split(""))
	assert.Nil(t, c.Split("   \n\n  \t"))
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	c, err := New(Options{ChunkSize: 100, CountTokens: runeCount})
	require.NoError(t, err)

	chunks := c.Split("hello world")
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0])
}

func TestSplitMergesParagraphsGreedily(t *testing.T) {
	// 三个段各10字符，chunkSize 25：前两段合并，第三段单独成块
	text := "aaaaaaaaaa\n\nbbbbbbbbbb\n\ncccccccccc"
	c, err := New(Options{ChunkSize: 25, CountTokens: runeCount, KeepSeparator: true})
	require.NoError(t, err)

	chunks := c.Split(text)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, runeCount(chunk), 25, "chunk exceeds size: %q", chunk)
	}
	// keepSeparator下拼接还原原文，内容无丢失
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitRecursesIntoOversizeParagraph(t *testing.T) {
	// 单段超长，按换行递归切分
	text := strings.Repeat("line-one\n", 10)
	c, err := New(Options{ChunkSize: 20, CountTokens: runeCount, KeepSeparator: true})
	require.NoError(t, err)

	chunks := c.Split(text)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, runeCount(chunk), 20)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitChineseSentenceSeparator(t *testing.T) {
	text := "这是第一句。这是第二句。这是第三句。"
	c, err := New(Options{
		ChunkSize:      8,
		FixedSeparator: "\n\n",
		CountTokens:    runeCount,
		KeepSeparator:  true,
	})
	require.NoError(t, err)

	chunks := c.Split(text)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, runeCount(chunk), 8)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}

func TestSplitCharacterLevelWithOverlap(t *testing.T) {
	// 无任何分隔符的长文本走字符级切分
	text := strings.Repeat("x", 1200)
	c, err := New(Options{ChunkSize: 500, ChunkOverlap: 50, CountTokens: runeCount})
	require.NoError(t, err)

	chunks := c.Split(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, 450, runeCount(chunks[0]))
	assert.Equal(t, 500, runeCount(chunks[1]))
	assert.Equal(t, 350, runeCount(chunks[2]))

	// 相邻块之间有50字符的重叠前缀
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		tail := string(prev[len(prev)-50:])
		assert.True(t, strings.HasPrefix(chunks[i], tail), "chunk %d missing overlap prefix", i)
	}
}

func TestSplitCharacterLevelOverlapClippedToChunkLength(t *testing.T) {
	text := strings.Repeat("語", 30)
	c, err := New(Options{ChunkSize: 20, ChunkOverlap: 15, CountTokens: runeCount})
	require.NoError(t, err)

	chunks := c.Split(text)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, runeCount(chunk), 20)
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("paragraph text here\n\n", 40) + strings.Repeat("y", 800)
	c, err := New(Options{ChunkSize: 100, ChunkOverlap: 10, CountTokens: runeCount})
	require.NoError(t, err)

	first := c.Split(text)
	second := c.Split(text)
	assert.Equal(t, first, second)
}

func TestSplitChunkIsStable(t *testing.T) {
	// 已经符合大小的块再次切分保持不变
	text := strings.Repeat("word ", 200)
	c, err := New(Options{ChunkSize: 60, CountTokens: runeCount, KeepSeparator: true})
	require.NoError(t, err)

	for _, chunk := range c.Split(text) {
		again := c.Split(chunk)
		require.Len(t, again, 1)
		assert.Equal(t, chunk, again[0])
	}
}

func TestSplitDefaultTokenCounter(t *testing.T) {
	c, err := New(Options{ChunkSize: 50})
	require.NoError(t, err)

	chunks := c.Split("short text without separators")
	require.Len(t, chunks, 1)
}

func TestNormalizeEncodingBOM(t *testing.T) {
	withBOM := "\xef\xbb\xbfhello"
	assert.Equal(t, "hello", NormalizeEncoding(withBOM))
}

func TestNormalizeEncodingInvalidUTF8(t *testing.T) {
	invalid := "abc\xff\xfedef"
	out := NormalizeEncoding(invalid)
	assert.True(t, utf8.ValidString(out))
}

func TestPreprocessRemoveExtraWhitespace(t *testing.T) {
	text := "hello   world\n\n\n\nnext  paragraph"
	out := Preprocess(text, PreprocessOptions{RemoveExtraWhitespace: true})
	assert.Equal(t, "hello world\n\nnext paragraph", out)
}

func TestPreprocessRemoveURLs(t *testing.T) {
	text := "see https://example.com/page and mail admin@example.com now"
	out := Preprocess(text, PreprocessOptions{RemoveURLs: true})
	assert.NotContains(t, out, "https://example.com/page")
	assert.NotContains(t, out, "admin@example.com")
	assert.Contains(t, out, "see")
	assert.Contains(t, out, "now")
}
