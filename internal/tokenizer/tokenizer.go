package tokenizer

import (
	"strings"
	"unicode"
)

// CountFunc 可插拔的token计数函数
type CountFunc func(text string) int

// textStats 文本统计信息
type textStats struct {
	cjkChars     int // CJK字符数
	latinChars   int // 拉丁字母数
	digits       int // 数字字符数
	punctuation  int // 标点符号数
	otherChars   int // 其他非空白字符数
	latinWords   int // 拉丁单词数
	totalChars   int // 总字符数
}

// Estimate 本地估算token数量
// 无外部分词服务时的估算实现：CJK按字符计，拉丁文按单词计
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	stats := analyzeText(text)

	const (
		cjkTokenRatio   = 1.3  // CJK字符通常1字符≈1.3 token
		latinWordRatio  = 1.3  // 英文单词通常1词≈1.3 token
		digitRatio      = 0.5
		punctuationRatio = 0.5
		otherRatio      = 1.0
	)

	estimated := int(float64(stats.cjkChars)*cjkTokenRatio +
		float64(stats.latinWords)*latinWordRatio +
		float64(stats.digits)*digitRatio +
		float64(stats.punctuation)*punctuationRatio +
		float64(stats.otherChars)*otherRatio)

	// 边界检查：非空文本至少1个token，上限为每字符2个token
	if estimated < 1 {
		estimated = 1
	}
	if max := stats.totalChars * 2; estimated > max {
		estimated = max
	}

	return estimated
}

func analyzeText(text string) textStats {
	stats := textStats{totalChars: len([]rune(text))}

	for _, r := range text {
		switch {
		case isCJK(r):
			stats.cjkChars++
		case unicode.IsLetter(r):
			stats.latinChars++
		case unicode.IsDigit(r):
			stats.digits++
		case unicode.IsSpace(r):
			// 空白不计token
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			stats.punctuation++
		default:
			stats.otherChars++
		}
	}

	stats.latinWords = countLatinWords(text)
	return stats
}

// isCJK 判断是否CJK字符（含扩展区）
func isCJK(r rune) bool {
	return (r >= 0x4e00 && r <= 0x9fff) || // 基本汉字
		(r >= 0x3400 && r <= 0x4dbf) || // 扩展A
		(r >= 0x20000 && r <= 0x2ceaf) || // 扩展B-E
		(r >= 0x3040 && r <= 0x30ff) || // 日文假名
		(r >= 0xac00 && r <= 0xd7af) // 韩文音节
}

func countLatinWords(text string) int {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) && !isCJK(r))
	})
	count := 0
	for _, w := range words {
		if len(w) > 0 {
			count++
		}
	}
	return count
}
