package chunker

import (
	"strings"

	"github.com/aihub/knowledge-engine/internal/kberrors"
	"github.com/aihub/knowledge-engine/internal/tokenizer"
)

// DefaultSeparators 候选分隔符，按优先级排列，空串表示字符级
var DefaultSeparators = []string{"\n\n", "\n", "。", " ", ""}

// DefaultFixedSeparator 首轮粗切分的固定分隔符
const DefaultFixedSeparator = "\n\n"

// Options 分块参数
type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	FixedSeparator string
	Separators     []string
	KeepSeparator  bool
	CountTokens    tokenizer.CountFunc // nil时使用本地估算
}

// Chunker token感知的递归文本分块器
// 纯函数实现，不做任何I/O；token计数缓存以单次Split调用为生命周期
type Chunker struct {
	chunkSize      int
	chunkOverlap   int
	fixedSeparator string
	separators     []string
	keepSeparator  bool
	count          tokenizer.CountFunc
}

// New 创建分块器，overlap必须小于chunk size
func New(opts Options) (*Chunker, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 500
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		return nil, kberrors.NewInvalidConfig("chunk overlap %d must be less than chunk size %d", opts.ChunkOverlap, opts.ChunkSize)
	}
	if opts.FixedSeparator == "" {
		opts.FixedSeparator = DefaultFixedSeparator
	}
	if len(opts.Separators) == 0 {
		opts.Separators = DefaultSeparators
	}
	if opts.CountTokens == nil {
		opts.CountTokens = tokenizer.Estimate
	}

	return &Chunker{
		chunkSize:      opts.ChunkSize,
		chunkOverlap:   opts.ChunkOverlap,
		fixedSeparator: opts.FixedSeparator,
		separators:     opts.Separators,
		keepSeparator:  opts.KeepSeparator,
		count:          opts.CountTokens,
	}, nil
}

// Split 将文本切分为token长度不超过chunkSize的片段序列
func (c *Chunker) Split(text string) []string {
	text = NormalizeEncoding(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	cache := tokenizer.NewCountCache(c.count)

	var out []string
	for _, coarse := range splitWithSeparator(text, c.fixedSeparator, c.keepSeparator) {
		if coarse == "" {
			continue
		}
		if cache.Count(coarse) <= c.chunkSize {
			out = append(out, coarse)
			continue
		}
		out = append(out, c.splitOversize(coarse, cache)...)
	}
	return out
}

// splitTask 待切分的超长片段及其可用分隔符的起始下标
type splitTask struct {
	text    string
	sepIdx  int
	settled bool // 已满足长度要求，弹出时直接输出
}

// splitOversize 用显式工作栈按候选分隔符逐级切分超长文本
// 每次选用剩余列表中第一个在文本中出现的分隔符；重新入栈的片段
// 分隔符下标严格递增，循环必然终止；全部不匹配时原样输出
func (c *Chunker) splitOversize(text string, cache *tokenizer.CountCache) []string {
	var out []string
	stack := []splitTask{{text: text}}

	for len(stack) > 0 {
		task := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if task.settled || cache.Count(task.text) <= c.chunkSize {
			out = append(out, task.text)
			continue
		}

		sep := ""
		restIdx := len(c.separators)
		found := false
		for i := task.sepIdx; i < len(c.separators); i++ {
			s := c.separators[i]
			if s == "" {
				found = true
				break
			}
			if strings.Contains(task.text, s) {
				sep = s
				restIdx = i + 1
				found = true
				break
			}
		}
		if !found {
			// 分隔符耗尽，原子片段原样输出
			out = append(out, task.text)
			continue
		}
		if sep == "" {
			out = append(out, c.splitByCharacter(task.text, cache)...)
			continue
		}

		segments := c.mergePieces(task.text, sep, restIdx, cache)
		for i := len(segments) - 1; i >= 0; i-- {
			stack = append(stack, segments[i])
		}
	}

	return out
}

// mergePieces 按sep切分后贪心合并：累积片段直到再加一个就超出chunkSize
// 仍超长的单个片段作为未完成任务返回，由调用方用剩余分隔符继续处理
func (c *Chunker) mergePieces(text, sep string, restIdx int, cache *tokenizer.CountCache) []splitTask {
	pieces := splitWithSeparator(text, sep, c.keepSeparator)

	sepTokens := 0
	if !c.keepSeparator {
		sepTokens = cache.Count(sep)
	}

	var out []splitTask
	var buf []string
	bufTokens := 0

	flush := func() {
		if len(buf) == 0 {
			return
		}
		out = append(out, splitTask{text: joinPieces(buf, sep, c.keepSeparator), settled: true})
		buf = nil
		bufTokens = 0
	}

	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		pt := cache.Count(piece)
		if pt > c.chunkSize {
			flush()
			out = append(out, splitTask{text: piece, sepIdx: restIdx})
			continue
		}
		extra := 0
		if len(buf) > 0 {
			extra = sepTokens
		}
		if bufTokens+extra+pt > c.chunkSize {
			flush()
			extra = 0
		}
		buf = append(buf, piece)
		bufTokens += extra + pt
	}
	flush()

	return out
}

// splitByCharacter 字符级切分
// 主体按chunkSize-chunkOverlap个token累积，块尾最多chunkOverlap个token
// 作为下一块的起始重叠，保证相邻块有连续性
func (c *Chunker) splitByCharacter(text string, cache *tokenizer.CountCache) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	overlap := c.chunkOverlap
	step := c.chunkSize - overlap
	if step <= 0 {
		step = c.chunkSize
		overlap = 0
	}

	var out []string
	var carry []rune
	var body []rune
	bodyTokens := 0

	emit := func() {
		if len(body) == 0 {
			return
		}
		chunk := make([]rune, 0, len(carry)+len(body))
		chunk = append(chunk, carry...)
		chunk = append(chunk, body...)
		out = append(out, string(chunk))

		carry = overlapTail(chunk, overlap, cache)
		body = nil
		bodyTokens = 0
	}

	for _, r := range runes {
		rt := cache.Count(string(r))
		if len(body) > 0 && bodyTokens+rt > step {
			emit()
		}
		body = append(body, r)
		bodyTokens += rt
	}
	emit()

	return out
}

// overlapTail 取块尾部不超过overlap个token的字符作为下一块的重叠前缀
// 块本身不足overlap时整块作为重叠（重叠被裁剪到块长）
func overlapTail(chunk []rune, overlap int, cache *tokenizer.CountCache) []rune {
	if overlap <= 0 || len(chunk) == 0 {
		return nil
	}

	tokens := 0
	start := len(chunk)
	for start > 0 {
		rt := cache.Count(string(chunk[start-1]))
		if tokens+rt > overlap {
			break
		}
		tokens += rt
		start--
	}
	if start == len(chunk) {
		return nil
	}
	tail := make([]rune, len(chunk)-start)
	copy(tail, chunk[start:])
	return tail
}

// splitWithSeparator 按分隔符切分
// keep为true时分隔符保留在片段尾部，false时移除并在合并时重新插入
func splitWithSeparator(text, sep string, keep bool) []string {
	if sep == "" {
		return []string{text}
	}
	var parts []string
	if keep {
		parts = strings.SplitAfter(text, sep)
	} else {
		parts = strings.Split(text, sep)
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinPieces(pieces []string, sep string, keep bool) string {
	if keep {
		return strings.Join(pieces, "")
	}
	return strings.Join(pieces, sep)
}
