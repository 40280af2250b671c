package chunker

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	textunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/net/html/charset"
)

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
)

// NormalizeEncoding 将原始文本规范化为UTF-8
// 顺序：BOM嗅探 → 字符集推断 → 原样返回
func NormalizeEncoding(text string) string {
	data := []byte(text)

	switch {
	case bytes.HasPrefix(data, utf8BOM):
		return string(data[len(utf8BOM):])
	case bytes.HasPrefix(data, utf16LEBOM):
		dec := textunicode.UTF16(textunicode.LittleEndian, textunicode.UseBOM).NewDecoder()
		if out, err := dec.Bytes(data); err == nil {
			return string(out)
		}
	case bytes.HasPrefix(data, utf16BEBOM):
		dec := textunicode.UTF16(textunicode.BigEndian, textunicode.UseBOM).NewDecoder()
		if out, err := dec.Bytes(data); err == nil {
			return string(out)
		}
	}

	if utf8.Valid(data) {
		return text
	}

	// 非UTF-8时按内容推断字符集
	if enc, _, certain := charset.DetermineEncoding(data, ""); enc != nil && certain {
		if out, err := enc.NewDecoder().Bytes(data); err == nil {
			return string(out)
		}
	}

	// 推断失败时替换非法字节，保证输出可用
	return string(bytes.ToValidUTF8(data, []byte("�")))
}

var (
	urlPattern   = regexp.MustCompile(`https?://\S+`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

// PreprocessOptions 入库前的文本清洗开关
type PreprocessOptions struct {
	RemoveExtraWhitespace bool
	RemoveURLs            bool
}

// Preprocess 按配置清洗文本
func Preprocess(text string, opts PreprocessOptions) string {
	if opts.RemoveURLs {
		text = urlPattern.ReplaceAllString(text, "")
		text = emailPattern.ReplaceAllString(text, "")
	}
	if opts.RemoveExtraWhitespace {
		text = collapseWhitespace(text)
	}
	return text
}

// collapseWhitespace 折叠连续空白，保留段落边界
func collapseWhitespace(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	newlines := 0
	spaces := 0
	for _, r := range text {
		switch {
		case r == '\n':
			newlines++
			spaces = 0
		case unicode.IsSpace(r):
			if newlines == 0 {
				spaces++
			}
		default:
			if newlines >= 2 {
				b.WriteString("\n\n")
			} else if newlines == 1 {
				b.WriteByte('\n')
			} else if spaces > 0 {
				b.WriteByte(' ')
			}
			newlines = 0
			spaces = 0
			b.WriteRune(r)
		}
	}
	return b.String()
}
