package tokenizer

import (
	"strings"
	"unicode"
)

// NoLimit 表示不限制 token 数：完整解码，不做任何修剪。
const NoLimit = -1

// sentenceEndings 句子结束符，ASCII 与全宽形式混用，不做 locale 区分。
var sentenceEndings = []string{". ", "! ", "? ", "。", "！", "？"}

// TruncateTokens decodes tokens truncated to at most maxTokens tokens.
//
// maxTokens < 0 (NoLimit) decodes the full sequence unmodified, without
// trimming whitespace. maxTokens beyond len(tokens) behaves the same as
// the full sequence. With preserveSentence the decoded text is snapped
// back to the right-most sentence terminator; when none is found the
// plain truncated text is returned. The result is right-stripped in
// every truncating path.
//
// The terminator scan is purely textual: a terminator may straddle a
// token that was itself cut mid-word. That is accepted behavior.
// Tokenizer decode errors propagate unchanged.
func TruncateTokens(t Tokenizer, tokens []int, maxTokens int, preserveSentence bool) (string, error) {
	if maxTokens < 0 {
		return t.Decode(tokens)
	}

	if maxTokens < len(tokens) {
		tokens = tokens[:maxTokens]
	}
	truncated, err := t.Decode(tokens)
	if err != nil {
		return "", err
	}

	if !preserveSentence {
		return rstrip(truncated), nil
	}

	// 查找最后一个完整句子的结束位置
	if end := lastSentenceEnd(truncated); end != -1 {
		return rstrip(truncated[:end]), nil
	}

	// 没找到句子结束符，返回原始截断的文本
	return rstrip(truncated), nil
}

// lastSentenceEnd returns the byte index just past the right-most
// sentence terminator in text, or -1 when no terminator occurs.
// Among all terminators the one with the greatest ending index wins.
func lastSentenceEnd(text string) int {
	last := -1
	for _, ending := range sentenceEndings {
		pos := strings.LastIndex(text, ending)
		if pos == -1 {
			continue
		}
		if end := pos + len(ending); end > last {
			last = end
		}
	}
	return last
}

// TrimToSentence cuts text after its right-most sentence terminator and
// right-strips the result. Text without any terminator is returned
// right-stripped and otherwise unchanged.
func TrimToSentence(text string) string {
	if end := lastSentenceEnd(text); end != -1 {
		return rstrip(text[:end])
	}
	return rstrip(text)
}

func rstrip(s string) string {
	return strings.TrimRightFunc(s, unicode.IsSpace)
}
