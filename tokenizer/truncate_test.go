package tokenizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// fragTokenizer is a deterministic in-memory tokenizer for tests.
// Token i decodes to frags[i]; concatenating all fragments yields the
// original text.
type fragTokenizer struct {
	frags []string
}

func newFragTokenizer(frags ...string) *fragTokenizer {
	return &fragTokenizer{frags: frags}
}

func (f *fragTokenizer) allTokens() []int {
	tokens := make([]int, len(f.frags))
	for i := range tokens {
		tokens[i] = i
	}
	return tokens
}

func (f *fragTokenizer) Decode(tokens []int) (string, error) {
	var b strings.Builder
	for _, id := range tokens {
		if id < 0 || id >= len(f.frags) {
			return "", errors.New("invalid token id")
		}
		b.WriteString(f.frags[id])
	}
	return b.String(), nil
}

func (f *fragTokenizer) Encode(text string) ([]int, error) { return f.allTokens(), nil }

func (f *fragTokenizer) CountTokens(text string) (int, error) { return len(f.frags), nil }

func (f *fragTokenizer) CountMessages(msgs []Message) (int, error) { return 0, nil }

func (f *fragTokenizer) MaxTokens() int { return 1 << 20 }

func (f *fragTokenizer) Name() string { return "frag" }

func TestTruncateTokens_NoLimitDecodesUnmodified(t *testing.T) {
	tok := newFragTokenizer("Hello ", "world", ".  ")
	out, err := TruncateTokens(tok, tok.allTokens(), NoLimit, false)
	require.NoError(t, err)
	// 不截断时不做 rstrip
	assert.Equal(t, "Hello world.  ", out)

	out, err = TruncateTokens(tok, tok.allTokens(), NoLimit, true)
	require.NoError(t, err)
	assert.Equal(t, "Hello world.  ", out, "preserveSentence has no effect without a limit")
}

func TestTruncateTokens_ZeroLimit(t *testing.T) {
	tok := newFragTokenizer("Hello ", "world")
	for _, preserve := range []bool{false, true} {
		out, err := TruncateTokens(tok, tok.allTokens(), 0, preserve)
		require.NoError(t, err)
		assert.Equal(t, "", out)
	}
}

func TestTruncateTokens_LimitBeyondLength(t *testing.T) {
	tok := newFragTokenizer("Hello ", "world", "  ")
	out, err := TruncateTokens(tok, tok.allTokens(), 100, false)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", out, "over-long limit decodes everything, right-stripped")
}

func TestTruncateTokens_PlainTruncationStripsTrailingWhitespace(t *testing.T) {
	tok := newFragTokenizer("Hello", " wor", "ld. ", "This is", " a test")
	out, err := TruncateTokens(tok, tok.allTokens(), 3, false)
	require.NoError(t, err)
	assert.Equal(t, "Hello world.", out)
}

func TestTruncateTokens_PreserveSentence(t *testing.T) {
	tests := []struct {
		name  string
		frags []string
		max   int
		want  string
	}{
		{
			name:  "drops trailing fragment after last terminator",
			frags: []string{"Hello world", ". ", "This is a test", ". ", "Keep going"},
			max:   5,
			want:  "Hello world. This is a test.",
		},
		{
			name:  "no terminator returns right-stripped text",
			frags: []string{"No ", "terminators ", "here   "},
			max:   3,
			want:  "No terminators here",
		},
		{
			name:  "fullwidth terminators",
			frags: []string{"你好世界。", "这是测试！", "继续写"},
			max:   3,
			want:  "你好世界。这是测试！",
		},
		{
			name:  "exclamation and question marks",
			frags: []string{"Wait! ", "Really? ", "Unfinished frag"},
			max:   3,
			want:  "Wait! Really?",
		},
		{
			name:  "mixed-script right-most match wins",
			frags: []string{"First. ", "第二句。", "tail"},
			max:   3,
			want:  "First. 第二句。",
		},
		{
			name:  "terminator straddles truncated token",
			frags: []string{"One. ", "Two", ". Half-sente"},
			max:   3,
			want:  "One. Two.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := newFragTokenizer(tt.frags...)
			out, err := TruncateTokens(tok, tok.allTokens(), tt.max, true)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestTruncateTokens_EmptySequence(t *testing.T) {
	tok := newFragTokenizer()
	out, err := TruncateTokens(tok, nil, 10, true)
	require.NoError(t, err)
	assert.Equal(t, "", out)

	out, err = TruncateTokens(tok, nil, NoLimit, false)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestTruncateTokens_DecodeErrorPropagates(t *testing.T) {
	tok := newFragTokenizer("only one")
	_, err := TruncateTokens(tok, []int{99}, NoLimit, false)
	assert.Error(t, err)

	_, err = TruncateTokens(tok, []int{99}, 1, true)
	assert.Error(t, err)
}

func TestTrimToSentence(t *testing.T) {
	assert.Equal(t, "Hello world. This is a test.", TrimToSentence("Hello world. This is a test. Keep going"))
	assert.Equal(t, "No terminators here", TrimToSentence("No terminators here   "))
	assert.Equal(t, "句一。句二？", TrimToSentence("句一。句二？残句"))
	assert.Equal(t, "", TrimToSentence(""))
}

// 性质: 句子保持截断的结果永远不长于普通截断，
// 且两者都是完整解码文本的前缀（rstrip 之前）。
func TestTruncateTokens_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		frags := rapid.SliceOfN(
			rapid.SampledFrom([]string{
				"word ", "hi", ". ", "! ", "? ", "。", "！", "？",
				"句子", "tail frag", "  ", "a.b", "x",
			}),
			0, 12,
		).Draw(rt, "frags")
		tok := newFragTokenizer(frags...)
		tokens := tok.allTokens()
		max := rapid.IntRange(0, 15).Draw(rt, "max")

		plain, err := TruncateTokens(tok, tokens, max, false)
		require.NoError(rt, err)
		preserved, err := TruncateTokens(tok, tokens, max, true)
		require.NoError(rt, err)

		assert.LessOrEqual(rt, len(preserved), len(plain))

		full, err := tok.Decode(tokens)
		require.NoError(rt, err)
		assert.True(rt, strings.HasPrefix(full, preserved))
		assert.True(rt, strings.HasPrefix(full, plain))

		// 同输入再跑一次必须得到同样的输出。
		again, err := TruncateTokens(tok, tokens, max, true)
		require.NoError(rt, err)
		assert.Equal(rt, preserved, again)
	})
}
