package haystack

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/haystack/llm"
	"github.com/BaSui01/haystack/tokenizer"
)

// 评测用的固定提示词。回答必须简短、只依据文档内容。
const (
	systemPrompt   = "You are a helpful AI bot that answers questions for a user. Keep your response short and direct"
	questionSuffix = " Don't give information outside the document or repeat your findings"
)

// ModelProvider 是评测器与被测模型之间的窄接口：
// 构建提示词、调用模型、以及文本与 token 序列的互转。
type ModelProvider interface {
	// EvaluateModel 将完整提示词发给被测模型，返回其文本回答。
	EvaluateModel(ctx context.Context, prompt []llm.Message) (string, error)

	// GeneratePrompt 基于上下文与检索问题构建结构化提示词。
	GeneratePrompt(contextText, retrievalQuestion string) []llm.Message

	// EncodeTextToTokens 将文本编码为 token 序列。
	EncodeTextToTokens(text string) ([]int, error)

	// DecodeTokens 将 token 序列解码为文本，截断到最多 maxTokens 个
	// token（tokenizer.NoLimit 表示不截断）。preserveSentence 为 true 时
	// 回退到最后一个完整句子边界。
	DecodeTokens(tokens []int, maxTokens int, preserveSentence bool) (string, error)
}

// UsageObserver 接收每次请求的 token 消耗，由 metrics 收集器实现。
type UsageObserver interface {
	RecordTokens(provider, model string, promptTokens, completionTokens int)
}

// Provider binds a chat provider and a tokenizer into a ModelProvider.
type Provider struct {
	chat   llm.Provider
	tok    tokenizer.Tokenizer
	model  string
	usage  UsageObserver
	logger *zap.Logger
}

// NewProvider creates a ModelProvider for the given chat backend.
// model may be empty; the chat provider then applies its own default.
func NewProvider(chat llm.Provider, tok tokenizer.Tokenizer, model string, logger *zap.Logger) *Provider {
	return &Provider{
		chat:   chat,
		tok:    tok,
		model:  model,
		logger: logger,
	}
}

// WithUsageObserver 启用 token 消耗上报。返回自身便于链式调用。
func (p *Provider) WithUsageObserver(o UsageObserver) *Provider {
	p.usage = o
	return p
}

// Model returns the model under test.
func (p *Provider) Model() string { return p.model }

// EvaluateModel sends the prompt and returns the first choice's content.
// Provider 层的错误（限流、超时等）原样向上传递，不在此处重试。
func (p *Provider) EvaluateModel(ctx context.Context, prompt []llm.Message) (string, error) {
	resp, err := p.chat.Completion(ctx, &llm.ChatRequest{
		Model:    p.model,
		Messages: prompt,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider %s returned no choices", p.chat.Name())
	}
	if p.usage != nil {
		p.usage.RecordTokens(p.chat.Name(), resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	return llm.FirstContent(resp), nil
}

// GeneratePrompt 构建三段式提示词：系统指令、上下文、检索问题。
func (p *Provider) GeneratePrompt(contextText, retrievalQuestion string) []llm.Message {
	return []llm.Message{
		{
			Role:    llm.RoleSystem,
			Content: systemPrompt,
		},
		{
			Role:    llm.RoleUser,
			Content: contextText,
		},
		{
			Role:    llm.RoleUser,
			Content: retrievalQuestion + questionSuffix,
		},
	}
}

func (p *Provider) EncodeTextToTokens(text string) ([]int, error) {
	return p.tok.Encode(text)
}

func (p *Provider) DecodeTokens(tokens []int, maxTokens int, preserveSentence bool) (string, error) {
	return tokenizer.TruncateTokens(p.tok, tokens, maxTokens, preserveSentence)
}
