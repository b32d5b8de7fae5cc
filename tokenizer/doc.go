// Package tokenizer 提供统一的分词接口，
// 支持 tiktoken 精确编码/解码与 CJK 估算器，
// 以及面向长上下文评测的句子感知 token 截断。
package tokenizer
