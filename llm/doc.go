// Package llm 定义统一的聊天模型类型、错误模型与 Provider 接口，
// 以及可选的补全缓存（本地 LRU + Redis）。
package llm
