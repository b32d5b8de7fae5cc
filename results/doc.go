// Package results 负责评测结果的持久化：SQLite 存储、
// 断点续跑查询、按单元聚合与 JSON 导出。
package results
