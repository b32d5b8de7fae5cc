// Package haystack 实现"大海捞针"长上下文评测：
// 把一条针文本插入到指定 token 长度与深度的干草堆上下文中，
// 让被测模型检索并由评分器打分，扫描整个长度 × 深度网格。
package haystack
