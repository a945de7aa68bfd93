package domain

import "fmt"

// GameMeta 是从外部游戏库（RAWG）查询并规范化后的元数据。
//
// 约束：
// - 查询失败用 nil 表示“无记录”，而不是空结构
// - 可选字段缺失时保持零值/空切片，不算解析失败
// - JSON 键名沿用 rawg_id/rawg_url，下游 embedding 构建直接读取
type GameMeta struct {
	ExternalID      int      `json:"rawg_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	DescriptionHTML string   `json:"description_html"`
	Released        string   `json:"released"` // ISO date 或空串
	Rating          float64  `json:"rating"`
	Metacritic      *int     `json:"metacritic"`
	Genres          []string `json:"genres"`
	Tags            []string `json:"tags"`
	Platforms       []string `json:"platforms"`
	Developers      []string `json:"developers"`
	Publishers      []string `json:"publishers"`
	Playtime        int      `json:"playtime"`
	ExternalURL     string   `json:"rawg_url"`
}

// EnrichedEntry 是进度文件中的一条终态记录。
//
// Metadata 与 SkipReason 至多一个非空：
// - SkipReason 非空：分类器跳过，未访问外部服务
// - Metadata 非空：查询成功
// - 两者都为空：查询失败（同样是终态，不自动重试）
type EnrichedEntry struct {
	CatalogEntry
	CleanedTitle string    `json:"cleaned_title"`
	Metadata     *GameMeta `json:"metadata"`
	SkipReason   string    `json:"skip_reason,omitempty"`
}

const (
	EntrySuccess = "success"
	EntryFailed  = "failed"
	EntrySkipped = "skipped"
)

// Status 由字段推导出条目的终态类别。
func (e EnrichedEntry) Status() string {
	switch {
	case e.SkipReason != "":
		return EntrySkipped
	case e.Metadata != nil:
		return EntrySuccess
	default:
		return EntryFailed
	}
}

// Validate 检查单条记录自身的不变量（不涉及去重）。
func (e EnrichedEntry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("name 不能为空")
	}
	if e.Metadata != nil && e.SkipReason != "" {
		return fmt.Errorf("%q 同时带有 metadata 与 skip_reason", e.Name)
	}
	return nil
}
