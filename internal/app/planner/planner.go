package planner

import (
	"sort"
	"strings"

	"github.com/John-Robertt/rometa/internal/domain"
	"github.com/John-Robertt/rometa/internal/quota"
	"github.com/John-Robertt/rometa/internal/skip"
)

// DefaultPriority 是默认的系统处理顺序：新平台在前（元数据覆盖更好、用户更关心）。
var DefaultPriority = []string{
	"ps2", "ds", "wii", "psp", "wiiu", "3ds", "gc", "gba", "ps1", "dreamcast",
	"n64", "saturn", "snes", "nes", "genesis", "gbc", "gb", "sms", "gamegear", "tg16",
	"atari7800", "atari2600", "ngpc", "lynx", "virtualboy", "wonderswancolor", "wonderswan", "ngp", "coleco", "intellivision",
}

// Order 生成确定性的系统处理顺序（不做任何 I/O）。
//
// 规则：
// - priority 中出现的系统按 priority 顺序在前，其余按 id 字典序在后
// - only 非空时只保留其中的系统；only 里找不到的 id 通过 unknown 返回
// - 没有清单文件（RomJSONFile 为空）的系统不参与
func Order(systems []domain.System, priority, only []string) (ordered []domain.System, unknown []string) {
	rank := make(map[string]int, len(priority))
	for i, id := range priority {
		id = normID(id)
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}

	var keep map[string]bool
	if len(only) > 0 {
		keep = make(map[string]bool, len(only))
		for _, id := range only {
			if id = normID(id); id != "" {
				keep[id] = false
			}
		}
	}

	ordered = make([]domain.System, 0, len(systems))
	for _, s := range systems {
		id := normID(s.ID)
		if keep != nil {
			if _, ok := keep[id]; !ok {
				continue
			}
			keep[id] = true
		}
		if strings.TrimSpace(s.RomJSONFile) == "" {
			continue
		}
		ordered = append(ordered, s)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := normID(ordered[i].ID), normID(ordered[j].ID)
		ra, oka := rank[a]
		rb, okb := rank[b]
		switch {
		case oka && okb:
			return ra < rb
		case oka != okb:
			return oka
		default:
			return a < b
		}
	})

	for id, seen := range keep {
		if !seen {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	return ordered, unknown
}

func normID(id string) string { return strings.ToLower(strings.TrimSpace(id)) }

// SystemEstimate 是单个系统在不发任何请求的前提下的预估。
type SystemEstimate struct {
	System      string `json:"system"`
	Catalog     string `json:"catalog"`
	Total       int    `json:"total"`
	AlreadyDone int    `json:"already_done"`
	WouldSkip   int    `json:"would_skip"`
	WouldFetch  int    `json:"would_fetch"`
	CallsNeeded int    `json:"calls_needed"`

	// Affordable 表示按顺序累计到本系统为止，调用数仍不超过 ceiling。
	Affordable bool `json:"affordable"`

	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// Estimate 对一个清单做分类预演：done 报告某个 name 是否已在进度文件中。
// 每个待查询条目按完整查询（search + detail）计入调用数，是上界。
func Estimate(system string, catalog []domain.CatalogEntry, done func(name string) bool, c skip.Classifier) SystemEstimate {
	est := SystemEstimate{System: system, Total: len(catalog)}
	for _, e := range catalog {
		if done != nil && done(e.Name) {
			est.AlreadyDone++
			continue
		}
		if c.Classify(e).Skip {
			est.WouldSkip++
			continue
		}
		est.WouldFetch++
	}
	est.CallsNeeded = est.WouldFetch * quota.CallsPerFetch
	return est
}

// Plan 是整次运行的预估汇总。
type Plan struct {
	Policy      string           `json:"policy"`
	Ceiling     int              `json:"ceiling"`
	CallsNeeded int              `json:"calls_needed"`
	Affordable  int              `json:"affordable_fetches"`
	Systems     []SystemEstimate `json:"systems"`
}

// Summarize 按系统顺序累计调用数并标记 Affordable；ests 会被原地更新。
func Summarize(policy string, ceiling int, ests []SystemEstimate) Plan {
	p := Plan{Policy: policy, Ceiling: ceiling, Systems: ests}
	if p.Systems == nil {
		p.Systems = []SystemEstimate{}
	}
	for i := range p.Systems {
		p.CallsNeeded += p.Systems[i].CallsNeeded
		p.Systems[i].Affordable = p.Systems[i].ErrorCode == "" && p.CallsNeeded <= ceiling
	}
	p.Affordable = ceiling / quota.CallsPerFetch
	if total := p.CallsNeeded / quota.CallsPerFetch; total < p.Affordable {
		p.Affordable = total
	}
	return p
}
