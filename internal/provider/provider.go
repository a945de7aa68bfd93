package provider

import (
	"context"
	"fmt"

	"github.com/John-Robertt/rometa/internal/domain"
	"github.com/John-Robertt/rometa/internal/quota"
)

// Query 是一次元数据查找的输入。
type Query struct {
	Title       string // 清洗后的标题
	PlatformIDs []int  // 可为空：不按平台过滤
}

// Lookup 是一次元数据查找的结果。
//
// 三种情况：
// - Meta!=nil：成功
// - Meta==nil && Err==nil：服务端没有任何候选（已确认不存在）
// - Meta==nil && Err!=nil：请求/解码失败
type Lookup struct {
	Meta *domain.GameMeta
	Err  error
}

// Fetcher 把“外部服务变化”限制在 provider 包内部；编排流程只依赖统一接口与稳定的 GameMeta。
//
// 约束：
// - 每个发出的请求都记入返回的 Budget（按发出计数，不按解析成功计数）
// - 不做重试、不做限速（限速由上层 pace.Governor 统一控制）
// - 失败只体现在 Lookup.Err，不作为流程错误返回
// - 调用方保证进入时 b.HasBudget(quota.CallsPerFetch)
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, q Query, b quota.Budget) (Lookup, quota.Budget)
}

// Error 是 provider 阶段的可追溯错误。
type Error struct {
	Provider string // provider name（小写）
	Stage    string // "search" / "detail" / "decode" / "quota"
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider=%s stage=%s: %v", e.Provider, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
