// Package pace 控制外部请求的节奏：每次查询之后至少停顿一个固定时长。
package pace

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultInterval 对应 RAWG 的限流建议（约 20 次/分钟，一次查询 2 个请求）。
const DefaultInterval = 3500 * time.Millisecond

// Governor 只在发出过外部查询之后调用 Wait，跳过的条目不等待。
type Governor struct {
	interval time.Duration
}

// New 创建 Governor；interval<=0 表示不限速（测试/离线场景）。
func New(interval time.Duration) *Governor {
	if interval < 0 {
		interval = 0
	}
	return &Governor{interval: interval}
}

func (g *Governor) Interval() time.Duration { return g.interval }

// Wait 从调用时刻起阻塞满一个 interval：查询本身再慢也不抵扣停顿。
// ctx 取消时立即返回 ctx 的错误（视为中断）。
func (g *Governor) Wait(ctx context.Context) error {
	if g.interval <= 0 {
		return ctx.Err()
	}
	// 每次都从扣空的单令牌桶开始，下一个令牌恰好在 interval 之后。
	lim := rate.NewLimiter(rate.Every(g.interval), 1)
	lim.Allow()
	return lim.Wait(ctx)
}
