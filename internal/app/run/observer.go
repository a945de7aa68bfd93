package run

import (
	"time"

	"github.com/John-Robertt/rometa/internal/domain"
	"github.com/John-Robertt/rometa/internal/quota"
)

// Observer 用于把“运行进度/系统/条目结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 事件在同一个 goroutine 中按顺序发出。
type Observer interface {
	// OnStart 在 Execute 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(systems []domain.System, b quota.Budget)
	// OnSystemStart 在某个系统的清单与进度加载完成后调用。
	OnSystemStart(idx, total int, sys domain.System, catalogSize, alreadyDone int)
	// OnEntryDone 在某个条目成为终态后调用（每条结果的一行输出）。
	OnEntryDone(idx, total int, e domain.EnrichedEntry, b quota.Budget, dur time.Duration)
	// OnSystemDone 在某个系统结束（含失败）时调用。
	OnSystemDone(res domain.SystemResult, b quota.Budget)
}

type nopObserver struct{}

func (nopObserver) OnStart([]domain.System, quota.Budget)                                  {}
func (nopObserver) OnSystemStart(int, int, domain.System, int, int)                        {}
func (nopObserver) OnEntryDone(int, int, domain.EnrichedEntry, quota.Budget, time.Duration) {}
func (nopObserver) OnSystemDone(domain.SystemResult, quota.Budget)                          {}
