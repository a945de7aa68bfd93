package run

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/John-Robertt/rometa/internal/domain"
	"github.com/John-Robertt/rometa/internal/progress"
	"github.com/John-Robertt/rometa/internal/provider"
	"github.com/John-Robertt/rometa/internal/quota"
	"github.com/John-Robertt/rometa/internal/skip"
	"github.com/John-Robertt/rometa/internal/title"
)

// DefaultFlushEvery 是两次落盘之间最多新增的终态条目数。
const DefaultFlushEvery = 10

// Pacer 在每次外部查询之后调用（见 pace.Governor）。
type Pacer interface {
	Wait(ctx context.Context) error
}

// Deps 是编排器依赖的可替换组件。
type Deps struct {
	Policy  skip.Policy
	Fetcher provider.Fetcher
	// Pacer 为 nil 时不限速。
	Pacer    Pacer
	Observer Observer
	Log      *zap.Logger

	// FlushEvery<=0 时使用 DefaultFlushEvery。
	FlushEvery int
}

func (d Deps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

func (d Deps) observer() Observer {
	if d.Observer == nil {
		return nopObserver{}
	}
	return d.Observer
}

func (d Deps) flushEvery() int {
	if d.FlushEvery <= 0 {
		return DefaultFlushEvery
	}
	return d.FlushEvery
}

// SystemJob 描述一个系统的富化任务。
type SystemJob struct {
	System      domain.System
	CatalogPath string
	Catalog     []domain.CatalogEntry
	Store       *progress.Store
	PlatformIDs []int
}

// EnrichSystem 按清单顺序处理一个系统，直到清单耗尽、配额不足或 ctx 被取消。
//
// 每个条目：
//  1. 已在进度中：直接跳过（不计数、不触发落盘）
//  2. ctx 已取消：interrupted
//  3. 预算不足一次完整查询：quota_exhausted，剩余条目留给下次运行
//  4. 分类器判定跳过：写入 skip_reason
//  5. 否则查询，写入 metadata（失败为 nil），然后等待 Pacer
//
// 每新增 FlushEvery 个终态条目落盘一次；任何退出路径都会再落盘一次。
// 每个终态条目都以 INFO 记一行日志（非交互运行的逐条进度）。
// 返回的 error 只表示进度无法继续写入（致命），此时 SystemResult 仍然有效。
func EnrichSystem(ctx context.Context, job SystemJob, b quota.Budget, d Deps) (domain.SystemResult, quota.Budget, error) {
	if job.Store == nil {
		return domain.SystemResult{}, b, fmt.Errorf("进度存储不能为空")
	}
	if d.Policy == nil || d.Fetcher == nil {
		return domain.SystemResult{}, b, fmt.Errorf("policy/fetcher 不能为空")
	}

	log := d.logger().With(zap.String("system", job.System.ID))
	obs := d.observer()
	flushEvery := d.flushEvery()

	res := domain.SystemResult{
		System:  job.System.ID,
		Catalog: job.CatalogPath,
		Output:  job.Store.Path(),
		Outcome: domain.OutcomeCompleted,
	}
	res.Stats.AlreadyDone = job.Store.Len()
	startConsumed := b.Consumed

	classifier := d.Policy.Bind(job.Catalog)
	total := len(job.Catalog)

	var fatal error
	for i, entry := range job.Catalog {
		if job.Store.Has(entry.Name) {
			continue
		}
		if ctx.Err() != nil {
			res.Outcome = domain.OutcomeInterrupted
			break
		}
		if !b.HasBudget(quota.CallsPerFetch) {
			res.Outcome = domain.OutcomeQuotaExhausted
			log.Info("配额不足，停止处理", zap.Stringer("budget", b))
			break
		}

		started := time.Now()
		out := domain.EnrichedEntry{CatalogEntry: entry, CleanedTitle: title.Clean(entry.Name)}

		fetched := false
		if v := classifier.Classify(entry); v.Skip {
			out.SkipReason = v.Reason
		} else {
			var lk provider.Lookup
			lk, b = d.Fetcher.Fetch(ctx, provider.Query{Title: out.CleanedTitle, PlatformIDs: job.PlatformIDs}, b)
			// 被取消打断的查询不是终态：不写入，下次运行重新查询。
			if lk.Meta == nil && lk.Err != nil && ctx.Err() != nil {
				res.Outcome = domain.OutcomeInterrupted
				break
			}
			out.Metadata = lk.Meta
			fetched = true
		}

		if err := job.Store.Append(out); err != nil {
			fatal = err
			break
		}
		switch out.Status() {
		case domain.EntrySuccess:
			res.Stats.Success++
		case domain.EntryFailed:
			res.Stats.Failed++
		case domain.EntrySkipped:
			res.Stats.Skipped++
		}
		dur := time.Since(started)
		log.Info("条目完成",
			zap.Int("idx", i+1),
			zap.Int("total", total),
			zap.String("name", entry.Name),
			zap.String("status", out.Status()),
			zap.String("skip_reason", out.SkipReason),
			zap.Stringer("budget", b),
			zap.Duration("dur", dur),
		)
		obs.OnEntryDone(i+1, total, out, b, dur)

		if job.Store.Unflushed() >= flushEvery {
			if err := job.Store.Flush(); err != nil {
				fatal = err
				break
			}
			log.Debug("进度已落盘", zap.Int("entries", job.Store.Len()))
		}

		if fetched && d.Pacer != nil {
			if err := d.Pacer.Wait(ctx); err != nil {
				res.Outcome = domain.OutcomeInterrupted
				break
			}
		}
	}

	if err := job.Store.Flush(); err != nil && fatal == nil {
		fatal = err
	}

	res.Stats.Calls = b.Consumed - startConsumed
	res.Stats.Remaining = len(job.Store.Pending(job.Catalog))
	if fatal != nil {
		res.Outcome = domain.OutcomeFailed
		res.ErrorCode = domain.ErrCodeIOFailed
		res.ErrorMsg = fatal.Error()
		return res, b, fatal
	}
	return res, b, nil
}
