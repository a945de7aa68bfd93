package run

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/John-Robertt/rometa/internal/catalog"
	"github.com/John-Robertt/rometa/internal/domain"
	"github.com/John-Robertt/rometa/internal/infra/fsx"
	"github.com/John-Robertt/rometa/internal/platform"
	"github.com/John-Robertt/rometa/internal/progress"
	"github.com/John-Robertt/rometa/internal/quota"
)

// ReportName 是运行报告在 output_dir 下的文件名。
const ReportName = "enrich_report.json"

// Options 是一次运行的输入（已由 config 解析、由 planner 排好序）。
type Options struct {
	CatalogDir string
	OutputDir  string
	Systems    []domain.System
	Ceiling    int
	Platforms  platform.Table
}

// OutputPath 返回系统富化结果的文件路径：<output_dir>/<system>_enriched.json。
func OutputPath(outputDir, systemID string) string {
	return filepath.Join(outputDir, strings.ToLower(systemID)+"_enriched.json")
}

// Execute 按顺序处理 opts.Systems，所有系统共享同一份预算，并返回对外稳定的 RunReport。
//
// 规则：
// - 清单缺失/格式错误：记录在该系统上，继续下一个系统
// - 进度文件损坏或无法写入：停止运行并返回 error（报告仍会尽量写出）
// - 某个系统配额耗尽或被中断：停止运行
func Execute(ctx context.Context, opts Options, d Deps) (domain.RunReport, error) {
	log := d.logger()
	obs := d.observer()

	rr := domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Ceiling:   opts.Ceiling,
		Systems:   make([]domain.SystemResult, 0, len(opts.Systems)),
	}
	if d.Policy != nil {
		rr.Policy = d.Policy.Name()
	}

	b := quota.New(opts.Ceiling)
	obs.OnStart(opts.Systems, b)
	log.Info("开始运行", zap.String("run_id", rr.RunID), zap.Int("systems", len(opts.Systems)), zap.Stringer("budget", b))

	var fatal error
	for i, sys := range opts.Systems {
		// 预算已不够一次完整查询：剩余系统不再打开（不写空进度文件），只统计剩余条目。
		if !b.HasBudget(quota.CallsPerFetch) {
			for _, rest := range opts.Systems[i:] {
				rr.Systems = append(rr.Systems, deferSystem(rest, opts, log))
			}
			log.Info("配额不足，剩余系统留给下次运行", zap.Int("systems", len(opts.Systems)-i), zap.Stringer("budget", b))
			break
		}

		res, nb, err := runSystem(ctx, i, len(opts.Systems), sys, opts, b, d)
		b = nb
		rr.Systems = append(rr.Systems, res)
		obs.OnSystemDone(res, b)
		log.Info("系统处理结束",
			zap.String("system", res.System),
			zap.String("outcome", res.Outcome),
			zap.Int("success", res.Stats.Success),
			zap.Int("failed", res.Stats.Failed),
			zap.Int("skipped", res.Stats.Skipped),
			zap.Int("terminal", res.Stats.Terminal()),
			zap.Int("calls", res.Stats.Calls),
			zap.Stringer("budget", b),
		)

		if err != nil {
			fatal = err
			break
		}
		if res.Outcome == domain.OutcomeQuotaExhausted || res.Outcome == domain.OutcomeInterrupted {
			break
		}
	}

	rr.Consumed = b.Consumed
	rr.FinishedAt = time.Now().UTC()
	rr.Finalize()
	if fatal != nil {
		rr.Outcome = domain.OutcomeFailed
	}

	if err := WriteReport(opts.OutputDir, rr); err != nil {
		log.Warn("写入运行报告失败", zap.Error(err))
		if fatal == nil {
			fatal = err
		}
	}
	return rr, fatal
}

func runSystem(ctx context.Context, idx, total int, sys domain.System, opts Options, b quota.Budget, d Deps) (domain.SystemResult, quota.Budget, error) {
	log := d.logger().With(zap.String("system", sys.ID))

	res := domain.SystemResult{
		System:  sys.ID,
		Catalog: catalog.Path(opts.CatalogDir, sys),
		Output:  OutputPath(opts.OutputDir, sys.ID),
	}

	cat, err := catalog.Load(res.Catalog)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.ErrorCode = catalog.Code(err)
		res.ErrorMsg = err.Error()
		log.Warn("加载清单失败，跳过该系统", zap.Error(err))
		return res, b, nil
	}
	if len(cat.Duplicates) > 0 {
		log.Warn("清单中存在重复 name，已保留首条", zap.Strings("names", cat.Duplicates))
	}

	store, err := progress.Open(res.Output)
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		res.ErrorCode = domain.ErrCodeIOFailed
		if progress.IsCorrupt(err) {
			res.ErrorCode = domain.ErrCodeStateCorrupt
		}
		res.ErrorMsg = err.Error()
		return res, b, err
	}

	d.observer().OnSystemStart(idx+1, total, sys, len(cat.Entries), store.Len())

	job := SystemJob{
		System:      sys,
		CatalogPath: res.Catalog,
		Catalog:     cat.Entries,
		Store:       store,
		PlatformIDs: opts.Platforms.Lookup(sys.ID),
	}
	if job.PlatformIDs == nil {
		log.Debug("未找到平台映射，不按平台过滤")
	}
	return EnrichSystem(ctx, job, b, d)
}

// deferSystem 记录因配额不足而未开始的系统：只读加载清单与进度，统计 already_done/remaining。
func deferSystem(sys domain.System, opts Options, log *zap.Logger) domain.SystemResult {
	res := domain.SystemResult{
		System:  sys.ID,
		Catalog: catalog.Path(opts.CatalogDir, sys),
		Output:  OutputPath(opts.OutputDir, sys.ID),
		Outcome: domain.OutcomeQuotaExhausted,
	}
	cat, err := catalog.Load(res.Catalog)
	if err != nil {
		res.ErrorCode = catalog.Code(err)
		res.ErrorMsg = err.Error()
		return res
	}
	store, err := progress.Open(res.Output)
	if err != nil {
		res.ErrorCode = domain.ErrCodeIOFailed
		if progress.IsCorrupt(err) {
			res.ErrorCode = domain.ErrCodeStateCorrupt
		}
		res.ErrorMsg = err.Error()
		log.Warn("读取进度失败", zap.String("system", sys.ID), zap.Error(err))
		return res
	}
	res.Stats.AlreadyDone = store.Len()
	res.Stats.Remaining = len(store.Pending(cat.Entries))
	return res
}

// ReportPath 返回运行报告的完整路径。
func ReportPath(outputDir string) string { return filepath.Join(outputDir, ReportName) }

// WriteReport 把 RunReport 原子写入 <output_dir>/enrich_report.json。
func WriteReport(outputDir string, rr domain.RunReport) error {
	b, err := EncodeReport(rr)
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(outputDir, ReportName, b); err != nil {
		return fmt.Errorf("写入报告失败：%w", err)
	}
	return nil
}

// EncodeReport 输出缩进 JSON（末尾带换行），stdout 与报告文件共用。
func EncodeReport(rr domain.RunReport) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rr); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
