package run

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/John-Robertt/rometa/internal/domain"
	"github.com/John-Robertt/rometa/internal/progress"
	"github.com/John-Robertt/rometa/internal/provider"
	"github.com/John-Robertt/rometa/internal/quota"
)

// stubFetcher 模拟一次完整查询：固定消耗 2 次调用。
type stubFetcher struct {
	titles []string
	fail   map[string]bool
	none   map[string]bool

	// onFetch 在查询过程中调用（用于模拟查询中途被取消）。
	onFetch func()
}

func (f *stubFetcher) Name() string { return "stub" }

func (f *stubFetcher) Fetch(ctx context.Context, q provider.Query, b quota.Budget) (provider.Lookup, quota.Budget) {
	f.titles = append(f.titles, q.Title)
	b = b.Record(quota.CallsPerFetch)
	if f.onFetch != nil {
		f.onFetch()
	}
	if err := ctx.Err(); err != nil {
		return provider.Lookup{Err: err}, b
	}
	if f.fail[q.Title] {
		return provider.Lookup{Err: errors.New("boom")}, b
	}
	if f.none[q.Title] {
		return provider.Lookup{}, b
	}
	return provider.Lookup{Meta: &domain.GameMeta{ExternalID: len(f.titles), Title: q.Title}}, b
}

type countingPacer struct {
	calls int
	err   error
}

func (p *countingPacer) Wait(ctx context.Context) error {
	p.calls++
	return p.err
}

type recordObserver struct {
	starts  int
	systems []string
	entries []string
	done    []domain.SystemResult

	// onEntry 在每个条目完成时调用（用于观察落盘时机）。
	onEntry func(idx int)
}

func (o *recordObserver) OnStart([]domain.System, quota.Budget) { o.starts++ }

func (o *recordObserver) OnSystemStart(idx, total int, sys domain.System, catalogSize, alreadyDone int) {
	o.systems = append(o.systems, sys.ID)
}

func (o *recordObserver) OnEntryDone(idx, total int, e domain.EnrichedEntry, b quota.Budget, dur time.Duration) {
	o.entries = append(o.entries, e.Name)
	if o.onEntry != nil {
		o.onEntry(idx)
	}
}

func (o *recordObserver) OnSystemDone(res domain.SystemResult, b quota.Budget) {
	o.done = append(o.done, res)
}

func catalogOf(names ...string) []domain.CatalogEntry {
	out := make([]domain.CatalogEntry, 0, len(names))
	for i, n := range names {
		out = append(out, domain.CatalogEntry{Name: n, URL: "https://example.test/" + n, Size: int64(i + 1)})
	}
	return out
}

func openStore(t *testing.T, path string) *progress.Store {
	t.Helper()
	s, err := progress.Open(path)
	if err != nil {
		t.Fatalf("打开进度失败：%v", err)
	}
	return s
}

func readEntries(t *testing.T, path string) []domain.EnrichedEntry {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("读取进度文件失败：%v", err)
	}
	var out []domain.EnrichedEntry
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("解析进度文件失败：%v", err)
	}
	return out
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("序列化失败：%v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
}
