package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/rometa/internal/app/planner"
	"github.com/John-Robertt/rometa/internal/config"
	"github.com/John-Robertt/rometa/internal/domain"
	"github.com/John-Robertt/rometa/internal/quota"
)

func isolateKeyEnv(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvPrefix+"_API_KEY", "")
	t.Setenv(config.LegacyKeyEnv, "")
}

func writeCatalog(t *testing.T, dir, system string, names ...string) {
	t.Helper()
	entries := make([]domain.CatalogEntry, 0, len(names))
	for i, n := range names {
		entries = append(entries, domain.CatalogEntry{Name: n, URL: "https://example.test/" + n, Size: int64(i + 1)})
	}
	b, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("编码清单失败：%v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, system+".json"), b, 0o644); err != nil {
		t.Fatalf("写入清单失败：%v", err)
	}
}

func TestExecute_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"version"}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("期望退出码 0，实际 %d（stderr=%q）", code, stderr.String())
	}
	if got := stdout.String(); got != "rometa "+version+"\n" {
		t.Fatalf("版本输出不符：%q", got)
	}
}

func TestExecute_UsageErrors(t *testing.T) {
	cases := [][]string{
		{"run", "--no-such-flag"},
		{"plan", "extra-arg"},
		{"no-such-command"},
	}
	for _, args := range cases {
		var stdout, stderr bytes.Buffer
		if code := execute(context.Background(), args, &stdout, &stderr); code != exitUsage {
			t.Fatalf("%v：期望退出码 %d，实际 %d（stderr=%q）", args, exitUsage, code, stderr.String())
		}
	}
}

func TestExecute_RunMissingKey(t *testing.T) {
	isolateKeyEnv(t)
	root := t.TempDir()
	writeCatalog(t, filepath.Join(root, "cat"), "snes", "Super Mario World (USA).zip")

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{
		"run",
		"--catalog-dir", filepath.Join(root, "cat"),
		"--output-dir", filepath.Join(root, "out"),
	}, &stdout, &stderr)
	if code != exitFailed {
		t.Fatalf("期望退出码 1，实际 %d", code)
	}
	if !strings.Contains(stderr.String(), config.ErrCodeMissingKey) {
		t.Fatalf("stderr 应包含 %s：%q", config.ErrCodeMissingKey, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(root, "out")); !os.IsNotExist(err) {
		t.Fatalf("缺少 key 时不应创建输出目录：%v", err)
	}
}

func TestExecute_PlanJSON(t *testing.T) {
	isolateKeyEnv(t)
	root := t.TempDir()
	catDir := filepath.Join(root, "cat")
	outDir := filepath.Join(root, "out")
	writeCatalog(t, catDir, "snes", "A (USA).zip", "B (Beta).zip", "C (USA).zip")

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatalf("创建 out 目录失败：%v", err)
	}
	done := `[{"name":"A (USA).zip","url":"","size":0,"cleaned_title":"A","metadata":null}]`
	if err := os.WriteFile(filepath.Join(outDir, "snes_enriched.json"), []byte(done), 0o644); err != nil {
		t.Fatalf("写入进度失败：%v", err)
	}

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{
		"plan",
		"--catalog-dir", catDir,
		"--output-dir", outDir,
		"--policy", "static",
		"--ceiling", "10",
	}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("期望退出码 0，实际 %d（stderr=%q）", code, stderr.String())
	}

	var p planner.Plan
	if err := json.Unmarshal(stdout.Bytes(), &p); err != nil {
		t.Fatalf("stdout 不是合法的 plan JSON：%v\nstdout=%q", err, stdout.String())
	}
	if p.Policy != "static" || p.Ceiling != 10 || p.CallsNeeded != quota.CallsPerFetch {
		t.Fatalf("plan 汇总不符：%+v", p)
	}
	if len(p.Systems) != 1 {
		t.Fatalf("期望 1 个系统，实际 %d", len(p.Systems))
	}
	s := p.Systems[0]
	if s.System != "snes" || s.Total != 3 || s.AlreadyDone != 1 || s.WouldSkip != 1 || s.WouldFetch != 1 || !s.Affordable {
		t.Fatalf("系统预估不符：%+v", s)
	}

	// plan 只读：不写报告、不改进度。
	if _, err := os.Stat(filepath.Join(outDir, "enrich_report.json")); !os.IsNotExist(err) {
		t.Fatalf("plan 不应写报告：%v", err)
	}
	b, _ := os.ReadFile(filepath.Join(outDir, "snes_enriched.json"))
	if string(b) != done {
		t.Fatalf("plan 不应修改进度文件：%q", b)
	}
}

func newFakeRAWG(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/games":
			_, _ = w.Write([]byte(`{"results":[{"id":3498}]}`))
		case "/games/3498":
			_, _ = w.Write([]byte(`{"id":3498,"slug":"super-mario-world","name":"Super Mario World","description_raw":"Classic.","released":"1990-11-21"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecute_RunWritesReportJSON(t *testing.T) {
	isolateKeyEnv(t)
	t.Setenv(config.LegacyKeyEnv, "test-key")
	srv := newFakeRAWG(t)

	root := t.TempDir()
	catDir := filepath.Join(root, "cat")
	outDir := filepath.Join(root, "out")
	writeCatalog(t, catDir, "snes", "Super Mario World (USA).zip", "Super Mario World (Beta).zip")

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{
		"run",
		"--catalog-dir", catDir,
		"--output-dir", outDir,
		"--api-base-url", srv.URL,
		"--rate-interval", "0s",
		"--ceiling", "10",
	}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("期望退出码 0，实际 %d（stderr=%q）", code, stderr.String())
	}

	// stdout 非 TTY：只有一个 RunReport JSON。
	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("stdout 不是合法的 RunReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if rr.Outcome != domain.OutcomeCompleted || rr.Summary.Success != 1 || rr.Summary.Skipped != 1 || rr.Consumed != 2 {
		t.Fatalf("报告不符：%+v", rr)
	}
	if !strings.Contains(stderr.String(), "完成：outcome=completed") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}
	// 非交互运行：每个条目在 stderr 有一行 INFO 进度。
	if got := strings.Count(stderr.String(), "条目完成"); got != 2 {
		t.Fatalf("期望 2 行逐条进度，实际 %d：%q", got, stderr.String())
	}
	for _, name := range []string{"Super Mario World (USA).zip", "Super Mario World (Beta).zip"} {
		if !strings.Contains(stderr.String(), name) {
			t.Fatalf("stderr 缺少条目 %q 的进度：%q", name, stderr.String())
		}
	}

	for _, name := range []string{"snes_enriched.json", "enrich_report.json", filepath.Join("cache", "rawg", "3498.json")} {
		if _, err := os.Stat(filepath.Join(outDir, name)); err != nil {
			t.Fatalf("缺少产物 %s：%v", name, err)
		}
	}

	// 再次运行：全部已完成，不再发请求。
	stdout.Reset()
	stderr.Reset()
	code = execute(context.Background(), []string{
		"run",
		"--catalog-dir", catDir,
		"--output-dir", outDir,
		"--api-base-url", srv.URL,
		"--rate-interval", "0s",
	}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("续跑期望退出码 0，实际 %d（stderr=%q）", code, stderr.String())
	}
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("续跑 stdout 不是合法 JSON：%v", err)
	}
	if rr.Consumed != 0 || rr.Summary.AlreadyDone != 2 {
		t.Fatalf("续跑不应再消耗配额：%+v", rr)
	}
}

func TestExecute_RunInterrupted(t *testing.T) {
	isolateKeyEnv(t)
	t.Setenv(config.LegacyKeyEnv, "test-key")
	srv := newFakeRAWG(t)

	root := t.TempDir()
	catDir := filepath.Join(root, "cat")
	writeCatalog(t, catDir, "snes", "Super Mario World (USA).zip")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	code := execute(ctx, []string{
		"run",
		"--catalog-dir", catDir,
		"--output-dir", filepath.Join(root, "out"),
		"--api-base-url", srv.URL,
	}, &stdout, &stderr)
	if code != exitInterrupted {
		t.Fatalf("期望退出码 %d，实际 %d（stderr=%q）", exitInterrupted, code, stderr.String())
	}
	var rr domain.RunReport
	if err := json.Unmarshal(stdout.Bytes(), &rr); err != nil {
		t.Fatalf("中断时仍应输出 RunReport：%v", err)
	}
	if rr.Outcome != domain.OutcomeInterrupted {
		t.Fatalf("期望 outcome=interrupted，实际 %q", rr.Outcome)
	}
}

func TestProgressUI_Lines(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf, config.EffectiveConfig{OutputDir: "/tmp/out", Policy: "final-version", ProxyURL: "http://u:p@127.0.0.1:7890"})
	b := quota.New(10)

	p.OnStart([]domain.System{{ID: "snes"}}, b)
	p.OnSystemStart(1, 1, domain.System{ID: "snes", Name: "Super Nintendo"}, 2, 0)
	p.OnEntryDone(1, 2, domain.EnrichedEntry{
		CatalogEntry: domain.CatalogEntry{Name: "Super Mario World (USA).zip"},
		CleanedTitle: "Super Mario World",
		Metadata:     &domain.GameMeta{ExternalID: 3498, Title: "Super Mario World"},
	}, b.Record(2), 1500*time.Millisecond)
	p.OnEntryDone(2, 2, domain.EnrichedEntry{
		CatalogEntry: domain.CatalogEntry{Name: "X (Beta).zip"},
		SkipReason:   "(Beta)",
	}, b.Record(2), 0)
	p.OnSystemDone(domain.SystemResult{System: "snes", Outcome: domain.OutcomeCompleted, Stats: domain.SystemStats{Success: 1, Skipped: 1, Calls: 2}}, b.Record(2))

	out := buf.String()
	for _, want := range []string{
		"proxy: on (http://127.0.0.1:7890, auth=on)",
		"系统 1/1: snes (Super Nintendo) entries=2",
		`[1/2] OK Super Mario World (USA).zip -> "Super Mario World" rawg_id=3498 (1.5s)`,
		"[2/2] SKIP X (Beta).zip (Beta)",
		"snes: completed success=1 failed=0 skipped=1 remaining=0 calls=2 quota=2/10",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("输出缺少 %q：\n%s", want, out)
		}
	}
	if p.tickerStarted {
		t.Fatalf("系统结束后 ticker 应已停止")
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := formatElapsed(3723 * time.Second); got != "01:02:03" {
		t.Fatalf("formatElapsed=%q", got)
	}
	if got := formatShortDuration(-time.Second); got != "0.0s" {
		t.Fatalf("formatShortDuration=%q", got)
	}
	if got := truncate("ゼルダの伝説 神々のトライフォース", 6); got != "ゼルダ..." {
		t.Fatalf("truncate 应按字符截断：%q", got)
	}
	if got := formatProxy(""); got != "off" {
		t.Fatalf("formatProxy=%q", got)
	}
}

func TestProgressUI_DoneCountsTerminalEntriesAfterResume(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressUI(&buf, config.EffectiveConfig{})
	b := quota.New(10)

	// 10 条中已有 5 条完成；本次第一个终态条目位于清单第 8 位。
	p.OnSystemStart(1, 1, domain.System{ID: "snes"}, 10, 5)
	p.OnEntryDone(8, 10, domain.EnrichedEntry{CatalogEntry: domain.CatalogEntry{Name: "X (USA).zip"}}, b, 0)
	p.OnEntryDone(10, 10, domain.EnrichedEntry{CatalogEntry: domain.CatalogEntry{Name: "Y (USA).zip"}}, b, 0)

	p.mu.Lock()
	done, total, fail := p.done, p.total, p.fail
	p.mu.Unlock()
	p.OnSystemDone(domain.SystemResult{System: "snes", Outcome: domain.OutcomeCompleted}, b)

	if done != 7 || total != 10 || fail != 2 {
		t.Fatalf("期望 done=7/10 fail=2，实际 done=%d/%d fail=%d", done, total, fail)
	}
}
