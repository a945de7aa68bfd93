package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/rometa/internal/app/run"
	"github.com/John-Robertt/rometa/internal/config"
	"github.com/John-Robertt/rometa/internal/domain"
	"github.com/John-Robertt/rometa/internal/quota"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的逐条进度输出。
//
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - keepalive：长时间没有条目完成（慢请求/限速等待）时定期输出一行
type progressUI struct {
	w   io.Writer
	eff config.EffectiveConfig

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	system string
	total  int
	done   int
	ok     int
	fail   int
	skip   int
	budget quota.Budget

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer, eff config.EffectiveConfig) *progressUI {
	return &progressUI{
		w:                  w,
		eff:                eff,
		keepaliveThreshold: 10 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(systems []domain.System, b quota.Budget) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}
	p.budget = b

	ids := make([]string, 0, len(systems))
	for _, s := range systems {
		ids = append(ids, s.ID)
	}

	fmt.Fprintf(p.w, "[%s] rometa run\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	if p.eff.ConfigFile != "" {
		fmt.Fprintf(p.w, "  config: %s\n", p.eff.ConfigFile)
	}
	fmt.Fprintf(p.w, "  catalog_dir: %s\n", p.eff.CatalogDir)
	fmt.Fprintf(p.w, "  systems: %s\n", truncate(strings.Join(ids, ","), 160))
	fmt.Fprintf(p.w, "  ceiling: %d\n", b.Ceiling)
	fmt.Fprintf(p.w, "  policy: %s\n", p.eff.Policy)
	fmt.Fprintf(p.w, "  platform_table: %s\n", p.eff.PlatformTable)
	fmt.Fprintf(p.w, "  rate_interval: %s\n", p.eff.RateInterval)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(p.eff.ProxyURL))
	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  out: %s\n", p.eff.OutputDir)
	fmt.Fprintf(p.w, "  report: %s\n", run.ReportPath(p.eff.OutputDir))
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnSystemStart(idx, total int, sys domain.System, catalogSize, alreadyDone int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.system = sys.ID
	p.total = catalogSize
	p.done = alreadyDone
	p.ok, p.fail, p.skip = 0, 0, 0

	name := sys.ID
	if sys.Name != "" && !strings.EqualFold(sys.Name, sys.ID) {
		name = sys.ID + " (" + sys.Name + ")"
	}
	fmt.Fprintf(p.w, "系统 %d/%d: %s entries=%d already_done=%d quota=%s\n",
		idx, total, name, catalogSize, alreadyDone, p.budget,
	)
	p.lastPrinted = time.Now()

	if p.done < p.total && !p.tickerStarted {
		p.startTickerLocked()
	}
}

func (p *progressUI) OnEntryDone(idx, total int, e domain.EnrichedEntry, b quota.Budget, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// done 是已终态条目数（续跑时从 already_done 起算），idx 只是清单位置。
	p.done++
	p.total = total
	p.budget = b

	switch e.Status() {
	case domain.EntrySuccess:
		p.ok++
		fmt.Fprintf(p.w, "[%d/%d] OK %s -> %s (%s)\n",
			idx, total, truncate(e.Name, 100), formatMatch(e.Metadata), formatShortDuration(dur),
		)
	case domain.EntrySkipped:
		p.skip++
		fmt.Fprintf(p.w, "[%d/%d] SKIP %s %s\n", idx, total, truncate(e.Name, 100), e.SkipReason)
	default:
		p.fail++
		fmt.Fprintf(p.w, "[%d/%d] FAIL %s (cleaned=%q) (%s)\n",
			idx, total, truncate(e.Name, 100), e.CleanedTitle, formatShortDuration(dur),
		)
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnSystemDone(res domain.SystemResult, b quota.Budget) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.budget = b
	p.stopTickerLocked()

	line := fmt.Sprintf("%s: %s success=%d failed=%d skipped=%d remaining=%d calls=%d quota=%s",
		res.System, res.Outcome, res.Stats.Success, res.Stats.Failed, res.Stats.Skipped,
		res.Stats.Remaining, res.Stats.Calls, b,
	)
	if res.ErrorCode != "" {
		line += " " + res.ErrorCode + ": " + truncate(res.ErrorMsg, 160)
	}
	fmt.Fprintln(p.w, line)
	fmt.Fprintln(p.w)
	p.lastPrinted = time.Now()
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true
	stop := p.stopCh

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 10 * time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if time.Since(p.lastPrinted) > threshold {
					fmt.Fprintf(p.w, "进度: %s done=%d/%d ok=%d fail=%d skip=%d quota=%s elapsed=%s\n",
						p.system, p.done, p.total, p.ok, p.fail, p.skip, p.budget, formatElapsed(time.Since(p.startedAt)),
					)
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) stopTickerLocked() {
	if !p.tickerStarted {
		return
	}
	close(p.stopCh)
	p.tickerStarted = false
}

func formatMatch(m *domain.GameMeta) string {
	if m == nil {
		return ""
	}
	s := fmt.Sprintf("%q rawg_id=%d", m.Title, m.ExternalID)
	if m.Released != "" {
		s += " released=" + m.Released
	}
	return s
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
