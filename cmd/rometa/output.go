package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/John-Robertt/rometa/internal/app/planner"
	"github.com/John-Robertt/rometa/internal/app/run"
	"github.com/John-Robertt/rometa/internal/domain"
)

func summaryLine(rr domain.RunReport) string {
	return fmt.Sprintf("完成：outcome=%s success=%d failed=%d skipped=%d already_done=%d remaining=%d consumed=%d/%d",
		rr.Outcome, rr.Summary.Success, rr.Summary.Failed, rr.Summary.Skipped,
		rr.Summary.AlreadyDone, rr.Summary.Remaining, rr.Consumed, rr.Ceiling,
	)
}

func emitReport(stdout, stderr io.Writer, rr domain.RunReport) {
	if isTTY(stdout) {
		fmt.Fprintln(stdout, summaryLine(rr))
		for _, sr := range rr.Systems {
			if sr.ErrorCode == "" {
				continue
			}
			fmt.Fprintf(stderr, "%s %s: %s\n", sr.System, sr.ErrorCode, sr.ErrorMsg)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	if b, err := run.EncodeReport(rr); err == nil {
		_, _ = stdout.Write(b)
	}
	fmt.Fprintln(stderr, summaryLine(rr))
}

func emitPlan(stdout io.Writer, p planner.Plan) {
	if !isTTY(stdout) {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		_ = enc.Encode(p)
		return
	}

	fmt.Fprintf(stdout, "policy=%s ceiling=%d calls_needed=%d affordable_fetches=%d\n",
		p.Policy, p.Ceiling, p.CallsNeeded, p.Affordable)
	for _, s := range p.Systems {
		if s.ErrorCode != "" {
			fmt.Fprintf(stdout, "  %-12s %s: %s\n", s.System, s.ErrorCode, truncate(s.ErrorMsg, 120))
			continue
		}
		mark := " "
		if !s.Affordable {
			mark = "!"
		}
		fmt.Fprintf(stdout, "%s %-12s total=%d done=%d skip=%d fetch=%d calls=%d\n",
			mark, s.System, s.Total, s.AlreadyDone, s.WouldSkip, s.WouldFetch, s.CallsNeeded)
	}
}
