package domain

import "time"

const (
	OutcomeCompleted      = "completed"
	OutcomeQuotaExhausted = "quota_exhausted"
	OutcomeInterrupted    = "interrupted"
	OutcomeFailed         = "failed"
)

const (
	ErrCodeCatalogNotFound = "catalog_not_found"
	ErrCodeCatalogInvalid  = "catalog_invalid"
	ErrCodeStateCorrupt    = "state_corrupt"
	ErrCodeIOFailed        = "io_failed"
	ErrCodeConfigInvalid   = "config_invalid"
)

// SystemStats 是单个系统的统计。
//
// AlreadyDone 跨多次续跑累计（加载时进度文件中的条目数）；
// 其余计数只反映本次运行的工作。
type SystemStats struct {
	Success     int `json:"success"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
	AlreadyDone int `json:"already_done"`
	Remaining   int `json:"remaining"`
	Calls       int `json:"calls"`
}

// Add 把 o 累加到 s。
func (s *SystemStats) Add(o SystemStats) {
	s.Success += o.Success
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.AlreadyDone += o.AlreadyDone
	s.Remaining += o.Remaining
	s.Calls += o.Calls
}

// Terminal 返回本次运行新产生的终态条目数。
func (s SystemStats) Terminal() int { return s.Success + s.Failed + s.Skipped }

type SystemResult struct {
	System  string      `json:"system"`
	Catalog string      `json:"catalog"`
	Output  string      `json:"output"`
	Outcome string      `json:"outcome"`
	Stats   SystemStats `json:"stats"`

	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// RunReport 是对外稳定输出（enrich_report.json / stdout JSON）的结构。
type RunReport struct {
	RunID  string `json:"run_id"`
	Policy string `json:"policy"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Ceiling        int `json:"ceiling"`
	Consumed       int `json:"consumed"`
	RemainingQuota int `json:"remaining_quota"`

	Outcome string         `json:"outcome"`
	Summary SystemStats    `json:"summary"`
	Systems []SystemResult `json:"systems"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) summary 由 systems 累加得出；systems 保持处理顺序
// 3) outcome 取第一个提前停止的系统（配额耗尽/中断），否则为 completed
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Systems == nil {
		r.Systems = []SystemResult{}
	}

	var s SystemStats
	outcome := OutcomeCompleted
	for _, sr := range r.Systems {
		s.Add(sr.Stats)
		if outcome != OutcomeCompleted {
			continue
		}
		switch sr.Outcome {
		case OutcomeQuotaExhausted, OutcomeInterrupted:
			outcome = sr.Outcome
		}
	}
	r.Summary = s
	r.Outcome = outcome
	r.RemainingQuota = r.Ceiling - r.Consumed
}
