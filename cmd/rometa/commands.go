package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/John-Robertt/rometa/internal/app/planner"
	"github.com/John-Robertt/rometa/internal/app/run"
	"github.com/John-Robertt/rometa/internal/catalog"
	"github.com/John-Robertt/rometa/internal/config"
	"github.com/John-Robertt/rometa/internal/domain"
	"github.com/John-Robertt/rometa/internal/infra/cache"
	"github.com/John-Robertt/rometa/internal/infra/httpx"
	"github.com/John-Robertt/rometa/internal/infra/pace"
	"github.com/John-Robertt/rometa/internal/platform"
	"github.com/John-Robertt/rometa/internal/progress"
	"github.com/John-Robertt/rometa/internal/provider/rawg"
	"github.com/John-Robertt/rometa/internal/skip"
)

// session 是 run/plan 共用的已解析输入。
type session struct {
	eff     config.EffectiveConfig
	log     *zap.Logger
	policy  skip.Policy
	table   platform.Table
	systems []domain.System
}

// prepare 解析配置并排好系统顺序；--log-level 未指定时使用 defaultLevel。
func prepare(cmd *cobra.Command, stderr io.Writer, defaultLevel string, requireKey bool) (*session, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	level, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	if strings.TrimSpace(level) == "" {
		level = defaultLevel
	}

	log, err := newLogger(level, logJSON, stderr)
	if err != nil {
		return nil, &exitError{Code: exitUsage, Err: err}
	}

	eff, err := config.Load(config.Options{
		ConfigFile: cfgFile,
		Flags:      cmd.Flags(),
		RequireKey: requireKey,
	})
	if err != nil {
		return nil, &exitError{Code: exitFailed, Err: err}
	}
	if eff.CeilingClamped {
		log.Warn("ceiling 超过月度上限，已截断", zap.Int("ceiling", eff.Ceiling))
	}

	policy, err := skip.ByName(eff.Policy)
	if err != nil {
		return nil, &exitError{Code: exitFailed, Err: err}
	}

	table, err := platform.Resolve(eff.PlatformTable)
	if err != nil {
		return nil, &exitError{Code: exitFailed, Err: &config.Error{Code: config.ErrCodeInvalid, Path: eff.PlatformTable, Err: err}}
	}

	systems, err := loadSystems(eff)
	if err != nil {
		return nil, &exitError{Code: exitFailed, Err: err}
	}

	priority := eff.Priority
	if len(priority) == 0 {
		priority = planner.DefaultPriority
	}
	ordered, unknown := planner.Order(systems, priority, eff.Systems)
	if len(unknown) > 0 {
		log.Warn("未找到以下系统，已忽略", zap.Strings("systems", unknown))
	}
	if len(ordered) == 0 {
		return nil, &exitError{Code: exitFailed, Err: errors.New("没有可处理的系统（检查 catalog_dir / systems_file / systems）")}
	}

	log.Debug("配置已加载",
		zap.String("config_file", eff.ConfigFile),
		zap.String("catalog_dir", eff.CatalogDir),
		zap.String("output_dir", eff.OutputDir),
		zap.String("policy", eff.Policy),
		zap.String("platform_table", eff.PlatformTable),
		zap.Int("systems", len(ordered)),
	)

	return &session{eff: eff, log: log, policy: policy, table: table, systems: ordered}, nil
}

// loadSystems：有 systems_file 时读取它，否则扫描 catalog_dir 下的 *.json。
func loadSystems(eff config.EffectiveConfig) ([]domain.System, error) {
	if strings.TrimSpace(eff.SystemsFile) != "" {
		return catalog.LoadSystems(eff.SystemsFile)
	}
	return catalog.Discover(eff.CatalogDir, catalog.DefaultPattern)
}

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "查询 RAWG 并写入富化结果（可随时中断，重新运行即续跑）",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, interactive := pickProgressWriter(stdout, stderr)
			// 非交互运行没有进度界面：逐条进度走 INFO 日志。
			level := "info"
			if interactive {
				level = "warn"
			}
			s, err := prepare(cmd, stderr, level, true)
			if err != nil {
				return err
			}
			defer func() { _ = s.log.Sync() }()

			hc, err := httpx.NewAPIClient(httpx.Options{
				APIKey:   s.eff.APIKey,
				ProxyURL: s.eff.ProxyURL,
				Timeout:  s.eff.RequestTimeout,
			})
			if err != nil {
				return &exitError{Code: exitFailed, Err: &config.Error{Code: config.ErrCodeInvalid, Err: err}}
			}

			store := cache.New(s.eff.OutputDir, false)
			pacer := pace.New(s.eff.RateInterval)
			s.log.Debug("查询节奏", zap.Duration("interval", pacer.Interval()))
			deps := run.Deps{
				Policy: s.policy,
				Fetcher: rawg.Client{
					BaseURL: s.eff.APIBaseURL,
					HTTP:    hc,
					Cache:   &store,
					Log:     s.log,
				},
				Pacer:      pacer,
				Log:        s.log,
				FlushEvery: s.eff.FlushEvery,
			}

			if interactive {
				deps.Observer = newProgressUI(w, s.eff)
			}

			rr, runErr := run.Execute(cmd.Context(), run.Options{
				CatalogDir: s.eff.CatalogDir,
				OutputDir:  s.eff.OutputDir,
				Systems:    s.systems,
				Ceiling:    s.eff.Ceiling,
				Platforms:  s.table,
			}, deps)

			emitReport(stdout, stderr, rr)
			if interactive {
				emitLocations(w, s.eff)
			}

			switch {
			case runErr != nil:
				return &exitError{Code: exitFailed, Err: runErr}
			case rr.Outcome == domain.OutcomeInterrupted:
				return &exitError{Code: exitInterrupted}
			default:
				return nil
			}
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func newPlanCommand(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "只读预估：不发请求、不写文件",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := prepare(cmd, stderr, "warn", false)
			if err != nil {
				return err
			}
			defer func() { _ = s.log.Sync() }()

			p := buildPlan(s)
			emitPlan(stdout, p)
			return nil
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// buildPlan 对每个系统做分类预演。单个系统的清单/进度错误记录在该系统上。
func buildPlan(s *session) planner.Plan {
	ests := make([]planner.SystemEstimate, 0, len(s.systems))
	for _, sys := range s.systems {
		path := catalog.Path(s.eff.CatalogDir, sys)

		cat, err := catalog.Load(path)
		if err != nil {
			ests = append(ests, planner.SystemEstimate{System: sys.ID, Catalog: path, ErrorCode: catalog.Code(err), ErrorMsg: err.Error()})
			continue
		}
		st, err := progress.Open(run.OutputPath(s.eff.OutputDir, sys.ID))
		if err != nil {
			code := domain.ErrCodeIOFailed
			if progress.IsCorrupt(err) {
				code = domain.ErrCodeStateCorrupt
			}
			ests = append(ests, planner.SystemEstimate{System: sys.ID, Catalog: path, Total: len(cat.Entries), ErrorCode: code, ErrorMsg: err.Error()})
			continue
		}

		est := planner.Estimate(sys.ID, cat.Entries, st.Has, s.policy.Bind(cat.Entries))
		est.Catalog = path
		ests = append(ests, est)
	}
	return planner.Summarize(s.policy.Name(), s.eff.Ceiling, ests)
}

func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter(stdout, stderr io.Writer) (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(stderr) {
		return stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(stdout) {
		return stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	if w == nil {
		return
	}
	fmt.Fprintf(w, "report: %s\n", run.ReportPath(eff.OutputDir))
	fmt.Fprintf(w, "out: %s\n", eff.OutputDir)
}
