package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

// version 由构建时 -ldflags "-X main.version=..." 注入。
var version = "dev"

const (
	exitOK          = 0
	exitFailed      = 1
	exitUsage       = 2
	exitInterrupted = 130
)

// exitError 携带进程退出码；Err 为 nil 时不再额外打印。
type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit %d", e.Code)
	}
	return e.Err.Error()
}

func (e *exitError) Unwrap() error { return e.Err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.Err != nil {
			fmt.Fprintf(stderr, "错误：%v\n", ee.Err)
		}
		return ee.Code
	}
	fmt.Fprintf(stderr, "错误：%v\n", err)
	// cobra 对未知子命令返回普通 error。
	if strings.HasPrefix(err.Error(), "unknown command") {
		return exitUsage
	}
	return exitFailed
}

// noArgs 与 cobra.NoArgs 相同，但按用法错误退出。
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return &exitError{Code: exitUsage, Err: err}
	}
	return nil
}

// newRootCommand 每次创建新的命令树（测试之间不共享 flag 状态）。
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "rometa",
		Short: "为 ROM 清单补充 RAWG 元数据（可中断、可续跑、受配额约束）",
		Long: `rometa 按系统逐条查询 RAWG，把元数据写入 <output_dir>/<system>_enriched.json。

示例：
  rometa plan                     # 只读预估：待处理/将跳过/将查询/所需调用数
  rometa run --ceiling 2000       # 本次最多发出 2000 个请求
  rometa run --systems snes,nes   # 只处理指定系统`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("rometa {{.Version}}\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &exitError{Code: exitUsage, Err: err}
	})

	pf := root.PersistentFlags()
	pf.String("config", "", "配置文件路径（默认读取 ./rometa.yaml，可选）")
	pf.String("log-level", "", "日志级别：debug|info|warn|error（默认：非交互终端下的 run 为 info，逐条输出进度；其余为 warn）")
	pf.Bool("log-json", false, "以 JSON 格式输出日志")

	root.AddCommand(newRunCommand(stdout, stderr))
	root.AddCommand(newPlanCommand(stdout, stderr))
	root.AddCommand(newVersionCommand(stdout))
	return root
}

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Args:  noArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(stdout, "rometa %s\n", version)
		},
	}
}
