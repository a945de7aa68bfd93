package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// isolateEnv 清掉会影响 Load 的环境变量（测试结束后自动恢复）。
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		LegacyKeyEnv, "ROMETA_API_KEY", "ROMETA_CATALOG_DIR", "ROMETA_OUTPUT_DIR", "ROMETA_CEILING",
		"ROMETA_POLICY", "ROMETA_SYSTEMS", "ROMETA_PLATFORM_TABLE", "ROMETA_RATE_INTERVAL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("解析 flag 失败：%v", err)
	}
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	isolateEnv(t)
	cwd := t.TempDir()

	eff, err := Load(Options{Cwd: cwd, Flags: newFlags(t)})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ConfigFile != "" {
		t.Fatalf("不应使用配置文件：%q", eff.ConfigFile)
	}
	if eff.CatalogDir != filepath.Join(cwd, DefaultCatalogDir) || eff.OutputDir != filepath.Join(cwd, DefaultOutputDir) {
		t.Fatalf("默认目录不符合预期：%+v", eff)
	}
	if eff.Ceiling != DefaultCeiling || eff.Policy != "final-version" || eff.PlatformTable != "rawg" {
		t.Fatalf("默认值不符合预期：%+v", eff)
	}
	if eff.RateInterval != 3500*time.Millisecond || eff.RequestTimeout != 10*time.Second || eff.FlushEvery != 10 {
		t.Fatalf("默认时长不符合预期：%+v", eff)
	}
	if eff.APIBaseURL != DefaultAPIBaseURL || eff.SystemsFile != "" || len(eff.Systems) != 0 {
		t.Fatalf("默认值不符合预期：%+v", eff)
	}
}

func TestLoad_FileThenEnvThenFlags(t *testing.T) {
	isolateEnv(t)
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "rometa.yaml"), []byte(
		"catalog_dir: sets\nceiling: 300\npolicy: static\nsystems: [snes, nes]\nrate_interval: 1s\n"))

	eff, err := Load(Options{Cwd: cwd, Flags: newFlags(t)})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.ConfigFile != filepath.Join(cwd, "rometa.yaml") {
		t.Fatalf("期望使用 rometa.yaml，实际 %q", eff.ConfigFile)
	}
	if eff.CatalogDir != filepath.Join(cwd, "sets") || eff.Ceiling != 300 || eff.Policy != "static" {
		t.Fatalf("配置文件未生效：%+v", eff)
	}
	if !reflect.DeepEqual(eff.Systems, []string{"snes", "nes"}) || eff.RateInterval != time.Second {
		t.Fatalf("配置文件未生效：%+v", eff)
	}

	// 环境变量覆盖配置文件。
	t.Setenv("ROMETA_CEILING", "400")
	t.Setenv("ROMETA_SYSTEMS", "gba,ps2")
	eff, err = Load(Options{Cwd: cwd, Flags: newFlags(t)})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Ceiling != 400 || !reflect.DeepEqual(eff.Systems, []string{"gba", "ps2"}) {
		t.Fatalf("环境变量未覆盖配置文件：%+v", eff)
	}

	// CLI flag 覆盖环境变量；未显式指定的 flag 不覆盖。
	eff, err = Load(Options{Cwd: cwd, Flags: newFlags(t, "--ceiling=500", "--systems=N64")})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Ceiling != 500 || !reflect.DeepEqual(eff.Systems, []string{"n64"}) {
		t.Fatalf("flag 未覆盖环境变量：%+v", eff)
	}
	if eff.Policy != "static" {
		t.Fatalf("未显式指定的 flag 不应覆盖配置文件：policy=%q", eff.Policy)
	}
}

func TestLoad_CeilingClamped(t *testing.T) {
	isolateEnv(t)
	eff, err := Load(Options{Cwd: t.TempDir(), Flags: newFlags(t, "--ceiling=50000")})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Ceiling != 20000 || !eff.CeilingClamped {
		t.Fatalf("期望截断到 20000：%+v", eff)
	}
}

func TestLoad_Invalid(t *testing.T) {
	isolateEnv(t)
	cases := map[string][]string{
		"policy":          {"--policy=random"},
		"ceiling":         {"--ceiling=-1"},
		"api_base_url":    {"--api-base-url=ftp://x"},
		"proxy_url":       {"--proxy-url=127.0.0.1:8080"},
		"flush_every":     {"--flush-every=0"},
		"request_timeout": {"--request-timeout=0s"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(Options{Cwd: t.TempDir(), Flags: newFlags(t, args...)})
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
			}
		})
	}
}

func TestLoad_BrokenConfigFile(t *testing.T) {
	isolateEnv(t)
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, "rometa.json"), []byte(`{"ceiling":`))

	_, err := Load(Options{Cwd: cwd})
	if Code(err) != ErrCodeInvalid {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeInvalid, err, Code(err))
	}
}

func TestLoad_ExplicitConfigNotFound(t *testing.T) {
	isolateEnv(t)
	_, err := Load(Options{Cwd: t.TempDir(), ConfigFile: "missing.yaml"})
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeNotFound, err, Code(err))
	}
}

func TestLoad_MissingKey(t *testing.T) {
	isolateEnv(t)
	_, err := Load(Options{Cwd: t.TempDir(), RequireKey: true})
	if Code(err) != ErrCodeMissingKey {
		t.Fatalf("期望 %q，实际 err=%v (code=%q)", ErrCodeMissingKey, err, Code(err))
	}
}

func TestLoad_KeyFromEnvAliases(t *testing.T) {
	isolateEnv(t)
	t.Setenv(LegacyKeyEnv, "legacy-key")
	eff, err := Load(Options{Cwd: t.TempDir(), RequireKey: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.APIKey != "legacy-key" {
		t.Fatalf("期望读取 %s，实际 %q", LegacyKeyEnv, eff.APIKey)
	}

	t.Setenv("ROMETA_API_KEY", "prefixed-key")
	eff, err = Load(Options{Cwd: t.TempDir(), RequireKey: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.APIKey != "prefixed-key" {
		t.Fatalf("ROMETA_API_KEY 应优先，实际 %q", eff.APIKey)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	isolateEnv(t)
	cwd := t.TempDir()
	writeFile(t, filepath.Join(cwd, ".env"), []byte("ROMETA_API_KEY=from-dotenv\n"))

	eff, err := Load(Options{Cwd: cwd, RequireKey: true})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.APIKey != "from-dotenv" {
		t.Fatalf("期望读取 .env，实际 %q", eff.APIKey)
	}
}

func TestLoad_PlatformTablePath(t *testing.T) {
	isolateEnv(t)
	cwd := t.TempDir()
	eff, err := Load(Options{Cwd: cwd, Flags: newFlags(t, "--platform-table=tables/mine.yaml")})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.PlatformTable != filepath.Join(cwd, "tables", "mine.yaml") {
		t.Fatalf("平台表路径应相对 cwd 解析：%q", eff.PlatformTable)
	}

	eff, err = Load(Options{Cwd: cwd, Flags: newFlags(t, "--platform-table=LEGACY")})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.PlatformTable != "legacy" {
		t.Fatalf("内置表名应规范化：%q", eff.PlatformTable)
	}
}

func writeFile(t *testing.T, path string, b []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("写入文件失败：%v", err)
	}
}

func TestLoad_PolicyNone(t *testing.T) {
	isolateEnv(t)
	eff, err := Load(Options{Cwd: t.TempDir(), Flags: newFlags(t, "--policy=None")})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if eff.Policy != "none" {
		t.Fatalf("期望 policy=none，实际 %q", eff.Policy)
	}
}
