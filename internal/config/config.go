package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/John-Robertt/rometa/internal/platform"
	"github.com/John-Robertt/rometa/internal/quota"
	"github.com/John-Robertt/rometa/internal/skip"
)

const (
	// ErrCodeNotFound 表示 --config 显式指定的文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingKey 表示 run 需要 API key，但 env/.env/配置文件都没有提供。
	ErrCodeMissingKey = "config_missing_key"
)

const (
	// FileName 是 cwd 下自动发现的配置文件名（不含扩展名，支持 yaml/json/toml）。
	FileName  = "rometa"
	EnvPrefix = "ROMETA"
	// LegacyKeyEnv 是 API key 的通用环境变量名，与 ROMETA_API_KEY 等价。
	LegacyKeyEnv = "RAWG_API_KEY"
)

const (
	DefaultCatalogDir     = "1g1rsets"
	DefaultOutputDir      = "game_metadata"
	DefaultCeiling        = 1000
	DefaultAPIBaseURL     = "https://api.rawg.io/api"
	DefaultRateInterval   = 3500 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
	DefaultFlushEvery     = 10
)

// 配置键（文件/env 使用下划线；CLI flag 使用连字符）。
const (
	KeyCatalogDir     = "catalog_dir"
	KeyOutputDir      = "output_dir"
	KeySystemsFile    = "systems_file"
	KeySystems        = "systems"
	KeyPriority       = "priority"
	KeyCeiling        = "ceiling"
	KeyPolicy         = "policy"
	KeyPlatformTable  = "platform_table"
	KeyAPIBaseURL     = "api_base_url"
	KeyAPIKey         = "api_key"
	KeyRateInterval   = "rate_interval"
	KeyRequestTimeout = "request_timeout"
	KeyFlushEvery     = "flush_every"
	KeyProxyURL       = "proxy_url"
)

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigFile 是实际读取的配置文件；未使用配置文件时为空。
	ConfigFile string

	CatalogDir  string
	OutputDir   string
	SystemsFile string

	Systems  []string
	Priority []string // 为空表示使用内置顺序

	Ceiling int
	// CeilingClamped 表示配置的 ceiling 超过了月度上限，已被截断。
	CeilingClamped bool

	Policy        string
	PlatformTable string // rawg / legacy / 绝对路径

	APIBaseURL     string
	APIKey         string
	RateInterval   time.Duration
	RequestTimeout time.Duration
	FlushEvery     int
	ProxyURL       string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingKey:
		return fmt.Sprintf("%s：缺少 API key（设置 %s_API_KEY 或 %s，或在配置文件中填写 api_key）", e.Code, EnvPrefix, LegacyKeyEnv)
	case ErrCodeInvalid:
		if e.Path == "" {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// FlagName 把配置键转换为 CLI flag 名（catalog_dir -> catalog-dir）。
func FlagName(key string) string { return strings.ReplaceAll(key, "_", "-") }

// RegisterFlags 在 fs 上注册所有可由 CLI 覆盖的配置项。
// flag 的默认值只用于帮助信息；是否覆盖以 Changed 为准。
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String(FlagName(KeyCatalogDir), DefaultCatalogDir, "ROM 清单目录")
	fs.String(FlagName(KeyOutputDir), DefaultOutputDir, "富化结果输出目录")
	fs.String(FlagName(KeySystemsFile), "", "系统列表文件（JSON/YAML）；为空时扫描清单目录")
	fs.StringSlice(FlagName(KeySystems), nil, "只处理这些系统（逗号分隔）")
	fs.StringSlice(FlagName(KeyPriority), nil, "系统处理顺序（逗号分隔）；为空时使用内置顺序")
	fs.Int(FlagName(KeyCeiling), DefaultCeiling, fmt.Sprintf("本次运行最多发出的请求数（上限 %d）", quota.MonthlyLimit))
	fs.String(FlagName(KeyPolicy), skip.PolicyFinalVersion, "跳过策略：final-version、static 或 none（不过滤）")
	fs.String(FlagName(KeyPlatformTable), platform.TableRAWG, "平台映射表：rawg、legacy 或 YAML 文件路径")
	fs.String(FlagName(KeyAPIBaseURL), DefaultAPIBaseURL, "RAWG API 地址")
	fs.Duration(FlagName(KeyRateInterval), DefaultRateInterval, "两次查询之间的最小间隔")
	fs.Duration(FlagName(KeyRequestTimeout), DefaultRequestTimeout, "单个请求超时")
	fs.Int(FlagName(KeyFlushEvery), DefaultFlushEvery, "每新增多少条落盘一次")
	fs.String(FlagName(KeyProxyURL), "", "HTTP 代理地址")
}

// Options 是 Load 的输入。
type Options struct {
	Cwd string
	// ConfigFile 为 --config 显式指定的文件；为空时尝试 <cwd>/rometa.{yaml,yml,json,toml}（可选）。
	ConfigFile string
	// Flags 中已 Changed 的 flag 覆盖文件与环境变量。
	Flags *pflag.FlagSet
	// RequireKey 为 true 时缺少 API key 报 config_missing_key（plan 不需要）。
	RequireKey bool
}

// Load 合并 默认值 < 配置文件 < 环境变量（含 .env）< CLI flag，得到最终配置。
//
// 路径类字段相对 cwd 解析为绝对路径。
func Load(o Options) (EffectiveConfig, error) {
	cwd := o.Cwd
	if strings.TrimSpace(cwd) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: err}
		}
		cwd = wd
	}
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	// .env 只补充缺失的环境变量，不覆盖已有值。
	if err := godotenv.Load(filepath.Join(cwdAbs, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: filepath.Join(cwdAbs, ".env"), Err: err}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyAPIKey, EnvPrefix+"_API_KEY", LegacyKeyEnv)

	cfgPath, err := readConfigFile(v, cwdAbs, o.ConfigFile)
	if err != nil {
		return EffectiveConfig{}, err
	}

	if o.Flags != nil {
		for _, key := range flagKeys {
			if f := o.Flags.Lookup(FlagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Err: err}
				}
			}
		}
	}

	return build(v, cwdAbs, cfgPath, o.RequireKey)
}

var flagKeys = []string{
	KeyCatalogDir, KeyOutputDir, KeySystemsFile, KeySystems, KeyPriority, KeyCeiling, KeyPolicy,
	KeyPlatformTable, KeyAPIBaseURL, KeyRateInterval, KeyRequestTimeout, KeyFlushEvery, KeyProxyURL,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyCatalogDir, DefaultCatalogDir)
	v.SetDefault(KeyOutputDir, DefaultOutputDir)
	v.SetDefault(KeySystemsFile, "")
	v.SetDefault(KeySystems, []string{})
	v.SetDefault(KeyPriority, []string{})
	v.SetDefault(KeyCeiling, DefaultCeiling)
	v.SetDefault(KeyPolicy, skip.PolicyFinalVersion)
	v.SetDefault(KeyPlatformTable, platform.TableRAWG)
	v.SetDefault(KeyAPIBaseURL, DefaultAPIBaseURL)
	v.SetDefault(KeyAPIKey, "")
	v.SetDefault(KeyRateInterval, DefaultRateInterval)
	v.SetDefault(KeyRequestTimeout, DefaultRequestTimeout)
	v.SetDefault(KeyFlushEvery, DefaultFlushEvery)
	v.SetDefault(KeyProxyURL, "")
}

// readConfigFile 读取配置文件并返回其绝对路径；未使用配置文件时返回空串。
func readConfigFile(v *viper.Viper, cwdAbs, explicit string) (string, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		p = absCleanFrom(cwdAbs, p)
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", &Error{Code: ErrCodeNotFound, Path: p, Err: err}
			}
			return "", &Error{Code: ErrCodeInvalid, Path: p, Err: err}
		}
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return "", &Error{Code: ErrCodeInvalid, Path: p, Err: err}
		}
		return p, nil
	}

	v.SetConfigName(FileName)
	v.AddConfigPath(cwdAbs)
	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) {
			return "", nil
		}
		return "", &Error{Code: ErrCodeInvalid, Path: filepath.Join(cwdAbs, FileName), Err: err}
	}
	return v.ConfigFileUsed(), nil
}

func build(v *viper.Viper, cwdAbs, cfgPath string, requireKey bool) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, args...)}
	}

	eff := EffectiveConfig{
		ConfigFile:     cfgPath,
		CatalogDir:     absCleanFrom(cwdAbs, v.GetString(KeyCatalogDir)),
		OutputDir:      absCleanFrom(cwdAbs, v.GetString(KeyOutputDir)),
		SystemsFile:    absCleanFrom(cwdAbs, v.GetString(KeySystemsFile)),
		Systems:        splitList(v.GetStringSlice(KeySystems)),
		Priority:       splitList(v.GetStringSlice(KeyPriority)),
		Ceiling:        v.GetInt(KeyCeiling),
		Policy:         strings.ToLower(strings.TrimSpace(v.GetString(KeyPolicy))),
		APIBaseURL:     strings.TrimRight(strings.TrimSpace(v.GetString(KeyAPIBaseURL)), "/"),
		APIKey:         strings.TrimSpace(v.GetString(KeyAPIKey)),
		RateInterval:   v.GetDuration(KeyRateInterval),
		RequestTimeout: v.GetDuration(KeyRequestTimeout),
		FlushEvery:     v.GetInt(KeyFlushEvery),
		ProxyURL:       strings.TrimSpace(v.GetString(KeyProxyURL)),
	}

	if eff.CatalogDir == "" {
		return EffectiveConfig{}, invalid("%s 不能为空", KeyCatalogDir)
	}
	if eff.OutputDir == "" {
		return EffectiveConfig{}, invalid("%s 不能为空", KeyOutputDir)
	}

	// ceiling：负数非法；超过月度上限截断。
	if eff.Ceiling < 0 {
		return EffectiveConfig{}, invalid("%s 不能为负数：%d", KeyCeiling, eff.Ceiling)
	}
	if eff.Ceiling > quota.MonthlyLimit {
		eff.Ceiling = quota.MonthlyLimit
		eff.CeilingClamped = true
	}

	switch eff.Policy {
	case skip.PolicyFinalVersion, skip.PolicyStatic, skip.PolicyNone:
	default:
		return EffectiveConfig{}, invalid("%s 只能是 %s、%s 或 %s，实际是 %q", KeyPolicy, skip.PolicyFinalVersion, skip.PolicyStatic, skip.PolicyNone, eff.Policy)
	}

	table := strings.TrimSpace(v.GetString(KeyPlatformTable))
	switch strings.ToLower(table) {
	case "", platform.TableRAWG:
		eff.PlatformTable = platform.TableRAWG
	case platform.TableLegacy:
		eff.PlatformTable = platform.TableLegacy
	default:
		eff.PlatformTable = absCleanFrom(cwdAbs, table)
	}

	if err := validateHTTPURL(eff.APIBaseURL); err != nil {
		return EffectiveConfig{}, invalid("%s 无效：%v", KeyAPIBaseURL, err)
	}
	if eff.ProxyURL != "" {
		if err := validateHTTPURL(eff.ProxyURL); err != nil {
			return EffectiveConfig{}, invalid("%s 无效：%v", KeyProxyURL, err)
		}
	}
	if eff.RateInterval < 0 {
		return EffectiveConfig{}, invalid("%s 不能为负数：%s", KeyRateInterval, eff.RateInterval)
	}
	if eff.RequestTimeout <= 0 {
		return EffectiveConfig{}, invalid("%s 必须为正数：%s", KeyRequestTimeout, eff.RequestTimeout)
	}
	if eff.FlushEvery < 1 {
		return EffectiveConfig{}, invalid("%s 必须 >= 1：%d", KeyFlushEvery, eff.FlushEvery)
	}

	if requireKey && eff.APIKey == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingKey, Path: cfgPath}
	}
	return eff, nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("必须是 http/https：%q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("缺少 host：%q", raw)
	}
	return nil
}

// splitList 同时接受 ["a","b"] 与 ["a,b"]（环境变量只能写成逗号分隔的单个字符串）。
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 为空：返回空串
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = filepath.Clean(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}
