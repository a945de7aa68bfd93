// Package platform 把内部系统 ID 映射为 RAWG 的平台 ID，用于缩小搜索结果。
package platform

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TableRAWG   = "rawg"
	TableLegacy = "legacy"
)

// Table 是 system id -> RAWG platform ids。
type Table map[string][]int

// Lookup 返回系统对应的平台 ID；未知系统返回 nil（搜索不加平台过滤）。
func (t Table) Lookup(system string) []int {
	ids := t[strings.ToLower(strings.TrimSpace(system))]
	if len(ids) == 0 {
		return nil
	}
	return append([]int(nil), ids...)
}

// systems 返回表中所有系统 ID（已排序）。
func (t Table) systems() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// rawgTable 是默认映射，沿用早期数据中较新的一份，未逐项对照 RAWG /platforms 核实；
// 有出入时用 platform_table 指向 YAML 文件覆盖。
var rawgTable = Table{
	"nes": {49}, "snes": {79}, "n64": {83}, "gb": {26}, "gbc": {43},
	"gba": {24}, "ds": {9}, "3ds": {8}, "gc": {105}, "wii": {11},
	"wiiu": {10}, "ps1": {27}, "ps2": {15}, "psp": {17},
	"dreamcast": {106}, "genesis": {167}, "sms": {74}, "gamegear": {77},
	"saturn": {107}, "tg16": {112}, "virtualboy": {87}, "atari2600": {23},
	"atari7800": {28}, "lynx": {46}, "ngpc": {119}, "ngp": {119},
	"coleco": {45}, "intellivision": {115}, "wonderswan": {57},
	"wonderswancolor": {57},
}

// legacyTable 是早期数据中的另一份映射，与 rawgTable 多处不一致，同样未核实；保留用于对照旧进度文件。
var legacyTable = Table{
	"nes": {49}, "snes": {51}, "n64": {52}, "gb": {43}, "gbc": {44},
	"gba": {45}, "ds": {48}, "3ds": {47}, "gc": {46}, "wii": {53},
	"wiiu": {54}, "ps1": {10}, "ps2": {15}, "psp": {16},
	"dreamcast": {21}, "genesis": {22}, "sms": {23}, "gamegear": {24},
	"saturn": {25}, "tg16": {32}, "virtualboy": {39}, "atari2600": {33},
	"atari7800": {34}, "lynx": {35}, "ngpc": {31}, "ngp": {31},
	"coleco": {40}, "intellivision": {41}, "wonderswan": {42},
	"wonderswancolor": {42},
}

// Builtin 返回内置表的副本。
func Builtin(name string) (Table, bool) {
	var src Table
	switch strings.ToLower(strings.TrimSpace(name)) {
	case TableRAWG, "":
		src = rawgTable
	case TableLegacy:
		src = legacyTable
	default:
		return nil, false
	}
	out := make(Table, len(src))
	for k, v := range src {
		out[k] = append([]int(nil), v...)
	}
	return out, true
}

// Resolve 接受内置表名或 YAML 文件路径。
func Resolve(nameOrPath string) (Table, error) {
	if t, ok := Builtin(nameOrPath); ok {
		return t, nil
	}
	return LoadFile(nameOrPath)
}

// LoadFile 读取 YAML 映射文件，格式：
//
//	nes: [49]
//	snes: [79]
//
// 值也可以写成单个整数。
func LoadFile(path string) (Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("解析平台映射 %q 失败：%w", path, err)
	}
	t := make(Table, len(raw))
	for k, node := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			return nil, fmt.Errorf("平台映射 %q 含空的系统 ID", path)
		}
		var ids []int
		if node.Kind == yaml.ScalarNode {
			var one int
			if err := node.Decode(&one); err != nil {
				return nil, fmt.Errorf("平台映射 %q 中 %s 的值无效：%w", path, key, err)
			}
			ids = []int{one}
		} else if err := node.Decode(&ids); err != nil {
			return nil, fmt.Errorf("平台映射 %q 中 %s 的值无效：%w", path, key, err)
		}
		for _, id := range ids {
			if id <= 0 {
				return nil, fmt.Errorf("平台映射 %q 中 %s 含非法 ID %d", path, key, id)
			}
		}
		t[key] = ids
	}
	return t, nil
}
