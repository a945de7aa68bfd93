// Package title 负责把 ROM 文件名规范化为可检索的游戏标题。
package title

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	// 只剥离已知的 ROM/镜像扩展名，避免把 "Dr. Mario" 这类标题里的点当成扩展名。
	extRE     = regexp.MustCompile(`(?i)\.(zip|7z|nes|sfc|smc|snes|n64|z64|gb|gbc|gba|nds|3ds|iso|bin|chd|cue|rvz|gcz|wbfs|wua|pbp|cso)$`)
	parenRE   = regexp.MustCompile(`\s*\([^)]*\)`)
	bracketRE = regexp.MustCompile(`\s*\[[^\]]*\]`)
	theRE     = regexp.MustCompile(`,\s*The\s*$`)
)

// Clean 从 ROM 文件名提取干净的游戏标题：
// 去扩展名、去掉所有圆括号/方括号限定词（区域、版本、修订）、去掉结尾的 ", The"、折叠空白。
//
// 分类器与写入 cleaned_title 必须使用同一个函数，否则“同名正式版”的判定会漂移。
func Clean(filename string) string {
	// NFC：同一标题的组合字符与预组合字符应得到相同结果。
	name := norm.NFC.String(filename)
	name = extRE.ReplaceAllString(name, "")
	name = parenRE.ReplaceAllString(name, "")
	name = bracketRE.ReplaceAllString(name, "")
	name = theRE.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(name), " ")
}
