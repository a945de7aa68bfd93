// Package skip 决定清单条目是否值得消耗外部调用去查询。
//
// 所有策略都是纯函数：同一清单、同一条目，结论永远相同；不访问网络，不消耗配额。
package skip

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/John-Robertt/rometa/internal/domain"
)

const (
	PolicyStatic       = "static"
	PolicyFinalVersion = "final-version"
	PolicyNone         = "none"
)

// ReasonFinalVersionExists 是 final-version 策略跳过测试版时写入的原因。
const ReasonFinalVersionExists = "(Beta/Proto with final version)"

// Rule 是一条按原始文件名匹配的跳过规则（大小写不敏感）。
type Rule struct {
	Pattern *regexp.Regexp
	Label   string
}

// MustRule 以表达式本身作为 Label；已有进度文件中的 skip_reason 就是这种形式。
func MustRule(expr string) Rule {
	return Rule{Pattern: regexp.MustCompile("(?i)" + expr), Label: expr}
}

func (r Rule) Match(name string) bool {
	return r.Pattern != nil && r.Pattern.MatchString(name)
}

func matchAny(rules []Rule, name string) (Rule, bool) {
	for _, r := range rules {
		if r.Match(name) {
			return r, true
		}
	}
	return Rule{}, false
}

// Verdict 是分类结果：Skip=false 表示继续查询。
type Verdict struct {
	Skip   bool
	Reason string
}

// Classifier 对绑定清单中的单个条目给出结论。
type Classifier interface {
	Classify(e domain.CatalogEntry) Verdict
}

// Policy 先绑定整份清单（需要上下文的策略在此建索引），再逐条分类。
type Policy interface {
	Name() string
	Bind(catalog []domain.CatalogEntry) Classifier
}

var (
	alwaysSkipExprs = []string{
		`\(Pirate\)`,
		`\(Homebrew\)`,
		`\(Hack\)`,
		`\d+-in-1`,
	}
	provisionalExprs = []string{
		`\(Beta\)`,
		`\(Proto\)`,
		`\(Demo\)`,
		`\(Sample\)`,
		`\(Unl\)`,
	}
	staticExprs = []string{
		`\(Beta\)`,
		`\(Proto\)`,
		`\(Sample\)`,
		`\(Demo\)`,
		`\(Pirate\)`,
		`\(Unl\)`,
		`\(Homebrew\)`,
		`\(Hack\)`,
		`\d+-in-1`,
	}
)

func rules(exprs []string) []Rule {
	out := make([]Rule, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, MustRule(e))
	}
	return out
}

// ByName 返回内置策略。
func ByName(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case PolicyStatic:
		return NewStatic(), nil
	case PolicyFinalVersion, "":
		return NewFinalVersion(), nil
	case PolicyNone:
		return None{}, nil
	default:
		return nil, fmt.Errorf("未知过滤策略：%q（可选 %s|%s|%s）", name, PolicyFinalVersion, PolicyStatic, PolicyNone)
	}
}
