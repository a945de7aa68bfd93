package skip

import (
	"github.com/John-Robertt/rometa/internal/domain"
	"github.com/John-Robertt/rometa/internal/title"
)

// FinalVersion 只在“同清单内存在正式版”时才跳过测试版/样品/未授权版本，
// 保证一个游戏即使只有 beta 也至少会被查询一次。盗版/hack/合卡无条件跳过。
type FinalVersion struct {
	Always      []Rule
	Provisional []Rule
}

func NewFinalVersion() FinalVersion {
	return FinalVersion{
		Always:      rules(alwaysSkipExprs),
		Provisional: rules(provisionalExprs),
	}
}

func (FinalVersion) Name() string { return PolicyFinalVersion }

// Bind 一次性建立“规范化标题 -> 存在正式版”的索引，Classify 只做 O(1) 查询。
func (p FinalVersion) Bind(catalog []domain.CatalogEntry) Classifier {
	finals := make(map[string]struct{}, len(catalog))
	for _, e := range catalog {
		if _, provisional := matchAny(p.Provisional, e.Name); provisional {
			continue
		}
		finals[title.Clean(e.Name)] = struct{}{}
	}
	return finalVersionClassifier{policy: p, finals: finals}
}

type finalVersionClassifier struct {
	policy FinalVersion
	finals map[string]struct{}
}

func (c finalVersionClassifier) Classify(e domain.CatalogEntry) Verdict {
	if r, ok := matchAny(c.policy.Always, e.Name); ok {
		return Verdict{Skip: true, Reason: r.Label}
	}
	if _, provisional := matchAny(c.policy.Provisional, e.Name); !provisional {
		return Verdict{}
	}
	if _, ok := c.finals[title.Clean(e.Name)]; ok {
		return Verdict{Skip: true, Reason: ReasonFinalVersionExists}
	}
	return Verdict{}
}
