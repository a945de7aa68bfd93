package skip

import "github.com/John-Robertt/rometa/internal/domain"

// Static 按固定规则逐条判断，不依赖清单其余条目。
type Static struct {
	Rules []Rule
}

func NewStatic() Static { return Static{Rules: rules(staticExprs)} }

func (Static) Name() string { return PolicyStatic }

func (s Static) Bind([]domain.CatalogEntry) Classifier { return s }

func (s Static) Classify(e domain.CatalogEntry) Verdict {
	if r, ok := matchAny(s.Rules, e.Name); ok {
		return Verdict{Skip: true, Reason: r.Label}
	}
	return Verdict{}
}
