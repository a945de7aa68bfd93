package skip

import "github.com/John-Robertt/rometa/internal/domain"

// None 关闭过滤：每个条目都查询。
type None struct{}

func (None) Name() string { return PolicyNone }

func (n None) Bind([]domain.CatalogEntry) Classifier { return n }

func (None) Classify(domain.CatalogEntry) Verdict { return Verdict{} }
