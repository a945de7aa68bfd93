package domain

// CatalogEntry 是某个系统 ROM 清单中的一条记录（只读输入）。
// Name 在同一清单内唯一，同时也是进度文件的去重键。
type CatalogEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// System 描述一个待处理的系统（平台）及其清单文件。
type System struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	RomJSONFile string `json:"romJsonFile" yaml:"romJsonFile"`
}
