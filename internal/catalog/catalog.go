// Package catalog 读取每个系统的 ROM 清单与系统列表（只读输入）。
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/rometa/internal/domain"
)

// DefaultPattern 是未提供系统文件时，在清单目录下发现清单的 glob。
const DefaultPattern = "*.json"

// Error 是可归类的清单错误（Code 取值见 domain.ErrCode*）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code 提取 err 中的清单错误码；不是清单错误时返回空串。
func Code(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// Catalog 是一个已加载的清单。
type Catalog struct {
	Path    string
	Entries []domain.CatalogEntry

	// Duplicates 记录被丢弃的重复 name（保留首次出现的条目）。
	Duplicates []string
}

// Load 读取清单文件（JSON 数组 {name,url,size}）。
//
// name 是去重键：空 name 视为格式错误；重复 name 只保留第一条。
func Load(path string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Catalog{}, &Error{Code: domain.ErrCodeCatalogNotFound, Path: path, Err: err}
		}
		return Catalog{}, &Error{Code: domain.ErrCodeIOFailed, Path: path, Err: err}
	}

	var raw []domain.CatalogEntry
	if err := json.Unmarshal(b, &raw); err != nil {
		return Catalog{}, &Error{Code: domain.ErrCodeCatalogInvalid, Path: path, Err: err}
	}

	c := Catalog{Path: path, Entries: make([]domain.CatalogEntry, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))
	for i, e := range raw {
		if strings.TrimSpace(e.Name) == "" {
			return Catalog{}, &Error{Code: domain.ErrCodeCatalogInvalid, Path: path, Err: fmt.Errorf("第 %d 条缺少 name", i)}
		}
		if _, ok := seen[e.Name]; ok {
			c.Duplicates = append(c.Duplicates, e.Name)
			continue
		}
		seen[e.Name] = struct{}{}
		c.Entries = append(c.Entries, e)
	}
	return c, nil
}

type systemsFile struct {
	Systems []domain.System `yaml:"systems"`
}

// LoadSystems 读取系统列表文件：{systems:[{id,name,romJsonFile}]}。
// JSON 是 YAML 的子集，两种格式走同一个解析器。
func LoadSystems(path string) ([]domain.System, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Code: domain.ErrCodeCatalogNotFound, Path: path, Err: err}
		}
		return nil, &Error{Code: domain.ErrCodeIOFailed, Path: path, Err: err}
	}

	var f systemsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, &Error{Code: domain.ErrCodeCatalogInvalid, Path: path, Err: err}
	}

	seen := make(map[string]struct{}, len(f.Systems))
	out := make([]domain.System, 0, len(f.Systems))
	for i, s := range f.Systems {
		s.ID = strings.ToLower(strings.TrimSpace(s.ID))
		if s.ID == "" {
			return nil, &Error{Code: domain.ErrCodeCatalogInvalid, Path: path, Err: fmt.Errorf("systems[%d] 缺少 id", i)}
		}
		if _, ok := seen[s.ID]; ok {
			return nil, &Error{Code: domain.ErrCodeCatalogInvalid, Path: path, Err: fmt.Errorf("重复的系统 id：%q", s.ID)}
		}
		seen[s.ID] = struct{}{}
		if s.Name == "" {
			s.Name = s.ID
		}
		out = append(out, s)
	}
	return out, nil
}

// Discover 在 dir 下按 pattern（doublestar 语法，相对 dir）发现清单文件。
// 系统 id 取文件名去掉扩展名后的小写形式；结果按 id 排序。
func Discover(dir, pattern string) ([]domain.System, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, &Error{Code: domain.ErrCodeCatalogInvalid, Path: dir, Err: err}
	}

	seen := make(map[string]struct{}, len(matches))
	out := make([]domain.System, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		id := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, domain.System{ID: id, Name: id, RomJSONFile: filepath.FromSlash(m)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Path 返回系统清单的文件路径；RomJSONFile 为空时返回空串。
func Path(dir string, s domain.System) string {
	f := strings.TrimSpace(s.RomJSONFile)
	if f == "" {
		return ""
	}
	if filepath.IsAbs(f) {
		return filepath.Clean(f)
	}
	return filepath.Join(dir, f)
}
