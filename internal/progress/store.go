// Package progress 持久化单个系统的富化结果，并支持中断后续跑。
package progress

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/John-Robertt/rometa/internal/domain"
	"github.com/John-Robertt/rometa/internal/infra/fsx"
)

//go:embed enriched.schema.json
var schemaBytes []byte

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaBytes))
	})
	return schema, schemaErr
}

// maxReasons 限制 CorruptError 中携带的校验失败条数。
const maxReasons = 5

// Store 是一个系统的进度状态：有序条目 + name 索引。
//
// 约束：
// - 索引在加载时构建一次，Has 为 O(1)
// - 只追加，不修改已有条目
// - Flush 原子替换整个文件：崩溃时磁盘上要么是旧的完整状态，要么是新的完整状态
// - 非并发安全：同一时刻只有编排器一个写者
type Store struct {
	path    string
	entries []domain.EnrichedEntry
	index   map[string]int

	unflushed int
}

// Open 加载 path 处的进度文件；文件不存在时返回空状态。
func Open(path string) (*Store, error) {
	s := &Store{path: filepath.Clean(path), index: map[string]int{}}

	b, ok, err := fsx.ReadIfExists(s.path)
	if err != nil {
		return nil, fmt.Errorf("读取进度文件失败：%w", err)
	}
	if !ok {
		return s, nil
	}

	entries, err := decode(s.path, b)
	if err != nil {
		return nil, err
	}

	s.entries = entries
	for i, e := range entries {
		if _, dup := s.index[e.Name]; dup {
			return nil, &CorruptError{Path: s.path, Reasons: []string{fmt.Sprintf("name 重复：%q", e.Name)}}
		}
		s.index[e.Name] = i
	}
	return s, nil
}

func decode(path string, b []byte) ([]domain.EnrichedEntry, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("编译进度文件 schema 失败：%w", err)
	}

	res, err := sch.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		// 不是合法 JSON。
		return nil, &CorruptError{Path: path, Err: err}
	}
	if !res.Valid() {
		var reasons []string
		for i, e := range res.Errors() {
			if i == maxReasons {
				reasons = append(reasons, fmt.Sprintf("另有 %d 处错误", len(res.Errors())-maxReasons))
				break
			}
			field := e.Field()
			if field == "" {
				field = "root"
			}
			reasons = append(reasons, field+": "+e.Description())
		}
		return nil, &CorruptError{Path: path, Reasons: reasons}
	}

	var entries []domain.EnrichedEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, &CorruptError{Path: path, Err: err}
		}
	}
	return entries, nil
}

func (s *Store) Path() string { return s.path }

// Len 返回已记录的条目数（含尚未落盘的）。
func (s *Store) Len() int { return len(s.entries) }

// Unflushed 返回上次 Flush 之后追加的条目数。
func (s *Store) Unflushed() int { return s.unflushed }

func (s *Store) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Append 追加一条终态记录；name 已存在时返回 *DuplicateError 且不修改状态。
func (s *Store) Append(e domain.EnrichedEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if s.Has(e.Name) {
		return &DuplicateError{Name: e.Name}
	}
	s.index[e.Name] = len(s.entries)
	s.entries = append(s.entries, e)
	s.unflushed++
	return nil
}

// Entries 返回条目的副本（按追加顺序）。
func (s *Store) Entries() []domain.EnrichedEntry {
	out := make([]domain.EnrichedEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Pending 返回 catalog 中尚未处理的条目（保持 catalog 顺序）。
func (s *Store) Pending(catalog []domain.CatalogEntry) []domain.CatalogEntry {
	out := make([]domain.CatalogEntry, 0, len(catalog))
	for _, e := range catalog {
		if !s.Has(e.Name) {
			out = append(out, e)
		}
	}
	return out
}

// Flush 把完整状态原子写入磁盘。
func (s *Store) Flush() error {
	b, err := Encode(s.entries)
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(filepath.Dir(s.path), filepath.Base(s.path), b); err != nil {
		return fmt.Errorf("写入进度文件失败：%w", err)
	}
	s.unflushed = 0
	return nil
}

// Encode 按输出格式序列化条目：2 空格缩进，不转义 HTML，空状态写为 []。
func Encode(entries []domain.EnrichedEntry) ([]byte, error) {
	if entries == nil {
		entries = []domain.EnrichedEntry{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
