package cache

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/John-Robertt/rometa/internal/infra/fsx"
)

// Store 提供 <root>/cache/ 下的响应缓存读写。
//
// 约束：
// - plan：只允许读（ReadOnly=true）
// - run：允许写（ReadOnly=false）
type Store struct {
	Root     string // <output_dir>
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(root string, readOnly bool) Store {
	return Store{
		Root:     filepath.Clean(strings.TrimSpace(root)),
		ReadOnly: readOnly,
	}
}

// DetailPath 返回某个 provider 详情响应缓存的绝对路径：<root>/cache/<provider>/<id>.json。
func (s Store) DetailPath(provider string, id int) (string, error) {
	p, err := cleanProvider(provider)
	if err != nil {
		return "", err
	}
	if id <= 0 {
		return "", fmt.Errorf("id 必须为正数：%d", id)
	}
	return filepath.Join(s.Root, "cache", p, strconv.Itoa(id)+".json"), nil
}

// ReadDetail 读取详情缓存；未命中返回 ok=false 且 err=nil。
func (s Store) ReadDetail(provider string, id int) ([]byte, bool, error) {
	path, err := s.DetailPath(provider, id)
	if err != nil {
		return nil, false, err
	}
	return fsx.ReadIfExists(path)
}

func (s Store) WriteDetail(provider string, id int, body []byte) error {
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.DetailPath(provider, id)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomic(filepath.Dir(path), filepath.Base(path), body)
}

var providerNameRE = regexp.MustCompile(`^[a-z0-9_]+$`)

func cleanProvider(p string) (string, error) {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "", fmt.Errorf("provider 不能为空")
	}
	// 避免路径穿越。
	if !providerNameRE.MatchString(p) {
		return "", fmt.Errorf("非法 provider：%q", p)
	}
	return p, nil
}
