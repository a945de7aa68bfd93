package progress

import (
	"errors"
	"fmt"
	"strings"
)

// CorruptError 表示已有的进度文件无法作为续跑依据（致命错误，不自动修复）。
type CorruptError struct {
	Path    string
	Reasons []string
	Err     error
}

func (e *CorruptError) Error() string {
	msg := fmt.Sprintf("进度文件损坏：%s", e.Path)
	if len(e.Reasons) > 0 {
		msg += "：" + strings.Join(e.Reasons, "；")
	}
	if e.Err != nil {
		msg += "：" + e.Err.Error()
	}
	return msg
}

func (e *CorruptError) Unwrap() error { return e.Err }

func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}

// DuplicateError 表示试图追加一个已存在的 name（编排层的逻辑错误）。
type DuplicateError struct {
	Name string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("重复的条目：%q", e.Name)
}
