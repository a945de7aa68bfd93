package provider

import (
	"fmt"
	"strings"
)

// HTTPStatusError 表示服务端返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string // 截断后的响应体，便于定位 401/429 的原因
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d body=%s", e.StatusCode, body)
}

// QuotaError 表示配额不足以发出下一次请求。
// 编排层在每个条目前检查 CallsPerFetch，正常流程下不会出现；出现即视为该条目查找失败。
type QuotaError struct {
	Need      int
	Remaining int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("配额不足：需要 %d，剩余 %d", e.Need, e.Remaining)
}
