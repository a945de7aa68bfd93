// Package quota 记录单次运行消耗的外部调用数。
//
// Budget 是值类型：调用方把它传入、再接收返回的新值，不存在隐藏的全局计数器。
package quota

import "fmt"

// CallsPerFetch 是一次完整查询（search + detail）的调用数。
const CallsPerFetch = 2

// MonthlyLimit 是 RAWG 免费档的每月调用上限；单次运行的 ceiling 不应超过它。
const MonthlyLimit = 20000

type Budget struct {
	Ceiling  int `json:"ceiling"`
	Consumed int `json:"consumed"`
}

func New(ceiling int) Budget {
	if ceiling < 0 {
		ceiling = 0
	}
	return Budget{Ceiling: ceiling}
}

// HasBudget 报告再发出 n 次调用后是否仍不超过 ceiling。
func (b Budget) HasBudget(n int) bool {
	return n >= 0 && b.Consumed+n <= b.Ceiling
}

func (b Budget) Remaining() int {
	if b.Consumed >= b.Ceiling {
		return 0
	}
	return b.Ceiling - b.Consumed
}

// Record 记录已发出的 n 次调用并返回新值。
//
// 超出 ceiling 是调用方的逻辑错误（发出调用前必须先 HasBudget），直接 panic。
func (b Budget) Record(n int) Budget {
	if n < 0 {
		panic(fmt.Sprintf("quota: 非法调用数 %d", n))
	}
	if !b.HasBudget(n) {
		panic(fmt.Sprintf("quota: 超出预算（consumed=%d + %d > ceiling=%d）", b.Consumed, n, b.Ceiling))
	}
	b.Consumed += n
	return b
}

func (b Budget) String() string {
	return fmt.Sprintf("%d/%d", b.Consumed, b.Ceiling)
}
