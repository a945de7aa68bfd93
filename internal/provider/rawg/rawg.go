// Package rawg 实现 RAWG 游戏库（api.rawg.io）的两段式查询：search 取首个候选，再取详情。
package rawg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/John-Robertt/rometa/internal/infra/cache"
	providerx "github.com/John-Robertt/rometa/internal/provider"
	"github.com/John-Robertt/rometa/internal/quota"
)

const (
	Name           = "rawg"
	DefaultBaseURL = "https://api.rawg.io/api"
	SiteGameURL    = "https://rawg.io/games/"

	searchPageSize = 5
	maxTags        = 10
	maxBodyBytes   = 8 << 20
	errBodyBytes   = 512
)

// Client 通过 RAWG REST API 查询游戏元数据。
//
// 约束：
// - API key 由 HTTP 的 Transport 注入（见 httpx），这里不感知凭据
// - 每次请求发出前检查 HasBudget(1)，发出即 Record(1)
// - 详情命中缓存时不发请求，也不消耗配额
type Client struct {
	// BaseURL 为空时使用 DefaultBaseURL。
	BaseURL string
	HTTP    *http.Client
	// Cache 为 nil 时不读写详情缓存。
	Cache *cache.Store
	Log   *zap.Logger
}

var _ providerx.Fetcher = Client{}

func (Client) Name() string { return Name }

func (c Client) baseURL() string {
	u := strings.TrimSpace(c.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

func (c Client) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// Fetch 执行 search -> detail -> 映射。失败只记录 WARN 并体现在 Lookup.Err。
func (c Client) Fetch(ctx context.Context, q providerx.Query, b quota.Budget) (providerx.Lookup, quota.Budget) {
	log := c.logger().With(zap.String("title", q.Title))

	id, b, err := c.search(ctx, q, b)
	if err != nil {
		log.Warn("rawg 搜索失败", zap.Error(err))
		return providerx.Lookup{Err: err}, b
	}
	if id == 0 {
		log.Debug("rawg 无搜索结果")
		return providerx.Lookup{}, b
	}

	raw, cached, b, err := c.detail(ctx, id, b)
	if err != nil {
		log.Warn("rawg 获取详情失败", zap.Int("rawg_id", id), zap.Error(err))
		return providerx.Lookup{Err: err}, b
	}

	meta, err := ParseDetail(id, raw, q.Title)
	if err != nil {
		err = &providerx.Error{Provider: Name, Stage: "decode", Err: err}
		log.Warn("rawg 详情解析失败", zap.Int("rawg_id", id), zap.Error(err))
		return providerx.Lookup{Err: err}, b
	}

	if !cached && c.Cache != nil {
		if werr := c.Cache.WriteDetail(Name, id, raw); werr != nil && !errors.Is(werr, cache.ErrReadOnly) {
			log.Warn("写入详情缓存失败", zap.Int("rawg_id", id), zap.Error(werr))
		}
	}
	return providerx.Lookup{Meta: meta}, b
}

type searchResponse struct {
	Results []struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	} `json:"results"`
}

// search 返回首个候选的 id；无候选时 id=0。
func (c Client) search(ctx context.Context, q providerx.Query, b quota.Budget) (int, quota.Budget, error) {
	v := url.Values{}
	v.Set("search", q.Title)
	v.Set("page_size", strconv.Itoa(searchPageSize))
	if len(q.PlatformIDs) > 0 {
		ids := make([]string, 0, len(q.PlatformIDs))
		for _, id := range q.PlatformIDs {
			ids = append(ids, strconv.Itoa(id))
		}
		v.Set("platforms", strings.Join(ids, ","))
	}

	body, b, err := c.get(ctx, c.baseURL()+"/games?"+v.Encode(), b)
	if err != nil {
		return 0, b, &providerx.Error{Provider: Name, Stage: "search", Err: err}
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return 0, b, &providerx.Error{Provider: Name, Stage: "search", Err: fmt.Errorf("解析搜索结果失败：%w", err)}
	}
	if len(sr.Results) == 0 {
		return 0, b, nil
	}
	if sr.Results[0].ID <= 0 {
		return 0, b, &providerx.Error{Provider: Name, Stage: "search", Err: fmt.Errorf("首个候选缺少 id")}
	}
	return sr.Results[0].ID, b, nil
}

func (c Client) detail(ctx context.Context, id int, b quota.Budget) ([]byte, bool, quota.Budget, error) {
	if c.Cache != nil {
		raw, ok, err := c.Cache.ReadDetail(Name, id)
		if err != nil {
			c.logger().Warn("读取详情缓存失败", zap.Int("rawg_id", id), zap.Error(err))
		} else if ok {
			return raw, true, b, nil
		}
	}

	body, b, err := c.get(ctx, c.baseURL()+"/games/"+strconv.Itoa(id), b)
	if err != nil {
		return nil, false, b, &providerx.Error{Provider: Name, Stage: "detail", Err: err}
	}
	return body, false, b, nil
}

// get 发出一次 GET。只要请求被发出（无论结果），就记入预算。
func (c Client) get(ctx context.Context, u string, b quota.Budget) ([]byte, quota.Budget, error) {
	if c.HTTP == nil {
		return nil, b, errors.New("http client 不能为空")
	}
	if !b.HasBudget(1) {
		return nil, b, &providerx.QuotaError{Need: 1, Remaining: b.Remaining()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, b, err
	}
	req.Header.Set("Accept", "application/json")

	b = b.Record(1)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, b, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyBytes))
		return nil, b, &providerx.HTTPStatusError{URL: redactKey(u), StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, b, err
	}
	return body, b, nil
}

// redactKey 去掉 URL 中的 key 参数，避免凭据进入日志与报告。
func redactKey(u string) string {
	pu, err := url.Parse(u)
	if err != nil {
		return u
	}
	q := pu.Query()
	if q.Has("key") {
		q.Del("key")
		pu.RawQuery = q.Encode()
	}
	return pu.String()
}
