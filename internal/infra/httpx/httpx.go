package httpx

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout 是单个外部请求的总超时（search/detail 各自独立计时）。
const DefaultTimeout = 10 * time.Second

const userAgent = "rometa/1.0 (+https://github.com/John-Robertt/rometa)"

// Transport 把“静态凭据注入 + UA”固化为统一策略。
//
// 不做重试：每个发出的请求都计入配额，重试会让调用数与配额账本对不上。
type Transport struct {
	Base http.RoundTripper

	// APIKey 以 ?key= 查询参数注入（RAWG 的鉴权方式）；请求上已有 key 时不覆盖。
	APIKey string
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	base := t.Base
	if base == nil {
		return nil, errors.New("nil base transport")
	}

	// Clone 会复制 Header/URL，避免在 RoundTripper 内部“污染”调用方的 request。
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", userAgent)
	}
	if key := strings.TrimSpace(t.APIKey); key != "" {
		q := r.URL.Query()
		if q.Get("key") == "" {
			q.Set("key", key)
			r.URL.RawQuery = q.Encode()
		}
	}
	return base.RoundTrip(r)
}

// Options 是外部 API client 的构造参数。
type Options struct {
	APIKey   string
	ProxyURL string
	Timeout  time.Duration
}

// NewAPIClient 构造访问外部元数据服务的 HTTP client。
//
// 规则：
// - proxyURL 非空：走代理，且禁用 keep-alive（代理池轮换依赖每请求新连接）
// - 总超时有界（默认 10s）
func NewAPIClient(o Options) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}

	if p := strings.TrimSpace(o.ProxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, errors.New("proxy_url 缺少 scheme 或 host：" + p)
		}
		base.Proxy = http.ProxyURL(u)
		base.DisableKeepAlives = true
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{
		Transport: &Transport{Base: base, APIKey: o.APIKey},
		Timeout:   timeout,
	}, nil
}
