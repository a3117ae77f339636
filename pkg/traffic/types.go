package traffic

import (
	"context"
	"net/http"
	"strings"

	"netbridge/pkg/domain"
)

// Headers 有序头部列表，名称比较大小写不敏感
type Headers []domain.HeaderEntry

// Get 获取指定 Header 的值（大小写不敏感）
func (h Headers) Get(name string) string {
	for _, e := range h {
		if strings.EqualFold(e.Name, name) {
			return e.Value
		}
	}
	return ""
}

// Set 覆盖指定 Header，不存在时追加
func (h *Headers) Set(name, value string) {
	for i := range *h {
		if strings.EqualFold((*h)[i].Name, name) {
			(*h)[i].Value = value
			h.dedupe(i)
			return
		}
	}
	*h = append(*h, domain.HeaderEntry{Name: name, Value: value})
}

// Del 删除指定 Header 的所有条目
func (h *Headers) Del(name string) {
	out := (*h)[:0]
	for _, e := range *h {
		if !strings.EqualFold(e.Name, name) {
			out = append(out, e)
		}
	}
	*h = out
}

// Clone 复制头部列表
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// dedupe 删除 keep 之后与其同名的条目
func (h *Headers) dedupe(keep int) {
	name := (*h)[keep].Name
	out := (*h)[:keep+1]
	for _, e := range (*h)[keep+1:] {
		if !strings.EqualFold(e.Name, name) {
			out = append(out, e)
		}
	}
	*h = out
}

// Override 恢复被拦截请求时携带的修改
type Override struct {
	Method   *string
	Headers  Headers // nil 表示不修改
	PostData []byte  // nil 表示不修改
}

// Interceptor 传输层对一次暂停中的物理请求提供的处置能力
type Interceptor interface {
	// Continue 放行请求；会重新发起物理请求的传输层可以忽略 o，由重定向路径应用
	Continue(ctx context.Context, o *Override) error
	// Fulfill 原地合成完整响应
	Fulfill(ctx context.Context, res *Response, body []byte) error
	// Fail 以给定原因取消请求
	Fail(ctx context.Context, reason domain.CancelReason) error
}

// Attempt 一次物理请求，ID 只在本次尝试内稳定
type Attempt struct {
	ID             string
	Scope          domain.ScopeID
	URL            string
	Method         string
	Headers        Headers
	PostData       []byte
	Cause          string
	IsMainDocument bool

	// ServiceWorker 已被 service worker 类拦截器接管，本层不暂停
	ServiceWorker bool
	// InPlace 恢复时由传输层原地应用修改，不会产生新的物理请求
	InPlace bool
	// Interceptor 为 nil 表示该请求无法暂停
	Interceptor Interceptor
}

// Response 中立的响应模型
type Response struct {
	Status          int
	StatusText      string
	Headers         Headers
	FromCache       bool
	SecurityDetails *domain.SecurityDetails
	RemoteIPAddress string
	RemotePort      int
}

// NewAttempt 创建初始化请求对象
func NewAttempt(id string, scope domain.ScopeID) *Attempt {
	return &Attempt{
		ID:     id,
		Scope:  scope,
		Method: http.MethodGet,
		Cause:  "TYPE_OTHER",
	}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		Status:     http.StatusOK,
		StatusText: http.StatusText(http.StatusOK),
	}
}
