// Package intercept 维护每个 scope 中暂停等待处置的请求。
package intercept

import (
	"context"
	"errors"
	"sync"

	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

// InterceptedRequest 被拦截请求及其处置状态
type InterceptedRequest struct {
	LogicalID   string
	Scope       domain.ScopeID
	Disposition domain.Disposition

	// Inert 重定向延续只在协议上报告为已拦截，处置操作不产生任何效果
	Inert bool
}

// OverrideRecorder 接收恢复请求时的修改
type OverrideRecorder interface {
	RecordOverride(logicalID string, o *traffic.Override)
}

type entry struct {
	req         InterceptedRequest
	interceptor traffic.Interceptor
	inPlace     bool
}

// Controller 单个 scope 的拦截控制器
type Controller struct {
	mu        sync.Mutex
	scope     domain.ScopeID
	enabled   bool
	pending   map[string]*entry // nil 表示拦截表尚未建立或已被禁用清除
	overrides OverrideRecorder
}

// New 创建拦截控制器
func New(scope domain.ScopeID, overrides OverrideRecorder) *Controller {
	return &Controller{scope: scope, overrides: overrides}
}

// Enable 启用拦截
func (c *Controller) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
	if c.pending == nil {
		c.pending = make(map[string]*entry)
	}
}

// Disable 禁用拦截，所有暂停中的请求原样放行后清空拦截表
func (c *Controller) Disable(ctx context.Context) error {
	c.mu.Lock()
	c.enabled = false
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	var errs []error
	for _, e := range pending {
		if err := e.interceptor.Continue(ctx, nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Enabled 是否启用了拦截
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// PendingCount 暂停中的请求数量
func (c *Controller) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Intercept 登记一个暂停中的请求；it 为 nil 时登记无效处置。
// inPlace 表示传输层原地应用恢复修改，此时不记录修改
func (c *Controller) Intercept(logicalID string, it traffic.Interceptor, inPlace bool) (*InterceptedRequest, error) {
	inert := it == nil
	if inert {
		it = inertInterceptor{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		c.pending = make(map[string]*entry)
	}
	if _, ok := c.pending[logicalID]; ok {
		return nil, domain.Errorf(domain.CodeAlreadyIntercepted, "request %q is already intercepted", logicalID)
	}
	e := &entry{
		req: InterceptedRequest{
			LogicalID:   logicalID,
			Scope:       c.scope,
			Disposition: domain.DispositionPending,
			Inert:       inert,
		},
		interceptor: it,
		inPlace:     inPlace,
	}
	c.pending[logicalID] = e
	req := e.req
	return &req, nil
}

// take 取出暂停中的请求，之后同一ID的处置调用将失败
func (c *Controller) take(logicalID string) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil, domain.ErrInterceptionNotEnabled
	}
	e, ok := c.pending[logicalID]
	if !ok {
		return nil, domain.Errorf(domain.CodeRequestNotFound, "cannot find request %q", logicalID)
	}
	delete(c.pending, logicalID)
	return e, nil
}

// Resume 放行请求并记录修改，修改在下一次物理请求出现时生效
func (c *Controller) Resume(ctx context.Context, logicalID string, o *traffic.Override) (*InterceptedRequest, error) {
	e, err := c.take(logicalID)
	if err != nil {
		return nil, err
	}
	e.req.Disposition = domain.DispositionResumed
	if e.req.Inert {
		return &e.req, nil
	}
	if c.overrides != nil && !e.inPlace {
		c.overrides.RecordOverride(logicalID, o)
	}
	if err := e.interceptor.Continue(ctx, o); err != nil {
		return &e.req, transportError(logicalID, err)
	}
	return &e.req, nil
}

// Fulfill 原地合成响应
func (c *Controller) Fulfill(ctx context.Context, logicalID string, res *traffic.Response, body []byte) (*InterceptedRequest, error) {
	e, err := c.take(logicalID)
	if err != nil {
		return nil, err
	}
	e.req.Disposition = domain.DispositionFulfilled
	if err := e.interceptor.Fulfill(ctx, res, body); err != nil {
		return &e.req, transportError(logicalID, err)
	}
	return &e.req, nil
}

// Abort 按错误码取消请求，返回映射后的取消原因
func (c *Controller) Abort(ctx context.Context, logicalID, errorCode string) (*InterceptedRequest, domain.CancelReason, error) {
	e, err := c.take(logicalID)
	if err != nil {
		return nil, "", err
	}
	e.req.Disposition = domain.DispositionAborted
	reason := ReasonFor(errorCode)
	if err := e.interceptor.Fail(ctx, reason); err != nil {
		return &e.req, reason, transportError(logicalID, err)
	}
	return &e.req, reason, nil
}

func transportError(logicalID string, err error) error {
	return &domain.Error{
		Code:    domain.CodeTransportCancelled,
		Message: "request " + logicalID + ": " + err.Error(),
	}
}

// inertInterceptor 重定向延续使用的空处置
type inertInterceptor struct{}

func (inertInterceptor) Continue(context.Context, *traffic.Override) error { return nil }

func (inertInterceptor) Fulfill(context.Context, *traffic.Response, []byte) error { return nil }

func (inertInterceptor) Fail(context.Context, domain.CancelReason) error { return nil }

// Drop 传输层已结束的请求从拦截表中移除，不做任何处置
func (c *Controller) Drop(logicalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[logicalID]; !ok {
		return false
	}
	delete(c.pending, logicalID)
	return true
}
