// Package observer 订阅传输层通知，驱动标识解析、拦截与响应体存储，并向会话发出网络事件。
package observer

import (
	"context"
	"sync"

	"netbridge/internal/logger"
	"netbridge/internal/metrics"
	"netbridge/internal/network/bodystore"
	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

// Config 配置选项
type Config struct {
	MaxResponseSize int
	MaxTotalSize    int
	Options         domain.ContextOptions
	Logger          logger.Logger
	Metrics         *metrics.Collector
}

// Observer 网络事件源；每条通知在锁内作为一个不可抢占的回合处理
type Observer struct {
	mu      sync.Mutex
	scopes  map[domain.ScopeID]*scope
	refs    map[domain.ScopeID]int
	options domain.ContextOptions

	maxResponseSize int
	maxTotalSize    int
	log             logger.Logger
	metrics         *metrics.Collector
}

// New 创建网络事件源
func New(cfg Config) *Observer {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Observer{
		scopes:          make(map[domain.ScopeID]*scope),
		refs:            make(map[domain.ScopeID]int),
		options:         cfg.Options,
		maxResponseSize: cfg.MaxResponseSize,
		maxTotalSize:    cfg.MaxTotalSize,
		log:             l,
		metrics:         cfg.Metrics,
	}
}

// StartTracking 开始跟踪 scope 的网络活动并订阅事件，返回停止函数
func (o *Observer) StartTracking(id domain.ScopeID, sink Sink) (stop func()) {
	o.mu.Lock()
	s, ok := o.scopes[id]
	if !ok {
		s = newScope(id, o.maxResponseSize, o.maxTotalSize)
		o.scopes[id] = s
		o.metrics.ScopeTracked(1)
		o.log.Info("开始跟踪网络活动", "scope", string(id))
	}
	o.refs[id]++
	sub := &subscription{sink: sink}
	s.subs = append(s.subs, sub)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.stopTracking(id, sub) })
	}
}

func (o *Observer) stopTracking(id domain.ScopeID, sub *subscription) {
	o.mu.Lock()
	s, ok := o.scopes[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	for i, cur := range s.subs {
		if cur == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			break
		}
	}
	o.refs[id]--
	if o.refs[id] > 0 {
		o.mu.Unlock()
		return
	}
	delete(o.refs, id)
	delete(o.scopes, id)
	paused := len(s.paused)
	o.mu.Unlock()

	o.metrics.ScopeTracked(-1)
	o.metrics.Paused(-paused)
	if err := s.controller.Disable(context.Background()); err != nil {
		o.log.Err(err, "停止跟踪时放行暂停请求失败", "scope", string(id))
	}
	o.log.Info("停止跟踪网络活动", "scope", string(id))
}

// Tracked scope 是否正在被跟踪
func (o *Observer) Tracked(id domain.ScopeID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.scopes[id]
	return ok
}

// Options 返回上下文级别选项的副本
func (o *Observer) Options() domain.ContextOptions {
	o.mu.Lock()
	defer o.mu.Unlock()
	opts := o.options
	opts.ExtraHTTPHeaders = append([]domain.HeaderEntry(nil), o.options.ExtraHTTPHeaders...)
	return opts
}

// UpdateOptions 修改上下文级别选项
func (o *Observer) UpdateOptions(update func(*domain.ContextOptions)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	update(&o.options)
}

// SetExtraHTTPHeaders 设置 scope 级别的附加请求头，nil 表示清除
func (o *Observer) SetExtraHTTPHeaders(id domain.ScopeID, headers []domain.HeaderEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.scopes[id]
	if !ok {
		return domain.Errorf(domain.CodeResponseNotTracked, "scope %q is not tracked", id)
	}
	s.extra = traffic.Headers(headers).Clone()
	return nil
}

// EnableRequestInterception 启用 scope 的请求拦截
func (o *Observer) EnableRequestInterception(id domain.ScopeID) error {
	s, err := o.scope(id)
	if err != nil {
		return err
	}
	s.controller.Enable()
	o.log.Info("启用请求拦截", "scope", string(id))
	return nil
}

// DisableRequestInterception 禁用拦截，暂停中的请求原样放行
func (o *Observer) DisableRequestInterception(ctx context.Context, id domain.ScopeID) error {
	s, err := o.scope(id)
	if err != nil {
		return err
	}
	o.mu.Lock()
	paused := len(s.paused)
	s.paused = make(map[string]string)
	o.mu.Unlock()
	o.metrics.Paused(-paused)

	err = s.controller.Disable(ctx)
	o.log.Info("禁用请求拦截", "scope", string(id), "resumed", paused)
	return err
}

func (o *Observer) scope(id domain.ScopeID) (*scope, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.scopes[id]
	if !ok {
		return nil, domain.ErrInterceptionNotEnabled
	}
	return s, nil
}

// GetResponseBody 读取已捕获的响应体
func (o *Observer) GetResponseBody(id domain.ScopeID, requestID string) (bodystore.Body, error) {
	o.mu.Lock()
	s, ok := o.scopes[id]
	o.mu.Unlock()
	if !ok {
		return bodystore.Body{}, domain.ErrResponseNotTracked
	}
	return s.store.Get(requestID)
}

// Authenticate 回答认证质询；每个物理请求只询问一次，previousFailed 时不提供凭据
func (o *Observer) Authenticate(a *traffic.Attempt, previousFailed bool) *domain.Credentials {
	if previousFailed {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.scopes[a.Scope]
	if !ok || o.options.Credentials == nil {
		return nil
	}
	if _, asked := s.authAsked[a.ID]; asked {
		return nil
	}
	s.authAsked[a.ID] = struct{}{}
	s.resolver.MarkAuthenticated(a.ID)
	creds := *o.options.Credentials
	return &creds
}
