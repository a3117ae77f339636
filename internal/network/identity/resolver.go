// Package identity 将传输层可复用的物理请求标识映射为稳定的逻辑请求标识。
package identity

import (
	"sync"

	"netbridge/pkg/traffic"
)

// AuthSuffix 认证重试派生出的逻辑标识后缀
const AuthSuffix = "-auth"

// Resolver 单个 scope 的标识解析器
type Resolver struct {
	mu sync.Mutex

	redirects   map[string]string            // 新逻辑ID => 前驱逻辑ID，单次读取
	overrides   map[string]*traffic.Override // 逻辑ID => 恢复时的修改
	postResume  map[string]string            // 恢复后的物理ID => 逻辑ID
	postAuth    map[string]string            // 认证后的物理ID => 派生逻辑ID
	pendingAuth map[string]struct{}          // 已提供凭据、等待重试的物理ID
}

// New 创建标识解析器
func New() *Resolver {
	return &Resolver{
		redirects:   make(map[string]string),
		overrides:   make(map[string]*traffic.Override),
		postResume:  make(map[string]string),
		postAuth:    make(map[string]string),
		pendingAuth: make(map[string]struct{}),
	}
}

// Resolve 返回物理请求对应的逻辑ID：恢复链优先，其次认证链，最后是物理ID本身
func (r *Resolver) Resolve(transportID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(transportID)
}

func (r *Resolver) resolveLocked(t string) string {
	if id, ok := r.postResume[t]; ok {
		return id
	}
	if id, ok := r.postAuth[t]; ok {
		return id
	}
	return t
}

// Redirect 处理物理请求替换；返回 true 表示这是恢复被拦截请求产生的延续
func (r *Resolver) Redirect(old, next *traffic.Attempt, internal bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldID := r.resolveLocked(old.ID)
	if o, ok := r.overrides[oldID]; ok {
		applyOverride(next, o)
		delete(r.overrides, oldID)
		r.postResume[next.ID] = oldID
		return true
	}
	if !internal {
		r.redirects[r.resolveLocked(next.ID)] = oldID
	}
	return false
}

// applyOverride 请求头整体替换而不是合并
func applyOverride(a *traffic.Attempt, o *traffic.Override) {
	if o.Headers != nil {
		a.Headers = o.Headers.Clone()
	}
	if o.Method != nil {
		a.Method = *o.Method
	}
	if o.PostData != nil {
		a.PostData = append([]byte(nil), o.PostData...)
	}
}

// RecordOverride 记录恢复请求时的修改，下一次物理请求出现时消费
func (r *Resolver) RecordOverride(logicalID string, o *traffic.Override) {
	if o == nil {
		o = &traffic.Override{}
	}
	r.mu.Lock()
	r.overrides[logicalID] = o
	r.mu.Unlock()
}

// HasOverride 是否存在未消费的恢复修改
func (r *Resolver) HasOverride(logicalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.overrides[logicalID]
	return ok
}

// MarkAuthenticated 标记物理请求已提供认证凭据
func (r *Resolver) MarkAuthenticated(transportID string) {
	r.mu.Lock()
	r.pendingAuth[transportID] = struct{}{}
	r.mu.Unlock()
}

// ConvertPendingAuth 在认证重试被观察到时建立派生逻辑ID；返回 true 表示发生了转换
func (r *Resolver) ConvertPendingAuth(transportID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pendingAuth[transportID]; !ok {
		return false
	}
	delete(r.pendingAuth, transportID)
	derived := transportID + AuthSuffix
	r.postAuth[transportID] = derived
	r.redirects[derived] = transportID
	return true
}

// PreAuthID 若物理请求是认证重试，返回认证前的逻辑ID
func (r *Resolver) PreAuthID(transportID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.postAuth[transportID]; ok {
		return transportID, true
	}
	return "", false
}

// IsResumed 物理请求是否为恢复后的延续
func (r *Resolver) IsResumed(transportID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.postResume[transportID]
	return ok
}

// IsRedirect 逻辑ID是否有待读取的重定向前驱（不消费）
func (r *Resolver) IsRedirect(logicalID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.redirects[logicalID]
	return ok
}

// TakeRedirectSource 读取并删除重定向前驱
func (r *Resolver) TakeRedirectSource(logicalID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from, ok := r.redirects[logicalID]
	if ok {
		delete(r.redirects, logicalID)
	}
	return from, ok
}

// Release 逻辑请求到达终态后清理与该物理请求相关的映射
func (r *Resolver) Release(transportID, logicalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.postResume, transportID)
	delete(r.postAuth, transportID)
	delete(r.pendingAuth, transportID)
	delete(r.overrides, logicalID)
}

// Forget 清理被替换的物理请求上的链接，保留逻辑ID级别的状态
func (r *Resolver) Forget(transportID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.postResume, transportID)
	delete(r.postAuth, transportID)
	delete(r.pendingAuth, transportID)
}
