package handler

import (
	"context"
	"encoding/base64"
	"sync"

	"netbridge/internal/logger"
	"netbridge/internal/network/activity"
	"netbridge/internal/network/observer"
	"netbridge/internal/workqueue"
	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

// DetailsResolver 查询请求的附加信息（所属 frame），查询可能需要一次往返
type DetailsResolver interface {
	FrameID(ctx context.Context, attemptID string) (string, error)
}

// Handler 单个协议会话的网络处理器：订阅 scope 的网络事件，补全附加信息后按生命周期顺序发出
type Handler struct {
	obs      *observer.Observer
	scope    domain.ScopeID
	tracker  *activity.Tracker
	resolver DetailsResolver
	log      logger.Logger

	mu     sync.Mutex
	stop   func()
	closed bool
	// 事件在观察者的锁内入队，入队不能阻塞
	queue *workqueue.Serial

	// 逻辑ID => frameId，重定向后继在查询失败时沿用前驱的 frame
	frames map[string]string
}

// Config 配置选项
type Config struct {
	Observer *observer.Observer
	Scope    domain.ScopeID
	Resolver DetailsResolver
	Emit     activity.EmitFunc
	Logger   logger.Logger
}

// New 创建网络处理器
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	h := &Handler{
		obs:      cfg.Observer,
		scope:    cfg.Scope,
		tracker:  activity.NewTracker(cfg.Emit),
		resolver: cfg.Resolver,
		log:      l.With("scope", string(cfg.Scope)),
		queue:    workqueue.NewSerial(),
		frames:   make(map[string]string),
	}
	return h
}

// enqueue 按到达顺序排队处理，处理器关闭后返回 false
func (h *Handler) enqueue(job func()) bool {
	return h.queue.Push(job)
}

// Enable 开始接收网络事件，重复调用无效果
func (h *Handler) Enable() {
	h.mu.Lock()
	if h.stop != nil || h.closed {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	stop := h.obs.StartTracking(h.scope, h)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil || h.closed {
		stop()
		return
	}
	h.stop = stop
	h.log.Info("启用网络事件")
}

// Dispose 停止接收事件并释放会话状态
func (h *Handler) Dispose() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	stop := h.stop
	h.stop = nil
	h.mu.Unlock()

	if stop != nil {
		stop()
	}
	h.queue.Close()
	h.tracker.Reset()
	h.log.Info("释放网络处理器")
}

// Flush 等待所有已排队的事件处理完成
func (h *Handler) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !h.enqueue(func() { close(done) }) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnRequest 请求事件需要先查询所属 frame
func (h *Handler) OnRequest(ev *domain.RequestWillBeSent) {
	h.enqueue(func() {
		h.fillFrame(ev)
		h.tracker.OnRequest(ev)
	})
}

// OnResponse 响应头事件
func (h *Handler) OnResponse(ev *domain.ResponseReceived) {
	h.enqueue(func() { h.tracker.OnResponse(ev) })
}

// OnRequestFinished 请求完成事件
func (h *Handler) OnRequestFinished(ev *domain.RequestFinished) {
	h.enqueue(func() {
		delete(h.frames, ev.RequestID)
		h.tracker.OnFinished(ev)
	})
}

// OnRequestFailed 请求失败事件
func (h *Handler) OnRequestFailed(ev *domain.RequestFailed) {
	h.enqueue(func() {
		delete(h.frames, ev.RequestID)
		h.tracker.OnFailed(ev)
	})
}

// fillFrame 尽力查询 frameId，失败时沿用重定向前驱的 frame
func (h *Handler) fillFrame(ev *domain.RequestWillBeSent) {
	if ev.FrameID == "" && h.resolver != nil {
		frameID, err := h.resolver.FrameID(context.Background(), ev.AttemptID)
		if err != nil {
			h.log.Debug("查询请求所属 frame 失败", "requestId", ev.RequestID, "error", err)
		}
		ev.FrameID = frameID
	}
	if ev.RedirectedFrom != "" {
		if ev.FrameID == "" {
			ev.FrameID = h.frames[ev.RedirectedFrom]
		}
		delete(h.frames, ev.RedirectedFrom)
	}
	if ev.FrameID != "" {
		h.frames[ev.RequestID] = ev.FrameID
	}
}

// ResponseBody getResponseBody 的结果
type ResponseBody struct {
	Base64Body string `json:"base64body"`
	Evicted    bool   `json:"evicted,omitempty"`
}

// GetResponseBody 读取响应体
func (h *Handler) GetResponseBody(requestID string) (*ResponseBody, error) {
	b, err := h.obs.GetResponseBody(h.scope, requestID)
	if err != nil {
		return nil, err
	}
	return &ResponseBody{
		Base64Body: base64.StdEncoding.EncodeToString(b.Data),
		Evicted:    b.Evicted,
	}, nil
}

// SetExtraHTTPHeaders 设置会话级附加请求头
func (h *Handler) SetExtraHTTPHeaders(headers []domain.HeaderEntry) error {
	return h.obs.SetExtraHTTPHeaders(h.scope, headers)
}

// SetRequestInterception 等待排队中的请求事件全部发出后再切换拦截状态
func (h *Handler) SetRequestInterception(ctx context.Context, enabled bool) error {
	if err := h.Flush(ctx); err != nil {
		return err
	}
	if enabled {
		return h.obs.EnableRequestInterception(h.scope)
	}
	return h.obs.DisableRequestInterception(ctx, h.scope)
}

// ResumeParams resumeInterceptedRequest 参数
type ResumeParams struct {
	RequestID string               `json:"requestId"`
	Method    *string              `json:"method,omitempty"`
	Headers   []domain.HeaderEntry `json:"headers,omitempty"`
	PostData  *string              `json:"postData,omitempty"` // base64
}

// ResumeInterceptedRequest 恢复被拦截的请求
func (h *Handler) ResumeInterceptedRequest(ctx context.Context, p ResumeParams) error {
	var override *traffic.Override
	if p.Method != nil || p.Headers != nil || p.PostData != nil {
		override = &traffic.Override{Method: p.Method}
		if p.Headers != nil {
			override.Headers = traffic.Headers(p.Headers).Clone()
		}
		if p.PostData != nil {
			data, err := base64.StdEncoding.DecodeString(*p.PostData)
			if err != nil {
				return domain.Errorf(domain.CodeInvalidParams, "postData is not valid base64: %v", err)
			}
			override.PostData = data
		}
	}
	return h.obs.ResumeInterceptedRequest(ctx, h.scope, p.RequestID, override)
}

// AbortInterceptedRequest 取消被拦截的请求
func (h *Handler) AbortInterceptedRequest(ctx context.Context, requestID, errorCode string) error {
	return h.obs.AbortInterceptedRequest(ctx, h.scope, requestID, errorCode)
}

// FulfillParams fulfillInterceptedRequest 参数
type FulfillParams struct {
	RequestID  string               `json:"requestId"`
	Status     int                  `json:"status"`
	StatusText string               `json:"statusText"`
	Headers    []domain.HeaderEntry `json:"headers"`
	Base64Body string               `json:"base64body"`
}

// FulfillInterceptedRequest 以合成响应结束被拦截的请求
func (h *Handler) FulfillInterceptedRequest(ctx context.Context, p FulfillParams) error {
	body, err := base64.StdEncoding.DecodeString(p.Base64Body)
	if err != nil {
		return domain.Errorf(domain.CodeInvalidParams, "base64body is not valid base64: %v", err)
	}
	res := traffic.NewResponse()
	if p.Status != 0 {
		res.Status = p.Status
		res.StatusText = p.StatusText
	}
	res.Headers = traffic.Headers(p.Headers).Clone()
	return h.obs.FulfillInterceptedRequest(ctx, h.scope, p.RequestID, res, body)
}
