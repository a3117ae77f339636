package cdp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"

	adapter "netbridge/internal/adapter/cdp"
	"netbridge/internal/logger"
	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

// frameCacheSize 保留的 attempt => frame 映射数量
const frameCacheSize = 4096

var errFrameUnknown = errors.New("frame unknown")

// hop 同一网络请求 ID 上的一次物理请求；重定向复用网络请求 ID，每一跳对应一个 attempt
type hop struct {
	index     int
	requested bool // 已发出 KindRequest
	fromCache bool // requestServedFromCache
	authTries int
	url       string
	fetchIDs  []fetch.RequestID
	// request 来自 Network.requestWillBeSent，用于补发未经 Fetch 的请求
	request *network.Request
	// pending 重定向事件到达前先收到的下一跳暂停事件
	pending *fetch.RequestPausedReply
	// frameID/resourceType 来自 Network.requestWillBeSent
	frameID      string
	resourceType network.ResourceType
}

// targetSession 单个目标的 CDP 连接与事件循环
type targetSession struct {
	id     domain.TargetID
	scope  domain.ScopeID
	client *cdp.Client
	conn   *rpcc.Conn
	obs    Dispatcher
	log    logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	refs   int // 由 Manager.mu 保护

	// 以下状态只在事件循环中访问
	hops     map[string]*hop
	fetchIDs map[fetch.RequestID]string // Fetch 拦截 ID => 网络请求 ID

	framesMu   sync.Mutex
	frames     map[string]string
	frameOrder []string
}

func newTargetSession(id domain.TargetID, client *cdp.Client, conn *rpcc.Conn, obs Dispatcher, l logger.Logger) *targetSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &targetSession{
		id:       id,
		scope:    domain.ScopeID(id),
		client:   client,
		conn:     conn,
		obs:      obs,
		log:      l,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		refs:     1,
		hops:     make(map[string]*hop),
		fetchIDs: make(map[fetch.RequestID]string),
		frames:   make(map[string]string),
	}
}

// streams 目标上订阅的事件流
type streams struct {
	paused    fetch.RequestPausedClient
	auth      fetch.AuthRequiredClient
	willSend  network.RequestWillBeSentClient
	fromCache network.RequestServedFromCacheClient
	response  network.ResponseReceivedClient
	finished  network.LoadingFinishedClient
	failed    network.LoadingFailedClient
}

func (s *streams) close() {
	for _, c := range []interface{ Close() error }{s.paused, s.auth, s.willSend, s.fromCache, s.response, s.finished, s.failed} {
		if c != nil {
			_ = c.Close()
		}
	}
}

// start 订阅事件并启用 Network 与 Fetch 域
func (t *targetSession) start(ctx context.Context) error {
	s, err := t.subscribe()
	if err != nil {
		close(t.done)
		return err
	}
	if err := t.client.Network.Enable(ctx, nil); err != nil {
		s.close()
		close(t.done)
		return err
	}
	pattern := "*"
	handleAuth := true
	err = t.client.Fetch.Enable(ctx, &fetch.EnableArgs{
		Patterns:           []fetch.RequestPattern{{URLPattern: &pattern, RequestStage: fetch.RequestStageRequest}},
		HandleAuthRequests: &handleAuth,
	})
	if err != nil {
		s.close()
		close(t.done)
		return err
	}
	go t.consume(s)
	return nil
}

func (t *targetSession) subscribe() (*streams, error) {
	var (
		s   streams
		err error
	)
	fail := func(err error) (*streams, error) {
		s.close()
		return nil, err
	}
	if s.paused, err = t.client.Fetch.RequestPaused(t.ctx); err != nil {
		return fail(err)
	}
	if s.auth, err = t.client.Fetch.AuthRequired(t.ctx); err != nil {
		return fail(err)
	}
	if s.willSend, err = t.client.Network.RequestWillBeSent(t.ctx); err != nil {
		return fail(err)
	}
	if s.fromCache, err = t.client.Network.RequestServedFromCache(t.ctx); err != nil {
		return fail(err)
	}
	if s.response, err = t.client.Network.ResponseReceived(t.ctx); err != nil {
		return fail(err)
	}
	if s.finished, err = t.client.Network.LoadingFinished(t.ctx); err != nil {
		return fail(err)
	}
	if s.failed, err = t.client.Network.LoadingFailed(t.ctx); err != nil {
		return fail(err)
	}
	// 保证各事件流按浏览器发送顺序交付
	if err := cdp.Sync(s.paused, s.auth, s.willSend, s.fromCache, s.response, s.finished, s.failed); err != nil {
		return fail(err)
	}
	return &s, nil
}

// consume 事件循环，所有 hop 状态只在此处修改
func (t *targetSession) consume(s *streams) {
	defer close(t.done)
	defer s.close()

	for {
		var err error
		select {
		case <-t.ctx.Done():
			return
		case <-s.paused.Ready():
			var ev *fetch.RequestPausedReply
			if ev, err = s.paused.Recv(); err == nil {
				t.onPaused(ev)
			}
		case <-s.auth.Ready():
			var ev *fetch.AuthRequiredReply
			if ev, err = s.auth.Recv(); err == nil {
				t.onAuthRequired(ev)
			}
		case <-s.willSend.Ready():
			var ev *network.RequestWillBeSentReply
			if ev, err = s.willSend.Recv(); err == nil {
				t.onWillBeSent(ev)
			}
		case <-s.fromCache.Ready():
			var ev *network.RequestServedFromCacheReply
			if ev, err = s.fromCache.Recv(); err == nil {
				t.onServedFromCache(ev)
			}
		case <-s.response.Ready():
			var ev *network.ResponseReceivedReply
			if ev, err = s.response.Recv(); err == nil {
				t.onResponse(ev)
			}
		case <-s.finished.Ready():
			var ev *network.LoadingFinishedReply
			if ev, err = s.finished.Recv(); err == nil {
				t.onFinished(ev)
			}
		case <-s.failed.Ready():
			var ev *network.LoadingFailedReply
			if ev, err = s.failed.Recv(); err == nil {
				t.onFailed(ev)
			}
		}
		if err != nil {
			if t.ctx.Err() == nil {
				t.log.Err(err, "读取 CDP 事件失败，停止处理")
			}
			return
		}
	}
}

func (t *targetSession) close() error {
	t.cancel()
	<-t.done
	return t.conn.Close()
}

// attemptID 第 0 跳使用网络请求 ID，后续跳追加序号
func attemptID(networkID string, index int) string {
	if index == 0 {
		return networkID
	}
	return fmt.Sprintf("%s.%d", networkID, index)
}

func (t *targetSession) hopFor(networkID string) *hop {
	h, ok := t.hops[networkID]
	if !ok {
		h = &hop{}
		t.hops[networkID] = h
	}
	return h
}

func (t *targetSession) dispatch(n traffic.Notification) bool {
	return t.obs.Dispatch(t.ctx, n)
}

func (t *targetSession) attempt(networkID string, h *hop, req network.Request, frameID string, rt network.ResourceType) *traffic.Attempt {
	id := attemptID(networkID, h.index)
	t.rememberFrame(id, frameID)
	return adapter.ToAttempt(req, adapter.RequestInfo{
		ID:           id,
		Scope:        t.scope,
		TargetFrame:  string(t.id),
		FrameID:      frameID,
		ResourceType: rt,
	})
}

func (t *targetSession) onPaused(ev *fetch.RequestPausedReply) {
	networkID := string(ev.RequestID)
	if ev.NetworkID != nil {
		networkID = string(*ev.NetworkID)
	}
	h := t.hopFor(networkID)
	h.fetchIDs = append(h.fetchIDs, ev.RequestID)
	t.fetchIDs[ev.RequestID] = networkID
	if h.requested {
		if h.authTries > 0 {
			// 认证后的重试已经报告过请求
			t.continueDirect(ev.RequestID)
			return
		}
		// 下一跳的暂停先于重定向事件到达
		if h.pending != nil {
			t.continueDirect(h.pending.RequestID)
		}
		h.pending = ev
		return
	}
	t.requestPaused(networkID, h, ev)
}

func (t *targetSession) requestPaused(networkID string, h *hop, ev *fetch.RequestPausedReply) {
	a := t.attempt(networkID, h, ev.Request, string(ev.FrameID), ev.ResourceType)
	a.InPlace = true
	a.Interceptor = &fetchInterceptor{client: t.client, id: ev.RequestID}
	h.requested = true
	h.url = ev.Request.URL
	if !t.dispatch(traffic.Notification{Kind: traffic.KindRequest, Attempt: a}) {
		t.continueDirect(ev.RequestID)
	}
}

// continueDirect 放行不受跟踪的暂停请求
func (t *targetSession) continueDirect(id fetch.RequestID) {
	if err := t.client.Fetch.ContinueRequest(t.ctx, &fetch.ContinueRequestArgs{RequestID: id}); err != nil && t.ctx.Err() == nil {
		t.log.Err(err, "放行请求失败", "fetchId", string(id))
	}
}

func (t *targetSession) onWillBeSent(ev *network.RequestWillBeSentReply) {
	networkID := string(ev.RequestID)
	frameID := ""
	if ev.FrameID != nil {
		frameID = string(*ev.FrameID)
	}
	rt := network.ResourceTypeOther
	if ev.Type != "" {
		rt = ev.Type
	}

	h, known := t.hops[networkID]
	if known && ev.RedirectResponse != nil {
		t.redirect(networkID, h, ev, frameID, rt)
		return
	}
	if !known {
		h = t.hopFor(networkID)
	}
	h.frameID, h.resourceType = frameID, rt
	h.request = &ev.Request
	if h.url == "" {
		h.url = ev.Request.URL
	}
	if h.requested {
		t.rememberFrame(attemptID(networkID, h.index), frameID)
		return
	}
	// data:/blob: 等不经过 Fetch 的请求无法暂停
	if !interceptable(ev.Request.URL) {
		h.requested = true
		t.dispatch(traffic.Notification{Kind: traffic.KindRequest, Attempt: t.attempt(networkID, h, ev.Request, frameID, rt)})
	}
}

func interceptable(url string) bool {
	return strings.HasPrefix(url, "http:") || strings.HasPrefix(url, "https:")
}

// redirect 关闭当前跳并开始下一跳
func (t *targetSession) redirect(networkID string, h *hop, ev *network.RequestWillBeSentReply, frameID string, rt network.ResourceType) {
	old := traffic.NewAttempt(attemptID(networkID, h.index), t.scope)
	t.dispatch(traffic.Notification{
		Kind:     traffic.KindResponse,
		Attempt:  old,
		Response: adapter.ToResponse(*ev.RedirectResponse),
	})

	pending := h.pending
	next := &hop{index: h.index + 1, frameID: frameID, resourceType: rt, url: ev.Request.URL, fetchIDs: h.fetchIDs}
	t.hops[networkID] = next
	nextAttempt := t.attempt(networkID, next, ev.Request, frameID, rt)
	nextAttempt.InPlace = true
	t.dispatch(traffic.Notification{
		Kind:     traffic.KindRedirect,
		Attempt:  old,
		Next:     nextAttempt,
		Internal: adapter.IsInternalRedirect(ev.RedirectResponse),
	})
	t.dispatch(traffic.Notification{Kind: traffic.KindTransactionClose, Attempt: old})

	if pending != nil {
		t.requestPaused(networkID, next, pending)
	}
}

func (t *targetSession) onServedFromCache(ev *network.RequestServedFromCacheReply) {
	h := t.hopFor(string(ev.RequestID))
	h.fromCache = true
}

func (t *targetSession) onResponse(ev *network.ResponseReceivedReply) {
	networkID := string(ev.RequestID)
	h, ok := t.hops[networkID]
	if !ok {
		return
	}
	a := traffic.NewAttempt(attemptID(networkID, h.index), t.scope)
	if !h.requested && h.request != nil {
		// 内存缓存命中不经过 Fetch，此时补发请求通知
		h.requested = true
		t.dispatch(traffic.Notification{
			Kind:    traffic.KindRequest,
			Attempt: t.attempt(networkID, h, *h.request, h.frameID, h.resourceType),
		})
	}
	t.dispatch(traffic.Notification{
		Kind:     adapter.ResponseKind(ev.Response, h.fromCache),
		Attempt:  a,
		Response: adapter.ToResponse(ev.Response),
	})
}

func (t *targetSession) onFinished(ev *network.LoadingFinishedReply) {
	networkID := string(ev.RequestID)
	h, ok := t.hops[networkID]
	if !ok {
		return
	}
	t.forget(networkID, h)
	a := traffic.NewAttempt(attemptID(networkID, h.index), t.scope)
	if t.obs.Tracked(t.scope) {
		if body, err := t.responseBody(ev.RequestID); err != nil {
			t.log.Debug("读取响应体失败", "requestId", networkID, "error", err)
		} else {
			t.dispatch(traffic.Notification{Kind: traffic.KindBodyComplete, Attempt: a, Body: body})
		}
	}
	t.dispatch(traffic.Notification{Kind: traffic.KindTransactionClose, Attempt: a})
}

// responseBody 浏览器返回的响应体已解除内容编码
func (t *targetSession) responseBody(id network.RequestID) ([]byte, error) {
	reply, err := t.client.Network.GetResponseBody(t.ctx, network.NewGetResponseBodyArgs(id))
	if err != nil {
		return nil, err
	}
	if reply.Base64Encoded {
		return base64.StdEncoding.DecodeString(reply.Body)
	}
	return []byte(reply.Body), nil
}

// forget 网络请求结束，释放其 hop 状态
func (t *targetSession) forget(networkID string, h *hop) {
	delete(t.hops, networkID)
	for _, id := range h.fetchIDs {
		delete(t.fetchIDs, id)
	}
}

func (t *targetSession) onFailed(ev *network.LoadingFailedReply) {
	networkID := string(ev.RequestID)
	h, ok := t.hops[networkID]
	if !ok {
		return
	}
	t.forget(networkID, h)
	if h.pending != nil {
		t.continueDirect(h.pending.RequestID)
	}
	t.dispatch(traffic.Notification{
		Kind:      traffic.KindFailed,
		Attempt:   traffic.NewAttempt(attemptID(networkID, h.index), t.scope),
		ErrorText: ev.ErrorText,
	})
}

func (t *targetSession) onAuthRequired(ev *fetch.AuthRequiredReply) {
	networkID, ok := t.fetchIDs[ev.RequestID]
	if !ok {
		networkID = t.hopByURL(ev.Request.URL)
	}
	fallback := "Default"
	var creds *domain.Credentials
	if h, ok := t.hops[networkID]; ok && t.obs.Tracked(t.scope) {
		a := t.attempt(networkID, h, ev.Request, h.frameID, h.resourceType)
		creds = t.obs.Authenticate(a, h.authTries > 0)
		h.authTries++
		fallback = "CancelAuth"
		if creds != nil {
			defer t.dispatch(traffic.Notification{Kind: traffic.KindRequest, Attempt: a})
		}
	}
	err := t.client.Fetch.ContinueWithAuth(t.ctx, &fetch.ContinueWithAuthArgs{
		RequestID:             ev.RequestID,
		AuthChallengeResponse: adapter.AuthResponse(creds, fallback),
	})
	if err != nil && t.ctx.Err() == nil {
		t.log.Err(err, "回答认证质询失败", "url", ev.Request.URL)
	}
}

// hopByURL 拦截 ID 未知时按 URL 找到已报告的当前跳
func (t *targetSession) hopByURL(url string) string {
	for networkID, h := range t.hops {
		if h.requested && h.url == url {
			return networkID
		}
	}
	return ""
}

// rememberFrame 记录 attempt 所属 frame 与 URL，超出容量时淘汰最早的记录
func (t *targetSession) rememberFrame(attemptID, frameID string) {
	t.framesMu.Lock()
	defer t.framesMu.Unlock()
	if _, ok := t.frames[attemptID]; !ok {
		t.frameOrder = append(t.frameOrder, attemptID)
		if len(t.frameOrder) > frameCacheSize {
			delete(t.frames, t.frameOrder[0])
			t.frameOrder = t.frameOrder[1:]
		}
	}
	if frameID != "" || t.frames[attemptID] == "" {
		t.frames[attemptID] = frameID
	}
}

// FrameID 返回 attempt 所属的 frame
func (t *targetSession) FrameID(_ context.Context, attemptID string) (string, error) {
	t.framesMu.Lock()
	defer t.framesMu.Unlock()
	frameID, ok := t.frames[attemptID]
	if !ok || frameID == "" {
		return "", errFrameUnknown
	}
	return frameID, nil
}
