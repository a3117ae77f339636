package observer

import (
	"context"
	"encoding/base64"

	"netbridge/internal/network/bodystore"
	"netbridge/internal/network/intercept"
	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

// Dispatch 处理一条传输层通知；未被跟踪的 scope 的通知被丢弃并返回 false，
// 此时暂停中的请求由调用方自行放行
func (o *Observer) Dispatch(ctx context.Context, n traffic.Notification) bool {
	if n.Attempt == nil {
		return false
	}
	o.mu.Lock()
	s, ok := o.scopes[n.Attempt.Scope]
	if !ok {
		o.mu.Unlock()
		return false
	}
	var after func()
	switch n.Kind {
	case traffic.KindRequest:
		after = o.onRequest(ctx, s, n.Attempt)
	case traffic.KindRedirect:
		if n.Next != nil {
			o.onRedirect(s, n.Attempt, n.Next, n.Internal)
		}
	case traffic.KindResponse, traffic.KindCachedResponse, traffic.KindMergedResponse:
		if n.Response != nil {
			o.onResponse(s, n.Attempt, n.Response, n.Kind != traffic.KindResponse)
		}
	case traffic.KindBodyComplete:
		o.onBodyComplete(s, n.Attempt, n.Body, n.Encodings)
	case traffic.KindTransactionClose:
		o.onTransactionClose(s, n.Attempt)
	case traffic.KindFailed:
		o.onFailed(s, n.Attempt, n.ErrorText)
	default:
		o.log.Warn("未知的传输层通知", "kind", n.Kind.String())
	}
	o.mu.Unlock()

	// 传输层调用可能阻塞，放在锁外执行
	if after != nil {
		after()
	}
	return true
}

func (o *Observer) onRequest(ctx context.Context, s *scope, a *traffic.Attempt) func() {
	cont := func() {
		if a.Interceptor == nil {
			return
		}
		if err := a.Interceptor.Continue(ctx, nil); err != nil {
			o.log.Err(err, "放行请求失败", "scope", string(s.id), "attempt", a.ID)
		}
	}

	if s.resolver.IsResumed(a.ID) {
		// 恢复后的延续不再报告请求，只监听其响应
		s.listen(a.ID)
		return cont
	}
	if s.resolver.ConvertPendingAuth(a.ID) {
		// 认证前的响应体监听永远不会完成
		delete(s.bodyListeners, a.ID)
	}

	for _, h := range o.options.ExtraHTTPHeaders {
		a.Headers.Set(h.Name, h.Value)
	}
	for _, h := range s.extra {
		a.Headers.Set(h.Name, h.Value)
	}

	logicalID := s.resolver.Resolve(a.ID)
	isRedirect := s.resolver.IsRedirect(logicalID)
	enabled := s.controller.Enabled() || o.options.RequestInterception || o.options.Offline
	decision := intercept.Admit(a, enabled, o.options.Offline, isRedirect)
	o.metrics.RequestObserved(decision.String())
	o.log.Debug("观察到请求", "scope", string(s.id), "requestId", logicalID, "url", a.URL, "decision", decision.String())

	switch decision {
	case intercept.AbortOffline:
		o.reportRequest(s, a, logicalID, false)
		o.settle(s, a.ID, logicalID)
		s.emitFailed(logicalID, string(domain.ReasonOffline))
		return func() {
			if err := a.Interceptor.Fail(ctx, domain.ReasonOffline); err != nil {
				o.log.Err(err, "离线取消请求失败", "scope", string(s.id), "attempt", a.ID)
			}
		}
	case intercept.Pause:
		if _, err := s.controller.Intercept(logicalID, a.Interceptor, a.InPlace); err != nil {
			o.log.Warn("请求已处于拦截状态，直接放行", "scope", string(s.id), "requestId", logicalID)
			o.reportRequest(s, a, logicalID, false)
			s.listen(a.ID)
			return cont
		}
		s.paused[logicalID] = a.ID
		o.metrics.Paused(1)
		o.reportRequest(s, a, logicalID, true)
		s.listen(a.ID)
		return nil
	case intercept.Inert:
		// 重定向延续无法暂停，登记空处置以保持协议一致
		_, _ = s.controller.Intercept(logicalID, nil, false)
		o.reportRequest(s, a, logicalID, true)
		s.listen(a.ID)
		return cont
	default:
		o.reportRequest(s, a, logicalID, false)
		s.listen(a.ID)
		return cont
	}
}

// reportRequest 发出 requestWillBeSent，并消费重定向前驱
func (o *Observer) reportRequest(s *scope, a *traffic.Attempt, logicalID string, intercepted bool) {
	from, _ := s.resolver.TakeRedirectSource(logicalID)
	ev := &domain.RequestWillBeSent{
		RequestID:      logicalID,
		URL:            a.URL,
		Method:         a.Method,
		Headers:        nonNilHeaders(a.Headers),
		IsIntercepted:  intercepted,
		RedirectedFrom: from,
		Cause:          a.Cause,
		AttemptID:      a.ID,
	}
	if a.PostData != nil {
		post := base64.StdEncoding.EncodeToString(a.PostData)
		ev.PostData = &post
	}
	if a.IsMainDocument {
		ev.NavigationID = logicalID
		if pre, ok := s.resolver.PreAuthID(a.ID); ok {
			ev.NavigationID = pre
		}
	}
	s.emitRequest(ev)
}

func (o *Observer) onRedirect(s *scope, old, next *traffic.Attempt, internal bool) {
	resumed := s.resolver.Redirect(old, next, internal)
	if old.ID != next.ID && (resumed || !internal) {
		// 响应随替换转移到新的物理请求，旧请求的后续通知被忽略
		delete(s.bodyListeners, old.ID)
		s.superseded[old.ID] = struct{}{}
		s.resolver.Forget(old.ID)
	}
	o.log.Debug("物理请求被替换", "scope", string(s.id), "from", old.ID, "to", next.ID, "resumed", resumed, "internal", internal)
}

func (o *Observer) onResponse(s *scope, a *traffic.Attempt, res *traffic.Response, fromCache bool) {
	if !s.listening(a.ID) {
		return
	}
	s.emitResponse(&domain.ResponseReceived{
		RequestID:       s.resolver.Resolve(a.ID),
		Status:          res.Status,
		StatusText:      res.StatusText,
		Headers:         nonNilHeaders(res.Headers),
		FromCache:       fromCache || res.FromCache,
		SecurityDetails: res.SecurityDetails,
		RemoteIPAddress: res.RemoteIPAddress,
		RemotePort:      res.RemotePort,
	})
}

func (o *Observer) onBodyComplete(s *scope, a *traffic.Attempt, body []byte, encodings []string) {
	if !s.listening(a.ID) {
		return
	}
	logicalID := s.resolver.Resolve(a.ID)
	evicted := s.store.Add(logicalID, body, encodings)
	o.metrics.BodyStored(len(body), evicted)
	o.settle(s, a.ID, logicalID)
	s.emitFinished(logicalID)
}

func (o *Observer) onTransactionClose(s *scope, a *traffic.Attempt) {
	if s.retire(a.ID) {
		return
	}
	if !s.listening(a.ID) {
		return
	}
	// 没有读到响应体的请求以空响应体结束
	logicalID := s.resolver.Resolve(a.ID)
	s.store.Add(logicalID, nil, nil)
	s.release(a.ID, logicalID)
	s.emitFinished(logicalID)
}

func (o *Observer) onFailed(s *scope, a *traffic.Attempt, errorText string) {
	if s.retire(a.ID) {
		return
	}
	if !s.listening(a.ID) {
		return
	}
	logicalID := s.resolver.Resolve(a.ID)
	if _, ok := s.paused[logicalID]; ok && s.controller.Drop(logicalID) {
		o.metrics.Paused(-1)
	}
	if errorText == "" {
		errorText = string(domain.ReasonFailure)
	}
	s.release(a.ID, logicalID)
	s.emitFailed(logicalID, errorText)
}

// settle 请求已在本层结束，传输层对该物理请求的剩余通知被忽略
func (o *Observer) settle(s *scope, transportID, logicalID string) {
	s.release(transportID, logicalID)
	s.settled[transportID] = struct{}{}
}

// ResumeInterceptedRequest 恢复被拦截的请求，ov 为 nil 时不做修改
func (o *Observer) ResumeInterceptedRequest(ctx context.Context, id domain.ScopeID, requestID string, ov *traffic.Override) error {
	s, err := o.scope(id)
	if err != nil {
		return err
	}
	req, err := s.controller.Resume(ctx, requestID, ov)
	o.metrics.Disposition("resume", err)
	if req == nil {
		return err
	}
	o.mu.Lock()
	if _, ok := s.paused[requestID]; ok {
		delete(s.paused, requestID)
		o.metrics.Paused(-1)
	}
	o.mu.Unlock()
	o.log.Debug("恢复被拦截的请求", "scope", string(id), "requestId", requestID, "modified", ov != nil)
	return err
}

// FulfillInterceptedRequest 以合成响应结束被拦截的请求，响应体立即可查询
func (o *Observer) FulfillInterceptedRequest(ctx context.Context, id domain.ScopeID, requestID string, res *traffic.Response, body []byte) error {
	s, err := o.scope(id)
	if err != nil {
		return err
	}
	transportID, paused := o.claim(s, requestID)
	req, err := s.controller.Fulfill(ctx, requestID, res, body)
	o.metrics.Disposition("fulfill", err)
	if req == nil {
		o.unclaim(s, transportID, paused)
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if req.Inert || !paused {
		return err
	}
	o.metrics.Paused(-1)
	s.release(transportID, requestID)
	if err != nil {
		s.emitFailed(requestID, string(domain.ReasonFailure))
		return err
	}
	s.emitResponse(&domain.ResponseReceived{
		RequestID:  requestID,
		Status:     res.Status,
		StatusText: res.StatusText,
		Headers:    nonNilHeaders(res.Headers),
	})
	// 合成响应体按其 Content-Encoding 保存，读取时解码
	evicted := s.store.Add(requestID, body, bodystore.ParseEncodings(res.Headers.Get("Content-Encoding")))
	o.metrics.BodyStored(len(body), evicted)
	s.emitFinished(requestID)
	o.log.Debug("合成响应", "scope", string(id), "requestId", requestID, "status", res.Status, "size", len(body))
	return nil
}

// AbortInterceptedRequest 按错误码取消被拦截的请求
func (o *Observer) AbortInterceptedRequest(ctx context.Context, id domain.ScopeID, requestID, errorCode string) error {
	s, err := o.scope(id)
	if err != nil {
		return err
	}
	transportID, paused := o.claim(s, requestID)
	req, reason, err := s.controller.Abort(ctx, requestID, errorCode)
	o.metrics.Disposition("abort", err)
	if req == nil {
		o.unclaim(s, transportID, paused)
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if req.Inert || !paused {
		return err
	}
	o.metrics.Paused(-1)
	s.release(transportID, requestID)
	s.emitFailed(requestID, string(reason))
	o.log.Debug("取消被拦截的请求", "scope", string(id), "requestId", requestID, "reason", string(reason))
	return err
}

// claim 在调用传输层之前把暂停中的物理请求标记为已结束，
// 使处置期间到达的传输层通知被忽略
func (o *Observer) claim(s *scope, requestID string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	transportID, ok := s.paused[requestID]
	if !ok {
		return "", false
	}
	delete(s.paused, requestID)
	s.settled[transportID] = struct{}{}
	return transportID, true
}

func (o *Observer) unclaim(s *scope, transportID string, paused bool) {
	if !paused {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(s.settled, transportID)
}

func nonNilHeaders(h traffic.Headers) []domain.HeaderEntry {
	if h == nil {
		return []domain.HeaderEntry{}
	}
	return h.Clone()
}
