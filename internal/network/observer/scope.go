package observer

import (
	"netbridge/internal/network/bodystore"
	"netbridge/internal/network/identity"
	"netbridge/internal/network/intercept"
	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

// Sink 会话侧接收网络事件，按订阅顺序同步调用
type Sink interface {
	OnRequest(ev *domain.RequestWillBeSent)
	OnResponse(ev *domain.ResponseReceived)
	OnRequestFinished(ev *domain.RequestFinished)
	OnRequestFailed(ev *domain.RequestFailed)
}

type subscription struct {
	sink Sink
}

// scope 单个归属范围的全部状态，由 Observer 的锁保护
type scope struct {
	id         domain.ScopeID
	resolver   *identity.Resolver
	store      *bodystore.Store
	controller *intercept.Controller
	extra      traffic.Headers
	subs       []*subscription

	bodyListeners map[string]struct{} // 等待响应体的物理ID
	superseded    map[string]struct{} // 已被重定向/恢复替换的物理ID
	settled       map[string]struct{} // 已被处置结束、忽略后续通知的物理ID
	paused        map[string]string   // 逻辑ID => 暂停中的物理ID
	authAsked     map[string]struct{} // 已询问过凭据的物理ID
}

func newScope(id domain.ScopeID, maxResponseSize, maxTotalSize int) *scope {
	resolver := identity.New()
	return &scope{
		id:            id,
		resolver:      resolver,
		store:         bodystore.New(maxResponseSize, maxTotalSize),
		controller:    intercept.New(id, resolver),
		bodyListeners: make(map[string]struct{}),
		superseded:    make(map[string]struct{}),
		settled:       make(map[string]struct{}),
		paused:        make(map[string]string),
		authAsked:     make(map[string]struct{}),
	}
}

func (s *scope) emitRequest(ev *domain.RequestWillBeSent) {
	for _, sub := range s.subs {
		cp := *ev
		sub.sink.OnRequest(&cp)
	}
}

func (s *scope) emitResponse(ev *domain.ResponseReceived) {
	for _, sub := range s.subs {
		cp := *ev
		sub.sink.OnResponse(&cp)
	}
}

func (s *scope) emitFinished(id string) {
	for _, sub := range s.subs {
		sub.sink.OnRequestFinished(&domain.RequestFinished{RequestID: id})
	}
}

func (s *scope) emitFailed(id, errorCode string) {
	for _, sub := range s.subs {
		sub.sink.OnRequestFailed(&domain.RequestFailed{RequestID: id, ErrorCode: errorCode})
	}
}

func (s *scope) listen(transportID string) {
	s.bodyListeners[transportID] = struct{}{}
}

// listening 物理请求是否已被报告且尚未结束
func (s *scope) listening(transportID string) bool {
	_, ok := s.bodyListeners[transportID]
	return ok
}

// retire 消费已结束或已被替换的物理请求的终止通知
func (s *scope) retire(transportID string) bool {
	if _, ok := s.settled[transportID]; ok {
		delete(s.settled, transportID)
		return true
	}
	if _, ok := s.superseded[transportID]; ok {
		delete(s.superseded, transportID)
		return true
	}
	return false
}

// release 逻辑请求终结后清理物理请求状态
func (s *scope) release(transportID, logicalID string) {
	s.resolver.Release(transportID, logicalID)
	delete(s.bodyListeners, transportID)
	delete(s.authAsked, transportID)
	delete(s.paused, logicalID)
}
