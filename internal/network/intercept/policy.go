package intercept

import (
	"strings"

	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

// Decision 请求被观察到时的准入决策
type Decision int

const (
	// PassThrough 立即放行，报告为未拦截
	PassThrough Decision = iota
	// Pause 登记为暂停，报告为已拦截
	Pause
	// Inert 重定向延续：报告为已拦截但无法真正暂停
	Inert
	// AbortOffline 模拟离线，直接以离线错误取消
	AbortOffline
)

func (d Decision) String() string {
	switch d {
	case PassThrough:
		return "pass-through"
	case Pause:
		return "pause"
	case Inert:
		return "inert"
	case AbortOffline:
		return "abort-offline"
	default:
		return "unknown"
	}
}

// Intercepted 决策在协议事件中对应的 isIntercepted
func (d Decision) Intercepted() bool {
	return d == Pause || d == Inert
}

// Admit 每个物理请求执行一次的准入策略
func Admit(a *traffic.Attempt, enabled, offline, isRedirect bool) Decision {
	if offline && a.Interceptor != nil {
		return AbortOffline
	}
	if !enabled {
		return PassThrough
	}
	if isRedirect {
		return Inert
	}
	if a.ServiceWorker || a.Interceptor == nil {
		return PassThrough
	}
	return Pause
}

var errorReasons = map[string]domain.CancelReason{
	"aborted":              domain.ReasonAborted,
	"accessdenied":         domain.ReasonAccessDenied,
	"addressunreachable":   domain.ReasonUnknownHost,
	"blockedbyclient":      domain.ReasonFailure,
	"blockedbyresponse":    domain.ReasonFailure,
	"connectionaborted":    domain.ReasonNetInterrupt,
	"connectionclosed":     domain.ReasonFailure,
	"connectionfailed":     domain.ReasonFailure,
	"connectionrefused":    domain.ReasonConnectionRefused,
	"connectionreset":      domain.ReasonNetReset,
	"internetdisconnected": domain.ReasonOffline,
	"namenotresolved":      domain.ReasonUnknownHost,
	"timedout":             domain.ReasonNetTimeout,
	"failed":               domain.ReasonFailure,
}

// ReasonFor 将协议错误码映射为传输层取消原因，未知错误码视为通用失败
func ReasonFor(errorCode string) domain.CancelReason {
	if r, ok := errorReasons[strings.ToLower(errorCode)]; ok {
		return r
	}
	return domain.ReasonFailure
}
