// Package cdp 在 Chrome DevTools 协议类型与中立的 traffic 模型之间转换。
package cdp

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

// causes 资源类型到请求来源类型的映射，未列出的类型记为 TYPE_OTHER
var causes = map[network.ResourceType]string{
	network.ResourceTypeDocument:           "TYPE_DOCUMENT",
	network.ResourceTypeStylesheet:         "TYPE_STYLESHEET",
	network.ResourceTypeImage:              "TYPE_IMAGE",
	network.ResourceTypeMedia:              "TYPE_MEDIA",
	network.ResourceTypeFont:               "TYPE_FONT",
	network.ResourceTypeScript:             "TYPE_SCRIPT",
	network.ResourceTypeXHR:                "TYPE_XMLHTTPREQUEST",
	network.ResourceTypeFetch:              "TYPE_FETCH",
	network.ResourceTypeWebSocket:          "TYPE_WEBSOCKET",
	network.ResourceTypeManifest:           "TYPE_WEB_MANIFEST",
	network.ResourceTypePing:               "TYPE_PING",
	network.ResourceTypeCSPViolationReport: "TYPE_CSP_REPORT",
}

// CauseFor 返回资源类型对应的来源类型；子 frame 的文档记为 TYPE_SUBDOCUMENT
func CauseFor(rt network.ResourceType, mainFrame bool) string {
	if rt == network.ResourceTypeDocument && !mainFrame {
		return "TYPE_SUBDOCUMENT"
	}
	if c, ok := causes[rt]; ok {
		return c
	}
	return "TYPE_OTHER"
}

// RequestInfo 构造 Attempt 所需的请求上下文
type RequestInfo struct {
	ID           string
	Scope        domain.ScopeID
	TargetFrame  string // 目标主 frame 的 ID，与目标 ID 相同
	FrameID      string
	ResourceType network.ResourceType
}

// ToAttempt 将 CDP 请求转换为中立的物理请求
func ToAttempt(req network.Request, info RequestInfo) *traffic.Attempt {
	a := traffic.NewAttempt(info.ID, info.Scope)
	a.URL = req.URL
	if req.Method != "" {
		a.Method = req.Method
	}
	a.Headers = ToHeaders(req.Headers)
	if req.PostData != nil {
		a.PostData = []byte(*req.PostData)
	}
	mainFrame := info.FrameID == "" || info.FrameID == info.TargetFrame
	a.Cause = CauseFor(info.ResourceType, mainFrame)
	a.IsMainDocument = info.ResourceType == network.ResourceTypeDocument && mainFrame
	return a
}

// ToHeaders 解析 CDP 头部对象，按名称排序保证顺序稳定；解析失败时返回空列表
func ToHeaders(raw network.Headers) traffic.Headers {
	if len(raw) == 0 {
		return traffic.Headers{}
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return traffic.Headers{}
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make(traffic.Headers, 0, len(names))
	for _, name := range names {
		// CDP 将同名多值头部以换行连接
		for _, v := range strings.Split(m[name], "\n") {
			out = append(out, domain.HeaderEntry{Name: name, Value: v})
		}
	}
	return out
}

// ToResponse 将 CDP 响应转换为中立模型
func ToResponse(r network.Response) *traffic.Response {
	res := traffic.NewResponse()
	res.Status = r.Status
	res.StatusText = r.StatusText
	res.Headers = ToHeaders(r.Headers)
	if r.RemoteIPAddress != nil {
		res.RemoteIPAddress = *r.RemoteIPAddress
	}
	if r.RemotePort != nil {
		res.RemotePort = *r.RemotePort
	}
	if sd := r.SecurityDetails; sd != nil {
		res.SecurityDetails = &domain.SecurityDetails{
			Protocol:    sd.Protocol,
			SubjectName: sd.SubjectName,
			Issuer:      sd.Issuer,
			ValidFrom:   float64(sd.ValidFrom),
			ValidTo:     float64(sd.ValidTo),
		}
	}
	return res
}

// ResponseKind 区分网络响应、缓存命中与预取缓存合并
func ResponseKind(r network.Response, servedFromCache bool) traffic.Kind {
	switch {
	case servedFromCache || (r.FromDiskCache != nil && *r.FromDiskCache):
		return traffic.KindCachedResponse
	case r.FromPrefetchCache != nil && *r.FromPrefetchCache:
		return traffic.KindMergedResponse
	default:
		return traffic.KindResponse
	}
}

// IsInternalRedirect 浏览器内部产生的重定向（如 HSTS 升级）带有 Non-Authoritative-Reason 头
func IsInternalRedirect(r *network.Response) bool {
	if r == nil {
		return false
	}
	return ToHeaders(r.Headers).Get("Non-Authoritative-Reason") != ""
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目
func ToHeaderEntries(h traffic.Headers) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, e := range h {
		entries = append(entries, fetch.HeaderEntry{Name: e.Name, Value: e.Value})
	}
	return entries
}

// errorReasons 取消原因到 CDP 网络错误的映射
var errorReasons = map[domain.CancelReason]network.ErrorReason{
	domain.ReasonAborted:           network.ErrorReasonAborted,
	domain.ReasonAccessDenied:      network.ErrorReasonAccessDenied,
	domain.ReasonUnknownHost:       network.ErrorReasonNameNotResolved,
	domain.ReasonFailure:           network.ErrorReasonFailed,
	domain.ReasonNetInterrupt:      network.ErrorReasonConnectionAborted,
	domain.ReasonConnectionRefused: network.ErrorReasonConnectionRefused,
	domain.ReasonNetReset:          network.ErrorReasonConnectionReset,
	domain.ReasonOffline:           network.ErrorReasonInternetDisconnected,
	domain.ReasonNetTimeout:        network.ErrorReasonTimedOut,
}

// ErrorReasonFor 返回取消原因对应的 CDP 错误，未知原因记为 Failed
func ErrorReasonFor(reason domain.CancelReason) network.ErrorReason {
	if r, ok := errorReasons[reason]; ok {
		return r
	}
	return network.ErrorReasonFailed
}

// AuthResponse 构造认证质询的回答；creds 为 nil 时按 fallback 回答
func AuthResponse(creds *domain.Credentials, fallback string) fetch.AuthChallengeResponse {
	if creds == nil {
		return fetch.AuthChallengeResponse{Response: fallback}
	}
	username, password := creds.Username, creds.Password
	return fetch.AuthChallengeResponse{
		Response: "ProvideCredentials",
		Username: &username,
		Password: &password,
	}
}
