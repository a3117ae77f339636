package domain

type SessionID string
type TargetID string

// ScopeID 网络活动的归属范围（一个被跟踪的页面）
type ScopeID string

// HeaderEntry 有序的请求/响应头条目
type HeaderEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Credentials HTTP 认证凭据
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SecurityDetails TLS 连接信息
type SecurityDetails struct {
	Protocol    string  `json:"protocol"`
	SubjectName string  `json:"subjectName"`
	Issuer      string  `json:"issuer"`
	ValidFrom   float64 `json:"validFrom"`
	ValidTo     float64 `json:"validTo"`
}

// TargetInfo 可附加的目标信息
type TargetInfo struct {
	ID    TargetID `json:"targetId"`
	Type  string   `json:"type"`
	URL   string   `json:"url"`
	Title string   `json:"title"`
}

// ContextOptions 浏览器上下文级别的网络选项，对所有 scope 生效
type ContextOptions struct {
	RequestInterception bool          `json:"requestInterceptionEnabled"`
	Offline             bool          `json:"offline"`
	ExtraHTTPHeaders    []HeaderEntry `json:"extraHTTPHeaders,omitempty"`
	Credentials         *Credentials  `json:"httpCredentials,omitempty"`
}

// Disposition 被拦截请求的处置状态
type Disposition int

const (
	DispositionPending Disposition = iota
	DispositionResumed
	DispositionFulfilled
	DispositionAborted
)

func (d Disposition) String() string {
	switch d {
	case DispositionPending:
		return "pending"
	case DispositionResumed:
		return "resumed"
	case DispositionFulfilled:
		return "fulfilled"
	case DispositionAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// CancelReason 传输层取消原因
type CancelReason string

const (
	ReasonAborted           CancelReason = "ABORTED"
	ReasonAccessDenied      CancelReason = "ACCESS_DENIED"
	ReasonUnknownHost       CancelReason = "UNKNOWN_HOST"
	ReasonFailure           CancelReason = "FAILURE"
	ReasonNetInterrupt      CancelReason = "NET_INTERRUPT"
	ReasonConnectionRefused CancelReason = "CONNECTION_REFUSED"
	ReasonNetReset          CancelReason = "NET_RESET"
	ReasonOffline           CancelReason = "OFFLINE"
	ReasonNetTimeout        CancelReason = "NET_TIMEOUT"
)
