package domain

// 协议事件名
const (
	EventRequestWillBeSent  = "Network.requestWillBeSent"
	EventResponseReceived   = "Network.responseReceived"
	EventRequestFinished    = "Network.requestFinished"
	EventRequestFailed      = "Network.requestFailed"
	EventDetachedFromTarget = "Browser.detachedFromTarget"
)

// RequestWillBeSent 请求发出事件
type RequestWillBeSent struct {
	RequestID      string        `json:"requestId"`
	FrameID        string        `json:"frameId,omitempty"`
	URL            string        `json:"url"`
	Method         string        `json:"method"`
	Headers        []HeaderEntry `json:"headers"`
	PostData       *string       `json:"postData,omitempty"`
	IsIntercepted  bool          `json:"isIntercepted"`
	RedirectedFrom string        `json:"redirectedFrom,omitempty"`
	NavigationID   string        `json:"navigationId,omitempty"`
	Cause          string        `json:"cause"`

	// AttemptID 产生该事件的物理请求标识，仅用于附加信息查询
	AttemptID string `json:"-"`
}

// ResponseReceived 响应头到达事件
type ResponseReceived struct {
	RequestID       string           `json:"requestId"`
	Status          int              `json:"status"`
	StatusText      string           `json:"statusText"`
	Headers         []HeaderEntry    `json:"headers"`
	FromCache       bool             `json:"fromCache"`
	SecurityDetails *SecurityDetails `json:"securityDetails,omitempty"`
	RemoteIPAddress string           `json:"remoteIPAddress,omitempty"`
	RemotePort      int              `json:"remotePort,omitempty"`
}

// RequestFinished 请求完成事件
type RequestFinished struct {
	RequestID string `json:"requestId"`
}

// RequestFailed 请求失败事件
type RequestFailed struct {
	RequestID string `json:"requestId"`
	ErrorCode string `json:"errorCode"`
}
