package traffic

// Kind 传输层通知类型
type Kind int

const (
	// KindRequest 请求即将发出（可在此暂停）
	KindRequest Kind = iota + 1
	// KindRedirect 物理请求被替换，Attempt 为旧请求，Next 为新请求
	KindRedirect
	// KindResponse 网络响应头到达
	KindResponse
	// KindCachedResponse 缓存命中的响应头
	KindCachedResponse
	// KindMergedResponse 与缓存合并后的响应头
	KindMergedResponse
	// KindBodyComplete 响应体读取完成
	KindBodyComplete
	// KindTransactionClose 传输事务关闭
	KindTransactionClose
	// KindFailed 传输层失败
	KindFailed
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindRedirect:
		return "redirect"
	case KindResponse:
		return "response"
	case KindCachedResponse:
		return "cached-response"
	case KindMergedResponse:
		return "merged-response"
	case KindBodyComplete:
		return "body-complete"
	case KindTransactionClose:
		return "transaction-close"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Notification 边界适配器产生的通知，按 Kind 决定有效字段。
// 未失败的物理请求以 KindTransactionClose 结束，失败的以 KindFailed 结束，
// KindBodyComplete 若出现则位于 KindTransactionClose 之前。
type Notification struct {
	Kind    Kind
	Attempt *Attempt

	// KindRedirect
	Next     *Attempt
	Internal bool

	// KindResponse / KindCachedResponse / KindMergedResponse
	Response *Response

	// KindBodyComplete
	Body      []byte
	Encodings []string

	// KindFailed
	ErrorText string
}
