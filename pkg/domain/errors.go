package domain

import "fmt"

// ErrorCode 协议层可见的错误分类
type ErrorCode string

const (
	CodeRequestNotFound        ErrorCode = "RequestNotFound"
	CodeAlreadyIntercepted     ErrorCode = "AlreadyIntercepted"
	CodeInterceptionNotEnabled ErrorCode = "InterceptionNotEnabled"
	CodeResponseNotTracked     ErrorCode = "ResponseNotTracked"
	CodeTransportCancelled     ErrorCode = "TransportCancelled"
	CodeInvalidParams          ErrorCode = "InvalidParams"
	CodeMethodNotFound         ErrorCode = "MethodNotFound"
	CodeSessionNotFound        ErrorCode = "SessionNotFound"
)

// Error 结构化错误，按 Code 与哨兵错误比较
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is 支持 errors.Is 按错误码匹配
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrRequestNotFound        = &Error{Code: CodeRequestNotFound, Message: "request not found"}
	ErrAlreadyIntercepted     = &Error{Code: CodeAlreadyIntercepted, Message: "request is already intercepted"}
	ErrInterceptionNotEnabled = &Error{Code: CodeInterceptionNotEnabled, Message: "request interception is not enabled"}
	ErrResponseNotTracked     = &Error{Code: CodeResponseNotTracked, Message: "responses are not tracked for the given scope"}
	ErrTransportCancelled     = &Error{Code: CodeTransportCancelled, Message: "transport cancelled the request"}
)

// Errorf 创建带错误码的错误
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
