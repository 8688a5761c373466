package evaluation

import (
	"errors"
	"fmt"
)

// Kind 评测流水线的错误分类
type Kind int

const (
	KindUnknown Kind = iota
	KindAudioInvalid
	KindConnect
	KindAuth
	KindSend
	KindDecode
	KindTimeout
	KindUpstreamReject
	KindCanceled
	KindState
	KindPipeline
)

func (k Kind) String() string {
	switch k {
	case KindAudioInvalid:
		return "audio_invalid"
	case KindConnect:
		return "connect_failure"
	case KindAuth:
		return "auth_failure"
	case KindSend:
		return "send_failure"
	case KindDecode:
		return "decode_failure"
	case KindTimeout:
		return "timeout"
	case KindUpstreamReject:
		return "upstream_reject"
	case KindCanceled:
		return "canceled"
	case KindState:
		return "invalid_state"
	case KindPipeline:
		return "pipeline_failure"
	default:
		return "unknown"
	}
}

var (
	ErrSessionClosed      = errors.New("session closed")
	ErrInvalidState       = errors.New("invalid session state")
	ErrNoReferenceText    = errors.New("reference text is required")
	ErrCredentialsMissing = errors.New("ise credentials missing")
)

// Error 带分类的错误，Code 为端点返回的非零状态码
type Error struct {
	Kind Kind
	Op   string
	Code int
	Err  error
}

// NewError 创建分类错误
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 与同分类的 *Error 匹配；target 的 Code 非零时还需状态码一致
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == 0 || t.Code == e.Code)
}

// KindOf 提取错误分类，非分类错误返回 KindUnknown
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind 判断错误链中是否包含指定分类
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
