package autolabel

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind int

const (
	KindInput              Kind = iota + 1 // 图片缺失/无法读取/无法解码
	KindBackendUnavailable                 // 远程服务不可达或本地模型加载失败
	KindBackendProtocol                    // 远程返回非 2xx / 响应体异常, 或本地输出张量形状异常
	KindExecution                          // 本地推理执行失败
	KindUnsupported                        // 当前构建不支持该后端
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input error"
	case KindBackendUnavailable:
		return "backend unavailable"
	case KindBackendProtocol:
		return "backend protocol error"
	case KindExecution:
		return "execution error"
	case KindUnsupported:
		return "unsupported backend"
	default:
		return "unknown error"
	}
}

// 与 errors.Is 配合使用的哨兵错误, 只比较 Kind
var (
	ErrInput              = &Error{Kind: KindInput}
	ErrBackendUnavailable = &Error{Kind: KindBackendUnavailable}
	ErrBackendProtocol    = &Error{Kind: KindBackendProtocol}
	ErrExecution          = &Error{Kind: KindExecution}
	ErrUnsupported        = &Error{Kind: KindUnsupported}
)

// Error 带类别和阶段信息的错误
type Error struct {
	Kind  Kind
	Stage string // 出错阶段, 例如 "load image", "run"
	Err   error
}

// NewError 包装 err
func NewError(kind Kind, stage string, err error) error {
	return &Error{Kind: kind, Stage: stage, Err: err}
}

// Errorf 使用格式化消息创建错误
func Errorf(kind Kind, stage, format string, args ...any) error {
	return &Error{Kind: kind, Stage: stage, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Kind.String()
	case e.Stage == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Stage, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 哨兵 (Err 为空) 按 Kind 匹配, 否则要求 Kind 与 Stage 都相同
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Err == nil {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Stage == t.Stage && errors.Is(e.Err, t.Err)
}

// KindOf 返回错误链上第一个 *Error 的类别, 没有时返回 0
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// StatusError 远程服务返回的非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}
