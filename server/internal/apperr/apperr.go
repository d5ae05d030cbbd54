// Package apperr 定义稳定的错误分类。对外接口按 Code 映射 HTTP 状态码，
// 内部各层用 errors.As/Is 判断分类，不解析错误消息文本。
package apperr

import (
	"errors"
	"fmt"
)

// Code 是稳定的错误码，进入 API 响应体，改了会破坏客户端。
type Code string

const (
	CodeValidation Code = "validation_error"
	CodeConflict   Code = "conflict_error"
	CodePermission Code = "permission_error"
	CodeNotFound   Code = "not_found_error"
)

// Error 是带稳定错误码的结构化错误。
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Validationf 构造一个 validation_error。
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflictf 构造一个 conflict_error。
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Permissionf 构造一个 permission_error。
func Permissionf(format string, args ...any) *Error {
	return &Error{Code: CodePermission, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf 构造一个 not_found_error。
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// CodeOf 返回错误的分类码；不是 *Error（比如存储层 I/O 错误）时返回空串，
// 让调用方按内部错误处理。
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is 判断错误是否属于某个分类。
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
