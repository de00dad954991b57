// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 核心错误类型：本地变更操作只会产生前三种
	ErrorTypeNotFound    ErrorType = "not_found"             // 引用的ID在当前项目中不存在
	ErrorTypeInvalidOp   ErrorType = "invalid_operation"     // 操作格式正确但会破坏结构不变量
	ErrorTypeUnsupported ErrorType = "unsupported_operation" // 无法识别的意图类型
	ErrorTypeValidation  ErrorType = "validation_error"

	// 外部协作者错误（网络/提供商失败、内容安全拦截、上游响应格式错误）
	ErrorTypeExternal ErrorType = "external_collaborator"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码

	// 仅对外部协作者错误有意义：true 表示瞬时失败，调用方可以重试；
	// false 表示校验/安全类拒绝，重试不会改变结果
	Retryable bool
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewInvalidOperationError 创建非法操作错误
func NewInvalidOperationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeInvalidOp, message, originalError)
}

// NewUnsupportedOperationError 创建不支持的操作错误
func NewUnsupportedOperationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeUnsupported, message, originalError)
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewExternalError 创建外部协作者错误，retryable 区分瞬时失败与安全/校验类拒绝
func NewExternalError(message string, originalError error, retryable bool) *AppError {
	appErr := NewAppError(ErrorTypeExternal, message, originalError)
	appErr.Retryable = retryable
	return appErr
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeNotFound
	}
	return false
}

// IsInvalidOperationError 检查是否为非法操作错误
func IsInvalidOperationError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeInvalidOp
	}
	return false
}

// IsUnsupportedOperationError 检查是否为不支持的操作错误
func IsUnsupportedOperationError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeUnsupported
	}
	return false
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeValidation
	}
	return false
}

// IsExternalError 检查是否为外部协作者错误
func IsExternalError(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeExternal
	}
	return false
}

// IsRetryable 判断错误是否可以安全重试（仅外部错误可能为真）
func IsRetryable(err error) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == ErrorTypeExternal && appError.Retryable
	}
	return false
}

// KindOf 返回错误的规范类型名，未知错误归类为 external_collaborator
func KindOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ErrorTypeExternal
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeInvalidOp:
		return "INVALID_OPERATION"
	case ErrorTypeUnsupported:
		return "UNSUPPORTED_OPERATION"
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeExternal:
		return "EXTERNAL_COLLABORATOR_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:      appError.Type,
			Message:   fmt.Sprintf("%s: %s", message, appError.Message),
			Err:       appError,
			Code:      appError.Code,
			Retryable: appError.Retryable,
		}
	}

	// 否则创建新的 AppError
	return NewAppError(errType, message, err)
}
