package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode 错误码
type ErrorCode int

const (
	// 0: 成功
	Success ErrorCode = 0

	// 1xxx: 输入/完整性错误
	ErrMalformedManifest   ErrorCode = 1001 // 清单格式错误，不可重试
	ErrHashMismatch        ErrorCode = 1002 // 资源哈希不匹配
	ErrNetwork             ErrorCode = 1003 // 网络错误，可退避重试
	ErrIncompleteUpdate    ErrorCode = 1004 // 资源未全部关联就提交更新
	ErrIllegalTransition   ErrorCode = 1005 // 状态机非法转换
	ErrUnsupportedHashType ErrorCode = 1006 // 不支持的哈希算法
	ErrInvalidParams       ErrorCode = 1007 // 参数错误
	ErrUnauthorized        ErrorCode = 1008 // 未授权

	// 2xxx: 业务错误
	ErrUpdateNotFound      ErrorCode = 2001 // 更新不存在
	ErrUpdateAlreadyExists ErrorCode = 2002 // 更新已存在
	ErrInsufficientStorage ErrorCode = 2003 // 磁盘空间不足
	ErrNoUpdateAvailable   ErrorCode = 2004 // 没有可用更新

	// 5xxx: 内部错误
	ErrInternal      ErrorCode = 5001 // 内部错误
	ErrDatabase      ErrorCode = 5002 // 数据库错误
	ErrFileOperation ErrorCode = 5005 // 文件操作错误
)

// EngineError 更新引擎错误
type EngineError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"` // 详细错误信息（可选）
	Err     error     `json:"-"`
}

// Error 实现error接口
func (e *EngineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回被包装的底层错误
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is 错误码相同即视为同一类错误
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New 创建错误
func New(code ErrorCode, message string) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
	}
}

// NewWithDetails 创建带详细信息的错误
func NewWithDetails(code ErrorCode, message, details string) *EngineError {
	return &EngineError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Wrap 包装标准错误
func Wrap(code ErrorCode, message string, err error) *EngineError {
	e := &EngineError{
		Code:    code,
		Message: message,
		Err:     err,
	}
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// CodeOf 提取错误链上第一个EngineError的错误码，没有则返回ErrInternal
func CodeOf(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *EngineError
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrInternal
}

// IsCode 判断错误链中是否包含指定错误码
func IsCode(err error, code ErrorCode) bool {
	var e *EngineError
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// IsRetryable 只有网络错误允许重试
func IsRetryable(err error) bool {
	return IsCode(err, ErrNetwork)
}

// 预定义的错误
var (
	ErrMalformedManifestMsg   = New(ErrMalformedManifest, "清单格式错误")
	ErrHashMismatchMsg        = New(ErrHashMismatch, "资源哈希不匹配")
	ErrNetworkMsg             = New(ErrNetwork, "网络错误")
	ErrIncompleteUpdateMsg    = New(ErrIncompleteUpdate, "更新资源不完整")
	ErrIllegalTransitionMsg   = New(ErrIllegalTransition, "非法状态转换")
	ErrUnsupportedHashTypeMsg = New(ErrUnsupportedHashType, "不支持的哈希算法")
	ErrInvalidParamsMsg       = New(ErrInvalidParams, "参数错误")
	ErrUnauthorizedMsg        = New(ErrUnauthorized, "未授权")

	ErrUpdateNotFoundMsg      = New(ErrUpdateNotFound, "更新不存在")
	ErrUpdateAlreadyExistsMsg = New(ErrUpdateAlreadyExists, "更新已存在")
	ErrInsufficientStorageMsg = New(ErrInsufficientStorage, "磁盘空间不足")
	ErrNoUpdateAvailableMsg   = New(ErrNoUpdateAvailable, "没有可用更新")

	ErrInternalMsg      = New(ErrInternal, "内部错误")
	ErrDatabaseMsg      = New(ErrDatabase, "数据库错误")
	ErrFileOperationMsg = New(ErrFileOperation, "文件操作错误")
)

// HTTPStatus 获取HTTP状态码
func (e *EngineError) HTTPStatus() int {
	switch {
	case e.Code >= 1000 && e.Code < 2000:
		switch e.Code {
		case ErrUnauthorized:
			return 401
		case ErrIllegalTransition:
			return 409
		case ErrNetwork:
			return 502
		case ErrHashMismatch, ErrMalformedManifest:
			return 422
		default:
			return 400
		}
	case e.Code >= 2000 && e.Code < 3000:
		switch e.Code {
		case ErrUpdateNotFound, ErrNoUpdateAvailable:
			return 404
		case ErrUpdateAlreadyExists:
			return 409
		case ErrInsufficientStorage:
			return 507
		default:
			return 400
		}
	default:
		return 500
	}
}
