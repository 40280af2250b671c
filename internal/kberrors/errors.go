package kberrors

import (
	"errors"
	"fmt"
)

// Code 错误码类型
type Code string

// 引擎错误码
const (
	// CodeInvalidConfig 配置内部不一致（调用方Bug，不重试）
	CodeInvalidConfig Code = "INVALID_CONFIG"
	// CodeEmbeddingUnavailable 向量化服务不可用（瞬时，片段级重试）
	CodeEmbeddingUnavailable Code = "EMBEDDING_UNAVAILABLE"
	// CodeVectorStoreUnavailable 向量库不可用（瞬时，片段级重试）
	CodeVectorStoreUnavailable Code = "VECTOR_STORE_UNAVAILABLE"
	// CodePersistenceConflict 行锁竞争（调用侧带退避重试）
	CodePersistenceConflict Code = "PERSISTENCE_CONFLICT"
	// CodeNotFound 知识库/文档不存在（批处理跳过，单条返回）
	CodeNotFound Code = "NOT_FOUND"
)

// EngineError 引擎错误结构体
type EngineError struct {
	Code    Code
	Message string
	Cause   error
}

// Error 实现error接口
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，支持errors.Is比较
func (e *EngineError) Is(target error) bool {
	var other *EngineError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// 错误构造函数

// NewInvalidConfig 创建配置错误
func NewInvalidConfig(format string, args ...interface{}) *EngineError {
	return &EngineError{Code: CodeInvalidConfig, Message: fmt.Sprintf(format, args...)}
}

// NewEmbeddingUnavailable 创建向量化不可用错误
func NewEmbeddingUnavailable(cause error) *EngineError {
	return &EngineError{Code: CodeEmbeddingUnavailable, Message: "embedding provider unavailable", Cause: cause}
}

// NewVectorStoreUnavailable 创建向量库不可用错误
func NewVectorStoreUnavailable(cause error) *EngineError {
	return &EngineError{Code: CodeVectorStoreUnavailable, Message: "vector store unavailable", Cause: cause}
}

// NewPersistenceConflict 创建持久化冲突错误
func NewPersistenceConflict(cause error) *EngineError {
	return &EngineError{Code: CodePersistenceConflict, Message: "row contention", Cause: cause}
}

// NewNotFound 创建资源未找到错误
func NewNotFound(resource, key string) *EngineError {
	return &EngineError{Code: CodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, key)}
}

// CodeOf 提取错误码，非EngineError返回空
func CodeOf(err error) Code {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode 检查错误是否携带指定错误码
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsRetryable 判断错误是否可在下次同步时重试
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeEmbeddingUnavailable, CodeVectorStoreUnavailable, CodePersistenceConflict:
		return true
	}
	return false
}
