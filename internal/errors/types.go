package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 启动阶段错误
	ErrorTypeConfiguration ErrorType = iota
	ErrorTypeConnectivity

	// 升级检测错误
	ErrorTypeReceiptNotFound
	ErrorTypeInvalidBlockHeight
	ErrorTypeNotAContract
	ErrorTypeUnexpectedZeroImplementation
	ErrorTypeMalformedStorageWord

	// 输入与外围组件错误
	ErrorTypeValidation
	ErrorTypeNotAPool
	ErrorTypeOutput
	ErrorTypeStorage
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// 错误码
const (
	CodeConfigInvalid        = "CONFIG_INVALID"
	CodeConnectionFailed     = "CONNECTION_FAILED"
	CodeReceiptNotFound      = "RECEIPT_NOT_FOUND"
	CodeInvalidBlockHeight   = "INVALID_BLOCK_HEIGHT"
	CodeProxyNoCode          = "PROXY_NO_CODE"
	CodeImplementationNoCode = "IMPLEMENTATION_NO_CODE"
	CodeZeroImplementation   = "ZERO_IMPLEMENTATION"
	CodeMalformedStorageWord = "MALFORMED_STORAGE_WORD"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeNotAPool             = "NOT_A_POOL"
	CodePairNoCode           = "PAIR_NO_CODE"
	CodeOutputFailed         = "OUTPUT_FAILED"
	CodeJournalFailed        = "JOURNAL_FAILED"
	CodeUnknown              = "UNKNOWN_ERROR"
)

// AuditError 审计过程中的错误
type AuditError struct {
	Type        ErrorType              `json:"type"`
	Severity    ErrorSeverity          `json:"severity"`
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Timestamp   time.Time              `json:"timestamp"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Cause       error                  `json:"-"`
	Component   string                 `json:"component,omitempty"`
	BlockNumber *uint64                `json:"block_number,omitempty"`
	TxHash      *string                `json:"tx_hash,omitempty"`
}

// Error 实现error接口
func (e *AuditError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *AuditError) Unwrap() error {
	return e.Cause
}

// WithContext 添加上下文信息
func (e *AuditError) WithContext(key string, value interface{}) *AuditError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithBlockNumber 添加区块号
func (e *AuditError) WithBlockNumber(blockNumber uint64) *AuditError {
	e.BlockNumber = &blockNumber
	return e
}

// WithTxHash 添加交易哈希
func (e *AuditError) WithTxHash(txHash string) *AuditError {
	e.TxHash = &txHash
	return e
}

// WithComponent 设置出错组件
func (e *AuditError) WithComponent(component string) *AuditError {
	e.Component = component
	return e
}

// NewAuditError 创建新的错误
func NewAuditError(errorType ErrorType, severity ErrorSeverity, code, message string) *AuditError {
	return &AuditError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *AuditError {
	e := NewAuditError(errorType, severity, code, message)
	e.Cause = err
	return e
}

// As 从错误链中提取AuditError
func As(err error) (*AuditError, bool) {
	var auditErr *AuditError
	if stderrors.As(err, &auditErr) {
		return auditErr, true
	}
	return nil, false
}

// IsType 判断错误链中是否包含指定类型的AuditError
func IsType(err error, errorType ErrorType) bool {
	auditErr, ok := As(err)
	return ok && auditErr.Type == errorType
}

// HasCode 判断错误链中是否包含指定错误码
func HasCode(err error, code string) bool {
	auditErr, ok := As(err)
	return ok && auditErr.Code == code
}

// NewConfigurationError 配置缺失或无效
func NewConfigurationError(message string, cause error) *AuditError {
	return WrapError(cause, ErrorTypeConfiguration, SeverityCritical, CodeConfigInvalid, message)
}

// NewConnectivityError 节点不可达或RPC调用失败
func NewConnectivityError(message string, cause error) *AuditError {
	return WrapError(cause, ErrorTypeConnectivity, SeverityHigh, CodeConnectionFailed, message)
}

// NewReceiptNotFound 交易收据不存在
func NewReceiptNotFound(txHash string, cause error) *AuditError {
	return WrapError(cause, ErrorTypeReceiptNotFound, SeverityHigh, CodeReceiptNotFound,
		fmt.Sprintf("未找到交易收据: %s", txHash)).WithTxHash(txHash)
}

// NewInvalidBlockHeight 区块高度无法进行前后对比
func NewInvalidBlockHeight(txHash string, height int64) *AuditError {
	return NewAuditError(ErrorTypeInvalidBlockHeight, SeverityHigh, CodeInvalidBlockHeight,
		fmt.Sprintf("交易所在区块高度无效: %d (需要至少为1才能读取前一区块状态)", height)).
		WithTxHash(txHash).
		WithContext("height", height)
}

// NewProxyNotAContract 代理地址没有部署代码
func NewProxyNotAContract(address string) *AuditError {
	return NewAuditError(ErrorTypeNotAContract, SeverityHigh, CodeProxyNoCode,
		fmt.Sprintf("代理地址没有合约代码: %s", address)).
		WithContext("address", address)
}

// NewImplementationHasNoCode 新实现地址没有部署代码
func NewImplementationHasNoCode(address string, height uint64) *AuditError {
	return NewAuditError(ErrorTypeNotAContract, SeverityCritical, CodeImplementationNoCode,
		fmt.Sprintf("新实现地址在区块 %d 没有合约代码: %s", height, address)).
		WithBlockNumber(height).
		WithContext("address", address)
}

// NewUnexpectedZeroImplementation 实现槽被改写为零地址
func NewUnexpectedZeroImplementation(proxy string, height uint64) *AuditError {
	return NewAuditError(ErrorTypeUnexpectedZeroImplementation, SeverityCritical, CodeZeroImplementation,
		fmt.Sprintf("代理 %s 的实现槽在区块 %d 被改写为零地址", proxy, height)).
		WithBlockNumber(height).
		WithContext("proxy", proxy)
}

// NewMalformedStorageWord 存储字长度不是0或32字节
func NewMalformedStorageWord(length int) *AuditError {
	return NewAuditError(ErrorTypeMalformedStorageWord, SeverityCritical, CodeMalformedStorageWord,
		fmt.Sprintf("存储字长度异常: %d 字节 (只接受0或32字节)", length)).
		WithContext("length", length)
}

// NewValidationError 输入参数无效
func NewValidationError(message string) *AuditError {
	return NewAuditError(ErrorTypeValidation, SeverityMedium, CodeInvalidInput, message)
}

// NewPairNotAContract 交易对地址没有部署代码
func NewPairNotAContract(address string) *AuditError {
	return NewAuditError(ErrorTypeNotAContract, SeverityMedium, CodePairNoCode,
		fmt.Sprintf("交易对地址没有合约代码: %s", address)).
		WithContext("address", address)
}

// NewNotAPool 地址不像一个交易对合约
func NewNotAPool(address string, cause error) *AuditError {
	return WrapError(cause, ErrorTypeNotAPool, SeverityMedium, CodeNotAPool,
		fmt.Sprintf("%s 不是UniswapV2交易对合约", address)).
		WithContext("address", address)
}

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeConfiguration:                "Configuration",
	ErrorTypeConnectivity:                 "Connectivity",
	ErrorTypeReceiptNotFound:              "ReceiptNotFound",
	ErrorTypeInvalidBlockHeight:           "InvalidBlockHeight",
	ErrorTypeNotAContract:                 "NotAContract",
	ErrorTypeUnexpectedZeroImplementation: "UnexpectedZeroImplementation",
	ErrorTypeMalformedStorageWord:         "MalformedStorageWord",
	ErrorTypeValidation:                   "Validation",
	ErrorTypeNotAPool:                     "NotAPool",
	ErrorTypeOutput:                       "Output",
	ErrorTypeStorage:                      "Storage",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int            `json:"total_errors"`
	ErrorsByType      map[string]int `json:"errors_by_type"`
	ErrorsBySeverity  map[string]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int `json:"errors_by_component"`
	RecentErrors      []*AuditError  `json:"recent_errors"`
	LastError         *AuditError    `json:"last_error"`
	LastErrorTime     time.Time      `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[string]int),
		ErrorsBySeverity:  make(map[string]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*AuditError, 0),
	}
}

// maxRecentErrors 保留的最近错误数量
const maxRecentErrors = 100

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *AuditError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type.String()]++
	es.ErrorsBySeverity[err.Severity.String()]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > maxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	return float64(recentCount) / duration.Hours()
}
