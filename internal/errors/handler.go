package errors

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器，负责日志记录与统计
type ErrorHandler struct {
	logger    *logrus.Logger
	stats     *ErrorStats
	mu        sync.RWMutex
	callbacks []ErrorCallback
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *AuditError)

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		stats:     NewErrorStats(),
		callbacks: make([]ErrorCallback, 0),
	}
}

// HandleError 处理错误：转换、记录、按严重级别写日志并执行回调
func (eh *ErrorHandler) HandleError(err error) *AuditError {
	if err == nil {
		return nil
	}

	auditErr, ok := As(err)
	if !ok {
		auditErr = WrapError(err, ErrorTypeConnectivity, SeverityMedium, CodeUnknown, "未知错误")
	}

	eh.mu.Lock()
	eh.stats.RecordError(auditErr)
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.Unlock()

	eh.log(auditErr)

	for _, cb := range callbacks {
		eh.runCallback(cb, auditErr)
	}

	return auditErr
}

// log 根据严重级别选择日志级别
func (eh *ErrorHandler) log(err *AuditError) {
	fields := logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
	}
	if err.Component != "" {
		fields["component"] = err.Component
	}
	if err.BlockNumber != nil {
		fields["block_number"] = *err.BlockNumber
	}
	if err.TxHash != nil {
		fields["tx_hash"] = *err.TxHash
	}
	for k, v := range err.Context {
		fields[k] = v
	}
	entry := eh.logger.WithFields(fields)
	if err.Cause != nil {
		entry = entry.WithError(err.Cause)
	}

	switch err.Severity {
	case SeverityLow:
		entry.Debug(err.Message)
	case SeverityMedium:
		entry.Warn(err.Message)
	default:
		// 致命错误也只记录，由调用方决定退出
		entry.Error(err.Message)
	}
}

// runCallback 执行回调并隔离panic
func (eh *ErrorHandler) runCallback(cb ErrorCallback, err *AuditError) {
	defer func() {
		if r := recover(); r != nil {
			eh.logger.Errorf("错误回调执行时发生panic: %v", r)
		}
	}()
	cb(err)
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// GetStats 获取错误统计信息的快照
func (eh *ErrorHandler) GetStats() ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()

	snapshot := ErrorStats{
		TotalErrors:       eh.stats.TotalErrors,
		ErrorsByType:      make(map[string]int, len(eh.stats.ErrorsByType)),
		ErrorsBySeverity:  make(map[string]int, len(eh.stats.ErrorsBySeverity)),
		ErrorsByComponent: make(map[string]int, len(eh.stats.ErrorsByComponent)),
		RecentErrors:      append([]*AuditError(nil), eh.stats.RecentErrors...),
		LastError:         eh.stats.LastError,
		LastErrorTime:     eh.stats.LastErrorTime,
	}
	for k, v := range eh.stats.ErrorsByType {
		snapshot.ErrorsByType[k] = v
	}
	for k, v := range eh.stats.ErrorsBySeverity {
		snapshot.ErrorsBySeverity[k] = v
	}
	for k, v := range eh.stats.ErrorsByComponent {
		snapshot.ErrorsByComponent[k] = v
	}
	return snapshot
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}
