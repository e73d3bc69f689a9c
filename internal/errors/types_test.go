package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuditError(t *testing.T) {
	err := NewAuditError(ErrorTypeConnectivity, SeverityHigh, "TEST_ERROR", "测试错误")

	assert.NotNil(t, err)
	assert.Equal(t, ErrorTypeConnectivity, err.Type)
	assert.Equal(t, SeverityHigh, err.Severity)
	assert.Equal(t, "TEST_ERROR", err.Code)
	assert.Equal(t, "测试错误", err.Message)
	assert.False(t, err.Timestamp.IsZero())
	assert.Nil(t, err.Unwrap())
}

func TestAuditError_Error(t *testing.T) {
	// 测试没有原因的错误
	err := NewAuditError(ErrorTypeValidation, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息", err.Error())

	// 测试有原因的错误
	originalErr := stderrors.New("原始错误")
	wrappedErr := WrapError(originalErr, ErrorTypeValidation, SeverityLow, "TEST_CODE", "测试消息")
	assert.Equal(t, "[TEST_CODE] 测试消息: 原始错误", wrappedErr.Error())
	assert.Equal(t, originalErr, wrappedErr.Unwrap())
}

func TestAuditError_Builders(t *testing.T) {
	err := NewAuditError(ErrorTypeNotAContract, SeverityMedium, "X", "x").
		WithContext("node", "primary").
		WithBlockNumber(17000000).
		WithTxHash("0xabc").
		WithComponent("detector")

	assert.Equal(t, "primary", err.Context["node"])
	require.NotNil(t, err.BlockNumber)
	assert.Equal(t, uint64(17000000), *err.BlockNumber)
	require.NotNil(t, err.TxHash)
	assert.Equal(t, "0xabc", *err.TxHash)
	assert.Equal(t, "detector", err.Component)
}

func TestAsAndIsType_ThroughWrapping(t *testing.T) {
	base := NewReceiptNotFound("0x01", nil)
	wrapped := fmt.Errorf("解析区块失败: %w", base)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, base, got)
	assert.True(t, IsType(wrapped, ErrorTypeReceiptNotFound))
	assert.False(t, IsType(wrapped, ErrorTypeConnectivity))
	assert.True(t, HasCode(wrapped, CodeReceiptNotFound))

	_, ok = As(stderrors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsType(nil, ErrorTypeValidation))
}

func TestKindConstructors_DistinctMessages(t *testing.T) {
	errs := []*AuditError{
		NewConfigurationError("缺少ETH_RPC_URL", nil),
		NewConnectivityError("节点不可达", stderrors.New("dial tcp")),
		NewReceiptNotFound("0x01", nil),
		NewInvalidBlockHeight("0x01", 0),
		NewProxyNotAContract("0x01"),
		NewImplementationHasNoCode("0x02", 10),
		NewUnexpectedZeroImplementation("0x01", 10),
		NewMalformedStorageWord(31),
		NewValidationError("参数错误"),
		NewNotAPool("0x03", nil),
	}

	seenCodes := make(map[string]bool)
	seenMessages := make(map[string]bool)
	for _, err := range errs {
		assert.False(t, seenCodes[err.Code], "重复的错误码: %s", err.Code)
		assert.False(t, seenMessages[err.Message], "重复的错误消息: %s", err.Message)
		seenCodes[err.Code] = true
		seenMessages[err.Message] = true
	}

	assert.Equal(t, ErrorTypeNotAContract, NewImplementationHasNoCode("0x02", 10).Type)
	assert.Equal(t, ErrorTypeNotAContract, NewProxyNotAContract("0x01").Type)
	assert.Equal(t, int64(0), NewInvalidBlockHeight("0x01", 0).Context["height"])
}

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		expected  string
	}{
		{ErrorTypeConfiguration, "Configuration"},
		{ErrorTypeConnectivity, "Connectivity"},
		{ErrorTypeReceiptNotFound, "ReceiptNotFound"},
		{ErrorTypeInvalidBlockHeight, "InvalidBlockHeight"},
		{ErrorTypeUnexpectedZeroImplementation, "UnexpectedZeroImplementation"},
		{ErrorTypeMalformedStorageWord, "MalformedStorageWord"},
		{ErrorType(999), "Unknown(999)"}, // 未知类型
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.errorType.String())
	}
}

func TestErrorSeverity_String(t *testing.T) {
	assert.Equal(t, "Low", SeverityLow.String())
	assert.Equal(t, "Critical", SeverityCritical.String())
	assert.Equal(t, "Unknown(999)", ErrorSeverity(999).String())
}

func TestErrorStats_RecordError(t *testing.T) {
	stats := NewErrorStats()

	err1 := NewConnectivityError("网络错误", nil).WithComponent("gateway")
	err2 := NewReceiptNotFound("0x01", nil).WithComponent("detector")
	err3 := NewConnectivityError("网络超时", nil).WithComponent("gateway")

	stats.RecordError(err1)
	stats.RecordError(err2)
	stats.RecordError(err3)

	assert.Equal(t, 3, stats.TotalErrors)
	assert.Equal(t, 2, stats.ErrorsByType["Connectivity"])
	assert.Equal(t, 1, stats.ErrorsByType["ReceiptNotFound"])
	assert.Equal(t, 3, stats.ErrorsBySeverity["High"])
	assert.Equal(t, 2, stats.ErrorsByComponent["gateway"])
	assert.Equal(t, err3, stats.LastError)
	assert.Len(t, stats.RecentErrors, 3)
}

func TestErrorStats_RecentErrorsLimit(t *testing.T) {
	stats := NewErrorStats()

	// 添加超过100个错误
	for i := 0; i < 150; i++ {
		stats.RecordError(NewValidationError("测试错误"))
	}

	assert.Equal(t, 150, stats.TotalErrors)
	assert.Len(t, stats.RecentErrors, 100)
}

func TestErrorStats_GetErrorRate(t *testing.T) {
	stats := NewErrorStats()
	now := time.Now()

	// 过去1小时内每5分钟一个错误
	for i := 0; i < 10; i++ {
		err := NewValidationError("测试错误")
		err.Timestamp = now.Add(-time.Duration(i*5) * time.Minute)
		stats.RecentErrors = append(stats.RecentErrors, err)
	}
	// 超过1小时的错误
	for i := 0; i < 5; i++ {
		err := NewValidationError("旧错误")
		err.Timestamp = now.Add(-time.Duration(70+i*10) * time.Minute)
		stats.RecentErrors = append(stats.RecentErrors, err)
	}

	assert.Equal(t, 10.0, stats.GetErrorRate(time.Hour))
	assert.Equal(t, 0.0, stats.GetErrorRate(0))
	assert.Equal(t, 12.0, stats.GetErrorRate(30*time.Minute))
}

func TestErrorHandler_HandleError(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	handler := NewErrorHandler(logger)

	var called *AuditError
	handler.AddCallback(func(err *AuditError) { called = err })

	got := handler.HandleError(fmt.Errorf("外层: %w", NewUnexpectedZeroImplementation("0x01", 5)))
	require.NotNil(t, got)
	assert.Equal(t, CodeZeroImplementation, got.Code)
	assert.Same(t, got, called)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "UnexpectedZeroImplementation", hook.LastEntry().Data["error_type"])

	// 普通错误被包装为未知错误
	plain := handler.HandleError(stderrors.New("boom"))
	assert.Equal(t, CodeUnknown, plain.Code)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	stats := handler.GetStats()
	assert.Equal(t, 2, stats.TotalErrors)

	handler.ClearStats()
	assert.Equal(t, 0, handler.GetStats().TotalErrors)
	assert.Nil(t, handler.HandleError(nil))
}

func TestErrorHandler_CallbackPanicIsContained(t *testing.T) {
	logger, hook := test.NewNullLogger()
	handler := NewErrorHandler(logger)
	handler.AddCallback(func(err *AuditError) { panic("boom") })

	assert.NotPanics(t, func() {
		handler.HandleError(NewValidationError("参数错误"))
	})
	assert.Contains(t, hook.LastEntry().Message, "panic")
}

func BenchmarkErrorStats_RecordError(b *testing.B) {
	stats := NewErrorStats()
	err := NewConnectivityError("基准测试错误", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stats.RecordError(err)
	}
}
