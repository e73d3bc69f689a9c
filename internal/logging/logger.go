package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`    // 日志级别 (debug, info, warn, error)
	Format string `json:"format" yaml:"format" mapstructure:"format"` // 日志格式 (json, text)
	Output string `json:"output" yaml:"output" mapstructure:"output"` // 输出位置 (stdout, stderr, 文件路径)
}

// DefaultLogConfig 默认日志配置
//
// 标准输出保留给检测结论，日志默认写入标准错误。
var DefaultLogConfig = &LogConfig{
	Level:  "info",
	Format: "text",
	Output: "stderr",
}

// NewLogger 根据配置创建logrus日志器
func NewLogger(config *LogConfig) (*logrus.Logger, error) {
	if config == nil {
		config = DefaultLogConfig
	}

	level, err := ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	writer, err := openWriter(config.Output)
	if err != nil {
		return nil, fmt.Errorf("创建日志输出失败: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(writer)
	logger.SetLevel(level)

	switch strings.ToLower(config.Format) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("不支持的日志格式: %s", config.Format)
	}

	return logger, nil
}

// ParseLevel 解析日志级别，空字符串视为 info
func ParseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return logrus.InfoLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("未知的日志级别: %s", level)
	}
}

func openWriter(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("打开日志文件失败: %w", err)
		}
		return file, nil
	}
}

// NewAuditEntry 升级检测专用日志条目
func NewAuditEntry(logger *logrus.Logger, txHash, proxy string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "upgrade_detector",
		"tx_hash":   txHash,
		"proxy":     proxy,
	})
}

// NewPoolEntry 交易对查询专用日志条目
func NewPoolEntry(logger *logrus.Logger, pair string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"component": "pool_inspector",
		"pair":      pair,
	})
}

// NewComponentEntry 组件日志条目
func NewComponentEntry(logger *logrus.Logger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}
