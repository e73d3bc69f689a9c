package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"proxyaudit/internal/config"
	"proxyaudit/internal/errors"
	"proxyaudit/pkg/models"
)

// 报告数据类型，也是Kafka主题映射的键
const (
	DataTypeUpgradeReports = "upgrade_reports"
	DataTypePoolReports    = "pool_reports"
)

// Output 结果输出接口
type Output interface {
	WriteUpgradeReport(report *models.UpgradeReport) error
	WritePoolReport(report *models.PoolReport) error
	Close() error
}

// NewOutput 根据配置创建输出器
func NewOutput(cfg *config.OutputConfig, logger *logrus.Logger) (Output, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg == nil {
		return NopOutput{}, nil
	}

	switch cfg.Format {
	case "", "none":
		return NopOutput{}, nil
	case "json":
		return NewFileOutput(cfg.Directory)
	case "kafka":
		var brokers []string
		var topics map[string]string
		if cfg.Kafka != nil {
			brokers = cfg.Kafka.Brokers
			topics = cfg.Kafka.Topics
		}
		if len(brokers) == 0 {
			return nil, errors.NewConfigurationError("Kafka输出需要至少一个broker", nil)
		}
		return NewKafkaOutput(brokers, topics, logger)
	default:
		return nil, errors.NewConfigurationError(fmt.Sprintf("不支持的输出格式: %s", cfg.Format), nil)
	}
}

// NopOutput 不输出任何内容
type NopOutput struct{}

func (NopOutput) WriteUpgradeReport(*models.UpgradeReport) error { return nil }
func (NopOutput) WritePoolReport(*models.PoolReport) error       { return nil }
func (NopOutput) Close() error                                   { return nil }

// FileOutput 以JSON行格式追加写入文件
type FileOutput struct {
	outputDir   string
	mu          sync.Mutex
	upgradeFile *os.File
	poolFile    *os.File
}

// NewFileOutput 创建文件输出器，文件在首次写入时创建
func NewFileOutput(outputDir string) (*FileOutput, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeOutput, errors.SeverityMedium,
			errors.CodeOutputFailed, "创建输出目录失败")
	}
	return &FileOutput{outputDir: outputDir}, nil
}

// WriteUpgradeReport 写入升级检测报告
func (o *FileOutput) WriteUpgradeReport(report *models.UpgradeReport) error {
	if report == nil {
		return nil
	}
	return o.appendLine(&o.upgradeFile, DataTypeUpgradeReports, report)
}

// WritePoolReport 写入交易对报告
func (o *FileOutput) WritePoolReport(report *models.PoolReport) error {
	if report == nil {
		return nil
	}
	return o.appendLine(&o.poolFile, DataTypePoolReports, report)
}

func (o *FileOutput) appendLine(file **os.File, dataType string, data interface{}) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if *file == nil {
		name := fmt.Sprintf("%s_%s.jsonl", dataType, time.Now().Format("20060102"))
		f, err := os.OpenFile(filepath.Join(o.outputDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeOutput, errors.SeverityMedium,
				errors.CodeOutputFailed, "创建输出文件失败")
		}
		*file = f
	}

	line, err := json.Marshal(data)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeOutput, errors.SeverityMedium,
			errors.CodeOutputFailed, "序列化报告失败")
	}
	if _, err := (*file).Write(append(line, '\n')); err != nil {
		return errors.WrapError(err, errors.ErrorTypeOutput, errors.SeverityMedium,
			errors.CodeOutputFailed, "写入输出文件失败")
	}
	return nil
}

// Close 关闭文件
func (o *FileOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var firstErr error
	for _, f := range []*os.File{o.upgradeFile, o.poolFile} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	o.upgradeFile, o.poolFile = nil, nil
	return firstErr
}
