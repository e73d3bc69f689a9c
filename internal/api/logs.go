package api

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogManager 保存最近的日志，超出容量时覆盖最旧的条目
type LogManager struct {
	mu    sync.RWMutex
	ring  []LogEntry
	next  int
	count int
}

// NewLogManager 创建日志管理器
func NewLogManager(maxLogs int) *LogManager {
	if maxLogs <= 0 {
		maxLogs = 1
	}
	return &LogManager{ring: make([]LogEntry, maxLogs)}
}

// AddLog 添加日志
func (lm *LogManager) AddLog(entry *logrus.Entry) {
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		// error 值序列化为JSON时会丢失内容
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.ring[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    fields,
	}
	lm.next = (lm.next + 1) % len(lm.ring)
	if lm.count < len(lm.ring) {
		lm.count++
	}
}

// snapshot 按时间从新到旧返回日志，level 非空时只保留该级别及更严重的日志
func (lm *LogManager) snapshot(level string) ([]LogEntry, error) {
	threshold := logrus.TraceLevel
	if level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("无效的日志级别 '%s'", level)
		}
		threshold = parsed
	}

	lm.mu.RLock()
	defer lm.mu.RUnlock()

	logs := make([]LogEntry, 0, lm.count)
	for i := 1; i <= lm.count; i++ {
		e := lm.ring[(lm.next-i+len(lm.ring))%len(lm.ring)]
		if l, err := logrus.ParseLevel(e.Level); err == nil && l > threshold {
			continue
		}
		logs = append(logs, e)
	}
	return logs, nil
}

// GetLogsWithPagination 获取分页日志
func (lm *LogManager) GetLogsWithPagination(level string, page, pageSize int) ([]LogEntry, int, error) {
	logs, err := lm.snapshot(level)
	if err != nil {
		return nil, 0, err
	}

	total := len(logs)
	start := (page - 1) * pageSize
	if start >= total {
		return []LogEntry{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return logs[start:end], total, nil
}

// ClearLogs 清空日志
func (lm *LogManager) ClearLogs() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.next = 0
	lm.count = 0
}

// LogHook 将日志写入 LogManager
type LogHook struct {
	manager *LogManager
}

// NewLogHook 创建日志钩子
func NewLogHook(manager *LogManager) *LogHook {
	return &LogHook{manager: manager}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.AddLog(entry)
	return nil
}

// Levels 实现 logrus.Hook 接口
func (h *LogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}
