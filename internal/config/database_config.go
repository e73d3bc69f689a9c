package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DatabaseConfig 数据库配置管理器
type DatabaseConfig struct {
	DB     *sql.DB
	logger *logrus.Logger
}

// NewDatabaseConfig 创建数据库配置管理器
func NewDatabaseConfig(dsn string, logger *logrus.Logger) (*DatabaseConfig, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("数据库连接测试失败: %w", err)
	}

	return &DatabaseConfig{
		DB:     db,
		logger: logger,
	}, nil
}

// LoadConfig 从数据库加载完整配置，数据库中没有的部分使用默认值
func (dc *DatabaseConfig) LoadConfig() (*Config, error) {
	config := GetDefaultConfig()

	nodes, err := dc.loadNodes()
	if err != nil {
		return nil, fmt.Errorf("加载节点配置失败: %w", err)
	}
	config.Chain.Nodes = nodes

	auditorSettings, err := dc.loadSettings("auditor_config")
	if err != nil {
		return nil, fmt.Errorf("加载审计配置失败: %w", err)
	}
	for key, value := range auditorSettings {
		if !applyAuditorSetting(config, key, value) {
			dc.logger.Debugf("忽略未知的审计配置项: %s", key)
		}
	}

	outputSettings, err := dc.loadSettings("output_config")
	if err != nil {
		return nil, fmt.Errorf("加载输出配置失败: %w", err)
	}
	for key, value := range outputSettings {
		if !applyOutputSetting(config.Output, key, value) {
			dc.logger.Debugf("忽略未知的输出配置项: %s", key)
		}
	}

	if config.Output.Format == "kafka" {
		topics, err := dc.loadKafkaTopics()
		if err != nil {
			return nil, fmt.Errorf("加载Kafka主题失败: %w", err)
		}
		for dataType, topic := range topics {
			config.Output.Kafka.Topics[dataType] = topic
		}
	}

	return config, nil
}

// loadNodes 加载启用的节点
func (dc *DatabaseConfig) loadNodes() ([]*NodeConfig, error) {
	query := `SELECT name, url, node_type, priority FROM blockchain_nodes WHERE is_active = true ORDER BY priority`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*NodeConfig
	for rows.Next() {
		var node NodeConfig
		if err := rows.Scan(&node.Name, &node.URL, &node.Type, &node.Priority); err != nil {
			return nil, err
		}
		nodes = append(nodes, &node)
	}
	return nodes, rows.Err()
}

// loadSettings 读取键值配置表
func (dc *DatabaseConfig) loadSettings(table string) (map[string]string, error) {
	switch table {
	case "auditor_config", "output_config":
	default:
		return nil, fmt.Errorf("不支持的配置表: %s", table)
	}

	query := fmt.Sprintf(`SELECT config_key, config_value FROM %s WHERE is_active = true`, table)
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// loadKafkaTopics 加载Kafka主题配置
func (dc *DatabaseConfig) loadKafkaTopics() (map[string]string, error) {
	query := `SELECT data_type, topic_name FROM kafka_topics WHERE is_active = true`
	rows, err := dc.DB.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	topics := make(map[string]string)
	for rows.Next() {
		var dataType, topicName string
		if err := rows.Scan(&dataType, &topicName); err != nil {
			return nil, err
		}
		topics[dataType] = topicName
	}
	return topics, rows.Err()
}

// Close 关闭数据库连接
func (dc *DatabaseConfig) Close() error {
	if dc.DB != nil {
		return dc.DB.Close()
	}
	return nil
}

// applyAuditorSetting 应用 auditor_config 表中的一项，返回是否识别
func applyAuditorSetting(config *Config, key, value string) bool {
	switch key {
	case "timeout":
		config.Chain.Timeout = value
	case "retry_limit":
		if v, err := strconv.Atoi(value); err == nil {
			config.Chain.RetryLimit = v
		}
	case "parallel_reads":
		config.Chain.ParallelReads = parseBool(value)
	case "journal_enabled":
		config.Journal.Enabled = parseBool(value)
	case "journal_path":
		config.Journal.Path = value
	case "api_port":
		if v, err := strconv.Atoi(value); err == nil {
			config.API.Port = v
		}
	case "strict_checksum":
		config.API.StrictChecksum = parseBool(value)
	case "log_level":
		config.Logging.Level = value
	default:
		return false
	}
	return true
}

// applyOutputSetting 应用 output_config 表中的一项，返回是否识别
func applyOutputSetting(config *OutputConfig, key, value string) bool {
	switch key {
	case "format":
		config.Format = value
	case "directory":
		config.Directory = value
	case "kafka_brokers":
		var brokers []string
		if err := json.Unmarshal([]byte(value), &brokers); err == nil {
			if config.Kafka == nil {
				config.Kafka = &KafkaConfig{Topics: make(map[string]string)}
			}
			config.Kafka.Brokers = brokers
		}
	default:
		return false
	}
	return true
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
