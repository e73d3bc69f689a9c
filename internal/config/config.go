package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"proxyaudit/internal/errors"
	"proxyaudit/internal/logging"
)

// 环境变量
const (
	EnvRPCURL = "ETH_RPC_URL"
	EnvDBDSN  = "PROXYAUDIT_DB_DSN"
)

// DefaultConfigPath 默认配置文件路径
const DefaultConfigPath = "configs/config.yaml"

// DatabaseConfigPath 数据库配置文件路径
const DatabaseConfigPath = "configs/database.yaml"

// Config 主配置
type Config struct {
	Chain   *ChainConfig       `mapstructure:"chain"`
	Output  *OutputConfig      `mapstructure:"output"`
	Journal *JournalConfig     `mapstructure:"journal"`
	API     *APIConfig         `mapstructure:"api"`
	Logging *logging.LogConfig `mapstructure:"logging"`
}

// ChainConfig 链访问配置
type ChainConfig struct {
	Nodes         []*NodeConfig `mapstructure:"nodes"`
	Timeout       string        `mapstructure:"timeout"`        // 单次检测的整体超时
	RetryLimit    int           `mapstructure:"retry_limit"`    // 拨号探测的尝试次数，默认1次即不重试；读取本身不重试
	ParallelReads bool          `mapstructure:"parallel_reads"` // 并发读取前后两个高度
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	Type     string `mapstructure:"type"`
	Priority int    `mapstructure:"priority"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 结果输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // none, json, kafka
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// JournalConfig 审计日志配置
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// APIConfig HTTP服务配置
type APIConfig struct {
	Port           int  `mapstructure:"port"`
	StrictChecksum bool `mapstructure:"strict_checksum"` // 混合大小写地址必须符合EIP-55校验
}

// LoadConfig 加载配置（自动检测配置源）
//
// 优先级：PROXYAUDIT_DB_DSN > configs/database.yaml > YAML文件 > 默认值，
// 最后应用 ETH_RPC_URL。
func LoadConfig(configPath string) (*Config, error) {
	cfg, err := loadBaseConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

func loadBaseConfig(configPath string) (*Config, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	if dsn := os.Getenv(EnvDBDSN); dsn != "" {
		cfg, err := loadFromDatabase(dsn, logger)
		if err != nil {
			return nil, errors.NewConfigurationError("从数据库加载配置失败", err)
		}
		return cfg, nil
	}

	if _, err := os.Stat(DatabaseConfigPath); err == nil {
		dbViper := viper.New()
		dbViper.SetConfigFile(DatabaseConfigPath)
		dbViper.SetConfigType("yaml")
		if err := dbViper.ReadInConfig(); err == nil {
			if dsn := dbViper.GetString("database.dsn"); dsn != "" {
				cfg, err := loadFromDatabase(dsn, logger)
				if err == nil {
					return cfg, nil
				}
				logger.Warnf("数据库配置不可用，回退到文件配置: %v", err)
			}
		}
	}

	if configPath == "" {
		configPath = DefaultConfigPath
	}
	if _, err := os.Stat(configPath); err != nil {
		if os.IsNotExist(err) {
			return GetDefaultConfig(), nil
		}
		return nil, errors.NewConfigurationError("读取配置文件失败", err)
	}
	return LoadConfigFromFile(configPath)
}

func loadFromDatabase(dsn string, logger *logrus.Logger) (*Config, error) {
	dbConfig, err := NewDatabaseConfig(dsn, logger)
	if err != nil {
		return nil, err
	}
	defer dbConfig.Close()

	cfg, err := dbConfig.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger.Info("已从数据库加载配置")
	return cfg, nil
}

// LoadConfigFromFile 从YAML文件加载配置
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.NewConfigurationError("读取配置文件失败", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigurationError("解析配置文件失败", err)
	}
	cfg.fillDefaults()
	return &cfg, nil
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Chain: &ChainConfig{
			Nodes:         nil, // 需要在YAML、数据库或 ETH_RPC_URL 中指定
			Timeout:       "30s",
			RetryLimit:    1,
			ParallelReads: false,
		},
		Output: &OutputConfig{
			Format:    "none",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"upgrade_reports": "proxyaudit_upgrade_reports",
					"pool_reports":    "proxyaudit_pool_reports",
				},
			},
		},
		Journal: &JournalConfig{
			Enabled: false,
			Path:    "./data/journal.db",
		},
		API: &APIConfig{
			Port:           8080,
			StrictChecksum: false,
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// fillDefaults 补全缺失的配置段
func (c *Config) fillDefaults() {
	def := GetDefaultConfig()
	if c.Chain == nil {
		c.Chain = def.Chain
	}
	if c.Chain.Timeout == "" {
		c.Chain.Timeout = def.Chain.Timeout
	}
	if c.Chain.RetryLimit <= 0 {
		c.Chain.RetryLimit = def.Chain.RetryLimit
	}
	if c.Output == nil {
		c.Output = def.Output
	}
	if c.Output.Format == "" {
		c.Output.Format = def.Output.Format
	}
	if c.Output.Directory == "" {
		c.Output.Directory = def.Output.Directory
	}
	if c.Output.Kafka == nil {
		c.Output.Kafka = def.Output.Kafka
	}
	if len(c.Output.Kafka.Topics) == 0 {
		c.Output.Kafka.Topics = def.Output.Kafka.Topics
	}
	if c.Journal == nil {
		c.Journal = def.Journal
	}
	if c.Journal.Path == "" {
		c.Journal.Path = def.Journal.Path
	}
	if c.API == nil {
		c.API = def.API
	}
	if c.API.Port == 0 {
		c.API.Port = def.API.Port
	}
	if c.Logging == nil {
		c.Logging = def.Logging
	}
}

// ApplyEnv 应用环境变量覆盖
//
// ETH_RPC_URL 覆盖优先级最高的节点地址；没有节点时新增一个。
func (c *Config) ApplyEnv(getenv func(string) string) {
	url := getenv(EnvRPCURL)
	if url == "" {
		return
	}
	if c.Chain == nil {
		c.Chain = GetDefaultConfig().Chain
	}

	nodes := c.SortedNodes()
	if len(nodes) == 0 {
		c.Chain.Nodes = []*NodeConfig{{Name: "env", URL: url, Type: "rpc", Priority: 1}}
		return
	}
	nodes[0].URL = url
}

// SortedNodes 按优先级返回节点，数值越小优先级越高
func (c *Config) SortedNodes() []*NodeConfig {
	if c.Chain == nil {
		return nil
	}
	nodes := make([]*NodeConfig, 0, len(c.Chain.Nodes))
	for _, n := range c.Chain.Nodes {
		if n != nil {
			nodes = append(nodes, n)
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Priority < nodes[j].Priority
	})
	return nodes
}

// Validate 检查是否可以访问链
func (c *Config) Validate() error {
	usable := 0
	for _, n := range c.SortedNodes() {
		if n.URL != "" {
			usable++
		}
	}
	if usable == 0 {
		return errors.NewConfigurationError(
			fmt.Sprintf("未配置RPC节点，请设置环境变量 %s 或在配置中指定 chain.nodes", EnvRPCURL), nil)
	}
	if _, err := c.TimeoutDuration(); err != nil {
		return err
	}
	if c.Output == nil {
		return nil
	}
	switch c.Output.Format {
	case "", "none", "json", "kafka":
	default:
		return errors.NewConfigurationError(fmt.Sprintf("不支持的输出格式: %s", c.Output.Format), nil)
	}
	return nil
}

// TimeoutDuration 解析单次检测超时
func (c *Config) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Chain.Timeout)
	if err != nil {
		return 0, errors.NewConfigurationError(fmt.Sprintf("无效的超时配置: %s", c.Chain.Timeout), err)
	}
	if d <= 0 {
		return 0, errors.NewConfigurationError(fmt.Sprintf("超时必须大于0: %s", c.Chain.Timeout), nil)
	}
	return d, nil
}
