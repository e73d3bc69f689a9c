package app

import (
	"context"

	"github.com/sirupsen/logrus"

	"proxyaudit/internal/audit"
	"proxyaudit/internal/chain"
	"proxyaudit/internal/config"
	"proxyaudit/internal/connection"
	"proxyaudit/internal/journal"
	"proxyaudit/internal/logging"
	"proxyaudit/internal/output"
	"proxyaudit/internal/shutdown"
)

// Overrides 命令行参数对配置的覆盖，零值表示不覆盖
type Overrides struct {
	Verbose      bool
	OutputFormat string
	Journal      *bool
	Port         int
}

// Load 加载配置、应用覆盖并创建日志器
func Load(configPath string, ov Overrides) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	ov.apply(cfg)

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func (ov Overrides) apply(cfg *config.Config) {
	if ov.Verbose {
		if cfg.Logging == nil {
			copied := *logging.DefaultLogConfig
			cfg.Logging = &copied
		}
		cfg.Logging.Level = "debug"
	}
	if ov.OutputFormat != "" && cfg.Output != nil {
		cfg.Output.Format = ov.OutputFormat
	}
	if ov.Journal != nil && cfg.Journal != nil {
		cfg.Journal.Enabled = *ov.Journal
	}
	if ov.Port > 0 && cfg.API != nil {
		cfg.API.Port = ov.Port
	}
}

// App 已装配的组件
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Gateway  *chain.Gateway
	Service  *audit.Service
	Journal  *journal.Journal
	Shutdown *shutdown.Manager
}

// New 校验配置并连接节点，按停机顺序注册需要关闭的资源
//
// 出错时已经打开的资源会被关闭。
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout, err := cfg.TimeoutDuration()
	if err != nil {
		return nil, err
	}

	mgr := shutdown.NewManager(ctx, timeout, logger)
	a := &App{Config: cfg, Logger: logger, Shutdown: mgr}

	fail := func(err error) (*App, error) {
		if shutdownErr := mgr.Shutdown(); shutdownErr != nil {
			logger.Warnf("释放资源失败: %v", shutdownErr)
		}
		return nil, err
	}

	gateway, err := connection.NewConnector(cfg, logger).Dial(mgr.Context())
	if err != nil {
		return fail(err)
	}
	a.Gateway = gateway
	mgr.RegisterCloser("gateway", shutdown.OrderCloseGateway, gateway)

	out, err := output.NewOutput(cfg.Output, logger)
	if err != nil {
		return fail(err)
	}
	mgr.RegisterCloser("output", shutdown.OrderFlushOutputs, out)

	var history audit.History
	if cfg.Journal != nil && cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path, logger)
		if err != nil {
			return fail(err)
		}
		a.Journal = j
		history = j
		mgr.RegisterCloser("journal", shutdown.OrderCloseJournal, j)
	}

	a.Service = audit.NewService(gateway, audit.Options{
		Node:          gateway.Node(),
		ParallelReads: cfg.Chain.ParallelReads,
		Timeout:       timeout,
	}, out, history, logger)

	return a, nil
}

// Close 执行停机流程
func (a *App) Close() error {
	return a.Shutdown.Shutdown()
}
