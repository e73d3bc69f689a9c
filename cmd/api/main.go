package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"proxyaudit/internal/api"
	"proxyaudit/internal/app"
	"proxyaudit/internal/config"
	"proxyaudit/internal/shutdown"
)

var (
	configPath   = flag.String("config", config.DefaultConfigPath, "配置文件路径")
	port         = flag.Int("port", 0, "API 服务端口，默认使用配置文件")
	outputFormat = flag.String("output-format", "", "结果输出格式 (none, json, kafka)")
	verbose      = flag.Bool("verbose", false, "详细输出")
)

func main() {
	flag.Parse()

	cfg, logger, err := app.Load(*configPath, app.Overrides{
		Verbose:      *verbose,
		OutputFormat: *outputFormat,
		Port:         *port,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatalf("初始化失败: %v", err)
	}

	server := api.NewServer(cfg, a.Service, a.Gateway, logger)
	a.Shutdown.Register("api_server", shutdown.OrderStopAcceptingRequests, server.Stop)

	go func() {
		if err := server.Start(); err != nil {
			logger.Errorf("API服务器异常退出: %v", err)
			if shutdownErr := a.Close(); shutdownErr != nil {
				logger.Errorf("停机失败: %v", shutdownErr)
			}
			os.Exit(1)
		}
	}()

	a.Shutdown.Wait()

	logger.Info("正在关闭服务器...")
	if err := a.Close(); err != nil {
		logger.Errorf("关闭服务器失败: %v", err)
		os.Exit(1)
	}
	logger.Info("服务器已关闭")
}
