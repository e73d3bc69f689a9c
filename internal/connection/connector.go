package connection

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"proxyaudit/internal/chain"
	"proxyaudit/internal/config"
	"proxyaudit/internal/errors"
	"proxyaudit/internal/retry"
)

// Client 已连接的节点客户端
type Client interface {
	chain.Backend
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

// DialFunc 建立到节点的连接
type DialFunc func(ctx context.Context, url string) (Client, error)

// Connector 按优先级连接节点
type Connector struct {
	nodes       []*config.NodeConfig
	retrier     *retry.Retrier
	logger      *logrus.Logger
	dial        DialFunc
	dialTimeout time.Duration
}

// NewConnector 创建连接器，chain.retry_limit 决定每个节点的探测次数
func NewConnector(cfg *config.Config, logger *logrus.Logger) *Connector {
	if logger == nil {
		logger = logrus.New()
	}
	policy := retry.DialPolicy
	var nodes []*config.NodeConfig
	if cfg != nil {
		nodes = cfg.SortedNodes()
		if cfg.Chain != nil {
			policy = policy.PolicyWithAttempts(cfg.Chain.RetryLimit)
		}
	}
	return &Connector{
		nodes:       nodes,
		retrier:     retry.NewRetrier(policy, logger),
		logger:      logger,
		dial:        dialEthclient,
		dialTimeout: 10 * time.Second,
	}
}

func dialEthclient(ctx context.Context, url string) (Client, error) {
	return ethclient.DialContext(ctx, url)
}

// Dial 连接第一个可用节点并返回网关
//
// 没有配置节点时返回 ConfigurationError，全部节点不可达时返回 ConnectivityError。
func (c *Connector) Dial(ctx context.Context) (*chain.Gateway, error) {
	var candidates []*config.NodeConfig
	for _, n := range c.nodes {
		if n.URL != "" {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("未配置RPC节点，请设置环境变量 %s", config.EnvRPCURL), nil)
	}

	var lastErr error
	for _, node := range candidates {
		client, chainID, err := c.connect(ctx, node)
		if err != nil {
			lastErr = err
			c.logger.Warnf("节点 %s 不可用: %v", node.Name, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		c.logger.WithFields(logrus.Fields{
			"node":     node.Name,
			"chain_id": chainID.String(),
		}).Info("已连接节点")
		return chain.NewGateway(client, node.Name, c.logger), nil
	}

	return nil, errors.NewConnectivityError("所有节点都无法连接", lastErr).
		WithContext("nodes", len(candidates))
}

func (c *Connector) connect(ctx context.Context, node *config.NodeConfig) (Client, *big.Int, error) {
	var client Client
	chainID, err := retry.Do(ctx, c.retrier, "dial "+node.Name, func(ctx context.Context) (*big.Int, error) {
		dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()

		if client == nil {
			cl, err := c.dial(dialCtx, node.URL)
			if err != nil {
				return nil, fmt.Errorf("连接节点失败: %w", err)
			}
			client = cl
		}

		id, err := client.ChainID(dialCtx)
		if err != nil {
			return nil, fmt.Errorf("测试连接失败: %w", err)
		}
		return id, nil
	})
	if err != nil {
		if client != nil {
			client.Close()
		}
		return nil, nil, err
	}
	return client, chainID, nil
}
