package api

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"proxyaudit/internal/config"
)

// getConfig 返回生效配置，节点地址中的凭据与路径被隐去
func (s *Server) getConfig(c *gin.Context) {
	if s.config == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "配置未初始化"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": redactConfig(s.config)})
}

func redactConfig(cfg *config.Config) gin.H {
	out := gin.H{}

	if cfg.Chain != nil {
		nodes := make([]gin.H, 0, len(cfg.Chain.Nodes))
		for _, node := range cfg.SortedNodes() {
			nodes = append(nodes, gin.H{
				"name":     node.Name,
				"type":     node.Type,
				"url":      redactURL(node.URL),
				"priority": node.Priority,
			})
		}
		out["chain"] = gin.H{
			"nodes":          nodes,
			"timeout":        cfg.Chain.Timeout,
			"retry_limit":    cfg.Chain.RetryLimit,
			"parallel_reads": cfg.Chain.ParallelReads,
		}
	}

	if cfg.Output != nil {
		output := gin.H{
			"format":    cfg.Output.Format,
			"directory": cfg.Output.Directory,
		}
		if cfg.Output.Kafka != nil {
			output["kafka"] = gin.H{
				"brokers": cfg.Output.Kafka.Brokers,
				"topics":  cfg.Output.Kafka.Topics,
			}
		}
		out["output"] = output
	}

	if cfg.Journal != nil {
		out["journal"] = gin.H{
			"enabled": cfg.Journal.Enabled,
			"path":    cfg.Journal.Path,
		}
	}

	if cfg.API != nil {
		out["api"] = gin.H{
			"port":            cfg.API.Port,
			"strict_checksum": cfg.API.StrictChecksum,
		}
	}

	if cfg.Logging != nil {
		out["logging"] = cfg.Logging
	}

	return out
}

// redactURL 只保留协议与主机
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Scheme + "://" + u.Host
}
