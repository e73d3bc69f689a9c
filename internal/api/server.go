package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"proxyaudit/internal/audit"
	"proxyaudit/internal/config"
	"proxyaudit/internal/errors"
	"proxyaudit/internal/validation"
)

// CallCounter 提供节点调用计数
type CallCounter interface {
	CallCounts() map[string]int64
	Node() string
}

// Server API服务器
type Server struct {
	service    *audit.Service
	validator  *validation.Validator
	config     *config.Config
	gateway    CallCounter
	logger     *logrus.Logger
	logManager *LogManager
	server     *http.Server
	port       int
	startedAt  time.Time

	mu       sync.Mutex
	failures map[string]int // 按错误码统计的失败次数
}

// NewServer 创建新的API服务器
func NewServer(cfg *config.Config, service *audit.Service, gateway CallCounter, logger *logrus.Logger) *Server {
	logManager := NewLogManager(1000)
	logger.AddHook(NewLogHook(logManager))

	strict := false
	port := 8080
	if cfg.API != nil {
		strict = cfg.API.StrictChecksum
		if cfg.API.Port > 0 {
			port = cfg.API.Port
		}
	}

	s := &Server{
		service:    service,
		validator:  validation.NewValidator(logger, strict),
		config:     cfg,
		gateway:    gateway,
		logger:     logger,
		logManager: logManager,
		port:       port,
		startedAt:  time.Now(),
		failures:   make(map[string]int),
	}
	service.OnError(s.recordFailure)
	return s
}

func (s *Server) recordFailure(err *errors.AuditError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[err.Code]++
}

func (s *Server) failureCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int, len(s.failures))
	for code, n := range s.failures {
		counts[code] = n
	}
	return counts
}

// Handler 构建路由
func (s *Server) Handler() http.Handler {
	router := gin.New()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept-Encoding")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
	router.Use(gin.Recovery())

	s.setupRoutes(router)
	return router
}

// Start 启动API服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	if err := s.server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止API服务器
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("API服务器正在停止")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		api.GET("/upgrades/:tx", s.checkUpgrade)
		api.GET("/pools/:address", s.inspectPool)
		api.GET("/history", s.getHistory)

		api.GET("/stats", s.getStats)
		api.DELETE("/stats", s.clearStats)
		api.GET("/config", s.getConfig)

		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "proxyaudit-api",
	})
}

// checkUpgrade 检测交易是否升级了代理
func (s *Server) checkUpgrade(c *gin.Context) {
	req, err := s.validator.ParseAuditRequest(c.Param("tx"), c.Query("proxy"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	report, err := s.service.AuditUpgrade(c.Request.Context(), req.TxHash, req.Proxy)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if c.Query("report") == "true" {
		c.JSON(http.StatusOK, report)
		return
	}
	c.JSON(http.StatusOK, report.Verdict)
}

// inspectPool 查询交易对余额
func (s *Server) inspectPool(c *gin.Context) {
	pair, err := s.validator.ParseAddress("pair", c.Param("address"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	report, err := s.service.InspectPool(c.Request.Context(), pair)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// getHistory 获取审计历史
func (s *Server) getHistory(c *gin.Context) {
	if !s.service.HistoryEnabled() {
		c.JSON(http.StatusNotFound, gin.H{"error": "审计日志未启用", "code": errors.CodeJournalFailed})
		return
	}

	limit := 20
	if v := c.Query("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}

	reports, err := s.service.History(limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"total":   len(reports),
		"limit":   limit,
	})
}

// getStats 获取统计信息
func (s *Server) getStats(c *gin.Context) {
	stats := gin.H{
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
		"errors":   s.service.ErrorStats(),
		"failures": s.failureCounts(),
	}
	if s.gateway != nil {
		stats["node"] = s.gateway.Node()
		stats["rpc_calls"] = s.gateway.CallCounts()
	}
	if s.service.HistoryEnabled() {
		journalStats, err := s.service.HistoryStats()
		if err != nil {
			s.logger.Warnf("读取审计日志统计失败: %v", err)
		} else {
			stats["journal"] = journalStats
		}
	}

	c.JSON(http.StatusOK, stats)
}

// clearStats 清空错误统计
func (s *Server) clearStats(c *gin.Context) {
	s.service.ClearErrorStats()

	s.mu.Lock()
	s.failures = make(map[string]int)
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"message": "统计已清空",
	})
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}

	pageSize := 20
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total, err := s.logManager.GetLogsWithPagination(level, page, pageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": errors.CodeInvalidInput})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()

	c.JSON(http.StatusOK, gin.H{
		"message": "日志已清空",
	})
}

// writeError 按错误类型映射HTTP状态码
func (s *Server) writeError(c *gin.Context, err error) {
	auditErr, ok := errors.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": errors.CodeUnknown})
		return
	}
	c.JSON(statusFor(auditErr.Type), gin.H{"error": auditErr.Error(), "code": auditErr.Code})
}

func statusFor(t errors.ErrorType) int {
	switch t {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeReceiptNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeNotAContract, errors.ErrorTypeNotAPool,
		errors.ErrorTypeUnexpectedZeroImplementation, errors.ErrorTypeMalformedStorageWord,
		errors.ErrorTypeInvalidBlockHeight:
		return http.StatusUnprocessableEntity
	case errors.ErrorTypeConnectivity:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
