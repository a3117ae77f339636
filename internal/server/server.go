// Package server 提供 HTTP 入口：版本发现、WebSocket 协议连接、指标与事件日志查询。
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netbridge/internal/logger"
	"netbridge/internal/protocol"
	"netbridge/internal/storage"
)

// writeTimeout 单条协议消息的写超时
const writeTimeout = 10 * time.Second

// JournalReader 事件日志查询
type JournalReader interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]storage.JournalEntry, error)
}

// Config 配置选项
type Config struct {
	Addr       string
	Version    string
	Dispatcher *protocol.Dispatcher
	Journal    JournalReader
	Gatherer   prometheus.Gatherer
	Logger     logger.Logger
}

// Server HTTP 服务
type Server struct {
	cfg      Config
	token    string
	router   *gin.Engine
	http     *http.Server
	upgrader websocket.Upgrader
	log      logger.Logger
}

// New 创建 HTTP 服务并注册路由
func New(cfg Config) *Server {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:   cfg,
		token: uuid.NewString(),
		log:   l.With("component", "server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.accessLog())
	router.GET("/health", s.health)
	router.GET("/json/version", s.version)
	router.GET("/devtools/browser/:token", s.connect)
	router.GET("/journal", s.journal)
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	s.router = router
	s.http = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// Handler 返回路由，便于测试直接挂载
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe 监听并阻塞直到服务停止
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve 在给定监听器上提供服务
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info("HTTP 服务启动", "addr", ln.Addr().String())
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 优雅关闭；先于 Serve 调用时 Serve 立即返回
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("HTTP 请求",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"timeMs", float64(time.Since(start).Microseconds())/1e3,
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"Browser":              "netbridge/" + s.cfg.Version,
		"Protocol-Version":     "1.0",
		"webSocketDebuggerUrl": "ws://" + c.Request.Host + "/devtools/browser/" + s.token,
	})
}

func (s *Server) connect(c *gin.Context) {
	if c.Param("token") != s.token {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown browser endpoint"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Err(err, "WebSocket 升级失败")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	// 上下文取消时关闭连接以解除阻塞的读
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	s.log.Info("协议客户端已连接", "remote", c.Request.RemoteAddr)
	_ = s.cfg.Dispatcher.Serve(ctx, &wsConn{conn: conn})
}

func (s *Server) journal(c *gin.Context) {
	if s.cfg.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal disabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.cfg.Journal.Recent(c.Request.Context(), c.Query("sessionId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// wsConn 将 WebSocket 连接适配为协议消息通道
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteMessage 调用方保证串行写入
func (w *wsConn) WriteMessage(data []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}
