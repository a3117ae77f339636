// Package api 组装网络桥接服务：浏览器适配、网络事件源、协议分发、事件日志与 HTTP 入口。
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"netbridge/internal/cdp"
	"netbridge/internal/config"
	"netbridge/internal/logger"
	"netbridge/internal/metrics"
	"netbridge/internal/network/observer"
	"netbridge/internal/protocol"
	"netbridge/internal/server"
	"netbridge/internal/session"
	"netbridge/internal/storage"
	"netbridge/pkg/domain"
)

// shutdownTimeout 停止 HTTP 服务的等待时间
const shutdownTimeout = 5 * time.Second

// Service 服务接口
type Service interface {
	// Run 启动 HTTP 服务，阻塞直到 ctx 取消或服务出错
	Run(ctx context.Context) error

	// Handler 返回 HTTP 路由
	Handler() http.Handler

	// Close 释放浏览器连接与事件日志
	Close() error
}

type service struct {
	cfg     *config.Config
	log     logger.Logger
	browser *cdp.Manager
	journal *storage.Journal
	server  *server.Server
}

// NewService 按配置组装服务
func NewService(cfg *config.Config, l logger.Logger) (Service, error) {
	if l == nil {
		l = logger.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	obs := observer.New(observer.Config{
		MaxResponseSize: cfg.Network.MaxResponseSize,
		MaxTotalSize:    cfg.Network.MaxTotalSize,
		Options: domain.ContextOptions{
			Offline:             cfg.Context.Offline,
			RequestInterception: cfg.Context.RequestInterception,
		},
		Logger:  l.With("component", "observer"),
		Metrics: m,
	})

	s := &service{
		cfg:     cfg,
		log:     l,
		browser: cdp.New(cfg.Devtools.URL, obs, l),
	}

	var (
		journal protocol.Journal
		reader  server.JournalReader
	)
	if cfg.Sqlite.Dsn != "" {
		j, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l)
		if err != nil {
			return nil, err
		}
		s.journal = j
		journal, reader = j, j
	}

	d := protocol.New(protocol.Config{
		Observer: obs,
		Browser:  s.browser,
		Sessions: session.NewManager(l),
		Journal:  journal,
		Metrics:  m,
		Logger:   l.With("component", "protocol"),
	})
	s.server = server.New(server.Config{
		Addr:       cfg.Server.Addr,
		Version:    cfg.Version,
		Dispatcher: d,
		Journal:    reader,
		Gatherer:   reg,
		Logger:     l,
	})
	return s, nil
}

func (s *service) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.log.Info("正在停止服务")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *service) Handler() http.Handler {
	return s.server.Handler()
}

func (s *service) Close() error {
	var errs []error
	if err := s.browser.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
