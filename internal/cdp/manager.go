// Package cdp 通过 Chrome DevTools 协议连接浏览器目标，将 Fetch/Network 事件转换为传输层通知。
package cdp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/rpcc"

	"netbridge/internal/handler"
	"netbridge/internal/logger"
	"netbridge/pkg/domain"
	"netbridge/pkg/traffic"
)

// Dispatcher 接收传输层通知，返回 false 表示该 scope 未被跟踪
type Dispatcher interface {
	Dispatch(ctx context.Context, n traffic.Notification) bool
	Authenticate(a *traffic.Attempt, previousFailed bool) *domain.Credentials
	Tracked(id domain.ScopeID) bool
}

// Manager 浏览器目标管理器，同一目标被多个会话附加时共享一条连接
type Manager struct {
	devtoolsURL string
	obs         Dispatcher
	log         logger.Logger

	mu      sync.Mutex
	targets map[domain.TargetID]*targetSession
	closed  bool
}

// New 创建并返回一个新的 CDP 管理器
func New(devtoolsURL string, obs Dispatcher, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		devtoolsURL: devtoolsURL,
		obs:         obs,
		log:         l.With("component", "cdp"),
		targets:     make(map[domain.TargetID]*targetSession),
	}
}

// Targets 列出浏览器中可附加的页面目标
func (m *Manager) Targets(ctx context.Context) ([]domain.TargetInfo, error) {
	list, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TargetInfo, 0, len(list))
	for _, t := range list {
		if t.Type != devtool.Page {
			continue
		}
		out = append(out, domain.TargetInfo{
			ID:    domain.TargetID(t.ID),
			Type:  string(t.Type),
			URL:   t.URL,
			Title: t.Title,
		})
	}
	return out, nil
}

// Attach 附加到目标并开始拦截其网络请求，已附加时增加引用计数
func (m *Manager) Attach(ctx context.Context, id domain.TargetID) (handler.DetailsResolver, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("cdp manager closed")
	}
	if ts, ok := m.targets[id]; ok {
		ts.refs++
		m.mu.Unlock()
		return ts, nil
	}
	m.mu.Unlock()

	ts, err := m.dial(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.targets[id]; ok {
		// 并发附加同一目标，保留先建立的连接
		existing.refs++
		go ts.close()
		return existing, nil
	}
	if m.closed {
		go ts.close()
		return nil, fmt.Errorf("cdp manager closed")
	}
	m.targets[id] = ts
	m.log.Info("已附加目标", "target", string(id))
	return ts, nil
}

func (m *Manager) dial(ctx context.Context, id domain.TargetID) (*targetSession, error) {
	list, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, err
	}
	var sel *devtool.Target
	for _, t := range list {
		if domain.TargetID(t.ID) == id {
			sel = t
			break
		}
	}
	if sel == nil {
		return nil, fmt.Errorf("target %s not found", id)
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial target %s: %w", id, err)
	}
	ts := newTargetSession(id, cdp.NewClient(conn), conn, m.obs, m.log.With("target", string(id)))
	if err := ts.start(ctx); err != nil {
		ts.close()
		return nil, fmt.Errorf("enable interception on %s: %w", id, err)
	}
	return ts, nil
}

// Detach 减少引用计数，最后一个会话分离时关闭连接
func (m *Manager) Detach(id domain.TargetID) error {
	m.mu.Lock()
	ts, ok := m.targets[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("target %s is not attached", id)
	}
	ts.refs--
	if ts.refs > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.targets, id)
	m.mu.Unlock()

	m.log.Info("已分离目标", "target", string(id))
	return ts.close()
}

// Close 关闭全部目标连接
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	targets := m.targets
	m.targets = make(map[domain.TargetID]*targetSession)
	m.mu.Unlock()

	var firstErr error
	for _, ts := range targets {
		if err := ts.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
