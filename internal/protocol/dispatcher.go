// Package protocol 实现 JSON 消息协议：解析请求信封，按 sessionId 路由到根会话或目标会话，并回写结果与事件。
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"netbridge/internal/handler"
	"netbridge/internal/logger"
	"netbridge/internal/metrics"
	"netbridge/internal/network/observer"
	"netbridge/internal/session"
	"netbridge/internal/workqueue"
	"netbridge/pkg/domain"
)

// Conn 一条消息通道，读写均为完整的 JSON 消息
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(data []byte) error
}

// Browser 目标注册表：列出、附加与分离目标
type Browser interface {
	Targets(ctx context.Context) ([]domain.TargetInfo, error)
	Attach(ctx context.Context, id domain.TargetID) (handler.DetailsResolver, error)
	Detach(id domain.TargetID) error
}

// Journal 记录发出的事件
type Journal interface {
	Record(sessionID domain.SessionID, method string, params any)
}

// Config 配置选项
type Config struct {
	Observer *observer.Observer
	Browser  Browser
	Sessions *session.Manager
	Journal  Journal
	Metrics  *metrics.Collector
	Logger   logger.Logger
}

// Dispatcher 协议分发器，可同时服务多条连接
type Dispatcher struct {
	obs      *observer.Observer
	browser  Browser
	sessions *session.Manager
	journal  Journal
	metrics  *metrics.Collector
	log      logger.Logger
}

// New 创建协议分发器
func New(cfg Config) *Dispatcher {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = session.NewManager(l)
	}
	return &Dispatcher{
		obs:      cfg.Observer,
		browser:  cfg.Browser,
		sessions: sessions,
		journal:  cfg.Journal,
		metrics:  cfg.Metrics,
		log:      l,
	}
}

// connection 单条连接的状态：写入串行化，并记录由该连接创建的会话
type connection struct {
	conn     Conn
	writeMu  sync.Mutex
	mu       sync.Mutex
	sessions map[domain.SessionID]struct{}
	// 每个会话一个串行队列，根会话的键为空串
	queues map[domain.SessionID]*workqueue.Serial
	calls  sync.WaitGroup
}

// queueFor 返回会话的调用队列；不属于该连接的会话与根会话共用队列
func (c *connection) queueFor(id domain.SessionID) *workqueue.Serial {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, owned := c.sessions[id]; !owned {
		id = ""
	}
	q, ok := c.queues[id]
	if !ok {
		q = workqueue.NewSerial()
		c.queues[id] = q
	}
	return q
}

// dropQueue 移除会话的队列，已排队的调用执行完后队列退出
func (c *connection) dropQueue(id domain.SessionID) {
	c.mu.Lock()
	q, ok := c.queues[id]
	delete(c.queues, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	c.calls.Add(1)
	go func() {
		defer c.calls.Done()
		q.Close()
	}()
}

// closeQueues 关闭全部队列并等待排队中的调用结束
func (c *connection) closeQueues() {
	c.mu.Lock()
	queues := c.queues
	c.queues = map[domain.SessionID]*workqueue.Serial{}
	c.mu.Unlock()
	for _, q := range queues {
		q.Close()
	}
	c.calls.Wait()
}

func (c *connection) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(data)
}

// Serve 读取并处理消息直到连接关闭；同一会话的调用按到达顺序执行，不同会话互不等待，
// 连接关闭时分离它创建的会话
func (d *Dispatcher) Serve(ctx context.Context, conn Conn) error {
	c := &connection{
		conn:     conn,
		sessions: make(map[domain.SessionID]struct{}),
		queues:   make(map[domain.SessionID]*workqueue.Serial),
	}
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.closeQueues()
		d.closeConnection(c)
	}()

	d.log.Info("协议连接建立")
	for {
		msg, err := conn.ReadMessage(ctx)
		if err != nil {
			d.log.Info("协议连接关闭", "error", err)
			return err
		}
		req, ok := d.parseRequest(msg)
		if !ok {
			continue
		}
		c.queueFor(req.sessionID).Push(func() { d.handleRequest(ctx, c, req) })
	}
}

func (d *Dispatcher) closeConnection(c *connection) {
	c.mu.Lock()
	ids := make([]domain.SessionID, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.sessions = map[domain.SessionID]struct{}{}
	c.mu.Unlock()

	for _, id := range ids {
		if s, ok := d.sessions.Remove(id); ok {
			d.detachTarget(s.Target)
		}
	}
}

type request struct {
	id        int64
	method    string
	sessionID domain.SessionID
	params    gjson.Result
}

type errorBody struct {
	Message string           `json:"message"`
	Data    domain.ErrorCode `json:"data"`
}

type resultEnvelope struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

type errorEnvelope struct {
	ID    int64     `json:"id"`
	Error errorBody `json:"error"`
}

type eventEnvelope struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

func (d *Dispatcher) parseRequest(msg []byte) (request, bool) {
	if !gjson.ValidBytes(msg) {
		d.log.Warn("收到无效的协议消息", "size", len(msg))
		return request{}, false
	}
	parsed := gjson.ParseBytes(msg)
	return request{
		id:        parsed.Get("id").Int(),
		method:    parsed.Get("method").String(),
		sessionID: domain.SessionID(parsed.Get("sessionId").String()),
		params:    parsed.Get("params"),
	}, true
}

func (d *Dispatcher) handleRequest(ctx context.Context, c *connection, req request) {
	var (
		result any
		err    error
	)
	if req.sessionID == "" {
		result, err = d.handleRoot(ctx, c, req)
	} else {
		result, err = d.handleSession(ctx, req)
	}
	d.metrics.ProtocolCall(req.method, err)

	var out []byte
	if err != nil {
		d.log.Debug("协议调用失败", "method", req.method, "sessionId", string(req.sessionID), "error", err)
		out, err = json.Marshal(errorEnvelope{ID: req.id, Error: toErrorBody(err)})
	} else {
		if result == nil {
			result = struct{}{}
		}
		out, err = json.Marshal(resultEnvelope{ID: req.id, Result: result})
	}
	if err != nil {
		d.log.Err(err, "序列化协议响应失败", "method", req.method)
		return
	}
	if req.sessionID != "" {
		if out, err = sjson.SetBytes(out, "sessionId", string(req.sessionID)); err != nil {
			d.log.Err(err, "写入 sessionId 失败", "method", req.method)
			return
		}
	}
	if err := c.write(out); err != nil {
		d.log.Err(err, "写入协议响应失败", "method", req.method)
	}
}

// emitter 返回会话的事件输出
func (d *Dispatcher) emitter(c *connection, sessionID domain.SessionID) func(method string, params any) {
	return func(method string, params any) {
		if d.journal != nil {
			d.journal.Record(sessionID, method, params)
		}
		if err := d.sendEvent(c, sessionID, method, params); err != nil {
			d.log.Err(err, "发送协议事件失败", "method", method, "sessionId", string(sessionID))
		}
	}
}

func (d *Dispatcher) sendEvent(c *connection, sessionID domain.SessionID, method string, params any) error {
	out, err := json.Marshal(eventEnvelope{Method: method, Params: params})
	if err != nil {
		return err
	}
	if sessionID != "" {
		if out, err = sjson.SetBytes(out, "sessionId", string(sessionID)); err != nil {
			return err
		}
	}
	return c.write(out)
}

func toErrorBody(err error) errorBody {
	var derr *domain.Error
	if errors.As(err, &derr) {
		return errorBody{Message: derr.Message, Data: derr.Code}
	}
	return errorBody{Message: err.Error()}
}

// decodeParams 将 params 解码到结构体
func decodeParams(params gjson.Result, v any) error {
	if !params.Exists() {
		return nil
	}
	if err := json.Unmarshal([]byte(params.Raw), v); err != nil {
		return domain.Errorf(domain.CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

// requireString 读取必填的字符串参数
func requireString(params gjson.Result, name string) (string, error) {
	v := params.Get(name)
	if v.Type != gjson.String || v.String() == "" {
		return "", domain.Errorf(domain.CodeInvalidParams, "%s is required", name)
	}
	return v.String(), nil
}

func methodNotFound(method string) error {
	return domain.Errorf(domain.CodeMethodNotFound, "%s is not supported", method)
}

func sessionNotFound(id domain.SessionID) error {
	return domain.Errorf(domain.CodeSessionNotFound, "session %q does not exist", id)
}

func wrapBrowserErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
