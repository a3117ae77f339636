// Package activity 按逻辑请求缓冲网络通知，并严格按生命周期顺序发出协议事件。
package activity

import (
	"sync"

	"netbridge/pkg/domain"
)

// Stage 已发出的最后一个事件
type Stage int

const (
	StageIdle Stage = iota
	StageRequestSent
	StageResponseReceived
	StageFinished
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageRequestSent:
		return "requestWillBeSent"
	case StageResponseReceived:
		return "responseReceived"
	case StageFinished:
		return "requestFinished"
	case StageFailed:
		return "requestFailed"
	default:
		return "unknown"
	}
}

// Terminal 是否为终态
func (s Stage) Terminal() bool {
	return s == StageFinished || s == StageFailed
}

// EmitFunc 事件输出
type EmitFunc func(method string, params any)

// Record 单个逻辑请求的活动记录
type Record struct {
	ID        string
	LastStage Stage
	Request   *domain.RequestWillBeSent
	Response  *domain.ResponseReceived
	Complete  *domain.RequestFinished
	Failure   *domain.RequestFailed
}

// Tracker 一个会话内所有逻辑请求的状态机
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record
	emit    EmitFunc
}

// NewTracker 创建状态机
func NewTracker(emit EmitFunc) *Tracker {
	if emit == nil {
		emit = func(string, any) {}
	}
	return &Tracker{records: make(map[string]*Record), emit: emit}
}

// OnRequest 请求数据到达
func (t *Tracker) OnRequest(ev *domain.RequestWillBeSent) {
	t.update(ev.RequestID, func(r *Record) { r.Request = ev })
}

// OnResponse 响应数据到达
func (t *Tracker) OnResponse(ev *domain.ResponseReceived) {
	t.update(ev.RequestID, func(r *Record) { r.Response = ev })
}

// OnFinished 完成数据到达
func (t *Tracker) OnFinished(ev *domain.RequestFinished) {
	t.update(ev.RequestID, func(r *Record) { r.Complete = ev })
}

// OnFailed 失败数据到达
func (t *Tracker) OnFailed(ev *domain.RequestFailed) {
	t.update(ev.RequestID, func(r *Record) { r.Failure = ev })
}

// Len 未结束的记录数量
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Stage 返回逻辑请求当前阶段，记录不存在时返回 false
func (t *Tracker) Stage(id string) (Stage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		return StageIdle, false
	}
	return r.LastStage, true
}

// Reset 丢弃所有记录
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.records = make(map[string]*Record)
	t.mu.Unlock()
}

func (t *Tracker) update(id string, set func(*Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[id]
	if !ok {
		r = &Record{ID: id}
		t.records[id] = r
	}
	set(r)
	t.report(r)
}

// report 按固定优先级推进状态，调用方持有锁
func (t *Tracker) report(r *Record) {
	if r.LastStage == StageIdle && r.Request != nil {
		t.emit(domain.EventRequestWillBeSent, r.Request)
		r.LastStage = StageRequestSent
		// 重定向链中前驱由后继接续，不再单独结束
		if from := r.Request.RedirectedFrom; from != "" && from != r.ID {
			if prev, ok := t.records[from]; ok && prev.LastStage != StageIdle {
				delete(t.records, from)
			}
		}
	}
	if r.LastStage == StageRequestSent && r.Response != nil {
		t.emit(domain.EventResponseReceived, r.Response)
		r.LastStage = StageResponseReceived
	}
	if r.LastStage == StageResponseReceived && r.Complete != nil {
		t.emit(domain.EventRequestFinished, r.Complete)
		r.LastStage = StageFinished
	}
	if r.LastStage != StageIdle && !r.LastStage.Terminal() && r.Failure != nil {
		t.emit(domain.EventRequestFailed, r.Failure)
		r.LastStage = StageFailed
	}
	if r.LastStage.Terminal() {
		delete(t.records, r.ID)
	}
}
