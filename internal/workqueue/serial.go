// Package workqueue 提供按提交顺序在单个 goroutine 上执行任务的无界队列。
package workqueue

import "sync"

// Serial 串行任务队列；Push 从不阻塞，任务按提交顺序逐个执行
type Serial struct {
	mu     sync.Mutex
	cond   *sync.Cond
	jobs   []func()
	closed bool
	done   chan struct{}
}

// NewSerial 创建队列并启动执行 goroutine
func NewSerial() *Serial {
	q := &Serial{done: make(chan struct{})}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

// Push 追加任务，队列关闭后返回 false
func (q *Serial) Push(job func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, job)
	q.cond.Signal()
	return true
}

// Len 返回尚未开始执行的任务数
func (q *Serial) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close 停止接收任务，执行完已排队的任务后返回；可重复调用
func (q *Serial) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	<-q.done
}

func (q *Serial) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.jobs) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.jobs) == 0 {
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		job()
	}
}
