// Package storage 基于 GORM + SQLite 的事件日志持久化。
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"netbridge/internal/logger"
	"netbridge/pkg/domain"
)

const (
	// journalQueue 待写入事件的缓冲长度，队列满时丢弃并计数
	journalQueue = 1024
	// journalBatch 单次批量写入的最大条数
	journalBatch = 128
)

// JournalEntry 一条已发出的协议事件
type JournalEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	SessionID string    `gorm:"index;size:64" json:"sessionId"`
	Method    string    `gorm:"index;size:128" json:"method"`
	Params    string    `gorm:"type:text" json:"params"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// Journal 异步写入事件日志，写入顺序与 Record 调用顺序一致
type Journal struct {
	db  *gorm.DB
	log logger.Logger

	mu      sync.Mutex
	closed  bool
	queue   chan journalOp
	dropped int
	done    chan struct{}
}

type journalOp struct {
	entry   *JournalEntry
	barrier chan struct{}
}

// Open 打开（或创建）数据库并迁移表结构
func Open(dsn, prefix string, l logger.Logger) (*Journal, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite 单写者；内存库在多连接下各自独立
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&JournalEntry{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}

	j := &Journal{
		db:    db,
		log:   l.With("component", "journal"),
		queue: make(chan journalOp, journalQueue),
		done:  make(chan struct{}),
	}
	go j.run()
	return j, nil
}

// Record 记录一条事件，不阻塞调用方
func (j *Journal) Record(sessionID domain.SessionID, method string, params any) {
	raw, err := json.Marshal(params)
	if err != nil {
		j.log.Err(err, "序列化事件失败", "method", method)
		return
	}
	entry := &JournalEntry{
		SessionID: string(sessionID),
		Method:    method,
		Params:    string(raw),
		CreatedAt: time.Now(),
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.queue <- journalOp{entry: entry}:
	default:
		j.dropped++
		if j.dropped == 1 || j.dropped%1000 == 0 {
			j.log.Warn("事件日志队列已满，丢弃事件", "dropped", j.dropped)
		}
	}
}

func (j *Journal) run() {
	defer close(j.done)
	batch := make([]*JournalEntry, 0, journalBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := j.db.CreateInBatches(batch, journalBatch).Error; err != nil {
			j.log.Err(err, "写入事件日志失败", "count", len(batch))
		}
		batch = batch[:0]
	}

	for op := range j.queue {
		if op.entry != nil {
			batch = append(batch, op.entry)
		}
		// 队列暂时读空或遇到屏障时落盘
		if op.barrier != nil || len(j.queue) == 0 || len(batch) >= journalBatch {
			flush()
		}
		if op.barrier != nil {
			close(op.barrier)
		}
	}
	flush()
}

// Flush 等待已记录的事件全部写入
func (j *Journal) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return errors.New("journal closed")
	}
	// 持锁发送，避免与 Close 关闭队列并发
	select {
	case j.queue <- journalOp{barrier: barrier}:
		j.mu.Unlock()
	case <-ctx.Done():
		j.mu.Unlock()
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recent 按时间倒序返回最近的事件，sessionID 为空时不过滤
func (j *Journal) Recent(ctx context.Context, sessionID string, limit int) ([]JournalEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := j.db.WithContext(WithSession(ctx, sessionID)).Order("id desc").Limit(limit)
	if sessionID != "" {
		q = q.Where("session_id = ?", sessionID)
	}
	var entries []JournalEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Close 写完队列中的事件后关闭数据库
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
