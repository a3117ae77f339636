// Package bodystore 按 scope 缓存响应体，超出容量时按插入顺序淘汰字节内容。
package bodystore

import (
	"sync"

	"netbridge/pkg/domain"
)

const (
	// DefaultMaxTotalSize 每个 scope 的响应体总容量
	DefaultMaxTotalSize = 100 * 1024 * 1024
	// DefaultMaxResponseSize 单个响应体上限
	DefaultMaxResponseSize = DefaultMaxTotalSize / 10
)

// Body 读取结果
type Body struct {
	Data    []byte
	Evicted bool
}

type record struct {
	id        string
	body      []byte
	encodings []string
	evicted   bool
}

// Store 单个 scope 的响应体存储
type Store struct {
	mu              sync.Mutex
	maxResponseSize int
	maxTotalSize    int
	totalSize       int
	records         map[string]*record
	order           []*record
}

// New 创建响应体存储，非正数参数使用默认值
func New(maxResponseSize, maxTotalSize int) *Store {
	if maxTotalSize <= 0 {
		maxTotalSize = DefaultMaxTotalSize
	}
	if maxResponseSize <= 0 {
		maxResponseSize = maxTotalSize / 10
	}
	return &Store{
		maxResponseSize: maxResponseSize,
		maxTotalSize:    maxTotalSize,
		records:         make(map[string]*record),
	}
}

// Add 保存响应体；同一逻辑ID只接受第一次写入，返回本次淘汰的字节数
func (s *Store) Add(id string, body []byte, encodings []string) (evictedBytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; ok {
		return 0
	}
	if len(body) > s.maxResponseSize {
		s.insert(&record{id: id, evicted: true})
		return len(body)
	}
	s.insert(&record{
		id:        id,
		body:      append([]byte(nil), body...),
		encodings: append([]string(nil), encodings...),
	})
	s.totalSize += len(body)
	if s.totalSize <= s.maxTotalSize {
		return 0
	}
	for _, r := range s.order {
		if r.evicted {
			continue
		}
		s.totalSize -= len(r.body)
		evictedBytes += len(r.body)
		r.body = nil
		r.evicted = true
		if s.totalSize < s.maxTotalSize {
			break
		}
	}
	return evictedBytes
}

func (s *Store) insert(r *record) {
	s.records[r.id] = r
	s.order = append(s.order, r)
}

// Get 读取响应体，每次读取时按内容编码解码
func (s *Store) Get(id string) (Body, error) {
	s.mu.Lock()
	r, ok := s.records[id]
	var (
		raw       []byte
		encodings []string
		evicted   bool
	)
	if ok {
		raw, encodings, evicted = r.body, r.encodings, r.evicted
	}
	s.mu.Unlock()

	if !ok {
		return Body{}, domain.Errorf(domain.CodeRequestNotFound, "request %q is not found", id)
	}
	if evicted {
		return Body{Evicted: true}, nil
	}
	data, err := Decode(raw, encodings)
	if err != nil {
		return Body{Data: []byte{}}, nil
	}
	return Body{Data: data}, nil
}

// TotalSize 当前保存的字节总数
func (s *Store) TotalSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

// Len 记录条数（含已淘汰）
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
