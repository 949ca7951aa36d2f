package room

import (
	"sync"
	"time"
)

// HistoryEntry 一条人类可读的修改记录
type HistoryEntry struct {
	User      string `json:"user"`
	Action    string `json:"action"`
	Cell      string `json:"cell"`
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
}

// History 房间级的有界修改历史，新的在前，超限淘汰最旧。
// 房间销毁时整体丢弃。
type History struct {
	mu      sync.Mutex
	max     int
	entries []HistoryEntry
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = 100
	}
	return &History{max: max}
}

// Append 头部插入，插入后截断到上限
func (h *History) Append(e HistoryEntry) {
	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format("2006-01-02 15:04:05")
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append([]HistoryEntry{e}, h.entries...)
	if len(h.entries) > h.max {
		h.entries = h.entries[:h.max]
	}
}

// Query 最近 count 条，新的在前；没有记录返回空切片
func (h *History) Query(count int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if count <= 0 || count > len(h.entries) {
		count = len(h.entries)
	}
	out := make([]HistoryEntry, count)
	copy(out, h.entries[:count])
	return out
}

// Len 当前条数
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
