package room

import (
	"sort"
	"sync"
	"time"
)

// OnlineUser list_online 返回的成员快照
type OnlineUser struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	ConnectedAt string `json:"connected_at"`
}

// Room 一个文档密钥对应的协作房间。
// 有连接才存在，最后一个连接离开即销毁（历史一并丢弃，文件不受影响）。
type Room struct {
	Key      string
	FilePath string
	History  *History

	mu      sync.RWMutex
	members map[string]*Client // userID -> client
}

// Registry 房间与连接的登记处。
// 只信任传输层给的身份，不做任何鉴权。
type Registry struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	historyMax int
}

func NewRegistry(historyMax int) *Registry {
	return &Registry{rooms: make(map[string]*Room), historyMax: historyMax}
}

// Join 将连接加入房间。同一身份已在房间内（重连）时原地替换
// 连接对象、保留首次加入时间，并返回 reconnect=true，调用方不应广播 user_join。
func (r *Registry) Join(key, filePath string, c *Client) (rm *Room, reconnect bool) {
	r.mu.Lock()
	rm, ok := r.rooms[key]
	if !ok {
		rm = &Room{
			Key:      key,
			FilePath: filePath,
			History:  NewHistory(r.historyMax),
			members:  make(map[string]*Client),
		}
		r.rooms[key] = rm
	}
	r.mu.Unlock()

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if old, exists := rm.members[c.UserID]; exists {
		c.JoinedAt = old.JoinedAt
		old.Close()
		reconnect = true
	}
	rm.members[c.UserID] = c
	return rm, reconnect
}

// Leave 将身份移出房间；当前登记的连接不是 c 时（已被重连替换）不动。
// 返回是否真的移除了成员、以及房间是否因此销毁。
func (r *Registry) Leave(key string, c *Client) (removed, emptied bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[key]
	if !ok {
		return false, false
	}

	rm.mu.Lock()
	cur, exists := rm.members[c.UserID]
	if exists && cur == c {
		delete(rm.members, c.UserID)
		removed = true
	}
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if removed && empty {
		// 房间级瞬态（历史、队列）随房间一起丢弃
		delete(r.rooms, key)
		return true, true
	}
	return removed, false
}

// Get 取房间，可能为 nil
func (r *Registry) Get(key string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[key]
}

// ListOnline 房间成员快照，按加入时间排序
func (r *Registry) ListOnline(key string) []OnlineUser {
	rm := r.Get(key)
	if rm == nil {
		return []OnlineUser{}
	}

	rm.mu.RLock()
	clients := make([]*Client, 0, len(rm.members))
	for _, c := range rm.members {
		clients = append(clients, c)
	}
	rm.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool {
		if clients[i].JoinedAt.Equal(clients[j].JoinedAt) {
			return clients[i].UserID < clients[j].UserID
		}
		return clients[i].JoinedAt.Before(clients[j].JoinedAt)
	})

	out := make([]OnlineUser, 0, len(clients))
	for _, c := range clients {
		out = append(out, OnlineUser{
			UserID:      c.UserID,
			DisplayName: c.DisplayName,
			ConnectedAt: c.JoinedAt.Format(time.RFC3339),
		})
	}
	return out
}

// members 成员副本，exclude 非空时剔除该身份
func (rm *Room) listMembers(exclude string) []*Client {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	out := make([]*Client, 0, len(rm.members))
	for id, c := range rm.members {
		if exclude != "" && id == exclude {
			continue
		}
		out = append(out, c)
	}
	return out
}

// removeMember 校验后摘除成员，广播清理坏连接用
func (rm *Room) removeMember(c *Client) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if cur, ok := rm.members[c.UserID]; ok && cur == c {
		delete(rm.members, c.UserID)
	}
}
