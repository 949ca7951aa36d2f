package room

import (
	"github.com/JLJLJ/spreadsheet/logger"
)

// Broadcast 向房间内 exclude 之外的所有成员投递。
// 某个成员投递失败只摘除该成员，其余继续；单个成员内保持发送顺序，
// 成员之间没有顺序保证。
func (r *Registry) Broadcast(key string, payload []byte, exclude string) {
	rm := r.Get(key)
	if rm == nil {
		return
	}

	var failed []*Client
	for _, c := range rm.listMembers(exclude) {
		if !c.enqueue(payload) {
			logger.Warnf("[room] broadcast drop user=%s conn=%s room=%s", c.UserID, c.ConnID, key)
			failed = append(failed, c)
		}
	}

	// 投递失败的连接视为不可用，摘除并关闭
	for _, c := range failed {
		rm.removeMember(c)
		c.Close()
	}
}

// SendDirect 单播。失败只记日志，不重试也不摘除。
func (r *Registry) SendDirect(c *Client, payload []byte) {
	if c == nil {
		return
	}
	if !c.enqueue(payload) {
		logger.Warnf("[room] direct send failed user=%s conn=%s", c.UserID, c.ConnID)
	}
}
