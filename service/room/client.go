package room

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JLJLJ/spreadsheet/logger"
)

const writeDeadline = 5 * time.Second

// Client 一条进入房间的连接。
// 同一用户重连会复用身份，但连接对象整体替换。
// 写入走 Send 队列由单独的写协程消费，gorilla 不允许并发写。
type Client struct {
	ConnID      string          // 连接ID（雪花）
	UserID      string          // 设备token_IP 组合身份，重连保持不变
	DisplayName string          // 设备token@IP
	WS          *websocket.Conn // WebSocket 连接对象
	Send        chan []byte     // 出站队列（单写协程消费）
	JoinedAt    time.Time

	closeOnce sync.Once
}

func NewClient(connID, userID, displayName string, ws *websocket.Conn, sendQueueSize int) *Client {
	return &Client{
		ConnID:      connID,
		UserID:      userID,
		DisplayName: displayName,
		WS:          ws,
		Send:        make(chan []byte, sendQueueSize),
		JoinedAt:    time.Now(),
	}
}

// Close 关闭发送队列和底层连接，幂等
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Send)
		if c.WS != nil {
			_ = c.WS.Close()
		}
	})
}

// WritePump 消费 Send 队列写入 socket，写失败即退出。
// Close 之后队列被关闭，循环自然结束。
func (c *Client) WritePump() {
	for data := range c.Send {
		if c.WS == nil {
			continue
		}
		_ = c.WS.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := c.WS.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Warnf("[room] write failed user=%s conn=%s err=%v", c.UserID, c.ConnID, err)
			return
		}
	}
}

// enqueue 投递到发送队列。队列满或已关闭视为投递失败。
func (c *Client) enqueue(data []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}
