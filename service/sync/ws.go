package sync

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/JLJLJ/spreadsheet/logger"
	"github.com/JLJLJ/spreadsheet/service/room"
	"github.com/JLJLJ/spreadsheet/service/storage"
	"github.com/JLJLJ/spreadsheet/tools/ids"
	"github.com/JLJLJ/spreadsheet/tools/safe"
)

const sendQueueSize = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS WebSocket 接入端点 /ws/:key。
// 身份在这里组装（设备token_IP），引擎只信任这个结果。
// 每个连接一个读循环协程，写通过 Client 的写泵走。
func (e *Engine) HandleWS(keys *storage.KeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.Param("key")
		sk, err := keys.Resolve(key)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid sheet key"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warnf("[ws] upgrade failed key=%s: %v", key, err)
			return
		}

		token := c.Query("mac")
		if token == "" {
			token = "unknown"
		}
		ip := clientIP(ws)
		userID := token + "_" + ip
		display := token + "@" + ip

		client := room.NewClient(ids.GenerateString(), userID, display, ws, sendQueueSize)
		safe.SafeGo(client.WritePump)

		e.Connect(key, sk.FilePath, client)
		logger.Infof("[ws] connected user=%s conn=%s room=%s", userID, client.ConnID, key)

		// 读循环：断开或不可恢复的读错误即结束，在途发送直接放弃
		for {
			mt, data, rerr := ws.ReadMessage()
			if rerr != nil {
				if websocket.IsCloseError(rerr,
					websocket.CloseNormalClosure,
					websocket.CloseGoingAway,
					websocket.CloseNoStatusReceived,
				) {
					logger.Infof("[ws] peer closed user=%s conn=%s", userID, client.ConnID)
				} else {
					logger.Infof("[ws] read err user=%s conn=%s err=%v", userID, client.ConnID, rerr)
				}
				break
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			e.Process(key, client, data)
		}

		e.Disconnect(key, client)
		client.Close()
	}
}

// HandleSnapshot GET /api/sheet/:key 文档快照
func (e *Engine) HandleSnapshot(keys *storage.KeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sk, err := keys.Resolve(c.Param("key"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid sheet key"})
			return
		}
		snap, err := e.store.Load(sk.FilePath)
		if err != nil {
			logger.Errorf("[ws] load snapshot failed key=%s: %v", sk.Key, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load sheet failed"})
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// HandleHistory GET /api/sheet/:key/history 最近修改记录
func (e *Engine) HandleHistory(keys *storage.KeyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		sk, err := keys.Resolve(c.Param("key"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "invalid sheet key"})
			return
		}
		history := []room.HistoryEntry{}
		if rm := e.reg.Get(sk.Key); rm != nil {
			history = rm.History.Query(e.reportN)
		}
		c.JSON(http.StatusOK, gin.H{"history": history})
	}
}

func clientIP(ws *websocket.Conn) string {
	addr := ws.RemoteAddr()
	if addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
