package sync

import (
	"context"
	"strconv"
	"strings"

	"github.com/JLJLJ/spreadsheet/logger"
	"github.com/JLJLJ/spreadsheet/service/audit"
	"github.com/JLJLJ/spreadsheet/service/room"
	"github.com/JLJLJ/spreadsheet/service/sheet"
	"github.com/JLJLJ/spreadsheet/service/storage"
)

const valuePreviewLimit = 50

// Engine 同步引擎：解析入站消息、分发、落盘、广播、记历史。
// 进程启动时创建一个实例，由每个连接处理协程共享引用，没有全局单例。
type Engine struct {
	reg      *room.Registry
	store    *sheet.Store
	sink     *audit.Sink
	presence *storage.Presence // 可选，nil 安全
	reportN  int               // history_update 广播条数
}

func NewEngine(reg *room.Registry, store *sheet.Store, sink *audit.Sink, presence *storage.Presence, reportN int) *Engine {
	if reportN <= 0 {
		reportN = 20
	}
	return &Engine{reg: reg, store: store, sink: sink, presence: presence, reportN: reportN}
}

// Registry 给传输层和只读 HTTP 路由用
func (e *Engine) Registry() *room.Registry { return e.reg }

// Store 文档存取句柄
func (e *Engine) Store() *sheet.Store { return e.store }

// Connect 连接进入房间。重连（同身份已在房间内）不广播 user_join，
// 两种情况都给连接者本人回 connected + 当前在线列表。
func (e *Engine) Connect(key, filePath string, c *room.Client) {
	_, reconnect := e.reg.Join(key, filePath, c)

	if err := e.presence.Online(context.Background(), key, c.UserID, c.DisplayName); err != nil {
		logger.Warnf("[engine] presence online failed user=%s: %v", c.UserID, err)
	}

	if !reconnect {
		e.reg.Broadcast(key, mustJSON(presenceOut{
			Type:        "user_join",
			UserID:      c.UserID,
			DisplayName: c.DisplayName,
			OnlineUsers: e.reg.ListOnline(key),
		}), c.UserID)
	}

	e.reg.SendDirect(c, mustJSON(connectedOut{
		Type:        "connected",
		UserID:      c.UserID,
		DisplayName: c.DisplayName,
		OnlineUsers: e.reg.ListOnline(key),
	}))
}

// Disconnect 连接退出。只有 c 仍是该身份的当前连接时才算真正离开
// （重连场景下旧连接的退出不触发 user_leave）。
func (e *Engine) Disconnect(key string, c *room.Client) {
	removed, emptied := e.reg.Leave(key, c)
	if !removed {
		return
	}

	if err := e.presence.Offline(context.Background(), key, c.UserID); err != nil {
		logger.Warnf("[engine] presence offline failed user=%s: %v", c.UserID, err)
	}

	if !emptied {
		e.reg.Broadcast(key, mustJSON(presenceOut{
			Type:        "user_leave",
			UserID:      c.UserID,
			DisplayName: c.DisplayName,
			OnlineUsers: e.reg.ListOnline(key),
		}), c.UserID)
	}
}

// Process 处理一条入站消息。协议错误（未知类型/坏负载）只记日志，
// 连接保持打开。
func (e *Engine) Process(key string, c *room.Client, raw []byte) {
	in, err := DecodeInbound(raw)
	if err != nil {
		logger.Warnf("[engine] drop message user=%s room=%s: %v", c.UserID, key, err)
		return
	}

	switch in.Type {
	case TypeCellUpdate:
		e.handleCellUpdate(key, c, in.Cell)
	case TypeBatchUpdate:
		e.handleBatchUpdate(key, c, in.Batch)
	case TypeCursorMove:
		e.reg.Broadcast(key, mustJSON(cursorMoveOut{
			Type: "cursor_move", Row: in.Cursor.Row, Col: in.Cursor.Col,
			UserID: c.UserID, DisplayName: c.DisplayName,
		}), c.UserID)
	case TypeSelectionChange:
		e.reg.Broadcast(key, mustJSON(selectionChangeOut{
			Type: "selection_change", Selection: in.Selection.Selection,
			UserID: c.UserID, DisplayName: c.DisplayName,
		}), c.UserID)
	case TypeDimensionUpdate:
		e.handleDimensionUpdate(key, c, in.Dimension)
	case TypePing:
		e.reg.SendDirect(c, mustJSON(pongOut{Type: "pong"}))
	}
}

func (e *Engine) handleCellUpdate(key string, c *room.Client, msg *CellUpdateMsg) {
	rm := e.reg.Get(key)
	if rm == nil {
		return
	}

	// 落盘失败只记日志：牺牲严格持久性，换取协作会话不中断
	if err := e.store.UpdateCell(rm.FilePath, sheet.CellUpdate{
		Row: msg.Row, Col: msg.Col, Value: msg.Value, Style: msg.Style,
	}); err != nil {
		logger.Errorf("[engine] persist cell failed room=%s cell=%s: %v",
			key, sheet.CellRef(msg.Row, msg.Col), err)
	}

	rm.History.Append(room.HistoryEntry{
		User:   c.DisplayName,
		Action: describeAction(msg.Value, msg.Style),
		Cell:   sheet.CellRef(msg.Row, msg.Col),
		Value:  valuePreview(msg.Value),
	})

	e.auditLog(c, key, "cell_update", map[string]any{
		"row": msg.Row, "col": msg.Col, "value": msg.Value, "style": msg.Style,
	})

	e.reg.Broadcast(key, mustJSON(cellUpdateOut{
		Type: "cell_update", Row: msg.Row, Col: msg.Col,
		Value: msg.Value, Style: msg.Style,
		UserID: c.UserID, DisplayName: c.DisplayName,
	}), c.UserID)

	// 历史列表推给包括发送者在内的所有人
	e.reg.Broadcast(key, mustJSON(historyUpdateOut{
		Type:    "history_update",
		History: rm.History.Query(e.reportN),
	}), "")
}

// handleBatchUpdate 批量更新只进审计，不进用户可见历史——有意的不对称
func (e *Engine) handleBatchUpdate(key string, c *room.Client, msg *BatchUpdateMsg) {
	rm := e.reg.Get(key)
	if rm == nil {
		return
	}

	if err := e.store.BatchUpdate(rm.FilePath, msg.Updates); err != nil {
		logger.Errorf("[engine] persist batch failed room=%s n=%d: %v", key, len(msg.Updates), err)
	}

	e.auditLog(c, key, "batch_update", map[string]any{"updates": msg.Updates})

	e.reg.Broadcast(key, mustJSON(batchUpdateOut{
		Type: "batch_update", Updates: msg.Updates,
		UserID: c.UserID, DisplayName: c.DisplayName,
	}), c.UserID)
}

func (e *Engine) handleDimensionUpdate(key string, c *room.Client, msg *DimensionUpdateMsg) {
	rm := e.reg.Get(key)
	if rm == nil {
		return
	}

	if err := e.store.UpdateDimensions(rm.FilePath,
		indexMap(msg.ColWidths), indexMap(msg.RowHeights)); err != nil {
		logger.Errorf("[engine] persist dimensions failed room=%s: %v", key, err)
	}

	e.auditLog(c, key, "dimension_update", map[string]any{
		"col_widths": msg.ColWidths, "row_heights": msg.RowHeights,
	})

	e.reg.Broadcast(key, mustJSON(dimensionUpdateOut{
		Type: "dimension_update", ColWidths: msg.ColWidths, RowHeights: msg.RowHeights,
		UserID: c.UserID, DisplayName: c.DisplayName,
	}), c.UserID)
}

func (e *Engine) auditLog(c *room.Client, key, action string, details map[string]any) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Append(audit.Record{
		UserID:      c.UserID,
		DisplayName: c.DisplayName,
		SheetKey:    key,
		Action:      action,
		Details:     details,
	}); err != nil {
		logger.Warnf("[engine] audit append failed: %v", err)
	}
}

// indexMap 字符串下标转整数下标，无法解析的条目丢弃
func indexMap(m map[string]int) map[int]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[int]int, len(m))
	for k, v := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			continue
		}
		out[i] = v
	}
	return out
}

// describeAction 根据样式里出现的字段生成动作描述
func describeAction(value any, st *sheet.CellStyle) string {
	if st.Empty() {
		return "update cell"
	}

	var parts []string
	if st.Bl != nil {
		parts = append(parts, "bold")
	}
	if st.It != nil {
		parts = append(parts, "italic")
	}
	if st.Ul != nil {
		parts = append(parts, "underline")
	}
	if st.St != nil {
		parts = append(parts, "strikethrough")
	}
	if st.Bg != nil {
		parts = append(parts, "background")
	}
	if st.Cl != nil {
		parts = append(parts, "font color")
	}
	if st.Bd != nil {
		parts = append(parts, "border")
	}
	if st.Ht != nil || st.Vt != nil {
		parts = append(parts, "align")
	}
	if st.Fs != nil {
		parts = append(parts, "font size "+strconv.FormatFloat(*st.Fs, 'f', -1, 64))
	}
	if len(parts) == 0 {
		return "update cell"
	}

	if preview := valuePreview(value); preview != "" {
		return "update value and format"
	}
	return "update format(" + strings.Join(parts, ",") + ")"
}

func valuePreview(value any) string {
	if value == nil {
		return ""
	}
	s := strings.TrimSpace(stringify(value))
	r := []rune(s)
	if len(r) > valuePreviewLimit {
		return string(r[:valuePreviewLimit])
	}
	return s
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		b := mustJSON(val)
		return string(b)
	}
}
