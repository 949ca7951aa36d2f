package sync

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/JLJLJ/spreadsheet/service/room"
	"github.com/JLJLJ/spreadsheet/service/sheet"
)

// 入站消息在边界处一次性解码成封闭的类型集合，
// 下游逻辑只面对类型化的值，不再做动态字段查找。

type MsgType string

const (
	TypeCellUpdate      MsgType = "cell_update"
	TypeBatchUpdate     MsgType = "batch_update"
	TypeCursorMove      MsgType = "cursor_move"
	TypeSelectionChange MsgType = "selection_change"
	TypeDimensionUpdate MsgType = "dimension_update"
	TypePing            MsgType = "ping"
)

// ErrUnknownType 未知消息类型：记日志忽略，连接保持
var ErrUnknownType = errors.New("unknown message type")

type CellUpdateMsg struct {
	Row   int              `json:"row"`
	Col   int              `json:"col"`
	Value any              `json:"value"`
	Style *sheet.CellStyle `json:"style"`
}

type BatchUpdateMsg struct {
	Updates []sheet.CellUpdate `json:"updates"`
}

type CursorMoveMsg struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

type SelectionChangeMsg struct {
	Selection any `json:"selection"` // 不透明，原样转发
}

type DimensionUpdateMsg struct {
	ColWidths  map[string]int `json:"col_widths"`
	RowHeights map[string]int `json:"row_heights"`
}

// Inbound 解码结果，Type 决定哪个分支非空
type Inbound struct {
	Type      MsgType
	Cell      *CellUpdateMsg
	Batch     *BatchUpdateMsg
	Cursor    *CursorMoveMsg
	Selection *SelectionChangeMsg
	Dimension *DimensionUpdateMsg
}

// DecodeInbound 解析 {type, ...} 信封并解码到对应分支。
// JSON 数字统一是 float64，弱类型解码把它们落回 int 字段。
func DecodeInbound(raw []byte) (*Inbound, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(err, "parse message envelope")
	}
	t, _ := m["type"].(string)
	in := &Inbound{Type: MsgType(t)}

	decode := func(dst any) error {
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			WeaklyTypedInput: true,
			Result:           dst,
		})
		if err != nil {
			return err
		}
		return errors.Wrapf(dec.Decode(m), "decode %s payload", t)
	}

	switch in.Type {
	case TypeCellUpdate:
		in.Cell = &CellUpdateMsg{}
		return in, decode(in.Cell)
	case TypeBatchUpdate:
		in.Batch = &BatchUpdateMsg{}
		return in, decode(in.Batch)
	case TypeCursorMove:
		in.Cursor = &CursorMoveMsg{}
		return in, decode(in.Cursor)
	case TypeSelectionChange:
		in.Selection = &SelectionChangeMsg{}
		return in, decode(in.Selection)
	case TypeDimensionUpdate:
		in.Dimension = &DimensionUpdateMsg{}
		return in, decode(in.Dimension)
	case TypePing:
		return in, nil
	default:
		return nil, errors.Wrapf(ErrUnknownType, "type=%q", t)
	}
}

// ===== 出站信封 =====

type connectedOut struct {
	Type        string            `json:"type"`
	UserID      string            `json:"user_id"`
	DisplayName string            `json:"display_name"`
	OnlineUsers []room.OnlineUser `json:"online_users"`
}

type presenceOut struct {
	Type        string            `json:"type"` // user_join | user_leave
	UserID      string            `json:"user_id"`
	DisplayName string            `json:"display_name"`
	OnlineUsers []room.OnlineUser `json:"online_users"`
}

type cellUpdateOut struct {
	Type        string           `json:"type"`
	Row         int              `json:"row"`
	Col         int              `json:"col"`
	Value       any              `json:"value"`
	Style       *sheet.CellStyle `json:"style,omitempty"`
	UserID      string           `json:"user_id"`
	DisplayName string           `json:"display_name"`
}

type batchUpdateOut struct {
	Type        string             `json:"type"`
	Updates     []sheet.CellUpdate `json:"updates"`
	UserID      string             `json:"user_id"`
	DisplayName string             `json:"display_name"`
}

type cursorMoveOut struct {
	Type        string `json:"type"`
	Row         int    `json:"row"`
	Col         int    `json:"col"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type selectionChangeOut struct {
	Type        string `json:"type"`
	Selection   any    `json:"selection"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

type dimensionUpdateOut struct {
	Type        string         `json:"type"`
	ColWidths   map[string]int `json:"col_widths,omitempty"`
	RowHeights  map[string]int `json:"row_heights,omitempty"`
	UserID      string         `json:"user_id"`
	DisplayName string         `json:"display_name"`
}

type historyUpdateOut struct {
	Type    string              `json:"type"`
	History []room.HistoryEntry `json:"history"`
}

type pongOut struct {
	Type string `json:"type"`
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// 出站结构都是本包定义的可序列化类型，到这说明代码错了
		panic(err)
	}
	return b
}
