package sheet

// 单元格样式的线上格式（与前端约定的紧凑 schema）。
// 字段全部可选，缺省即"未设置"，序列化时省略。

type Color struct {
	RGB string `json:"rgb"`
}

type Underline struct {
	S int `json:"s"` // 1 = single，不支持多线型
}

type BorderSide struct {
	S  int    `json:"s"` // 1 = thin, 2 = thick
	Cl *Color `json:"cl,omitempty"`
}

type Border struct {
	T *BorderSide `json:"t,omitempty"`
	B *BorderSide `json:"b,omitempty"`
	L *BorderSide `json:"l,omitempty"`
	R *BorderSide `json:"r,omitempty"`
}

type CellStyle struct {
	Bl *int       `json:"bl,omitempty"` // 加粗
	It *int       `json:"it,omitempty"` // 斜体
	Ul *Underline `json:"ul,omitempty"` // 下划线
	St *int       `json:"st,omitempty"` // 删除线
	Cl *Color     `json:"cl,omitempty"` // 字体颜色
	Fs *float64   `json:"fs,omitempty"` // 字号
	Ff *string    `json:"ff,omitempty"` // 字体
	Bg *Color     `json:"bg,omitempty"` // 背景色
	Ht *string    `json:"ht,omitempty"` // 水平对齐 left|center|right
	Vt *string    `json:"vt,omitempty"` // 垂直对齐 top|middle|bottom
	Tb *string    `json:"tb,omitempty"` // "2" = 自动换行
	Bd *Border    `json:"bd,omitempty"` // 边框
}

// Empty 没有任何样式字段
func (s *CellStyle) Empty() bool {
	if s == nil {
		return true
	}
	return s.Bl == nil && s.It == nil && s.Ul == nil && s.St == nil &&
		s.Cl == nil && s.Fs == nil && s.Ff == nil && s.Bg == nil &&
		s.Ht == nil && s.Vt == nil && s.Tb == nil && s.Bd == nil
}

// Merge 将 in 中出现的字段覆盖到当前样式上，未出现的字段保持原值。
// 返回新对象，两个输入都不被修改。
func (s *CellStyle) Merge(in *CellStyle) *CellStyle {
	out := &CellStyle{}
	if s != nil {
		*out = *s
	}
	if in == nil {
		return out
	}
	if in.Bl != nil {
		out.Bl = in.Bl
	}
	if in.It != nil {
		out.It = in.It
	}
	if in.Ul != nil {
		out.Ul = in.Ul
	}
	if in.St != nil {
		out.St = in.St
	}
	if in.Cl != nil {
		out.Cl = in.Cl
	}
	if in.Fs != nil {
		out.Fs = in.Fs
	}
	if in.Ff != nil {
		out.Ff = in.Ff
	}
	if in.Bg != nil {
		out.Bg = in.Bg
	}
	if in.Ht != nil {
		out.Ht = in.Ht
	}
	if in.Vt != nil {
		out.Vt = in.Vt
	}
	if in.Tb != nil {
		out.Tb = in.Tb
	}
	if in.Bd != nil {
		out.Bd = in.Bd
	}
	return out
}

// filterHex 只保留十六进制字符
func filterHex(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			out = append(out, c)
		}
	}
	return string(out)
}

// normalizeRGB 将颜色值规整为 6 位 RGB。
// 过滤后不足 6 位返回空串（调用方按"省略该属性"处理），
// 8 位 ARGB 去掉透明度前缀。
func normalizeRGB(raw string) string {
	hex := filterHex(raw)
	if len(hex) < 6 {
		return ""
	}
	if len(hex) >= 8 {
		return hex[len(hex)-6:]
	}
	return hex[:6]
}

// normalizeBorderColor 边框颜色最多保留 8 位（ARGB），
// 无效或不足 6 位时回退为黑色。
func normalizeBorderColor(raw string) string {
	hex := filterHex(raw)
	if len(hex) < 6 {
		return "000000"
	}
	if len(hex) > 8 {
		return hex[:8]
	}
	return hex
}
