package sheet

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JLJLJ/spreadsheet/logger"
	"github.com/pkg/errors"
	"github.com/unidoc/unioffice/schema/soo/sml"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unioffice/spreadsheet/reference"
)

// 最小网格：不足时补齐到 100 行 26 列，前端渲染需要
const (
	minRowCount = 100
	minColCount = 26
)

// 列宽单位换算：Excel 字符宽 ≈ 7 像素
const pxPerWidthUnit = 7

// Cell 快照中的单元格：值 + 类型标记 + 平铺的样式字段
type Cell struct {
	V any    `json:"v,omitempty"`
	T string `json:"t,omitempty"` // s=string n=number b=boolean
	CellStyle
}

type MergeRange struct {
	StartRow    int `json:"startRow"`
	EndRow      int `json:"endRow"`
	StartColumn int `json:"startColumn"`
	EndColumn   int `json:"endColumn"`
}

// Snapshot 整个文档的线上表示，客户端加载时一次性下发
type Snapshot struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	CellData    map[string]*Cell `json:"cellData"`
	MergeData   []MergeRange     `json:"mergeData"`
	ColumnData  map[int]int      `json:"columnData"`
	RowData     map[int]int      `json:"rowData"`
	RowCount    int              `json:"rowCount"`
	ColumnCount int              `json:"columnCount"`
}

// Load 读取 xlsx 文件并转换为快照。
// 单个单元格解析失败只丢弃该单元格的样式，不中断整个文档。
func Load(path string) (*Snapshot, error) {
	wb, err := spreadsheet.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open workbook %s", path)
	}

	sheets := wb.Sheets()
	if len(sheets) == 0 {
		return nil, errors.Errorf("workbook %s has no sheets", path)
	}
	ws := sheets[0]

	name := ws.Name()
	if name == "" {
		name = "Sheet1"
	}

	snap := &Snapshot{
		ID:         strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Name:       name,
		CellData:   map[string]*Cell{},
		MergeData:  []MergeRange{},
		ColumnData: map[int]int{},
		RowData:    map[int]int{},
	}

	maxRow, maxCol := 0, 0
	for _, row := range ws.Rows() {
		rowNum := int(row.RowNumber())
		if rowNum > maxRow {
			maxRow = rowNum
		}

		for _, cell := range row.Cells() {
			colName, err := cell.Column()
			if err != nil {
				continue
			}
			colIdx := int(reference.ColumnToIndex(colName))
			if colIdx+1 > maxCol {
				maxCol = colIdx + 1
			}

			// 先取样式：只有边框没有值的单元格也要出现在快照里
			st := safeExtractStyle(wb, cell)
			v, t := extractValue(cell)
			if v == nil && st.Empty() {
				continue
			}
			entry := &Cell{V: v, T: t}
			if !st.Empty() {
				entry.CellStyle = *st
			}
			snap.CellData[cellKey(rowNum-1, colIdx)] = entry
		}

		// 行高：只导出显式设置过的行
		if h := row.X().HtAttr; h != nil {
			snap.RowData[rowNum-1] = int(*h)
		}
	}

	snap.RowCount = maxRow
	if snap.RowCount < minRowCount {
		snap.RowCount = minRowCount
	}
	snap.ColumnCount = maxCol
	if snap.ColumnCount < minColCount {
		snap.ColumnCount = minColCount
	}

	// 合并单元格，转为 0 索引矩形
	if mc := ws.X().MergeCells; mc != nil {
		for _, m := range mc.MergeCell {
			from, to, err := reference.ParseRangeReference(m.RefAttr)
			if err != nil {
				continue
			}
			snap.MergeData = append(snap.MergeData, MergeRange{
				StartRow:    int(from.RowIdx - 1),
				EndRow:      int(to.RowIdx - 1),
				StartColumn: int(from.ColumnIdx),
				EndColumn:   int(to.ColumnIdx),
			})
		}
	}

	// 列宽：只导出显式 override，native 宽度 ×7 转像素
	for _, cols := range ws.X().Cols {
		for _, col := range cols.Col {
			if col.WidthAttr == nil {
				continue
			}
			lo := int(col.MinAttr)
			hi := int(col.MaxAttr)
			for i := lo; i <= hi && i <= snap.ColumnCount; i++ {
				snap.ColumnData[i-1] = int(*col.WidthAttr * pxPerWidthUnit)
			}
		}
	}

	return snap, nil
}

// cellKey "row_col"，0 索引
func cellKey(row, col int) string {
	return strconv.Itoa(row) + "_" + strconv.Itoa(col)
}

// ColumnName 0 索引列号转 A1 列名
func ColumnName(col int) string {
	name := ""
	for col >= 0 {
		name = string(rune('A'+col%26)) + name
		col = col/26 - 1
	}
	return name
}

// CellRef A1 格式引用，row/col 均为 0 索引
func CellRef(row, col int) string {
	return ColumnName(col) + strconv.Itoa(row+1)
}

// extractValue 取值和类型标记。共享字符串/内联字符串走格式化取值，
// 数值型解析失败时按字符串兜底。
func extractValue(cell spreadsheet.Cell) (any, string) {
	x := cell.X()
	switch x.TAttr {
	case sml.ST_CellTypeB:
		return x.V != nil && (*x.V == "1" || strings.EqualFold(*x.V, "true")), "b"
	case sml.ST_CellTypeS, sml.ST_CellTypeStr, sml.ST_CellTypeInlineStr:
		s := cell.GetFormattedValue()
		if s == "" {
			return nil, ""
		}
		return s, "s"
	default:
		if x.V == nil || *x.V == "" {
			s := cell.GetFormattedValue()
			if s == "" {
				return nil, ""
			}
			return s, "s"
		}
		if f, err := strconv.ParseFloat(*x.V, 64); err == nil {
			return f, "n"
		}
		return cell.GetFormattedValue(), "s"
	}
}

// safeExtractStyle 样式解析的隔离层：坏样式只影响自己
func safeExtractStyle(wb *spreadsheet.Workbook, cell spreadsheet.Cell) (st *CellStyle) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("[codec] extract style panic, cell dropped to plain: %v", r)
			st = &CellStyle{}
		}
	}()
	return extractStyle(wb, cell)
}

func extractStyle(wb *spreadsheet.Workbook, cell spreadsheet.Cell) *CellStyle {
	st := &CellStyle{}
	x := cell.X()
	if x.SAttr == nil {
		return st
	}
	styleID := *x.SAttr
	ss := wb.StyleSheet.X()
	if ss.CellXfs == nil || int(styleID) >= len(ss.CellXfs.Xf) {
		return st
	}
	xf := ss.CellXfs.Xf[styleID]

	// 字体
	if font := fontByID(ss, xf); font != nil {
		if boolProp(font.B) {
			st.Bl = intPtr(1)
		}
		if boolProp(font.I) {
			st.It = intPtr(1)
		}
		if len(font.U) > 0 && font.U[0] != nil && font.U[0].ValAttr != sml.ST_UnderlineValuesNone {
			st.Ul = &Underline{S: 1}
		}
		if boolProp(font.Strike) {
			st.St = intPtr(1)
		}
		if len(font.Color) > 0 && font.Color[0] != nil && font.Color[0].RgbAttr != nil {
			if rgb := normalizeRGB(*font.Color[0].RgbAttr); rgb != "" {
				st.Cl = &Color{RGB: rgb}
			}
		}
		if len(font.Sz) > 0 && font.Sz[0] != nil {
			fs := font.Sz[0].ValAttr
			st.Fs = &fs
		}
		if len(font.Name) > 0 && font.Name[0] != nil {
			ff := font.Name[0].ValAttr
			st.Ff = &ff
		}
	}

	// 背景色：全零 ARGB 视为无填充
	if fill := fillByID(ss, xf); fill != nil && fill.PatternFill != nil && fill.PatternFill.FgColor != nil {
		if raw := fill.PatternFill.FgColor.RgbAttr; raw != nil && *raw != "00000000" {
			if rgb := normalizeRGB(*raw); rgb != "" {
				st.Bg = &Color{RGB: rgb}
			}
		}
	}

	// 对齐
	if a := xf.Alignment; a != nil {
		switch a.HorizontalAttr {
		case sml.ST_HorizontalAlignmentLeft:
			st.Ht = strPtr("left")
		case sml.ST_HorizontalAlignmentCenter:
			st.Ht = strPtr("center")
		case sml.ST_HorizontalAlignmentRight:
			st.Ht = strPtr("right")
		}
		switch a.VerticalAttr {
		case sml.ST_VerticalAlignmentTop:
			st.Vt = strPtr("top")
		case sml.ST_VerticalAlignmentCenter:
			st.Vt = strPtr("middle")
		case sml.ST_VerticalAlignmentBottom:
			st.Vt = strPtr("bottom")
		}
		if a.WrapTextAttr != nil && *a.WrapTextAttr {
			st.Tb = strPtr("2")
		}
	}

	// 边框
	if border := borderByID(ss, xf); border != nil {
		bd := &Border{
			T: borderSide(border.Top),
			B: borderSide(border.Bottom),
			L: borderSide(border.Left),
			R: borderSide(border.Right),
		}
		if bd.T != nil || bd.B != nil || bd.L != nil || bd.R != nil {
			st.Bd = bd
		}
	}

	return st
}

func fontByID(ss *sml.StyleSheet, xf *sml.CT_Xf) *sml.CT_Font {
	if xf.FontIdAttr == nil || ss.Fonts == nil {
		return nil
	}
	i := int(*xf.FontIdAttr)
	if i < 0 || i >= len(ss.Fonts.Font) {
		return nil
	}
	return ss.Fonts.Font[i]
}

func fillByID(ss *sml.StyleSheet, xf *sml.CT_Xf) *sml.CT_Fill {
	if xf.FillIdAttr == nil || ss.Fills == nil {
		return nil
	}
	i := int(*xf.FillIdAttr)
	if i < 0 || i >= len(ss.Fills.Fill) {
		return nil
	}
	return ss.Fills.Fill[i]
}

func borderByID(ss *sml.StyleSheet, xf *sml.CT_Xf) *sml.CT_Border {
	if xf.BorderIdAttr == nil || ss.Borders == nil {
		return nil
	}
	i := int(*xf.BorderIdAttr)
	if i < 0 || i >= len(ss.Borders.Border) {
		return nil
	}
	return ss.Borders.Border[i]
}

func borderSide(pr *sml.CT_BorderPr) *BorderSide {
	if pr == nil || pr.StyleAttr == sml.ST_BorderStyleNone || pr.StyleAttr == sml.ST_BorderStyleUnset {
		return nil
	}
	s := 2
	if pr.StyleAttr == sml.ST_BorderStyleThin {
		s = 1
	}
	color := "000000"
	if pr.Color != nil && pr.Color.RgbAttr != nil {
		color = normalizeBorderColor(*pr.Color.RgbAttr)
	}
	return &BorderSide{S: s, Cl: &Color{RGB: color}}
}

func boolProp(props []*sml.CT_BooleanProperty) bool {
	if len(props) == 0 || props[0] == nil {
		return false
	}
	if props[0].ValAttr == nil {
		return true // val 缺省即 true
	}
	return *props[0].ValAttr
}

func intPtr(v int) *int          { return &v }
func strPtr(v string) *string    { return &v }
func float64Ptr(v float64) *float64 { return &v }
