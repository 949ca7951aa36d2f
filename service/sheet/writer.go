package sheet

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/unidoc/unioffice"
	"github.com/unidoc/unioffice/schema/soo/sml"
	"github.com/unidoc/unioffice/spreadsheet"

	"github.com/JLJLJ/spreadsheet/logger"
)

// CellUpdate 一次单元格变更
type CellUpdate struct {
	Row   int        `json:"row"`
	Col   int        `json:"col"`
	Value any        `json:"value"`
	Style *CellStyle `json:"style,omitempty"`
}

// Store 负责对 xlsx 文件做 load-modify-save。
// 同一文件同时只允许一个写周期在途：并发的更新在 pathLock 上排队，
// 否则两个重叠的读改写周期会丢掉一方的修改。
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // path -> 单写锁
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, locks: make(map[string]*sync.Mutex)}
}

// Dir 表格文件目录
func (s *Store) Dir() string { return s.dir }

func (s *Store) pathLock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

// Load 在写锁外读取也安全：读和写同样排队，避免读到半写的文件
func (s *Store) Load(path string) (*Snapshot, error) {
	l := s.pathLock(path)
	l.Lock()
	defer l.Unlock()
	return Load(path)
}

// UpdateCell 修改单个单元格并保存。
// style 里未出现的字段保持单元格原有样式，不清空。
func (s *Store) UpdateCell(path string, up CellUpdate) error {
	l := s.pathLock(path)
	l.Lock()
	defer l.Unlock()

	wb, err := spreadsheet.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open workbook %s", path)
	}
	if err := applyUpdate(wb, up); err != nil {
		return err
	}
	return errors.Wrapf(wb.SaveToFile(path), "save workbook %s", path)
}

// BatchUpdate 一个读改写周期内应用全部变更。
// 单条失败不影响同周期内其余已应用的变更落盘。
func (s *Store) BatchUpdate(path string, updates []CellUpdate) error {
	l := s.pathLock(path)
	l.Lock()
	defer l.Unlock()

	wb, err := spreadsheet.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open workbook %s", path)
	}
	for _, up := range updates {
		if aerr := applyUpdate(wb, up); aerr != nil {
			logger.Warnf("[store] batch update cell %s skipped: %v", CellRef(up.Row, up.Col), aerr)
		}
	}
	return errors.Wrapf(wb.SaveToFile(path), "save workbook %s", path)
}

// UpdateDimensions 保存列宽行高。像素宽 ÷7 转回文件单位，行高原值保存。
// 两个 map 都可以为 nil。
func (s *Store) UpdateDimensions(path string, colWidths, rowHeights map[int]int) error {
	if len(colWidths) == 0 && len(rowHeights) == 0 {
		return nil
	}
	l := s.pathLock(path)
	l.Lock()
	defer l.Unlock()

	wb, err := spreadsheet.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open workbook %s", path)
	}
	sheets := wb.Sheets()
	if len(sheets) == 0 {
		return errors.Errorf("workbook %s has no sheets", path)
	}
	ws := sheets[0]

	for col, px := range colWidths {
		setColWidth(ws, col, float64(px)/pxPerWidthUnit)
	}
	for row, h := range rowHeights {
		r := ws.Row(uint32(row + 1))
		r.X().HtAttr = unioffice.Float64(float64(h))
		r.X().CustomHeightAttr = unioffice.Bool(true)
	}
	return errors.Wrapf(wb.SaveToFile(path), "save workbook %s", path)
}

// CreateEmpty 创建单 sheet 空白文档，返回文件路径
func (s *Store) CreateEmpty(name string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "ensure sheets dir")
	}
	path := filepath.Join(s.dir, name+".xlsx")

	l := s.pathLock(path)
	l.Lock()
	defer l.Unlock()

	wb := spreadsheet.New()
	ws := wb.AddSheet()
	ws.SetName("Sheet1")
	if err := wb.SaveToFile(path); err != nil {
		return "", errors.Wrapf(err, "save workbook %s", path)
	}
	return path, nil
}

// ImportFile 外来文档原样落盘，不做任何内容解释
func (s *Store) ImportFile(src []byte, targetName string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", errors.Wrap(err, "ensure sheets dir")
	}
	path := filepath.Join(s.dir, targetName+".xlsx")

	l := s.pathLock(path)
	l.Lock()
	defer l.Unlock()

	if err := os.WriteFile(path, src, 0o644); err != nil {
		return "", errors.Wrapf(err, "write %s", path)
	}
	return path, nil
}

// ===== 单元格写入 =====

func applyUpdate(wb *spreadsheet.Workbook, up CellUpdate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("apply update row=%d col=%d: %v", up.Row, up.Col, r)
		}
	}()

	if up.Row < 0 || up.Col < 0 {
		return errors.Errorf("negative coordinate row=%d col=%d", up.Row, up.Col)
	}
	sheets := wb.Sheets()
	if len(sheets) == 0 {
		return errors.New("workbook has no sheets")
	}
	ws := sheets[0]
	cell := ws.Cell(CellRef(up.Row, up.Col))

	setCellValue(cell, up.Value)

	if !up.Style.Empty() {
		// 与现有样式做字段级合并，重复的部分更新不会互相覆盖
		merged := extractStyle(wb, cell).Merge(up.Style)
		applyCellStyle(wb, cell, merged)
	}
	return nil
}

func setCellValue(cell spreadsheet.Cell, v any) {
	switch val := v.(type) {
	case nil:
		x := cell.X()
		x.V = nil
		x.Is = nil
		x.TAttr = sml.ST_CellTypeUnset
	case bool:
		cell.SetBool(val)
	case float64:
		cell.SetNumber(val)
	case float32:
		cell.SetNumber(float64(val))
	case int:
		cell.SetNumber(float64(val))
	case int64:
		cell.SetNumber(float64(val))
	case string:
		cell.SetString(val)
	default:
		cell.SetString(fmt.Sprint(val))
	}
}

// applyCellStyle 用合并后的完整样式为单元格登记一个新的 xf。
// 字体/填充/边框各建一条新记录，避免改到共享同一 id 的其他单元格。
func applyCellStyle(wb *spreadsheet.Workbook, cell spreadsheet.Cell, st *CellStyle) {
	ss := wb.StyleSheet.X()

	xf := sml.NewCT_Xf()
	xf.NumFmtIdAttr = unioffice.Uint32(0)
	xf.XfIdAttr = unioffice.Uint32(0)

	// 字体
	font := sml.NewCT_Font()
	hasFont := false
	if st.Bl != nil && *st.Bl != 0 {
		font.B = []*sml.CT_BooleanProperty{{ValAttr: unioffice.Bool(true)}}
		hasFont = true
	}
	if st.It != nil && *st.It != 0 {
		font.I = []*sml.CT_BooleanProperty{{ValAttr: unioffice.Bool(true)}}
		hasFont = true
	}
	if st.Ul != nil {
		font.U = []*sml.CT_UnderlineProperty{{ValAttr: sml.ST_UnderlineValuesSingle}}
		hasFont = true
	}
	if st.St != nil && *st.St != 0 {
		font.Strike = []*sml.CT_BooleanProperty{{ValAttr: unioffice.Bool(true)}}
		hasFont = true
	}
	if st.Cl != nil {
		c := sml.NewCT_Color()
		c.RgbAttr = unioffice.String(st.Cl.RGB)
		font.Color = []*sml.CT_Color{c}
		hasFont = true
	}
	if st.Fs != nil {
		font.Sz = []*sml.CT_FontSize{{ValAttr: *st.Fs}}
		hasFont = true
	}
	if st.Ff != nil {
		font.Name = []*sml.CT_FontName{{ValAttr: *st.Ff}}
		hasFont = true
	}
	if hasFont {
		if ss.Fonts == nil {
			ss.Fonts = sml.NewCT_Fonts()
		}
		ss.Fonts.Font = append(ss.Fonts.Font, font)
		ss.Fonts.CountAttr = unioffice.Uint32(uint32(len(ss.Fonts.Font)))
		xf.FontIdAttr = unioffice.Uint32(uint32(len(ss.Fonts.Font) - 1))
		xf.ApplyFontAttr = unioffice.Bool(true)
	}

	// 背景色
	if st.Bg != nil {
		fill := sml.NewCT_Fill()
		pf := sml.NewCT_PatternFill()
		pf.PatternTypeAttr = sml.ST_PatternTypeSolid
		fg := sml.NewCT_Color()
		fg.RgbAttr = unioffice.String(st.Bg.RGB)
		pf.FgColor = fg
		fill.PatternFill = pf
		if ss.Fills == nil {
			ss.Fills = sml.NewCT_Fills()
		}
		ss.Fills.Fill = append(ss.Fills.Fill, fill)
		ss.Fills.CountAttr = unioffice.Uint32(uint32(len(ss.Fills.Fill)))
		xf.FillIdAttr = unioffice.Uint32(uint32(len(ss.Fills.Fill) - 1))
		xf.ApplyFillAttr = unioffice.Bool(true)
	}

	// 对齐与换行
	if st.Ht != nil || st.Vt != nil || st.Tb != nil {
		a := sml.NewCT_CellAlignment()
		if st.Ht != nil {
			switch *st.Ht {
			case "left":
				a.HorizontalAttr = sml.ST_HorizontalAlignmentLeft
			case "center":
				a.HorizontalAttr = sml.ST_HorizontalAlignmentCenter
			case "right":
				a.HorizontalAttr = sml.ST_HorizontalAlignmentRight
			}
		}
		if st.Vt != nil {
			switch *st.Vt {
			case "top":
				a.VerticalAttr = sml.ST_VerticalAlignmentTop
			case "middle":
				a.VerticalAttr = sml.ST_VerticalAlignmentCenter
			case "bottom":
				a.VerticalAttr = sml.ST_VerticalAlignmentBottom
			}
		}
		if st.Tb != nil && *st.Tb == "2" {
			a.WrapTextAttr = unioffice.Bool(true)
		}
		xf.Alignment = a
		xf.ApplyAlignmentAttr = unioffice.Bool(true)
	}

	// 边框
	if st.Bd != nil {
		border := sml.NewCT_Border()
		border.Top = borderPr(st.Bd.T)
		border.Bottom = borderPr(st.Bd.B)
		border.Left = borderPr(st.Bd.L)
		border.Right = borderPr(st.Bd.R)
		if ss.Borders == nil {
			ss.Borders = sml.NewCT_Borders()
		}
		ss.Borders.Border = append(ss.Borders.Border, border)
		ss.Borders.CountAttr = unioffice.Uint32(uint32(len(ss.Borders.Border)))
		xf.BorderIdAttr = unioffice.Uint32(uint32(len(ss.Borders.Border) - 1))
		xf.ApplyBorderAttr = unioffice.Bool(true)
	}

	if ss.CellXfs == nil {
		ss.CellXfs = sml.NewCT_CellXfs()
	}
	ss.CellXfs.Xf = append(ss.CellXfs.Xf, xf)
	ss.CellXfs.CountAttr = unioffice.Uint32(uint32(len(ss.CellXfs.Xf)))
	cell.X().SAttr = unioffice.Uint32(uint32(len(ss.CellXfs.Xf) - 1))
}

func borderPr(side *BorderSide) *sml.CT_BorderPr {
	if side == nil {
		return nil
	}
	pr := sml.NewCT_BorderPr()
	if side.S == 1 {
		pr.StyleAttr = sml.ST_BorderStyleThin
	} else {
		pr.StyleAttr = sml.ST_BorderStyleThick
	}
	color := "000000"
	if side.Cl != nil {
		color = normalizeBorderColor(side.Cl.RGB)
	}
	c := sml.NewCT_Color()
	c.RgbAttr = unioffice.String(color)
	pr.Color = c
	return pr
}

func setColWidth(ws spreadsheet.Sheet, col int, width float64) {
	x := ws.X()
	one := uint32(col + 1)

	for _, cols := range x.Cols {
		for _, c := range cols.Col {
			if c.MinAttr == one && c.MaxAttr == one {
				c.WidthAttr = unioffice.Float64(width)
				c.CustomWidthAttr = unioffice.Bool(true)
				return
			}
		}
	}

	nc := sml.NewCT_Col()
	nc.MinAttr = one
	nc.MaxAttr = one
	nc.WidthAttr = unioffice.Float64(width)
	nc.CustomWidthAttr = unioffice.Bool(true)
	if len(x.Cols) == 0 {
		x.Cols = append(x.Cols, sml.NewCT_Cols())
	}
	x.Cols[0].Col = append(x.Cols[0].Col, nc)
}
