package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Table 表头 + 文本行，缓存文件与报告表格共用
type Table struct {
	Header []string
	Rows   [][]string
}

// yiSuffix 已换算为亿元的金额列表头后缀
const yiSuffix = "(亿元)"

type column struct {
	header   string
	monetary bool
	get      func(r *StockRow) string
	set      func(r *StockRow, s string)
}

func (c column) withHeader(h string) column {
	c.header = h
	return c
}

func decimalColumn(header string, field func(r *StockRow) *decimal.NullDecimal) column {
	return column{
		header:   header,
		monetary: true,
		get:      func(r *StockRow) string { return formatNullDecimal(*field(r)) },
		set: func(r *StockRow, s string) {
			if d, ok := ParseDecimal(s); ok {
				*field(r) = NullDecimal(d)
			}
		},
	}
}

func floatPtrColumn(header string, field func(r *StockRow) **float64) column {
	return column{
		header: header,
		get:    func(r *StockRow) string { return formatFloatPtr(*field(r)) },
		set: func(r *StockRow, s string) {
			if f, ok := ParseFloat(s); ok {
				*field(r) = FloatPtr(f)
			}
		},
	}
}

func intPtrColumn(header string, field func(r *StockRow) **int) column {
	return column{
		header: header,
		get:    func(r *StockRow) string { return formatIntPtr(*field(r)) },
		set: func(r *StockRow, s string) {
			if i, ok := ParseInt(s); ok {
				*field(r) = IntPtr(i)
			}
		},
	}
}

func stringColumn(header string, field func(r *StockRow) *string) column {
	return column{
		header: header,
		get:    func(r *StockRow) string { return *field(r) },
		set:    func(r *StockRow, s string) { *field(r) = s },
	}
}

var (
	colSeq = column{
		header: "序号",
		get:    func(r *StockRow) string { return strconv.Itoa(r.Seq) },
		set: func(r *StockRow, s string) {
			if i, ok := ParseInt(s); ok {
				r.Seq = i
			}
		},
	}
	colCode  = stringColumn("代码", func(r *StockRow) *string { return &r.Code })
	colName  = stringColumn("名称", func(r *StockRow) *string { return &r.Name })
	colPrice = column{
		header: "最新价",
		get:    func(r *StockRow) string { return FormatFloat(r.Price) },
		set:    func(r *StockRow, s string) { r.Price, _ = ParseFloat(s) },
	}
	colPct = column{
		header: "涨跌幅",
		get:    func(r *StockRow) string { return FormatFloat(r.PctChange) },
		set:    func(r *StockRow, s string) { r.PctChange, _ = ParseFloat(s) },
	}
	colAmount = column{
		header:   "成交额",
		monetary: true,
		get:      func(r *StockRow) string { return r.Amount.String() },
		set: func(r *StockRow, s string) {
			if d, ok := ParseDecimal(s); ok {
				r.Amount = d
			}
		},
	}
	colFloatCap     = decimalColumn("流通市值", func(r *StockRow) *decimal.NullDecimal { return &r.FloatCap })
	colMarketCap    = decimalColumn("总市值", func(r *StockRow) *decimal.NullDecimal { return &r.MarketCap })
	colSealFund     = decimalColumn("封板资金", func(r *StockRow) *decimal.NullDecimal { return &r.SealFund })
	colTurnoverRate = floatPtrColumn("换手率", func(r *StockRow) **float64 { return &r.TurnoverRate })
	colLimitPrice   = floatPtrColumn("涨停价", func(r *StockRow) **float64 { return &r.LimitPrice })
	colIndicatorVal = floatPtrColumn("对应值", func(r *StockRow) **float64 { return &r.IndicatorValue })
	colDays         = intPtrColumn("连板数", func(r *StockRow) **int { return &r.ConsecutiveDays })
	colBroken       = intPtrColumn("炸板次数", func(r *StockRow) **int { return &r.BrokenCount })
	colIndustryHits = intPtrColumn("板块次数", func(r *StockRow) **int { return &r.IndustryHits })
	colFirstSeal    = stringColumn("首次封板时间", func(r *StockRow) *string { return &r.FirstSealTime })
	colLastSeal     = stringColumn("最后封板时间", func(r *StockRow) *string { return &r.LastSealTime })
	colLimitStats   = stringColumn("涨停统计", func(r *StockRow) *string { return &r.LimitStats })
	colIndustry     = stringColumn("所属行业", func(r *StockRow) *string { return &r.Industry })
	colIndicator    = stringColumn("指标", func(r *StockRow) *string { return &r.Indicator })
	colSector       = stringColumn("所属板块", func(r *StockRow) *string { return &r.Sector })
	colStatus       = column{
		header: "当前状态",
		get:    func(r *StockRow) string { return string(r.Status) },
		set:    func(r *StockRow, s string) { r.Status = LimitStatus(s) },
	}
	colDirection = column{
		header: "涨跌",
		get:    func(r *StockRow) string { return strconv.Itoa(r.Direction) },
		set:    func(r *StockRow, s string) { r.Direction, _ = ParseInt(s) },
	}
)

// 各池的列顺序即缓存文件与报告表格的列顺序
var schemas = map[PoolKind][]column{
	PoolMarket: {colSeq, colCode, colName, colPrice, colPct, colAmount, colMarketCap, colFloatCap, colTurnoverRate, colDirection},
	PoolLimitUp: {colSeq, colCode, colName, colPct, colPrice, colAmount, colFloatCap, colMarketCap, colTurnoverRate,
		colSealFund, colFirstSeal, colLastSeal, colBroken, colLimitStats, colDays, colIndustry},
	PoolLimitDown: {colSeq, colCode, colName, colPct, colPrice, colAmount, colFloatCap, colMarketCap, colTurnoverRate,
		colSealFund.withHeader("封单资金"), colLastSeal, colDays.withHeader("连续跌停"), colBroken.withHeader("开板次数"), colIndustry},
	PoolFailedLimit: {colSeq, colCode, colName, colPct, colPrice, colLimitPrice, colAmount, colFloatCap, colMarketCap,
		colTurnoverRate, colFirstSeal, colBroken, colLimitStats, colIndustry},
	PoolTopTurnover:  {colSeq, colCode, colName, colPrice, colPct, colAmount, colIndustry, colIndustryHits},
	PoolLeaderboard:  {colSeq, colCode, colName, colPrice.withHeader("收盘价"), colIndicatorVal, colAmount, colIndicator},
	PoolConstituents: {colSeq, colCode, colName, colPrice, colPct, colAmount, colTurnoverRate, colSector},
	PoolWatchlist1:   {colSeq, colCode, colName, colPrice, colPct, colAmount, colIndustry, colIndustryHits},
	PoolWatchlist2: {colSeq, colCode, colName, colPct, colPrice, colAmount, colFloatCap, colMarketCap, colTurnoverRate,
		colDays, colFirstSeal, colBroken, colLimitStats, colIndustry, colStatus},
}

func schemaOf(kind PoolKind) ([]column, error) {
	cols, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("未知的股票池类型: %s", kind)
	}
	return cols, nil
}

func headerOf(c column, normalized bool) string {
	if c.monetary && normalized {
		return c.header + yiSuffix
	}
	return c.header
}

// PoolTable 股票池 -> 表
func PoolTable(p *Pool) (*Table, error) {
	cols, err := schemaOf(p.Kind)
	if err != nil {
		return nil, err
	}
	t := &Table{Header: make([]string, len(cols)), Rows: make([][]string, 0, len(p.Rows))}
	for i, c := range cols {
		t.Header[i] = headerOf(c, p.Normalized)
	}
	for i := range p.Rows {
		rec := make([]string, len(cols))
		for j, c := range cols {
			rec[j] = c.get(&p.Rows[i])
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

// PoolFromTable 表 -> 股票池；金额列表头带"(亿元)"即视为已换算
func PoolFromTable(kind PoolKind, date string, t *Table) (*Pool, error) {
	cols, err := schemaOf(kind)
	if err != nil {
		return nil, err
	}
	byHeader := make(map[string]column, len(cols))
	for _, c := range cols {
		byHeader[c.header] = c
	}

	p := &Pool{Kind: kind, Date: date, Rows: make([]StockRow, 0, len(t.Rows))}
	bound := make([]*column, len(t.Header))
	for i, h := range t.Header {
		h = strings.TrimSpace(h)
		if strings.HasSuffix(h, yiSuffix) {
			h = strings.TrimSuffix(h, yiSuffix)
			if c, ok := byHeader[h]; ok && c.monetary {
				p.Normalized = true
			}
		}
		if c, ok := byHeader[h]; ok {
			bound[i] = &c
		}
	}
	for _, rec := range t.Rows {
		var r StockRow
		for i, v := range rec {
			if i < len(bound) && bound[i] != nil {
				bound[i].set(&r, v)
			}
		}
		p.Rows = append(p.Rows, r)
	}
	if kind == PoolConstituents && len(p.Rows) > 0 {
		p.Sector = p.Rows[0].Sector
	}
	return p, nil
}

var indexHeader = []string{"序号", "代码", "名称", "最新价", "涨跌幅", "成交额", "成交额" + yiSuffix}

// IndexTable 指数表
func IndexTable(rows []IndexRow) *Table {
	t := &Table{Header: indexHeader, Rows: make([][]string, 0, len(rows))}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(r.Seq), r.Code, r.Name, formatFloatPtr(r.Price), formatFloatPtr(r.PctChange),
			r.Amount.String(), r.AmountYi.String(),
		})
	}
	return t
}

// IndexRowsFromTable 读回指数表
func IndexRowsFromTable(t *Table) []IndexRow {
	pos := positions(t.Header)
	rows := make([]IndexRow, 0, len(t.Rows))
	for _, rec := range t.Rows {
		get := func(h string) string { return cell(rec, pos, h) }
		r := IndexRow{Code: get("代码"), Name: get("名称")}
		r.Seq, _ = ParseInt(get("序号"))
		if f, ok := ParseFloat(get("最新价")); ok {
			r.Price = FloatPtr(f)
		}
		if f, ok := ParseFloat(get("涨跌幅")); ok {
			r.PctChange = FloatPtr(f)
		}
		r.Amount, _ = ParseDecimal(get("成交额"))
		r.AmountYi, _ = ParseDecimal(get("成交额" + yiSuffix))
		rows = append(rows, r)
	}
	return rows
}

var sectorHeader = []string{"排名", "板块名称", "板块代码", "涨跌幅", "总市值" + yiSuffix, "换手率", "上涨家数", "下跌家数", "领涨股票", "领涨股票-涨跌幅"}

// SectorTable 板块概况表
func SectorTable(rows []SectorSummary) *Table {
	t := &Table{Header: sectorHeader, Rows: make([][]string, 0, len(rows))}
	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(r.Rank), r.Name, r.Code, FormatFloat(r.PctChange), r.MarketCap.String(),
			FormatFloat(r.TurnoverRate), strconv.Itoa(r.Up), strconv.Itoa(r.Down), r.Leader, FormatFloat(r.LeaderPct),
		})
	}
	return t
}

// SectorsFromTable 读回板块概况
func SectorsFromTable(t *Table) []SectorSummary {
	pos := positions(t.Header)
	rows := make([]SectorSummary, 0, len(t.Rows))
	for _, rec := range t.Rows {
		get := func(h string) string { return cell(rec, pos, h) }
		r := SectorSummary{Name: get("板块名称"), Code: get("板块代码"), Leader: get("领涨股票")}
		r.Rank, _ = ParseInt(get("排名"))
		r.PctChange, _ = ParseFloat(get("涨跌幅"))
		r.MarketCap, _ = ParseDecimal(get("总市值" + yiSuffix))
		r.TurnoverRate, _ = ParseFloat(get("换手率"))
		r.Up, _ = ParseInt(get("上涨家数"))
		r.Down, _ = ParseInt(get("下跌家数"))
		r.LeaderPct, _ = ParseFloat(get("领涨股票-涨跌幅"))
		rows = append(rows, r)
	}
	return rows
}

func positions(header []string) map[string]int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}
	return pos
}

func cell(rec []string, pos map[string]int, h string) string {
	i, ok := pos[h]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}
