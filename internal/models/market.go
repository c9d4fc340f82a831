package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PoolKind 股票池类型，同时作为缓存数据集名
type PoolKind string

const (
	PoolMarket       PoolKind = "A_stock"           // 全市场行情
	PoolLimitUp      PoolKind = "zt_pool"           // 涨停池
	PoolLimitDown    PoolKind = "dt_pool"           // 跌停池
	PoolFailedLimit  PoolKind = "zb_pool"           // 炸板池
	PoolTopTurnover  PoolKind = "top_amount_stocks" // 成交额前 N
	PoolLeaderboard  PoolKind = "lhb"               // 龙虎榜
	PoolConstituents PoolKind = "concept_cons"      // 概念板块成分股
	PoolWatchlist1   PoolKind = "watchlist1"        // 大额异动池
	PoolWatchlist2   PoolKind = "watchlist2"        // 风口涨停池
)

// LimitStatus 观察池中的涨停状态
type LimitStatus string

const (
	StatusLimitUp     LimitStatus = "涨停"
	StatusFailedLimit LimitStatus = "炸板"
)

// Priority 排序优先级：涨停 > 炸板 > 无
func (s LimitStatus) Priority() int {
	switch s {
	case StatusLimitUp:
		return 2
	case StatusFailedLimit:
		return 1
	default:
		return 0
	}
}

// StockRow 个股行，不同池只填充各自有的字段
type StockRow struct {
	Seq             int
	Code            string
	Name            string
	Price           float64
	PctChange       float64
	Amount          decimal.Decimal     // 成交额
	FloatCap        decimal.NullDecimal // 流通市值
	MarketCap       decimal.NullDecimal // 总市值
	TurnoverRate    *float64            // 换手率(%)
	ConsecutiveDays *int                // 连板数 / 连续跌停
	SealFund        decimal.NullDecimal // 封板资金
	FirstSealTime   string              // 首次封板时间
	LastSealTime    string              // 最后封板时间
	BrokenCount     *int                // 炸板次数 / 开板次数
	LimitStats      string              // 涨停统计
	LimitPrice      *float64            // 涨停价
	Industry        string              // 所属行业
	IndustryHits    *int                // 板块次数
	Indicator       string              // 龙虎榜上榜指标
	IndicatorValue  *float64            // 龙虎榜对应值
	Sector          string              // 所属板块
	Status          LimitStatus         // 当前状态
	Direction       int                 // 涨跌：1/-1/0
}

// Key 跨池匹配用的标识：优先带交易所前缀的代码，没有代码时退回名称
func (r *StockRow) Key() string {
	if code := CanonicalCode(r.Code); code != "" {
		return code
	}
	return "name:" + strings.TrimSpace(r.Name)
}

// DaysOrZero 连板数，缺失按 0
func (r *StockRow) DaysOrZero() int {
	if r.ConsecutiveDays == nil {
		return 0
	}
	return *r.ConsecutiveDays
}

// Pool 某交易日的一张个股表
type Pool struct {
	Kind       PoolKind
	Date       string
	Sector     string // 仅成分股池：所属板块
	Normalized bool   // 金额字段是否已换算为亿元
	Rows       []StockRow
}

// Len nil 安全
func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Rows)
}

// KeySet 池内全部个股标识
func (p *Pool) KeySet() map[string]struct{} {
	set := make(map[string]struct{}, p.Len())
	if p == nil {
		return set
	}
	for i := range p.Rows {
		set[p.Rows[i].Key()] = struct{}{}
	}
	return set
}

// Clone 深拷贝行切片
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Rows = make([]StockRow, len(p.Rows))
	copy(cp.Rows, p.Rows)
	return &cp
}

// Head 取前 n 行（拷贝）
func (p *Pool) Head(n int) *Pool {
	cp := p.Clone()
	if cp != nil && n >= 0 && len(cp.Rows) > n {
		cp.Rows = cp.Rows[:n]
	}
	return cp
}

// Renumber 按当前顺序重新编号，从 1 开始
func (p *Pool) Renumber() {
	if p == nil {
		return
	}
	for i := range p.Rows {
		p.Rows[i].Seq = i + 1
	}
}

// IndexRow 指数行，Code 为 Total 的是汇总行
type IndexRow struct {
	Seq       int
	Code      string
	Name      string
	Price     *float64
	PctChange *float64
	Amount    decimal.Decimal // 成交额（元）
	AmountYi  decimal.Decimal // 成交额（亿元）
}

// IndexTotalCode 汇总行代码
const IndexTotalCode = "Total"

// SectorSummary 板块概况，金额为亿元
type SectorSummary struct {
	Rank         int
	Name         string
	Code         string
	PctChange    float64
	MarketCap    decimal.Decimal
	TurnoverRate float64
	Up           int
	Down         int
	Leader       string
	LeaderPct    float64
}

// CanonicalCode 统一为 SH600519 / SZ000001 / BJ830799；无法识别返回空串
func CanonicalCode(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		return ""
	}
	var exchange string
	switch {
	case strings.HasPrefix(c, "SH"), strings.HasPrefix(c, "SZ"), strings.HasPrefix(c, "BJ"):
		exchange, c = c[:2], c[2:]
	case strings.HasSuffix(c, ".SH"), strings.HasSuffix(c, ".SZ"), strings.HasSuffix(c, ".BJ"):
		exchange, c = c[len(c)-2:], c[:len(c)-3]
	}
	c = strings.TrimLeft(c, ".")
	if len(c) != 6 || strings.Trim(c, "0123456789") != "" {
		return ""
	}
	if exchange == "" {
		exchange = exchangeOf(c)
	}
	return exchange + c
}

func exchangeOf(code string) string {
	switch {
	case strings.HasPrefix(code, "92"), code[0] == '4', code[0] == '8':
		return "BJ"
	case code[0] == '6', code[0] == '9', code[0] == '5':
		return "SH"
	default:
		return "SZ"
	}
}
