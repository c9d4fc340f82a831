// Package report 把当日数据组装成带 Hugo front matter 的 Markdown 复盘报告。
package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"stock_review/internal/config"
	"stock_review/internal/models"
	"stock_review/internal/normalize"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrMissingPrecondition 渲染所需数据不全
var ErrMissingPrecondition = errors.New("报告数据不完整")

// Data 渲染报告所需的全部表
type Data struct {
	Date           string
	Index          []models.IndexRow
	Market         *models.Pool
	TopTurnover    *models.Pool
	LimitUp        *models.Pool
	LimitDown      *models.Pool
	FailedLimit    *models.Pool
	Leaderboard    *models.Pool
	Sectors        []models.SectorSummary
	Constituents   []*models.Pool
	LargeFlow      *models.Pool
	SectorMomentum *models.Pool
}

// Document 渲染结果
type Document struct {
	Title       string
	PublishTime time.Time
	FileName    string
	Content     []byte
}

// Renderer 报告渲染器
type Renderer struct {
	config     *config.ReportConfig
	sectorTopN int
	location   *time.Location
	logger     *zap.Logger
	now        func() time.Time
}

// NewRenderer 创建渲染器
func NewRenderer(cfg *config.ReportConfig, sectorTopN int, logger *zap.Logger) (*Renderer, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("加载时区失败: %w", err)
	}
	return &Renderer{
		config:     cfg,
		sectorTopN: sectorTopN,
		location:   loc,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// PublishTime 发布时间：报告时区的当前时间减去回拨
func (r *Renderer) PublishTime() time.Time {
	return r.now().In(r.location).Add(-r.config.BackdateDuration())
}

// Title 报告标题，day 为交易日 YYYY-MM-DD
func Title(day string) string {
	return fmt.Sprintf("A股全市场复盘：%s 深度解析及AI洞察", day)
}

type sectorBlock struct {
	No    int
	Name  string
	Table string
}

type view struct {
	Title        string
	Date         string
	SHPrice      string
	SHPct        string
	TotalAmount  string
	Up, Down     int
	LimitUpN     int
	LimitDownN   int
	FailedN      int
	TopTurnover  string
	SectorTable  string
	SectorBlocks []sectorBlock
	LimitUp      string
	FailedLimit  string
	Leaderboard  string
	Watchlist1   string
	Watchlist2   string
}

var postTemplate = template.Must(template.New("post").Parse(`---
title: "{{.Title}}"
date: {{.Date}}
tags: ["每日复盘", "重点个股", "行业板块", "市场分析"]
categories: ["每日更新"]
showToc: true
draft: false
---


### 📊 市场核心快照
- **上证指数**: {{.SHPrice}} ({{.SHPct}}%)
- **全市场成交总额**: {{.TotalAmount}} 亿
- **涨跌比**: {{.Up}} / {{.Down}}
- **涨停/跌停/炸板数**: {{.LimitUpN}} / {{.LimitDownN}} / {{.FailedN}}

---

### 🔍 成交额前二十个股

{{.TopTurnover}}
---

### 🏆 行业板块分析
- **前五概念板块**（按涨幅排序）

{{.SectorTable}}
- **各板块板块涨幅靠前个股**（按涨幅排序）
{{range .SectorBlocks}}
-- 板块{{.No}}. {{.Name}} --

{{.Table}}{{end}}
---

### 💥 涨停/炸板个股

-- 涨停池 --

{{.LimitUp}}
-- 炸板池 --

{{.FailedLimit}}
---

### 🚀 龙虎榜

{{.Leaderboard}}
---

### ⭐ 重点个股 Watchlist
- **大额异动池**（成交额前二十，且在涨/跌/炸/龙虎榜/前五板块成员中）

{{.Watchlist1}}
- **风口涨停池**（涨停/炸板，且在前五板块成员中）

{{.Watchlist2}}
---
*注：
1. 数据来源：东方财富、新浪财经。
2. 本文由AI辅助生成，旨在提供市场洞察和数据分析，非投资建议。
3. 声明：投资有风险，入市需谨慎。本文内容仅供参考，不构成任何投资建议或推荐。请根据自身情况做出独立判断。*
`))

// CheckInputs 观察池推导与渲染共同依赖的原始数据是否齐全；
// 不齐全时观察池会按空集合交叉，既不能渲染也不能缓存
func (r *Renderer) CheckInputs(d *Data) error {
	if len(d.Index) == 0 {
		return missing("指数概况")
	}
	pools := []struct {
		p    *models.Pool
		name string
	}{
		{d.Market, "全市场行情"},
		{d.TopTurnover, "成交额排行"},
		{d.LimitUp, "涨停池"},
		{d.LimitDown, "跌停池"},
		{d.FailedLimit, "炸板池"},
		{d.Leaderboard, "龙虎榜"},
	}
	for _, item := range pools {
		if item.p == nil {
			return missing(item.name)
		}
	}
	n := r.config.SectorCount
	if len(d.Sectors) < n {
		return fmt.Errorf("%w: 概念板块只有 %d 个，需要 %d 个", ErrMissingPrecondition, len(d.Sectors), n)
	}
	if len(d.Constituents) < n {
		return fmt.Errorf("%w: 板块成分股只有 %d 组，需要 %d 组", ErrMissingPrecondition, len(d.Constituents), n)
	}
	for i := 0; i < n; i++ {
		if d.Constituents[i] == nil {
			return fmt.Errorf("%w: 缺少第 %d 个板块的成分股", ErrMissingPrecondition, i+1)
		}
	}
	return nil
}

// check 渲染前置条件，缺任何一项都不渲染
func (r *Renderer) check(d *Data) error {
	if err := r.CheckInputs(d); err != nil {
		return err
	}
	if d.LargeFlow == nil {
		return missing("大额异动池")
	}
	if d.SectorMomentum == nil {
		return missing("风口涨停池")
	}
	return nil
}

func missing(what string) error {
	return fmt.Errorf("%w: 缺少%s", ErrMissingPrecondition, what)
}

// Render 渲染报告；前置条件不满足时返回 ErrMissingPrecondition，不产出半成品
func (r *Renderer) Render(d *Data) (*Document, error) {
	if err := r.check(d); err != nil {
		return nil, err
	}

	tradeDay, err := time.Parse("20060102", d.Date)
	if err != nil {
		return nil, fmt.Errorf("交易日期格式错误: %w", err)
	}
	day := tradeDay.Format("2006-01-02")
	publishAt := r.PublishTime()
	v := view{
		Title:      Title(day),
		Date:       publishAt.Format("2006-01-02T15:04:05-0700"),
		LimitUpN:   d.LimitUp.Len(),
		LimitDownN: d.LimitDown.Len(),
		FailedN:    d.FailedLimit.Len(),
	}

	sh := d.Index[0]
	v.SHPrice = formatOptional(sh.Price)
	v.SHPct = formatOptional(sh.PctChange)
	v.TotalAmount = totalAmount(d.Index).StringFixed(2)
	v.Up, v.Down, _ = normalize.Breadth(d.Market)

	tables := []struct {
		dst *string
		p   *models.Pool
	}{
		{&v.TopTurnover, d.TopTurnover},
		{&v.LimitUp, d.LimitUp},
		{&v.FailedLimit, d.FailedLimit},
		{&v.Leaderboard, d.Leaderboard},
		{&v.Watchlist1, d.LargeFlow},
		{&v.Watchlist2, d.SectorMomentum},
	}
	for _, t := range tables {
		if *t.dst, err = poolMarkdown(t.p); err != nil {
			return nil, err
		}
	}

	v.SectorTable = markdownTable(models.SectorTable(d.Sectors[:r.config.SectorCount]))
	for i := 0; i < r.config.SectorCount; i++ {
		cons := d.Constituents[i]
		name := cons.Sector
		if name == "" {
			name = d.Sectors[i].Name
		}
		top := cons.Head(r.sectorTopN)
		top.Renumber()
		table, err := poolMarkdown(top)
		if err != nil {
			return nil, err
		}
		v.SectorBlocks = append(v.SectorBlocks, sectorBlock{No: i + 1, Name: name, Table: table})
	}

	var buf bytes.Buffer
	if err := postTemplate.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("渲染报告失败: %w", err)
	}
	return &Document{
		Title:       v.Title,
		PublishTime: publishAt,
		FileName:    fmt.Sprintf("stock-analysis-%s.md", day),
		Content:     buf.Bytes(),
	}, nil
}

// Write 写入报告目录，返回文件路径
func (r *Renderer) Write(doc *Document) (string, error) {
	if err := os.MkdirAll(r.config.Dir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}
	path := filepath.Join(r.config.Dir, doc.FileName)
	if err := os.WriteFile(path, doc.Content, 0644); err != nil {
		return "", fmt.Errorf("写入报告失败: %w", err)
	}
	r.logger.Info("成功生成报告",
		zap.String("path", path),
		zap.String("publish_time", doc.PublishTime.Format(time.RFC3339)))
	return path, nil
}

func formatOptional(f *float64) string {
	if f == nil {
		return "-"
	}
	return models.FormatFloat(*f)
}

// totalAmount 两市合计成交额（亿元），没有合计行时按指数累加
func totalAmount(rows []models.IndexRow) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range rows {
		if r.Code == models.IndexTotalCode {
			return r.AmountYi
		}
		sum = sum.Add(r.AmountYi)
	}
	return sum
}
