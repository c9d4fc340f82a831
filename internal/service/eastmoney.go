package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stock_review/internal/config"
	"stock_review/internal/models"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ErrNoData 上游没有该日期的数据
var ErrNoData = errors.New("上游无数据")

// 东方财富接口路径
const (
	pathULIST       = "/api/qt/ulist.np/get"
	pathCList       = "/api/qt/clist/get"
	pathStockGet    = "/api/qt/stock/get"
	pathZTPool      = "/getTopicZTPool"
	pathDTPool      = "/getTopicDTPool"
	pathZBPool      = "/getTopicZBPool"
	poolUT          = "7eea3edcaed734bea9cbfc24409ed989"
	listUT          = "bd1d9ddb04089700cf9c27f6f7426281"
	clistPageSize   = 100
	marketFilter    = "m:0 t:6,m:0 t:80,m:1 t:2,m:1 t:23,m:0 t:81 s:2048"
	conceptFilter   = "m:90 t:3 f:!50"
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	priceMultiplier = 1000 // 涨跌停池价格为实际价格×1000
)

// EastMoneyClient 东方财富行情客户端
type EastMoneyClient struct {
	pushURL   string
	pushExURL string
	retry     int
	backoff   time.Duration
	client    *http.Client
	pace      func(ctx context.Context) error
}

// NewEastMoneyClient 创建东方财富客户端
func NewEastMoneyClient(cfg *config.EastMoneyConfig) *EastMoneyClient {
	c := &EastMoneyClient{
		pushURL:   strings.TrimRight(cfg.PushURL, "/"),
		pushExURL: strings.TrimRight(cfg.PushExURL, "/"),
		retry:     cfg.Retry,
		backoff:   time.Duration(cfg.Backoff) * time.Millisecond,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
	c.pace = func(ctx context.Context) error { return sleepContext(ctx, c.backoff) }
	return c
}

// SetPacer 设置翻页间隔，默认每页之间等待一个退避间隔
func (c *EastMoneyClient) SetPacer(pace func(ctx context.Context) error) {
	c.pace = pace
}

// request 发送请求，失败按线性退避重试
func (c *EastMoneyClient) request(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	fullURL := endpoint + "?" + params.Encode()

	var body []byte
	var lastErr error

	// 重试机制
	for i := 0; i <= c.retry; i++ {
		body, lastErr = c.doRequest(ctx, fullURL)
		if lastErr == nil {
			break
		}
		if i < c.retry {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff * time.Duration(i+1)):
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("解析响应失败: 非法 JSON")
	}
	return body, nil
}

// doRequest 执行 HTTP 请求
func (c *EastMoneyClient) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://quote.eastmoney.com/")

	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态异常: %d", httpResp.StatusCode)
	}
	return body, nil
}

// IndexQuotes 获取指数行情，secids 形如 1.000001
func (c *EastMoneyClient) IndexQuotes(ctx context.Context, secids []string) ([]models.IndexRow, error) {
	params := url.Values{}
	params.Set("fltt", "2")
	params.Set("secids", strings.Join(secids, ","))
	params.Set("fields", "f2,f3,f6,f12,f13,f14")

	body, err := c.request(ctx, c.pushURL+pathULIST, params)
	if err != nil {
		return nil, err
	}
	diff := gjson.GetBytes(body, "data.diff")
	if !diff.IsArray() {
		return nil, fmt.Errorf("指数%w", ErrNoData)
	}

	var rows []models.IndexRow
	for _, v := range diff.Array() {
		row := models.IndexRow{
			Code:   indexCode(v.Get("f13").Int(), v.Get("f12").String()),
			Name:   v.Get("f14").String(),
			Amount: decimalField(v, "f6"),
		}
		if f, ok := floatField(v, "f2"); ok {
			row.Price = models.FloatPtr(f)
		}
		if f, ok := floatField(v, "f3"); ok {
			row.PctChange = models.FloatPtr(f)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// LimitUpPool 涨停股池
func (c *EastMoneyClient) LimitUpPool(ctx context.Context, date string) ([]models.StockRow, error) {
	items, err := c.topicPool(ctx, pathZTPool, date, "fbt:asc")
	if err != nil {
		return nil, err
	}
	rows := make([]models.StockRow, 0, len(items))
	for _, v := range items {
		r := poolBase(v)
		r.SealFund = nullDecimalField(v, "fund")
		r.FirstSealTime = clockField(v, "fbt")
		r.LastSealTime = clockField(v, "lbt")
		r.BrokenCount = intField(v, "zbc")
		r.LimitStats = limitStats(v)
		r.ConsecutiveDays = intField(v, "lbc")
		rows = append(rows, r)
	}
	return rows, nil
}

// LimitDownPool 跌停股池
func (c *EastMoneyClient) LimitDownPool(ctx context.Context, date string) ([]models.StockRow, error) {
	items, err := c.topicPool(ctx, pathDTPool, date, "fund:asc")
	if err != nil {
		return nil, err
	}
	rows := make([]models.StockRow, 0, len(items))
	for _, v := range items {
		r := poolBase(v)
		r.SealFund = nullDecimalField(v, "fund")
		r.LastSealTime = clockField(v, "lbt")
		r.ConsecutiveDays = intField(v, "days")
		r.BrokenCount = intField(v, "oc")
		rows = append(rows, r)
	}
	return rows, nil
}

// FailedLimitPool 炸板股池
func (c *EastMoneyClient) FailedLimitPool(ctx context.Context, date string) ([]models.StockRow, error) {
	items, err := c.topicPool(ctx, pathZBPool, date, "fbt:asc")
	if err != nil {
		return nil, err
	}
	rows := make([]models.StockRow, 0, len(items))
	for _, v := range items {
		r := poolBase(v)
		if f, ok := floatField(v, "ztp"); ok {
			r.LimitPrice = models.FloatPtr(f / priceMultiplier)
		}
		r.FirstSealTime = clockField(v, "fbt")
		r.BrokenCount = intField(v, "zbc")
		r.LimitStats = limitStats(v)
		rows = append(rows, r)
	}
	return rows, nil
}

// topicPool 涨跌停池通用请求；data 为 null 表示当日池子为空
func (c *EastMoneyClient) topicPool(ctx context.Context, path, date, sort string) ([]gjson.Result, error) {
	params := url.Values{}
	params.Set("ut", poolUT)
	params.Set("dpt", "wz.ztzt")
	params.Set("Pageindex", "0")
	params.Set("pagesize", "10000")
	params.Set("sort", sort)
	params.Set("date", date)

	body, err := c.request(ctx, c.pushExURL+path, params)
	if err != nil {
		return nil, err
	}
	pool := gjson.GetBytes(body, "data.pool")
	if !pool.Exists() {
		return nil, nil
	}
	return pool.Array(), nil
}

// MarketQuotes 沪深京 A 股实时行情（分页拉全）
func (c *EastMoneyClient) MarketQuotes(ctx context.Context) ([]models.StockRow, error) {
	items, err := c.clistAll(ctx, marketFilter, "f12", "f2,f3,f6,f8,f12,f14,f20,f21")
	if err != nil {
		return nil, err
	}
	rows := make([]models.StockRow, 0, len(items))
	for _, v := range items {
		rows = append(rows, quoteRow(v))
	}
	return rows, nil
}

// ConceptBoards 概念板块按涨跌幅降序的前 n 个
func (c *EastMoneyClient) ConceptBoards(ctx context.Context, n int) ([]models.SectorSummary, error) {
	params := clistParams(conceptFilter, "f3", "f2,f3,f8,f12,f14,f20,f104,f105,f128,f136", 1, n)
	body, err := c.request(ctx, c.pushURL+pathCList, params)
	if err != nil {
		return nil, err
	}
	diff := gjson.GetBytes(body, "data.diff")
	if !diff.IsArray() {
		return nil, fmt.Errorf("概念板块%w", ErrNoData)
	}

	var sectors []models.SectorSummary
	for i, v := range diff.Array() {
		pct, _ := floatField(v, "f3")
		rate, _ := floatField(v, "f8")
		leaderPct, _ := floatField(v, "f136")
		sectors = append(sectors, models.SectorSummary{
			Rank:         i + 1,
			Name:         v.Get("f14").String(),
			Code:         v.Get("f12").String(),
			PctChange:    pct,
			MarketCap:    models.ToYi(decimalField(v, "f20")),
			TurnoverRate: rate,
			Up:           int(v.Get("f104").Int()),
			Down:         int(v.Get("f105").Int()),
			Leader:       v.Get("f128").String(),
			LeaderPct:    leaderPct,
		})
	}
	return sectors, nil
}

// BoardConstituents 板块成分股
func (c *EastMoneyClient) BoardConstituents(ctx context.Context, boardCode string) ([]models.StockRow, error) {
	items, err := c.clistAll(ctx, "b:"+boardCode+" f:!50", "f3", "f2,f3,f6,f8,f12,f14")
	if err != nil {
		return nil, err
	}
	rows := make([]models.StockRow, 0, len(items))
	for _, v := range items {
		rows = append(rows, quoteRow(v))
	}
	return rows, nil
}

// StockIndustry 个股所属行业
func (c *EastMoneyClient) StockIndustry(ctx context.Context, code string) (string, error) {
	secid, err := secID(code)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("fltt", "2")
	params.Set("secid", secid)
	params.Set("fields", "f57,f58,f127")

	body, err := c.request(ctx, c.pushURL+pathStockGet, params)
	if err != nil {
		return "", err
	}
	industry := strings.TrimSpace(gjson.GetBytes(body, "data.f127").String())
	if industry == "" || industry == "-" {
		return "", fmt.Errorf("%s 行业%w", code, ErrNoData)
	}
	return industry, nil
}

// clistAll 翻页拉取 clist 列表
func (c *EastMoneyClient) clistAll(ctx context.Context, filter, sortField, fields string) ([]gjson.Result, error) {
	var all []gjson.Result
	for page := 1; ; page++ {
		if page > 1 {
			if err := c.pace(ctx); err != nil {
				return nil, err
			}
		}
		body, err := c.request(ctx, c.pushURL+pathCList, clistParams(filter, sortField, fields, page, clistPageSize))
		if err != nil {
			return nil, err
		}
		diff := gjson.GetBytes(body, "data.diff")
		if !diff.IsArray() || len(diff.Array()) == 0 {
			break
		}
		all = append(all, diff.Array()...)
		if total := int(gjson.GetBytes(body, "data.total").Int()); len(all) >= total {
			break
		}
	}
	if len(all) == 0 {
		return nil, ErrNoData
	}
	return all, nil
}

func clistParams(filter, sortField, fields string, page, size int) url.Values {
	params := url.Values{}
	params.Set("pn", strconv.Itoa(page))
	params.Set("pz", strconv.Itoa(size))
	params.Set("po", "1")
	params.Set("np", "1")
	params.Set("ut", listUT)
	params.Set("fltt", "2")
	params.Set("invt", "2")
	params.Set("fid", sortField)
	params.Set("fs", filter)
	params.Set("fields", fields)
	return params
}

func quoteRow(v gjson.Result) models.StockRow {
	r := models.StockRow{
		Code:      v.Get("f12").String(),
		Name:      v.Get("f14").String(),
		Amount:    decimalField(v, "f6"),
		MarketCap: nullDecimalField(v, "f20"),
		FloatCap:  nullDecimalField(v, "f21"),
	}
	r.Price, _ = floatField(v, "f2")
	r.PctChange, _ = floatField(v, "f3")
	if f, ok := floatField(v, "f8"); ok {
		r.TurnoverRate = models.FloatPtr(f)
	}
	return r
}

func poolBase(v gjson.Result) models.StockRow {
	r := models.StockRow{
		Code:      v.Get("c").String(),
		Name:      v.Get("n").String(),
		Amount:    decimalField(v, "amount"),
		FloatCap:  nullDecimalField(v, "ltsz"),
		MarketCap: nullDecimalField(v, "tshare"),
		Industry:  v.Get("hybk").String(),
	}
	if f, ok := floatField(v, "p"); ok {
		r.Price = f / priceMultiplier
	}
	r.PctChange, _ = floatField(v, "zdp")
	if f, ok := floatField(v, "hs"); ok {
		r.TurnoverRate = models.FloatPtr(f)
	}
	return r
}

// limitStats 涨停统计，形如 "3/5"（5 天 3 板）
func limitStats(v gjson.Result) string {
	zttj := v.Get("zttj")
	if !zttj.Exists() {
		return ""
	}
	return fmt.Sprintf("%d/%d", zttj.Get("ct").Int(), zttj.Get("days").Int())
}

// clockField 92500 -> 09:25:00
func clockField(v gjson.Result, key string) string {
	f := v.Get(key)
	if !f.Exists() || f.Type != gjson.Number {
		return ""
	}
	s := fmt.Sprintf("%06d", f.Int())
	return s[0:2] + ":" + s[2:4] + ":" + s[4:6]
}

// floatField 数值字段；东方财富用 "-" 表示缺失
func floatField(v gjson.Result, key string) (float64, bool) {
	f := v.Get(key)
	switch f.Type {
	case gjson.Number:
		return f.Float(), true
	case gjson.String:
		return models.ParseFloat(f.String())
	default:
		return 0, false
	}
}

func decimalField(v gjson.Result, key string) decimal.Decimal {
	return nullDecimalField(v, key).Decimal
}

func nullDecimalField(v gjson.Result, key string) decimal.NullDecimal {
	f := v.Get(key)
	if f.Type != gjson.Number && f.Type != gjson.String {
		return decimal.NullDecimal{}
	}
	d, ok := models.ParseDecimal(f.Raw)
	if f.Type == gjson.String {
		d, ok = models.ParseDecimal(f.String())
	}
	if !ok {
		return decimal.NullDecimal{}
	}
	return models.NullDecimal(d)
}

func intField(v gjson.Result, key string) *int {
	if f, ok := floatField(v, key); ok {
		return models.IntPtr(int(f))
	}
	return nil
}

// indexCode 指数代码加市场前缀：1 -> sh，0 -> sz
func indexCode(market int64, code string) string {
	if market == 1 {
		return "sh" + code
	}
	return "sz" + code
}

// secID 代码 -> 东方财富 secid：上海 1.600519，深圳/北京 0.000001
func secID(code string) (string, error) {
	canonical := models.CanonicalCode(code)
	if canonical == "" {
		return "", fmt.Errorf("无法识别的股票代码: %s", code)
	}
	if strings.HasPrefix(canonical, "SH") {
		return "1." + canonical[2:], nil
	}
	return "0." + canonical[2:], nil
}
