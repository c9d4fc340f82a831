package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stock_review/internal/config"
	"stock_review/internal/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

const (
	pathHQCount = "/quotes_service/api/json_v2.php/Market_Center.getHQNodeStockCount"
	pathHQData  = "/quotes_service/api/json_v2.php/Market_Center.getHQNodeData"
	pathLHB     = "/q/go.php/vInvestConsult/kind/lhb/index.phtml"
	sinaNode    = "hs_a"
)

// 万元 -> 元
var wan = decimal.NewFromInt(10000)

// SinaClient 新浪财经客户端：全市场行情备用源与龙虎榜
type SinaClient struct {
	baseURL  string
	retry    int
	backoff  time.Duration
	pageSize int
	client   *http.Client
	pace     func(ctx context.Context) error
}

// NewSinaClient 创建新浪客户端
func NewSinaClient(cfg *config.SinaConfig) *SinaClient {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 80
	}
	c := &SinaClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		retry:    cfg.Retry,
		backoff:  time.Duration(cfg.Backoff) * time.Millisecond,
		pageSize: pageSize,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
	c.pace = func(ctx context.Context) error { return sleepContext(ctx, c.backoff) }
	return c
}

// SetPacer 设置翻页间隔
func (c *SinaClient) SetPacer(pace func(ctx context.Context) error) {
	c.pace = pace
}

// request 发送请求，失败按线性退避重试
func (c *SinaClient) request(ctx context.Context, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path + "?" + params.Encode()

	var body []byte
	var lastErr error
	for i := 0; i <= c.retry; i++ {
		body, lastErr = c.doRequest(ctx, fullURL)
		if lastErr == nil {
			return body, nil
		}
		if i < c.retry {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff * time.Duration(i+1)):
			}
		}
	}
	return nil, lastErr
}

// doRequest 执行 HTTP 请求
func (c *SinaClient) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://finance.sina.com.cn/")

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

// MarketQuotes 沪深京 A 股行情（分页拉全）
func (c *SinaClient) MarketQuotes(ctx context.Context) ([]models.StockRow, error) {
	total, err := c.stockCount(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("新浪行情%w", ErrNoData)
	}

	pages := (total + c.pageSize - 1) / c.pageSize
	rows := make([]models.StockRow, 0, total)
	for page := 1; page <= pages; page++ {
		if page > 1 {
			if err := c.pace(ctx); err != nil {
				return nil, err
			}
		}
		params := url.Values{}
		params.Set("page", strconv.Itoa(page))
		params.Set("num", strconv.Itoa(c.pageSize))
		params.Set("sort", "symbol")
		params.Set("asc", "1")
		params.Set("node", sinaNode)
		params.Set("symbol", "")
		params.Set("_s_r_a", "page")

		body, err := c.request(ctx, pathHQData, params)
		if err != nil {
			return nil, fmt.Errorf("新浪行情第 %d 页: %w", page, err)
		}
		items := gjson.ParseBytes(body)
		if !items.IsArray() {
			return nil, fmt.Errorf("新浪行情第 %d 页: 非法响应", page)
		}
		for _, v := range items.Array() {
			rows = append(rows, sinaQuoteRow(v))
		}
	}
	return rows, nil
}

// stockCount 节点股票总数，返回值形如 "5368"
func (c *SinaClient) stockCount(ctx context.Context) (int, error) {
	params := url.Values{}
	params.Set("node", sinaNode)
	body, err := c.request(ctx, pathHQCount, params)
	if err != nil {
		return 0, err
	}
	s := strings.Trim(strings.TrimSpace(string(body)), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("解析股票总数失败: %w", err)
	}
	return n, nil
}

func sinaQuoteRow(v gjson.Result) models.StockRow {
	code := v.Get("symbol").String()
	if code == "" {
		code = v.Get("code").String()
	}
	r := models.StockRow{
		Code:   code,
		Name:   v.Get("name").String(),
		Amount: decimalField(v, "amount"),
	}
	r.Price, _ = floatField(v, "trade")
	r.PctChange, _ = floatField(v, "changepercent")
	if d := nullDecimalField(v, "mktcap"); d.Valid {
		r.MarketCap = models.NullDecimal(d.Decimal.Mul(wan))
	}
	if d := nullDecimalField(v, "nmc"); d.Valid {
		r.FloatCap = models.NullDecimal(d.Decimal.Mul(wan))
	}
	if f, ok := floatField(v, "turnoverratio"); ok {
		r.TurnoverRate = models.FloatPtr(f)
	}
	return r
}

// Leaderboard 龙虎榜，date 为 YYYYMMDD；页面按上榜指标分多张表
func (c *SinaClient) Leaderboard(ctx context.Context, date string) ([]models.StockRow, error) {
	day, err := time.Parse("20060102", date)
	if err != nil {
		return nil, fmt.Errorf("日期格式错误: %w", err)
	}
	params := url.Values{}
	params.Set("tradedate", day.Format("2006-01-02"))

	body, err := c.request(ctx, pathLHB, params)
	if err != nil {
		return nil, err
	}
	return parseLeaderboard(body)
}

// parseLeaderboard 解析 GBK 编码的龙虎榜页面
func parseLeaderboard(body []byte) ([]models.StockRow, error) {
	reader := transform.NewReader(bytes.NewReader(body), simplifiedchinese.GBK.NewDecoder())
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("解析龙虎榜页面失败: %w", err)
	}

	var rows []models.StockRow
	indicator := ""
	doc.Find("span, table").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "span" {
			style, _ := s.Attr("style")
			if strings.Contains(strings.ReplaceAll(style, " ", ""), "font-weight:bold") {
				indicator = strings.TrimSpace(s.Text())
			}
			return
		}
		s.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			tds := tr.Find("td")
			if tds.Length() < 7 {
				return
			}
			text := func(i int) string { return strings.TrimSpace(tds.Eq(i).Text()) }
			code := text(1)
			if models.CanonicalCode(code) == "" {
				return
			}
			r := models.StockRow{
				Code:      code,
				Name:      text(2),
				Indicator: indicator,
			}
			r.Seq, _ = models.ParseInt(text(0))
			r.Price, _ = models.ParseFloat(text(3))
			if f, ok := models.ParseFloat(text(4)); ok {
				r.IndicatorValue = models.FloatPtr(f)
			}
			if d, ok := models.ParseDecimal(text(6)); ok {
				r.Amount = d.Mul(wan)
			}
			rows = append(rows, r)
		})
	})
	return rows, nil
}
