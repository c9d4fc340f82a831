package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"stock_review/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEastMoney(t *testing.T, handler http.Handler, retry int) *EastMoneyClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewEastMoneyClient(&config.EastMoneyConfig{
		PushURL:   server.URL,
		PushExURL: server.URL,
		Timeout:   5,
		Retry:     retry,
		Backoff:   1,
	})
}

// TestIndexQuotes_Success 测试获取指数行情
func TestIndexQuotes_Success(t *testing.T) {
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathULIST, r.URL.Path)
		assert.Equal(t, "1.000001,0.399001", r.URL.Query().Get("secids"))
		assert.Equal(t, "2", r.URL.Query().Get("fltt"))
		w.Write([]byte(`{"rc":0,"data":{"total":2,"diff":[
			{"f2":2929.18,"f3":-0.16,"f6":350000000000,"f12":"000001","f13":1,"f14":"上证指数"},
			{"f2":"-","f3":0.52,"f6":450000000000,"f12":"399001","f13":0,"f14":"深证成指"}]}}`))
	}), 0)

	rows, err := client.IndexQuotes(context.Background(), []string{"1.000001", "0.399001"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "sh000001", rows[0].Code)
	assert.Equal(t, "上证指数", rows[0].Name)
	require.NotNil(t, rows[0].Price)
	assert.Equal(t, 2929.18, *rows[0].Price)
	assert.Equal(t, -0.16, *rows[0].PctChange)
	assert.Equal(t, "350000000000", rows[0].Amount.String())

	assert.Equal(t, "sz399001", rows[1].Code)
	assert.Nil(t, rows[1].Price)
	assert.Equal(t, 0.52, *rows[1].PctChange)
}

// TestIndexQuotes_NoData data 为空
func TestIndexQuotes_NoData(t *testing.T) {
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rc":0,"data":null}`))
	}), 0)

	_, err := client.IndexQuotes(context.Background(), []string{"1.000001"})
	require.ErrorIs(t, err, ErrNoData)
}

// TestLimitUpPool_Success 测试涨停池字段解析
func TestLimitUpPool_Success(t *testing.T) {
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathZTPool, r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "20240105", q.Get("date"))
		assert.Equal(t, poolUT, q.Get("ut"))
		assert.Equal(t, "fbt:asc", q.Get("sort"))
		w.Write([]byte(`{"rc":0,"data":{"tc":1,"pool":[{"c":"600519","m":1,"n":"贵州茅台","p":1850000,"zdp":10.0,
			"amount":1500000000,"ltsz":2.3e12,"tshare":2.3e12,"hs":0.5,"lbc":2,"fbt":92500,"lbt":145701,
			"fund":320000000,"zbc":1,"hybk":"酿酒行业","zttj":{"days":5,"ct":3}}]}}`))
	}), 0)

	rows, err := client.LimitUpPool(context.Background(), "20240105")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, "600519", r.Code)
	assert.Equal(t, 1850.0, r.Price)
	assert.Equal(t, 10.0, r.PctChange)
	assert.Equal(t, "1500000000", r.Amount.String())
	assert.True(t, r.SealFund.Valid)
	assert.Equal(t, "09:25:00", r.FirstSealTime)
	assert.Equal(t, "14:57:01", r.LastSealTime)
	assert.Equal(t, "3/5", r.LimitStats)
	require.NotNil(t, r.ConsecutiveDays)
	assert.Equal(t, 2, *r.ConsecutiveDays)
	assert.Equal(t, 1, *r.BrokenCount)
	assert.Equal(t, "酿酒行业", r.Industry)
}

// TestTopicPool_NullData 当日没有数据时返回空池而不是错误
func TestTopicPool_NullData(t *testing.T) {
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"rc":0,"data":null}`))
	}), 0)

	rows, err := client.LimitDownPool(context.Background(), "20240106")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// TestFailedLimitPool_Success 炸板池涨停价同样是千分位
func TestFailedLimitPool_Success(t *testing.T) {
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathZBPool, r.URL.Path)
		w.Write([]byte(`{"data":{"pool":[{"c":"000001","n":"平安银行","p":10500,"ztp":11000,"zdp":5.0,"amount":100,"fbt":100000,"zbc":3,"zttj":{"days":1,"ct":0}}]}}`))
	}), 0)

	rows, err := client.FailedLimitPool(context.Background(), "20240105")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 10.5, rows[0].Price)
	require.NotNil(t, rows[0].LimitPrice)
	assert.Equal(t, 11.0, *rows[0].LimitPrice)
	assert.Equal(t, "10:00:00", rows[0].FirstSealTime)
	assert.Nil(t, rows[0].ConsecutiveDays)
}

// TestRequest_RetrySuccess 测试重试后成功
func TestRequest_RetrySuccess(t *testing.T) {
	var calls int32
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{"pool":[]}}`))
	}), 2)

	_, err := client.LimitUpPool(context.Background(), "20240105")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

// TestRequest_RetryExhausted 测试重试耗尽
func TestRequest_RetryExhausted(t *testing.T) {
	var calls int32
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}), 1)

	_, err := client.LimitUpPool(context.Background(), "20240105")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

// TestRequest_InvalidJSON 测试非法响应
func TestRequest_InvalidJSON(t *testing.T) {
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>blocked</html>`))
	}), 0)

	_, err := client.LimitUpPool(context.Background(), "20240105")
	require.Error(t, err)
}

// TestMarketQuotes_Paging 测试分页拉取全市场行情
func TestMarketQuotes_Paging(t *testing.T) {
	const total = 150
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathCList, r.URL.Path)
		assert.Equal(t, marketFilter, r.URL.Query().Get("fs"))
		page, _ := strconv.Atoi(r.URL.Query().Get("pn"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pz"))
		var items []string
		for i := (page - 1) * size; i < total && i < page*size; i++ {
			items = append(items, fmt.Sprintf(`{"f2":10.5,"f3":1.2,"f6":%d,"f8":3.1,"f12":"%06d","f14":"股票%d","f20":1e10,"f21":5e9}`, i+1, 600000+i, i))
		}
		fmt.Fprintf(w, `{"data":{"total":%d,"diff":[%s]}}`, total, strings.Join(items, ","))
	}), 0)

	rows, err := client.MarketQuotes(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, total)
	assert.Equal(t, "600000", rows[0].Code)
	assert.Equal(t, "600149", rows[149].Code)
	assert.Equal(t, "150", rows[149].Amount.String())
	assert.Equal(t, 3.1, *rows[0].TurnoverRate)
	assert.True(t, rows[0].MarketCap.Valid)
}

// TestMarketQuotes_PacedBetweenPages 翻页前等待节流，首页由调用方节流
func TestMarketQuotes_PacedBetweenPages(t *testing.T) {
	const total = 250
	var events []string
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("pn"))
		size, _ := strconv.Atoi(r.URL.Query().Get("pz"))
		events = append(events, "page"+r.URL.Query().Get("pn"))
		var items []string
		for i := (page - 1) * size; i < total && i < page*size; i++ {
			items = append(items, fmt.Sprintf(`{"f2":1,"f6":1,"f12":"%06d","f14":"股票%d"}`, i, i))
		}
		fmt.Fprintf(w, `{"data":{"total":%d,"diff":[%s]}}`, total, strings.Join(items, ","))
	}), 0)
	client.SetPacer(func(ctx context.Context) error {
		events = append(events, "wait")
		return nil
	})

	rows, err := client.MarketQuotes(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, total)
	assert.Equal(t, []string{"page1", "wait", "page2", "wait", "page3"}, events)
}

// TestMarketQuotes_PacerCancelled 等待被取消时停止翻页
func TestMarketQuotes_PacerCancelled(t *testing.T) {
	var pages int
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		w.Write([]byte(`{"data":{"total":500,"diff":[{"f2":1,"f6":1,"f12":"600000","f14":"浦发银行"}]}}`))
	}), 0)
	client.SetPacer(func(ctx context.Context) error { return context.Canceled })

	_, err := client.MarketQuotes(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, pages)
}

// TestConceptBoards_Success 测试概念板块
func TestConceptBoards_Success(t *testing.T) {
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, conceptFilter, r.URL.Query().Get("fs"))
		assert.Equal(t, "f3", r.URL.Query().Get("fid"))
		assert.Equal(t, "5", r.URL.Query().Get("pz"))
		w.Write([]byte(`{"data":{"total":400,"diff":[
			{"f3":6.5,"f8":4.2,"f12":"BK1234","f14":"人形机器人","f20":523400000000,"f104":80,"f105":2,"f128":"某龙头","f136":20.01},
			{"f3":5.1,"f8":3.0,"f12":"BK0001","f14":"算力","f20":100000000,"f104":60,"f105":10,"f128":"某股","f136":10}]}}`))
	}), 0)

	sectors, err := client.ConceptBoards(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, sectors, 2)
	assert.Equal(t, 1, sectors[0].Rank)
	assert.Equal(t, "人形机器人", sectors[0].Name)
	assert.Equal(t, "BK1234", sectors[0].Code)
	assert.Equal(t, "5234", sectors[0].MarketCap.String())
	assert.Equal(t, 80, sectors[0].Up)
	assert.Equal(t, 20.01, sectors[0].LeaderPct)
}

// TestBoardConstituents_Filter 测试成分股按板块代码过滤
func TestBoardConstituents_Filter(t *testing.T) {
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "b:BK1234 f:!50", r.URL.Query().Get("fs"))
		w.Write([]byte(`{"data":{"total":1,"diff":[{"f2":9.9,"f3":10.0,"f6":1000,"f12":"300001","f14":"特锐德"}]}}`))
	}), 0)

	rows, err := client.BoardConstituents(context.Background(), "BK1234")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "300001", rows[0].Code)
}

// TestStockIndustry 测试个股行业
func TestStockIndustry(t *testing.T) {
	client := newTestEastMoney(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathStockGet, r.URL.Path)
		switch r.URL.Query().Get("secid") {
		case "1.600519":
			w.Write([]byte(`{"data":{"f57":"600519","f58":"贵州茅台","f127":"酿酒行业"}}`))
		default:
			w.Write([]byte(`{"data":{"f57":"000001","f58":"平安银行","f127":"-"}}`))
		}
	}), 0)

	industry, err := client.StockIndustry(context.Background(), "600519")
	require.NoError(t, err)
	assert.Equal(t, "酿酒行业", industry)

	_, err = client.StockIndustry(context.Background(), "000001")
	require.ErrorIs(t, err, ErrNoData)

	_, err = client.StockIndustry(context.Background(), "bad")
	require.Error(t, err)
}

func TestSecID(t *testing.T) {
	tests := map[string]string{
		"600519":   "1.600519",
		"sh688001": "1.688001",
		"000001":   "0.000001",
		"300750":   "0.300750",
		"830799":   "0.830799",
	}
	for code, want := range tests {
		got, err := secID(code)
		require.NoError(t, err)
		assert.Equal(t, want, got, code)
	}
}
