package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"stock_review/internal/config"
	"stock_review/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errUpstream = errors.New("upstream down")

type fakeEastMoney struct {
	mu         sync.Mutex
	index      []models.IndexRow
	pools      map[models.PoolKind][]models.StockRow
	poolErrs   map[models.PoolKind]error
	sectors    []models.SectorSummary
	members    map[string][]models.StockRow
	industries map[string]string
	calls      map[string]int
	indexErr   error
	sectorsErr error
}

func newFakeEastMoney() *fakeEastMoney {
	return &fakeEastMoney{
		pools:      make(map[models.PoolKind][]models.StockRow),
		poolErrs:   make(map[models.PoolKind]error),
		members:    make(map[string][]models.StockRow),
		industries: make(map[string]string),
		calls:      make(map[string]int),
	}
}

func (f *fakeEastMoney) called(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeEastMoney) IndexQuotes(ctx context.Context, secids []string) ([]models.IndexRow, error) {
	f.called("index")
	return f.index, f.indexErr
}

func (f *fakeEastMoney) pool(kind models.PoolKind) ([]models.StockRow, error) {
	f.called(string(kind))
	if err := f.poolErrs[kind]; err != nil {
		return nil, err
	}
	return f.pools[kind], nil
}

func (f *fakeEastMoney) LimitUpPool(ctx context.Context, date string) ([]models.StockRow, error) {
	return f.pool(models.PoolLimitUp)
}

func (f *fakeEastMoney) LimitDownPool(ctx context.Context, date string) ([]models.StockRow, error) {
	return f.pool(models.PoolLimitDown)
}

func (f *fakeEastMoney) FailedLimitPool(ctx context.Context, date string) ([]models.StockRow, error) {
	return f.pool(models.PoolFailedLimit)
}

func (f *fakeEastMoney) ConceptBoards(ctx context.Context, n int) ([]models.SectorSummary, error) {
	f.called("sectors")
	return f.sectors, f.sectorsErr
}

func (f *fakeEastMoney) BoardConstituents(ctx context.Context, code string) ([]models.StockRow, error) {
	f.called("cons_" + code)
	rows, ok := f.members[code]
	if !ok {
		return nil, errUpstream
	}
	return append([]models.StockRow(nil), rows...), nil
}

func (f *fakeEastMoney) StockIndustry(ctx context.Context, code string) (string, error) {
	f.called("industry")
	if ind, ok := f.industries[code]; ok {
		return ind, nil
	}
	return "", errUpstream
}

type fakeQuotes struct {
	name  string
	rows  []models.StockRow
	err   error
	calls int
	log   *[]string
}

func (f *fakeQuotes) MarketQuotes(ctx context.Context) ([]models.StockRow, error) {
	f.calls++
	if f.log != nil {
		*f.log = append(*f.log, f.name)
	}
	return f.rows, f.err
}

type fakeLeaderboard struct {
	byDate  map[string][]models.StockRow
	queried []string
}

func (f *fakeLeaderboard) Leaderboard(ctx context.Context, date string) ([]models.StockRow, error) {
	f.queried = append(f.queried, date)
	rows, ok := f.byDate[date]
	if !ok {
		return nil, ErrNoData
	}
	return rows, nil
}

func quote(code, name string, pct float64, amount int64) models.StockRow {
	return models.StockRow{Code: code, Name: name, Price: 10, PctChange: pct, Amount: decimal.NewFromInt(amount)}
}

func testFetcherConfig() *config.FetcherConfig {
	return &config.FetcherConfig{
		RateLimit:       6000000,
		QuoteRetries:    3,
		QuoteRetryDelay: 5,
		LookbackDays:    20,
		Concurrency:     3,
		TopTurnover:     20,
		TopSectors:      5,
		SectorTopN:      15,
		IndexSecIDs:     []string{"1.000001", "0.399001"},
		Timezone:        "Asia/Shanghai",
	}
}

type sleepRecorder struct {
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.sleeps = append(s.sleeps, d)
	return nil
}

func newTestSource(t *testing.T, em EastMoneyAPI, primary, secondary QuoteProvider, lhb LeaderboardProvider) (*MarketSource, *sleepRecorder) {
	t.Helper()
	src := NewMarketSource(em, primary, secondary, lhb, testFetcherConfig(), zap.NewNop())
	t.Cleanup(src.Close)
	rec := &sleepRecorder{}
	src.sleep = rec.sleep
	return src, rec
}

// fullMarket 五个板块、涨停炸板与龙虎榜俱全的一天
func fullMarket() (*fakeEastMoney, []models.StockRow, *fakeLeaderboard) {
	em := newFakeEastMoney()
	em.index = []models.IndexRow{
		{Code: "sh000001", Name: "上证指数", Price: models.FloatPtr(2929.18), PctChange: models.FloatPtr(-0.16), Amount: decimal.NewFromInt(350000000000)},
		{Code: "sz399001", Name: "深证成指", Price: models.FloatPtr(9000), PctChange: models.FloatPtr(0.5), Amount: decimal.NewFromInt(450000000000)},
	}

	up := quote("600519", "贵州茅台", 10, 9000000000)
	up.ConsecutiveDays = models.IntPtr(2)
	em.pools[models.PoolLimitUp] = []models.StockRow{up}
	em.pools[models.PoolLimitDown] = nil
	em.pools[models.PoolFailedLimit] = []models.StockRow{quote("000001", "平安银行", 5, 8000000000)}

	for i := 0; i < 5; i++ {
		code := fmt.Sprintf("BK%04d", i)
		em.sectors = append(em.sectors, models.SectorSummary{Rank: i + 1, Name: fmt.Sprintf("概念%d", i+1), Code: code, MarketCap: decimal.NewFromInt(1000)})
		em.members[code] = []models.StockRow{quote(fmt.Sprintf("30%04d", i), fmt.Sprintf("成分%d", i), float64(i), 100000000)}
	}
	em.members["BK0000"] = append(em.members["BK0000"], quote("000001", "平安银行", 5, 8000000000))

	market := []models.StockRow{
		quote("600519", "贵州茅台", 10, 9000000000),
		quote("000001", "平安银行", 5, 8000000000),
		quote("601318", "中国平安", -1, 7000000000),
		quote("300750", "宁德时代", 0, 6000000000),
	}
	lhb := &fakeLeaderboard{byDate: map[string][]models.StockRow{
		"20240105": {quote("300750", "宁德时代", 0, 6000000000), quote("000004", "*ST国华", 5, 1)},
	}}
	return em, market, lhb
}

func decimalOf(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}
