package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stock_review/internal/config"
	"stock_review/internal/models"
	"stock_review/internal/normalize"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrExhaustedRetries 全市场行情所有尝试均失败
var ErrExhaustedRetries = errors.New("全市场行情重试次数已用尽")

// EastMoneyAPI 东方财富数据接口
type EastMoneyAPI interface {
	IndexQuotes(ctx context.Context, secids []string) ([]models.IndexRow, error)
	LimitUpPool(ctx context.Context, date string) ([]models.StockRow, error)
	LimitDownPool(ctx context.Context, date string) ([]models.StockRow, error)
	FailedLimitPool(ctx context.Context, date string) ([]models.StockRow, error)
	ConceptBoards(ctx context.Context, n int) ([]models.SectorSummary, error)
	BoardConstituents(ctx context.Context, boardCode string) ([]models.StockRow, error)
	StockIndustry(ctx context.Context, code string) (string, error)
}

// QuoteProvider 全市场行情源
type QuoteProvider interface {
	MarketQuotes(ctx context.Context) ([]models.StockRow, error)
}

// LeaderboardProvider 龙虎榜数据源
type LeaderboardProvider interface {
	Leaderboard(ctx context.Context, date string) ([]models.StockRow, error)
}

// LimitPools 涨停/跌停/炸板三池的抓取结果，各池独立成功或失败
type LimitPools struct {
	LimitUp     *models.Pool
	LimitDown   *models.Pool
	FailedLimit *models.Pool
	Errs        map[models.PoolKind]error
}

// Complete 三池是否全部拿到
func (lp *LimitPools) Complete() bool {
	return lp.LimitUp != nil && lp.LimitDown != nil && lp.FailedLimit != nil
}

// Get 按池类型取结果
func (lp *LimitPools) Get(kind models.PoolKind) *models.Pool {
	switch kind {
	case models.PoolLimitUp:
		return lp.LimitUp
	case models.PoolLimitDown:
		return lp.LimitDown
	case models.PoolFailedLimit:
		return lp.FailedLimit
	}
	return nil
}

func (lp *LimitPools) set(kind models.PoolKind, p *models.Pool) {
	switch kind {
	case models.PoolLimitUp:
		lp.LimitUp = p
	case models.PoolLimitDown:
		lp.LimitDown = p
	case models.PoolFailedLimit:
		lp.FailedLimit = p
	}
}

// LimitKinds 三池的抓取顺序
var LimitKinds = []models.PoolKind{models.PoolLimitUp, models.PoolLimitDown, models.PoolFailedLimit}

// MarketSource 行情数据源适配器：统一请求间隔限流、主备行情源切换
type MarketSource struct {
	eastMoney   EastMoneyAPI
	primary     QuoteProvider
	secondary   QuoteProvider
	leaderboard LeaderboardProvider
	config      *config.FetcherConfig
	logger      *zap.Logger
	rateLimiter *time.Ticker
	location    *time.Location

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewMarketSource 创建数据源适配器
func NewMarketSource(em EastMoneyAPI, primary, secondary QuoteProvider, lhb LeaderboardProvider,
	cfg *config.FetcherConfig, logger *zap.Logger) *MarketSource {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	rate := cfg.RateLimit
	if rate <= 0 {
		rate = 120
	}
	return &MarketSource{
		eastMoney:   em,
		primary:     primary,
		secondary:   secondary,
		leaderboard: lhb,
		config:      cfg,
		logger:      logger,
		rateLimiter: time.NewTicker(time.Minute / time.Duration(rate)),
		location:    loc,
		sleep:       sleepContext,
		now:         time.Now,
	}
}

// Close 停止限流器
func (s *MarketSource) Close() {
	s.rateLimiter.Stop()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pace 两次上游请求之间的间隔，分页客户端翻页时共用
func (s *MarketSource) Pace(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.rateLimiter.C:
		return nil
	}
}

// Today 交易所时区的今天，YYYYMMDD
func (s *MarketSource) Today() string {
	return s.now().In(s.location).Format("20060102")
}

// FetchIndexSummary 指数成交概况，末尾追加两市合计行；涨跌幅不参与合计
func (s *MarketSource) FetchIndexSummary(ctx context.Context, date string) ([]models.IndexRow, error) {
	if err := s.Pace(ctx); err != nil {
		return nil, err
	}
	rows, err := s.eastMoney.IndexQuotes(ctx, s.config.IndexSecIDs)
	if err != nil {
		return nil, fmt.Errorf("获取指数行情失败: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("指数行情%w", ErrNoData)
	}
	return withIndexTotal(rows), nil
}

func withIndexTotal(rows []models.IndexRow) []models.IndexRow {
	out := make([]models.IndexRow, 0, len(rows)+1)
	total := decimal.Zero
	for i, r := range rows {
		r.Seq = i + 1
		r.AmountYi = models.ToYi(r.Amount)
		total = total.Add(r.Amount)
		out = append(out, r)
	}
	out = append(out, models.IndexRow{
		Seq:      len(rows) + 1,
		Code:     models.IndexTotalCode,
		Name:     "两市合计",
		Amount:   total,
		AmountYi: models.ToYi(total),
	})
	return out
}

// FetchLimitPool 单个涨跌停类股池，已规整
func (s *MarketSource) FetchLimitPool(ctx context.Context, kind models.PoolKind, date string) (*models.Pool, error) {
	if err := s.Pace(ctx); err != nil {
		return nil, err
	}
	var rows []models.StockRow
	var err error
	switch kind {
	case models.PoolLimitUp:
		rows, err = s.eastMoney.LimitUpPool(ctx, date)
	case models.PoolLimitDown:
		rows, err = s.eastMoney.LimitDownPool(ctx, date)
	case models.PoolFailedLimit:
		rows, err = s.eastMoney.FailedLimitPool(ctx, date)
	default:
		return nil, fmt.Errorf("不支持的股池类型: %s", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("获取%s失败: %w", kind, err)
	}
	return normalize.Pool(&models.Pool{Kind: kind, Date: date, Rows: rows}), nil
}

// FetchLimitPools 依次抓取三池，记录每个池各自的失败
func (s *MarketSource) FetchLimitPools(ctx context.Context, date string) *LimitPools {
	result := &LimitPools{Errs: make(map[models.PoolKind]error)}
	for _, kind := range LimitKinds {
		p, err := s.FetchLimitPool(ctx, kind, date)
		if err != nil {
			result.Errs[kind] = err
			continue
		}
		result.set(kind, p)
	}
	return result
}

// FetchFullMarketQuotes 全市场行情：偶数次用主源、奇数次用备源，失败之间等待
func (s *MarketSource) FetchFullMarketQuotes(ctx context.Context, date string) (*models.Pool, error) {
	attempts := s.config.QuoteRetries
	delay := time.Duration(s.config.QuoteRetryDelay) * time.Second

	for i := 0; i < attempts; i++ {
		provider, name := s.primary, "primary"
		if i%2 == 1 {
			provider, name = s.secondary, "secondary"
		}

		rows, err := provider.MarketQuotes(ctx)
		if err == nil && len(rows) == 0 {
			err = ErrNoData
		}
		if err == nil {
			p := &models.Pool{Kind: models.PoolMarket, Date: date, Rows: rows}
			p.Renumber()
			s.logger.Info("全市场行情获取成功",
				zap.String("provider", name),
				zap.Int("count", len(rows)))
			return p, nil
		}

		s.logger.Warn("全市场行情获取失败",
			zap.String("provider", name),
			zap.Int("attempt", i+1),
			zap.Error(err))

		if i < attempts-1 {
			if err := s.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, ErrExhaustedRetries
}

// FetchLatestAvailableDate 从今天起用龙虎榜探测，逐日回溯直到有数据
func (s *MarketSource) FetchLatestAvailableDate(ctx context.Context) (string, error) {
	day := s.now().In(s.location)
	for i := 0; i < s.config.LookbackDays; i++ {
		date := day.AddDate(0, 0, -i).Format("20060102")
		if err := s.Pace(ctx); err != nil {
			return "", err
		}
		rows, err := s.leaderboard.Leaderboard(ctx, date)
		if err == nil && len(rows) > 0 {
			s.logger.Info("找到最新可用数据日期",
				zap.String("date", date),
				zap.Int("lookback", i))
			return date, nil
		}
		s.logger.Debug("该日期无数据", zap.String("date", date), zap.Error(err))
	}
	return "", fmt.Errorf("回溯 %d 天仍无数据: %w", s.config.LookbackDays, ErrNoData)
}

// FetchSectorSummary 涨幅前 K 的概念板块
func (s *MarketSource) FetchSectorSummary(ctx context.Context, date string) ([]models.SectorSummary, error) {
	if err := s.Pace(ctx); err != nil {
		return nil, err
	}
	sectors, err := s.eastMoney.ConceptBoards(ctx, s.config.TopSectors)
	if err != nil {
		return nil, fmt.Errorf("获取概念板块失败: %w", err)
	}
	if len(sectors) > s.config.TopSectors {
		sectors = sectors[:s.config.TopSectors]
	}
	for i := range sectors {
		sectors[i].Rank = i + 1
	}
	return sectors, nil
}

// FetchSectorConstituents 板块成分股，按涨跌幅降序
func (s *MarketSource) FetchSectorConstituents(ctx context.Context, date string, sector models.SectorSummary) (*models.Pool, error) {
	if err := s.Pace(ctx); err != nil {
		return nil, err
	}
	rows, err := s.eastMoney.BoardConstituents(ctx, sector.Code)
	if err != nil {
		return nil, fmt.Errorf("获取板块 %s 成分股失败: %w", sector.Name, err)
	}
	for i := range rows {
		rows[i].Sector = sector.Name
	}
	p := &models.Pool{Kind: models.PoolConstituents, Date: date, Sector: sector.Name, Rows: rows}
	return normalize.Pool(normalize.RankByChange(p)), nil
}

// FetchLeaderboard 龙虎榜，剔除 ST 并去重
func (s *MarketSource) FetchLeaderboard(ctx context.Context, date string) (*models.Pool, error) {
	if err := s.Pace(ctx); err != nil {
		return nil, err
	}
	rows, err := s.leaderboard.Leaderboard(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("获取龙虎榜失败: %w", err)
	}
	return normalize.CleanLeaderboard(&models.Pool{Kind: models.PoolLeaderboard, Date: date, Rows: rows}), nil
}

// EnrichIndustry 补充所属行业与行业在列表中的累计出现次数，单只失败只记警告
func (s *MarketSource) EnrichIndustry(ctx context.Context, p *models.Pool) *models.Pool {
	out := p.Clone()
	if out == nil {
		return nil
	}
	frequency := make(map[string]int)
	for i := range out.Rows {
		row := &out.Rows[i]
		if err := s.Pace(ctx); err != nil {
			s.logger.Warn("补充行业信息中断", zap.Error(err))
			return out
		}
		industry, err := s.eastMoney.StockIndustry(ctx, row.Code)
		if err != nil {
			s.logger.Warn("获取个股行业失败",
				zap.String("code", row.Code),
				zap.String("name", row.Name),
				zap.Error(err))
			continue
		}
		frequency[industry]++
		row.Industry = industry
		row.IndustryHits = models.IntPtr(frequency[industry])
	}
	return out
}
