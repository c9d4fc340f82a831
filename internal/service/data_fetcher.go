package service

import (
	"context"
	"fmt"

	"stock_review/internal/cache"
	"stock_review/internal/config"
	"stock_review/internal/models"
	"stock_review/internal/normalize"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DataFetcher 数据抓取服务：先读本地缓存，缺失才请求上游并写回缓存。
// 上游失败记警告并返回 nil；只有写缓存失败和全市场行情重试耗尽才返回错误。
type DataFetcher struct {
	source *MarketSource
	store  *cache.Store
	config *config.FetcherConfig
	logger *zap.Logger
}

// NewDataFetcher 创建数据抓取服务
func NewDataFetcher(source *MarketSource, store *cache.Store, cfg *config.FetcherConfig, logger *zap.Logger) *DataFetcher {
	return &DataFetcher{
		source: source,
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Store 底层缓存
func (f *DataFetcher) Store() *cache.Store {
	return f.store
}

func (f *DataFetcher) warn(msg, dataset, date string, err error) {
	f.logger.Warn(msg,
		zap.String("dataset", dataset),
		zap.String("date", date),
		zap.Error(err))
}

// loadPool 读缓存；读失败按未命中处理
func (f *DataFetcher) loadPool(key cache.Key, kind models.PoolKind) *models.Pool {
	p, ok, err := f.store.LoadPool(key, kind)
	if err != nil {
		f.warn("读取缓存失败，重新获取", key.Dataset, key.Date, err)
		return nil
	}
	if !ok {
		return nil
	}
	f.logger.Debug("命中缓存", zap.String("dataset", key.Dataset), zap.String("date", key.Date), zap.Int("rows", p.Len()))
	return p
}

func (f *DataFetcher) savePool(key cache.Key, p *models.Pool) error {
	if err := f.store.SavePool(key, p); err != nil {
		return fmt.Errorf("保存%s失败: %w", key.Dataset, err)
	}
	return nil
}

// IndexSummary 指数成交概况
func (f *DataFetcher) IndexSummary(ctx context.Context, date string) ([]models.IndexRow, error) {
	rows, ok, err := f.store.LoadIndex(date)
	if err != nil {
		f.warn("读取缓存失败，重新获取", cache.DatasetIndex, date, err)
	} else if ok {
		return rows, nil
	}

	rows, err = f.source.FetchIndexSummary(ctx, date)
	if err != nil {
		f.warn("获取指数概况失败", cache.DatasetIndex, date, err)
		return nil, nil
	}
	if err := f.store.SaveIndex(date, rows); err != nil {
		return nil, fmt.Errorf("保存指数概况失败: %w", err)
	}
	return rows, nil
}

// LimitPools 涨停/跌停/炸板三池，每个池独立读缓存或抓取
func (f *DataFetcher) LimitPools(ctx context.Context, date string) (*LimitPools, error) {
	result := &LimitPools{Errs: make(map[models.PoolKind]error)}
	for _, kind := range LimitKinds {
		key := cache.PoolKey(kind, date)
		if p := f.loadPool(key, kind); p != nil {
			result.set(kind, normalize.Pool(p))
			continue
		}
		p, err := f.source.FetchLimitPool(ctx, kind, date)
		if err != nil {
			result.Errs[kind] = err
			f.warn("获取股池失败", string(kind), date, err)
			continue
		}
		if err := f.savePool(key, p); err != nil {
			return nil, err
		}
		result.set(kind, p)
	}
	return result, nil
}

// MarketQuotes 全市场行情（元），重试耗尽返回 ErrExhaustedRetries
func (f *DataFetcher) MarketQuotes(ctx context.Context, date string) (*models.Pool, error) {
	key := cache.PoolKey(models.PoolMarket, date)
	if p := f.loadPool(key, models.PoolMarket); p != nil {
		return p, nil
	}
	p, err := f.source.FetchFullMarketQuotes(ctx, date)
	if err != nil {
		return nil, err
	}
	if err := f.savePool(key, p); err != nil {
		return nil, err
	}
	return p, nil
}

// TopTurnover 成交额前 N，按配置补充所属行业
func (f *DataFetcher) TopTurnover(ctx context.Context, date string, market *models.Pool) (*models.Pool, error) {
	key := cache.PoolKey(models.PoolTopTurnover, date)
	if p := f.loadPool(key, models.PoolTopTurnover); p != nil {
		return p, nil
	}
	if market == nil {
		f.warn("缺少全市场行情，无法计算成交额排行", string(models.PoolTopTurnover), date, ErrNoData)
		return nil, nil
	}
	top := normalize.TopTurnover(market, f.config.TopTurnover)
	if f.config.EnrichIndustry {
		top = f.source.EnrichIndustry(ctx, top)
	}
	if err := f.savePool(key, top); err != nil {
		return nil, err
	}
	return top, nil
}

// SectorSummary 涨幅前 K 的概念板块
func (f *DataFetcher) SectorSummary(ctx context.Context, date string) ([]models.SectorSummary, error) {
	sectors, ok, err := f.store.LoadSectors(date)
	if err != nil {
		f.warn("读取缓存失败，重新获取", cache.DatasetConceptSummary, date, err)
	} else if ok {
		return sectors, nil
	}

	sectors, err = f.source.FetchSectorSummary(ctx, date)
	if err != nil {
		f.warn("获取概念板块失败", cache.DatasetConceptSummary, date, err)
		return nil, nil
	}
	if err := f.store.SaveSectors(date, sectors); err != nil {
		return nil, fmt.Errorf("保存概念板块失败: %w", err)
	}
	return sectors, nil
}

// Constituents 各板块成分股，按板块逐个补齐缺失的缓存；失败的板块位置为 nil
func (f *DataFetcher) Constituents(ctx context.Context, date string, sectors []models.SectorSummary) ([]*models.Pool, error) {
	out := make([]*models.Pool, len(sectors))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(f.config.Concurrency, 1))

	for i, sector := range sectors {
		key := cache.SectorKey(i, date)
		if p := f.loadPool(key, models.PoolConstituents); p != nil {
			if p.Sector == "" {
				p.Sector = sector.Name
			}
			out[i] = p
			continue
		}
		g.Go(func() error {
			p, err := f.source.FetchSectorConstituents(ctx, date, sector)
			if err != nil {
				f.warn("获取板块成分股失败", key.Dataset, date, err)
				return nil
			}
			if err := f.savePool(key, p); err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Leaderboard 龙虎榜
func (f *DataFetcher) Leaderboard(ctx context.Context, date string) (*models.Pool, error) {
	key := cache.PoolKey(models.PoolLeaderboard, date)
	if p := f.loadPool(key, models.PoolLeaderboard); p != nil {
		return p, nil
	}
	p, err := f.source.FetchLeaderboard(ctx, date)
	if err != nil {
		f.warn("获取龙虎榜失败", string(models.PoolLeaderboard), date, err)
		return nil, nil
	}
	if err := f.savePool(key, p); err != nil {
		return nil, err
	}
	return p, nil
}
