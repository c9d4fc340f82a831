// Package watchlist 把当日各股票池交叉成两张观察池：
// 大额异动池（成交额前 N 中同时出现在涨跌停、炸板、龙虎榜或热门板块里的个股）
// 与风口涨停池（热门板块内的涨停、炸板个股）。
package watchlist

import (
	"fmt"
	"sort"

	"stock_review/internal/cache"
	"stock_review/internal/models"
	"stock_review/internal/normalize"

	"go.uber.org/zap"
)

// DefaultSectorCount 参与交叉的热门板块数
const DefaultSectorCount = 5

// Inputs 推导观察池所需的股票池，任一池可以为 nil
type Inputs struct {
	TopTurnover  *models.Pool
	LimitUp      *models.Pool
	LimitDown    *models.Pool
	FailedLimit  *models.Pool
	Leaderboard  *models.Pool
	Constituents []*models.Pool // 按板块排名排列
}

// Result 两张观察池
type Result struct {
	LargeFlow      *models.Pool
	SectorMomentum *models.Pool
	FromCache      bool
}

// Store 观察池缓存
type Store interface {
	LoadPool(key cache.Key, kind models.PoolKind) (*models.Pool, bool, error)
	SavePool(key cache.Key, p *models.Pool) error
}

// Engine 观察池推导
type Engine struct {
	store       Store
	sectorCount int
	logger      *zap.Logger
}

// NewEngine 创建推导引擎
func NewEngine(store Store, sectorCount int, logger *zap.Logger) *Engine {
	if sectorCount <= 0 {
		sectorCount = DefaultSectorCount
	}
	return &Engine{store: store, sectorCount: sectorCount, logger: logger}
}

// Derive 两张观察池都已缓存时原样返回，否则重新推导并写入缓存
func (e *Engine) Derive(date string, in Inputs) (*Result, error) {
	wl1, ok1, err := e.store.LoadPool(cache.PoolKey(models.PoolWatchlist1, date), models.PoolWatchlist1)
	if err != nil {
		return nil, fmt.Errorf("读取大额异动池缓存失败: %w", err)
	}
	wl2, ok2, err := e.store.LoadPool(cache.PoolKey(models.PoolWatchlist2, date), models.PoolWatchlist2)
	if err != nil {
		return nil, fmt.Errorf("读取风口涨停池缓存失败: %w", err)
	}
	if ok1 && ok2 {
		e.logger.Info("使用缓存的观察池", zap.String("date", date),
			zap.Int("watchlist1", wl1.Len()), zap.Int("watchlist2", wl2.Len()))
		return &Result{LargeFlow: wl1, SectorMomentum: wl2, FromCache: true}, nil
	}

	sectorKeys := SectorKeys(in.Constituents, e.sectorCount)
	res := &Result{
		LargeFlow:      LargeFlow(date, in, sectorKeys),
		SectorMomentum: SectorMomentum(date, in.LimitUp, in.FailedLimit, sectorKeys),
	}

	if err := e.store.SavePool(cache.PoolKey(models.PoolWatchlist1, date), res.LargeFlow); err != nil {
		return nil, fmt.Errorf("保存大额异动池失败: %w", err)
	}
	if err := e.store.SavePool(cache.PoolKey(models.PoolWatchlist2, date), res.SectorMomentum); err != nil {
		return nil, fmt.Errorf("保存风口涨停池失败: %w", err)
	}

	e.logger.Info("观察池推导完成", zap.String("date", date),
		zap.Int("watchlist1", res.LargeFlow.Len()), zap.Int("watchlist2", res.SectorMomentum.Len()))
	return res, nil
}

// SectorKeys 前 n 个板块成分股的标识并集
func SectorKeys(constituents []*models.Pool, n int) map[string]struct{} {
	keys := make(map[string]struct{})
	for i, p := range constituents {
		if i >= n {
			break
		}
		for k := range p.KeySet() {
			keys[k] = struct{}{}
		}
	}
	return keys
}

// LargeFlow 大额异动池：成交额前 N 中出现在任一成员来源里的个股，保持成交额顺序
func LargeFlow(date string, in Inputs, sectorKeys map[string]struct{}) *models.Pool {
	members := []map[string]struct{}{
		in.LimitUp.KeySet(),
		in.LimitDown.KeySet(),
		in.FailedLimit.KeySet(),
		in.Leaderboard.KeySet(),
		sectorKeys,
	}

	out := &models.Pool{Kind: models.PoolWatchlist1, Date: date, Normalized: true}
	top := normalize.Pool(in.TopTurnover)
	if top == nil {
		return out
	}
	for _, r := range top.Rows {
		if inAny(r.Key(), members) {
			out.Rows = append(out.Rows, r)
		}
	}
	out.Renumber()
	return out
}

func inAny(key string, sets []map[string]struct{}) bool {
	for _, set := range sets {
		if _, ok := set[key]; ok {
			return true
		}
	}
	return false
}

// SectorMomentum 风口涨停池：热门板块内的涨停与炸板个股，
// 按状态（涨停优先）、连板数降序稳定排序，连板数缺失记为 0
func SectorMomentum(date string, limitUp, failedLimit *models.Pool, sectorKeys map[string]struct{}) *models.Pool {
	out := &models.Pool{Kind: models.PoolWatchlist2, Date: date, Normalized: true}
	seen := make(map[string]struct{})

	collect := func(p *models.Pool, status models.LimitStatus) {
		p = normalize.Pool(p)
		if p == nil {
			return
		}
		for _, r := range p.Rows {
			key := r.Key()
			if _, ok := sectorKeys[key]; !ok {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			r.Status = status
			r.ConsecutiveDays = models.IntPtr(r.DaysOrZero())
			out.Rows = append(out.Rows, r)
		}
	}
	collect(limitUp, models.StatusLimitUp)
	collect(failedLimit, models.StatusFailedLimit)

	sort.SliceStable(out.Rows, func(i, j int) bool {
		a, b := &out.Rows[i], &out.Rows[j]
		if pa, pb := a.Status.Priority(), b.Status.Priority(); pa != pb {
			return pa > pb
		}
		return a.DaysOrZero() > b.DaysOrZero()
	})
	out.Renumber()
	return out
}
