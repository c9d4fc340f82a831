// Package normalize 对抓取到的股票表做清洗：单位换算、去重、方向标记与编号。
package normalize

import (
	"sort"
	"strings"

	"stock_review/internal/models"
)

// Pool 返回归一化后的新表：
// 金额字段换算为亿元（已换算的表不再换算），按标识去重保留首次出现，
// 根据涨跌幅推导方向，并按当前顺序从 1 重新编号。重复调用结果不变。
func Pool(p *models.Pool) *models.Pool {
	if p == nil {
		return nil
	}
	out := &models.Pool{
		Kind:       p.Kind,
		Date:       p.Date,
		Sector:     p.Sector,
		Normalized: true,
		Rows:       make([]models.StockRow, 0, len(p.Rows)),
	}
	seen := make(map[string]struct{}, len(p.Rows))
	for _, r := range p.Rows {
		key := r.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if !p.Normalized {
			convertUnits(&r)
		}
		r.Direction = Direction(r.PctChange)
		out.Rows = append(out.Rows, r)
	}
	out.Renumber()
	return out
}

func convertUnits(r *models.StockRow) {
	r.Amount = models.ToYi(r.Amount)
	if r.FloatCap.Valid {
		r.FloatCap.Decimal = models.ToYi(r.FloatCap.Decimal)
	}
	if r.MarketCap.Valid {
		r.MarketCap.Decimal = models.ToYi(r.MarketCap.Decimal)
	}
	if r.SealFund.Valid {
		r.SealFund.Decimal = models.ToYi(r.SealFund.Decimal)
	}
}

// Direction 涨跌方向：1 上涨，-1 下跌，0 持平
func Direction(pct float64) int {
	switch {
	case pct > 0:
		return 1
	case pct < 0:
		return -1
	default:
		return 0
	}
}

// Breadth 统计上涨、下跌、持平家数
func Breadth(p *models.Pool) (up, down, flat int) {
	if p == nil {
		return 0, 0, 0
	}
	for _, r := range p.Rows {
		switch Direction(r.PctChange) {
		case 1:
			up++
		case -1:
			down++
		default:
			flat++
		}
	}
	return up, down, flat
}

// TopTurnover 从未换算的全市场行情中取成交额前 n 名并归一化
func TopTurnover(market *models.Pool, n int) *models.Pool {
	if market == nil {
		return nil
	}
	rows := make([]models.StockRow, len(market.Rows))
	copy(rows, market.Rows)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Amount.GreaterThan(rows[j].Amount)
	})
	if n >= 0 && len(rows) > n {
		rows = rows[:n]
	}
	top := &models.Pool{Kind: models.PoolTopTurnover, Date: market.Date, Normalized: market.Normalized}
	for _, r := range rows {
		top.Rows = append(top.Rows, models.StockRow{
			Code:      r.Code,
			Name:      r.Name,
			Price:     r.Price,
			PctChange: r.PctChange,
			Amount:    r.Amount,
		})
	}
	return Pool(top)
}

// RankByChange 按涨跌幅降序稳定排序并重新编号
func RankByChange(p *models.Pool) *models.Pool {
	out := p.Clone()
	if out == nil {
		return nil
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		return out.Rows[i].PctChange > out.Rows[j].PctChange
	})
	out.Renumber()
	return out
}

// CleanLeaderboard 龙虎榜去掉 ST 股，按个股去重并重新编号
func CleanLeaderboard(p *models.Pool) *models.Pool {
	if p == nil {
		return nil
	}
	kept := p.Clone()
	kept.Rows = kept.Rows[:0]
	for _, r := range p.Rows {
		if strings.Contains(strings.ToUpper(r.Name), "ST") {
			continue
		}
		kept.Rows = append(kept.Rows, r)
	}
	return Pool(kept)
}
