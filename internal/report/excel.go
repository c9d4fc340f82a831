package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stock_review/internal/models"

	"github.com/xuri/excelize/v2"
)

var sheetNames = map[models.PoolKind]string{
	models.PoolWatchlist1: "大额异动池",
	models.PoolWatchlist2: "风口涨停池",
}

// ExportExcel 把观察池导出为 xlsx，每个池一个工作表，返回文件路径
func (r *Renderer) ExportExcel(date string, pools ...*models.Pool) (string, error) {
	wb := excelize.NewFile()
	defer wb.Close()

	first := true
	for _, p := range pools {
		if p == nil {
			continue
		}
		sheet := sheetNames[p.Kind]
		if sheet == "" {
			sheet = string(p.Kind)
		}
		if first {
			if err := wb.SetSheetName("Sheet1", sheet); err != nil {
				return "", err
			}
			first = false
		} else if _, err := wb.NewSheet(sheet); err != nil {
			return "", err
		}
		if err := writeSheet(wb, sheet, p); err != nil {
			return "", err
		}
	}
	if first {
		return "", fmt.Errorf("%w: 没有可导出的观察池", ErrMissingPrecondition)
	}

	if err := os.MkdirAll(r.config.Dir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}
	path := filepath.Join(r.config.Dir, fmt.Sprintf("watchlist-%s.xlsx", date))
	if err := wb.SaveAs(path); err != nil {
		return "", fmt.Errorf("保存 Excel 失败: %w", err)
	}
	return path, nil
}

func writeSheet(wb *excelize.File, sheet string, p *models.Pool) error {
	t, err := models.PoolTable(p)
	if err != nil {
		return err
	}
	for i, h := range t.Header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := wb.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, rec := range t.Rows {
		for c, v := range rec {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := wb.SetCellValue(sheet, cell, cellValue(t.Header[c], v)); err != nil {
				return err
			}
		}
	}
	last, err := excelize.ColumnNumberToName(len(t.Header))
	if err != nil {
		return err
	}
	return wb.SetColWidth(sheet, "A", last, 14)
}

// cellValue 代码列保持文本，其余能解析为数字的写数字
func cellValue(header, v string) interface{} {
	if header == "代码" || header == "名称" || strings.Contains(header, "时间") {
		return v
	}
	if f, ok := models.ParseFloat(v); ok {
		return f
	}
	return v
}
