// Package cache 按（数据集, 交易日）在本地保存 CSV 表，作为读穿缓存。
package cache

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"stock_review/internal/models"
)

// 数据集名
const (
	DatasetIndex          = "index"
	DatasetConceptSummary = "concept_summary"
)

// utf8BOM 与 utf-8-sig 编码兼容，方便 Excel 直接打开
const utf8BOM = "\ufeff"

// Key 缓存键
type Key struct {
	Dataset string
	Date    string
}

// PoolKey 股票池缓存键
func PoolKey(kind models.PoolKind, date string) Key {
	return Key{Dataset: string(kind), Date: date}
}

// SectorKey 第 i 个板块的成分股缓存键
func SectorKey(i int, date string) Key {
	return Key{Dataset: string(models.PoolConstituents) + "_" + strconv.Itoa(i), Date: date}
}

// Store 以目录为根的文件缓存
type Store struct {
	root string
}

// NewStore 创建缓存
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Path 缓存文件路径：<root>/<date>/<dataset>_<date>.csv
func (s *Store) Path(key Key) string {
	return filepath.Join(s.root, key.Date, fmt.Sprintf("%s_%s.csv", key.Dataset, key.Date))
}

// Load 读取缓存表；文件不存在返回 ok=false
func (s *Store) Load(key Key) (*models.Table, bool, error) {
	data, err := os.ReadFile(s.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("读取缓存失败: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte(utf8BOM))

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("解析缓存表头失败: %w", err)
	}
	t := &models.Table{Header: header}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("解析缓存失败: %w", err)
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, true, nil
}

// Save 写入缓存表，覆盖已有文件
func (s *Store) Save(key Key, t *models.Table) error {
	path := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建缓存目录失败: %w", err)
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	w.WriteString(utf8BOM)
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("写入缓存表头失败: %w", err)
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("写入缓存失败: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("写入缓存文件失败: %w", err)
	}
	return nil
}

// LoadPool 读取股票池
func (s *Store) LoadPool(key Key, kind models.PoolKind) (*models.Pool, bool, error) {
	t, ok, err := s.Load(key)
	if err != nil || !ok {
		return nil, ok, err
	}
	p, err := models.PoolFromTable(kind, key.Date, t)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// SavePool 写入股票池
func (s *Store) SavePool(key Key, p *models.Pool) error {
	t, err := models.PoolTable(p)
	if err != nil {
		return err
	}
	return s.Save(key, t)
}

// LoadIndex 读取指数摘要
func (s *Store) LoadIndex(date string) ([]models.IndexRow, bool, error) {
	t, ok, err := s.Load(Key{Dataset: DatasetIndex, Date: date})
	if err != nil || !ok {
		return nil, ok, err
	}
	return models.IndexRowsFromTable(t), true, nil
}

// SaveIndex 写入指数摘要
func (s *Store) SaveIndex(date string, rows []models.IndexRow) error {
	return s.Save(Key{Dataset: DatasetIndex, Date: date}, models.IndexTable(rows))
}

// LoadSectors 读取板块概况
func (s *Store) LoadSectors(date string) ([]models.SectorSummary, bool, error) {
	t, ok, err := s.Load(Key{Dataset: DatasetConceptSummary, Date: date})
	if err != nil || !ok {
		return nil, ok, err
	}
	return models.SectorsFromTable(t), true, nil
}

// SaveSectors 写入板块概况
func (s *Store) SaveSectors(date string, rows []models.SectorSummary) error {
	return s.Save(Key{Dataset: DatasetConceptSummary, Date: date}, models.SectorTable(rows))
}
