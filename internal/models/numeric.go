package models

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Yi 亿元换算因子
var Yi = decimal.New(1, 8)

// ToYi 元 -> 亿元，保留两位小数
func ToYi(d decimal.Decimal) decimal.Decimal {
	return d.Div(Yi).Round(2)
}

// ParseFloat 解析数值字符串，兼容 "12.3%"、"1,234"、"-"、"--" 等写法
func ParseFloat(s string) (float64, bool) {
	s = cleanNumber(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseDecimal 同 ParseFloat，返回 decimal
func ParseDecimal(s string) (decimal.Decimal, bool) {
	s = cleanNumber(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseInt 解析整数，容忍 "3.0" 这类浮点写法
func ParseInt(s string) (int, bool) {
	f, ok := ParseFloat(s)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	switch strings.ToLower(s) {
	case "", "-", "--", "nan", "none", "null":
		return ""
	}
	return s
}

// FormatFloat 最短表示
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatFloatPtr(f *float64) string {
	if f == nil {
		return ""
	}
	return FormatFloat(*f)
}

func formatIntPtr(i *int) string {
	if i == nil {
		return ""
	}
	return strconv.Itoa(*i)
}

func formatNullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// FloatPtr 取地址
func FloatPtr(f float64) *float64 { return &f }

// IntPtr 取地址
func IntPtr(i int) *int { return &i }

// NullDecimal 构造有效的 NullDecimal
func NullDecimal(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
