package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	EastMoney EastMoneyConfig `mapstructure:"eastmoney"`
	Sina      SinaConfig      `mapstructure:"sina"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Report    ReportConfig    `mapstructure:"report"`
	WeChat    WeChatConfig    `mapstructure:"wechat"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// EastMoneyConfig 东方财富接口配置
type EastMoneyConfig struct {
	PushURL   string `mapstructure:"push_url"`    // 行情接口 push2
	PushExURL string `mapstructure:"push_ex_url"` // 涨跌停池接口 push2ex
	Timeout   int    `mapstructure:"timeout"`     // 秒
	Retry     int    `mapstructure:"retry"`
	Backoff   int    `mapstructure:"backoff"` // 重试间隔基数（毫秒）
}

// SinaConfig 新浪财经接口配置
type SinaConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Timeout  int    `mapstructure:"timeout"`
	Retry    int    `mapstructure:"retry"`
	Backoff  int    `mapstructure:"backoff"`
	PageSize int    `mapstructure:"page_size"`
}

// FetcherConfig 数据抓取配置
type FetcherConfig struct {
	RateLimit       int      `mapstructure:"rate_limit"`        // 每分钟请求数，用于请求间隔
	QuoteRetries    int      `mapstructure:"quote_retries"`     // 全市场行情最大尝试次数
	QuoteRetryDelay int      `mapstructure:"quote_retry_delay"` // 全市场行情失败后等待（秒）
	LookbackDays    int      `mapstructure:"lookback_days"`     // 最新交易日回溯天数
	TopTurnover     int      `mapstructure:"top_turnover"`      // 成交额前 N
	TopSectors      int      `mapstructure:"top_sectors"`       // 概念板块前 K
	SectorTopN      int      `mapstructure:"sector_top_n"`      // 报告中每个板块展示的成分股数
	IndexSecIDs     []string `mapstructure:"index_secids"`      // 指数 secid
	Timezone        string   `mapstructure:"timezone"`          // 交易所时区
	EnrichIndustry  bool     `mapstructure:"enrich_industry"`   // 是否补充成交额前 N 的所属行业
	Concurrency     int      `mapstructure:"concurrency"`       // 板块成分股并发数
}

// CacheConfig 本地缓存配置
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// ReportConfig 报告配置
type ReportConfig struct {
	Dir         string `mapstructure:"dir"`
	Timezone    string `mapstructure:"timezone"`     // 发布时间所用时区
	Backdate    int    `mapstructure:"backdate"`     // 发布时间回拨（分钟），保证平台判定为已发布
	SectorCount int    `mapstructure:"sector_count"` // 报告必须包含的板块数
	ExportExcel bool   `mapstructure:"export_excel"`
}

// WeChatConfig 公众号配置，app_id/app_secret 来自环境变量
type WeChatConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	AppID     string `mapstructure:"app_id"`
	AppSecret string `mapstructure:"app_secret"`
	Author    string `mapstructure:"author"`
	Digest    string `mapstructure:"digest"`
	Cover     string `mapstructure:"cover"`
	Timeout   int    `mapstructure:"timeout"`
}

// DatabaseConfig 数据库配置，type 为空时不记录任务
type DatabaseConfig struct {
	Type            string `mapstructure:"type"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Mode         string   `mapstructure:"mode"`
	AllowOrigins []string `mapstructure:"allow_origins"` // 为空时不启用跨域
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

var GlobalConfig *Config

// LoadConfig 加载配置文件，公众号密钥从环境变量（或 .env）读取
func LoadConfig(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("wechat.app_id", "WECHAT_APPID"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("wechat.app_secret", "WECHAT_SECRET"); err != nil {
		return nil, err
	}

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	GlobalConfig = &config
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("eastmoney.push_url", "https://push2.eastmoney.com")
	v.SetDefault("eastmoney.push_ex_url", "https://push2ex.eastmoney.com")
	v.SetDefault("eastmoney.timeout", 15)
	v.SetDefault("eastmoney.retry", 2)
	v.SetDefault("eastmoney.backoff", 1000)
	v.SetDefault("sina.base_url", "https://vip.stock.finance.sina.com.cn")
	v.SetDefault("sina.timeout", 15)
	v.SetDefault("sina.retry", 2)
	v.SetDefault("sina.backoff", 1000)
	v.SetDefault("sina.page_size", 80)
	v.SetDefault("fetcher.index_secids", []string{"1.000001", "0.399001"})
	v.SetDefault("fetcher.enrich_industry", true)
	v.SetDefault("cache.dir", "data")
	v.SetDefault("report.dir", "content/posts")
	v.SetDefault("report.backdate", 10)
	v.SetDefault("report.export_excel", false)
	v.SetDefault("wechat.base_url", "https://api.weixin.qq.com")
	v.SetDefault("wechat.author", "AI复盘助手")
	v.SetDefault("wechat.digest", "今日A股深度复盘与AI策略预测")
	v.SetDefault("wechat.cover", "content/images/cover.jpg")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "./logs/stock_review.log")
}

// validateConfig 验证配置并补齐缺省值
func validateConfig(config *Config) error {
	if config.Database.Type != "" && config.Database.Type != "postgres" && config.Database.Type != "mysql" {
		return fmt.Errorf("数据库类型必须是 postgres 或 mysql")
	}

	if config.Fetcher.RateLimit <= 0 {
		config.Fetcher.RateLimit = 120
	}

	if config.Fetcher.QuoteRetries <= 0 {
		config.Fetcher.QuoteRetries = 3
	}

	if config.Fetcher.QuoteRetryDelay <= 0 {
		config.Fetcher.QuoteRetryDelay = 5
	}

	if config.Fetcher.Concurrency <= 0 {
		config.Fetcher.Concurrency = 1
	}

	if config.Fetcher.LookbackDays <= 0 {
		config.Fetcher.LookbackDays = 20
	}

	if config.Fetcher.TopTurnover <= 0 {
		config.Fetcher.TopTurnover = 20
	}

	if config.Fetcher.TopSectors <= 0 {
		config.Fetcher.TopSectors = 5
	}

	if config.Fetcher.SectorTopN <= 0 {
		config.Fetcher.SectorTopN = 15
	}

	if config.Fetcher.Timezone == "" {
		config.Fetcher.Timezone = "Asia/Shanghai"
	}

	if config.Report.Timezone == "" {
		config.Report.Timezone = "Europe/Zurich"
	}

	if config.Report.Backdate < 0 {
		return fmt.Errorf("report.backdate 不能为负数")
	}

	if config.Report.SectorCount <= 0 {
		config.Report.SectorCount = 5
	}

	if config.Fetcher.TopSectors < config.Report.SectorCount {
		return fmt.Errorf("fetcher.top_sectors(%d) 不能小于 report.sector_count(%d)",
			config.Fetcher.TopSectors, config.Report.SectorCount)
	}

	for _, tz := range []string{config.Fetcher.Timezone, config.Report.Timezone} {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("无效的时区 %s: %w", tz, err)
		}
	}

	return nil
}

// Validate 校验公众号配置，发布前调用
func (c *WeChatConfig) Validate() error {
	if c.AppID == "" || c.AppSecret == "" {
		return fmt.Errorf("请设置环境变量 WECHAT_APPID 和 WECHAT_SECRET")
	}
	return nil
}

// BackdateDuration 发布时间回拨
func (c *ReportConfig) BackdateDuration() time.Duration {
	return time.Duration(c.Backdate) * time.Minute
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	switch c.Type {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=Asia/Shanghai",
			c.Host, c.Port, c.User, c.Password, c.DBName)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			c.User, c.Password, c.Host, c.Port, c.DBName)
	default:
		return ""
	}
}
