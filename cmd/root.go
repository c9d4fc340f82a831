package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"stock_review/internal/cache"
	"stock_review/internal/config"
	"stock_review/internal/database"
	"stock_review/internal/publish"
	"stock_review/internal/report"
	"stock_review/internal/service"
	"stock_review/internal/watchlist"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var configPath string

var rootCMD = &cobra.Command{
	Use:   "stockreview",
	Short: "A 股每日复盘工具",
	Long: `抓取当日 A 股行情、涨跌停池、概念板块与龙虎榜，
生成两个重点观察池与 Markdown 复盘报告，并可发布到公众号草稿箱。`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCMD.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCMD.PersistentFlags().StringVarP(&configPath, "config", "c", "./config/config.yaml", "配置文件路径")
	rootCMD.AddCommand(runCMD, publishCMD, serveCMD)
}

// app 组装好的各层依赖
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	source    *service.MarketSource
	runner    *service.ReportRunner
	publisher *publish.Publisher
	db        *gorm.DB
}

// newApp 加载配置并组装依赖；配置了数据库时连接并迁移
func newApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Printf("load config error: %v", err)
		return nil, err
	}
	// 初始化日志
	logger, err := initLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	logger.Info("配置加载成功", zap.String("path", configPath))

	var db *gorm.DB
	if database.Enabled(&cfg.Database) {
		if err := database.InitDB(&cfg.Database); err != nil {
			logger.Error("初始化数据库失败", zap.Error(err))
			return nil, err
		}
		db = database.GetDB()
		logger.Info("数据库连接成功", zap.String("type", cfg.Database.Type))
	}

	eastMoney := service.NewEastMoneyClient(&cfg.EastMoney)
	sina := service.NewSinaClient(&cfg.Sina)
	source := service.NewMarketSource(eastMoney, eastMoney, sina, sina, &cfg.Fetcher, logger)
	eastMoney.SetPacer(source.Pace)
	sina.SetPacer(source.Pace)

	fetcher := service.NewDataFetcher(source, cache.NewStore(cfg.Cache.Dir), &cfg.Fetcher, logger)
	engine := watchlist.NewEngine(fetcher.Store(), cfg.Report.SectorCount, logger)
	renderer, err := report.NewRenderer(&cfg.Report, cfg.Fetcher.SectorTopN, logger)
	if err != nil {
		source.Close()
		return nil, err
	}
	publisher := publish.NewPublisher(&cfg.WeChat, logger)
	runner := service.NewReportRunner(fetcher, engine, renderer, publisher, db, cfg.Report.ExportExcel, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		source:    source,
		runner:    runner,
		publisher: publisher,
		db:        db,
	}, nil
}

func (a *app) Close() {
	a.source.Close()
	if a.db != nil {
		if err := database.Close(); err != nil {
			a.logger.Warn("关闭数据库失败", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// initLogger 初始化日志
func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	// 创建日志目录
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, err
	}

	// 配置日志
	zapCfg := zap.NewProductionConfig()
	zapCfg.OutputPaths = []string{
		"stdout",
		cfg.File,
	}

	// 设置日志级别
	switch cfg.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return zapCfg.Build()
}
