package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"stock_review/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runOpts service.RunOptions

var runCMD = &cobra.Command{
	Use:   "run",
	Short: "生成当日复盘报告",
	Long:  `抓取数据、计算观察池并写出 Markdown 报告；--publish 时同时上传公众号草稿。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := a.runner.Run(ctx, runOpts)
		if err != nil {
			return fmt.Errorf("复盘失败: %w", err)
		}
		a.logger.Info("报告已生成",
			zap.String("date", res.Date),
			zap.String("report", res.ReportPath),
			zap.String("excel", res.ExcelPath),
			zap.String("draft_media_id", res.DraftID))
		return nil
	},
}

func init() {
	runCMD.Flags().StringVarP(&runOpts.Date, "date", "d", "", "交易日期 YYYYMMDD，默认自动探测最新交易日")
	runCMD.Flags().BoolVar(&runOpts.Publish, "publish", false, "生成后发布到公众号草稿箱")
	runCMD.Flags().StringVar(&runOpts.Cover, "cover", "", "封面图片路径，默认使用配置中的封面")
}
