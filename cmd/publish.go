package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	publishCover string
	publishTitle string
)

var publishCMD = &cobra.Command{
	Use:   "publish <markdown>",
	Short: "把已有的 Markdown 报告发布到公众号草稿箱",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		mediaID, err := a.publisher.PublishFile(ctx, args[0], publishCover, publishTitle)
		if err != nil {
			a.logger.Error("发布失败", zap.String("report", args[0]), zap.Error(err))
			return err
		}
		a.logger.Info("草稿创建成功", zap.String("media_id", mediaID))
		return nil
	},
}

func init() {
	publishCMD.Flags().StringVar(&publishCover, "cover", "", "封面图片路径，默认使用配置中的封面")
	publishCMD.Flags().StringVar(&publishTitle, "title", "", "文章标题，默认取报告 front matter 中的 title")
}
