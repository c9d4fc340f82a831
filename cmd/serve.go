package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"stock_review/internal/api"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCMD = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务",
	Long:  `通过 HTTP 接口触发复盘、查询任务进度与观察池。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		// 设置 Gin 模式
		gin.SetMode(a.cfg.Server.Mode)

		// 创建 Gin 引擎
		r := gin.Default()
		r.Use(gzip.Gzip(gzip.DefaultCompression))
		if origins := a.cfg.Server.AllowOrigins; len(origins) > 0 {
			r.Use(cors.New(cors.Config{
				AllowOrigins:  origins,
				AllowMethods:  []string{"GET", "POST", "OPTIONS"},
				AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
				ExposeHeaders: []string{"Content-Length"},
				MaxAge:        12 * time.Hour,
			}))
		}

		// 创建 API 处理器
		handler := api.NewHandler(a.runner, a.db, a.logger)
		handler.RegisterRoutes(r)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler: r,
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			a.logger.Info("服务器启动", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("服务器启动失败: %w", err)
			}
			return nil
		})
		// 优雅关闭
		g.Go(func() error {
			<-ctx.Done()
			a.logger.Info("正在关闭服务器...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("服务器强制关闭: %w", err)
			}
			a.logger.Info("服务器已关闭")
			return nil
		})

		return g.Wait()
	},
}
