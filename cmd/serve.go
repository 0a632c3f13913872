package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"Versewell/app"
	"Versewell/config"
	"Versewell/logger"
	"Versewell/server"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 Versewell HTTP 服务",
	Long:  `启动生成 API、进度 WebSocket 以及歌词时间轴同步 worker。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if serveAddr != "" {
			cfg.HTTPAddr = serveAddr
		}
		app.InitLogging(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return fmt.Errorf("初始化失败: %w", err)
		}
		defer a.Close()

		if err := a.StartBackground(ctx); err != nil {
			return err
		}

		handler := server.NewRouter(server.NewHandler(a.Service, a.Tracker, func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.PingContext(ctx); err != nil {
				return fmt.Errorf("database: %w", err)
			}
			if a.Redis != nil {
				if err := a.Redis.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		}))

		err = server.Serve(ctx, cfg.HTTPAddr, handler)
		stop()
		logger.Info("等待进行中的生成任务结束...")
		a.Shutdown()
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "监听地址，覆盖 HTTP_ADDR")
}
