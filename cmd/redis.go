package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"Versewell/cache"
	"Versewell/config"

	"github.com/spf13/cobra"
)

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，进行基本读写操作，并显示歌词同步队列长度。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始测试Redis连接...")

		cfg := config.Load()
		fmt.Printf("Redis配置: %s, DB: %d\n", cfg.RedisAddr(), cfg.RedisDB)

		client, err := cache.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer client.Close()
		fmt.Println("Redis连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := cache.CheckRedis(ctx, client); err != nil {
			log.Fatalf("Redis操作测试失败: %v", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		n, err := cache.NewRedisSyncQueue(client, "").Len(ctx)
		if err != nil {
			log.Fatalf("读取歌词同步队列失败: %v", err)
		}
		fmt.Printf("歌词同步队列长度: %d\n", n)
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
