package cmd

import (
	"context"
	"fmt"
	"log"
	"sort"

	"Versewell/config"
	"Versewell/storage"

	"github.com/spf13/cobra"
)

var storagePrefix string

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "MinIO存储桶统计",
	Long:  `统计存储桶中生成的音频与封面文件数量和大小。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")

		cfg := config.Load()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx := context.Background()
		store, err := storage.NewMinioStore(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		stats, err := store.Stats(ctx, storagePrefix)
		if err != nil {
			log.Fatalf("获取存储桶统计信息失败: %v", err)
		}

		fmt.Printf("\n存储桶 %s (前缀: %q)\n", store.Bucket(), storagePrefix)
		fmt.Printf("文件总数: %d\n", stats.TotalObjects)
		fmt.Printf("总大小: %s\n", storage.FormatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Printf("最后修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
		}

		kinds := make([]string, 0, len(stats.SizeByKind))
		for k := range stats.SizeByKind {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("  %-10s %s\n", k+"/", storage.FormatSize(stats.SizeByKind[k]))
		}
	},
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.Flags().StringVarP(&storagePrefix, "prefix", "p", "", "按前缀过滤文件，例如 audio/")
}
