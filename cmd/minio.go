package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"musaic/config"
	"musaic/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO头像存储管理",
	Long:  `查看和清理MinIO存储桶中的头像文件，支持按前缀列出文件并显示统计信息、删除目录等功能。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		if cfg.MinioEndpoint == "" {
			log.Fatal("MINIO_ENDPOINT 未配置")
		}
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		store, err := storage.InitMinio(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			removed, err := store.RemovePrefix(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("删除目录失败: %v", err)
			}
			fmt.Printf("已删除 %d 个对象 (前缀: %s)\n", removed, minioPrefix)
			return
		}

		objects, stats, err := store.List(ctx, minioPrefix)
		if err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}
		storage.PrintBucketStatus(os.Stdout, store.Bucket(), minioPrefix, objects, stats)
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", storage.AvatarPrefix, "按前缀过滤文件或指定要操作的目录")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")

	minioCmd.Example = `  # 列出所有头像
  musaic minio

  # 按前缀过滤文件
  musaic minio -p "avatars/1"

  # 删除目录及其下的所有文件
  musaic minio -d -p "avatars/"`
}
