package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"CadenceFM/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix    string
	minioStats     bool
	minioRecursive bool
	minioDelete    bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理MinIO存储桶中的文件，支持列出文件、查看统计信息、递归显示目录结构、删除目录等功能。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		store := storage.GetStore()
		fmt.Println("MinIO连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			fmt.Printf("\n删除目录: %s\n", minioPrefix)
			n, err := store.RemovePrefix(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("删除目录失败: %v", err)
			}
			fmt.Printf("已删除 %d 个对象\n", n)
			return
		}

		fmt.Printf("\n列出存储桶中的文件 (前缀: %s)...\n", minioPrefix)
		objects, stats, err := store.ListObjects(ctx, minioPrefix, minioRecursive)
		if err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}
		if minioStats {
			// 只看统计时不打印文件列表
			objects = nil
		}
		storage.PrintBucketStatus(os.Stdout, store.Bucket(), minioPrefix, objects, stats)

		fmt.Println("\nMinIO操作完成！")
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要操作的目录")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示存储桶统计信息")
	minioCmd.Flags().BoolVarP(&minioRecursive, "recursive", "r", false, "递归列出子目录")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")

	minioCmd.Example = `  # 列出所有文件
  cadence_server minio

  # 列出某个用户上传的音频
  cadence_server minio -r -p "audio/1/"

  # 显示存储桶统计信息
  cadence_server minio -s -r

  # 删除目录及其下的所有文件
  cadence_server minio -d -p "covers/1/"`
}
