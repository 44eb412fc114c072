package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"CadenceFM/cache"

	"github.com/spf13/cobra"
)

var redisUserID int64

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，进行基本读写操作；指定 --user 时打印该用户保存的播放快照。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始测试Redis连接...")
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		if err := cache.ConnectRedis(cfg); err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer func() {
			if err := cache.CloseRedis(); err != nil {
				log.Printf("关闭Redis连接时发生错误: %v", err)
			}
		}()
		fmt.Println("Redis连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		fmt.Println("开始测试Redis基本操作...")
		if err := cache.CheckRedis(ctx, cache.RedisClient); err != nil {
			log.Fatalf("Redis操作测试失败: %v", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		if redisUserID > 0 {
			snap, err := cache.NewPlaybackCache(cache.RedisClient).LoadPlayback(ctx, redisUserID)
			if err != nil {
				log.Fatalf("读取播放快照失败: %v", err)
			}
			if snap == nil {
				fmt.Printf("用户 %d 没有保存的播放快照\n", redisUserID)
				return
			}
			fmt.Printf("用户 %d 的播放快照 (更新于 %s):\n", redisUserID, snap.UpdatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("  队列: %v (游标 %d)\n", snap.QueueTrackIDs, snap.Cursor)
			fmt.Printf("  当前曲目: %d @ %.1fs\n", snap.TrackID, snap.Position)
			fmt.Printf("  音量: %.2f 静音: %t 随机: %t 循环: %s 视频可见: %t\n",
				snap.Volume, snap.Muted, snap.Shuffle, snap.Repeat, snap.VideoVisible)
		}
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
	redisCmd.Flags().Int64VarP(&redisUserID, "user", "u", 0, "打印该用户的播放快照")
}
