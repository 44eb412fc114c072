package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"CadenceFM/core/library"
	"CadenceFM/db"
	"CadenceFM/model"
	"CadenceFM/repository"
	"CadenceFM/storage"

	"github.com/spf13/cobra"
)

var (
	importUserID int64
	importWatch  bool
)

var importCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "批量导入本地音频",
	Long:  `把目录中的音频文件上传到对象存储并为指定用户建立曲目；--watch 时持续监听目录中新出现的文件。`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dir := cfg.ImportWatchDir
		if len(args) == 1 {
			dir = args[0]
		}
		userID := cfg.ImportUserID
		if importUserID > 0 {
			userID = importUserID
		}
		if dir == "" || userID <= 0 {
			log.Fatal("需要指定导入目录和用户 (参数或 IMPORT_WATCH_DIR / IMPORT_USER_ID)")
		}

		if err := db.ConnectGormDB(cfg); err != nil {
			log.Fatalf("连接数据库失败: %v", err)
		}
		defer db.CloseGormDB()
		if err := db.AutoMigrateModels(); err != nil {
			log.Fatalf("数据表迁移失败: %v", err)
		}
		if err := storage.InitMinio(cfg); err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}

		importer := library.NewImporter(storage.GetStore(), repository.NewGormTrackRepository(db.GormDB))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tracks, err := importer.ImportDir(ctx, userID, dir)
		for _, t := range tracks {
			fmt.Printf("  + [%d] %s - %s\n", t.ID, t.Artist, t.Title)
		}
		fmt.Printf("已导入 %d 首曲目\n", len(tracks))
		if err != nil {
			fmt.Printf("部分文件导入失败:\n%v\n", err)
		}

		if !importWatch {
			return
		}
		fmt.Printf("正在监听 %s，按 Ctrl+C 退出...\n", dir)
		w := library.NewWatcher(importer, dir, userID)
		w.OnImport = func(path string, t *model.Track, err error) {
			if err != nil {
				fmt.Printf("  ! %s: %v\n", path, err)
				return
			}
			fmt.Printf("  + [%d] %s - %s\n", t.ID, t.Artist, t.Title)
		}
		if err := w.Run(ctx); err != nil {
			log.Fatalf("监听目录失败: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().Int64VarP(&importUserID, "user", "u", 0, "曲目所属用户 ID，覆盖 IMPORT_USER_ID")
	importCmd.Flags().BoolVarP(&importWatch, "watch", "w", false, "导入后继续监听目录")
}
