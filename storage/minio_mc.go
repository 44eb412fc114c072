package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// BucketStats 存储桶统计信息
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
	ByCategory   map[string]int64 // 按 audio/image/video/other 统计的大小
}

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// ListObjects 列出前缀下的对象并汇总统计
func (s *Store) ListObjects(ctx context.Context, prefix string, recursive bool) ([]ObjectInfo, *BucketStats, error) {
	stats := &BucketStats{ByCategory: make(map[string]int64)}
	var objects []ObjectInfo

	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: recursive,
	}) {
		if object.Err != nil {
			return nil, nil, fmt.Errorf("列出对象时出错: %w", object.Err)
		}
		info := ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		}
		stats.add(info)
		objects = append(objects, info)
	}
	return objects, stats, nil
}

func (b *BucketStats) add(obj ObjectInfo) {
	b.TotalObjects++
	b.TotalSize += obj.Size
	if obj.LastModified.After(b.LastModified) {
		b.LastModified = obj.LastModified
	}
	b.ByCategory[inferCategory(obj.Key)] += obj.Size
}

// PrintBucketStatus 打印存储桶状态
func PrintBucketStatus(w io.Writer, bucket, prefix string, objects []ObjectInfo, stats *BucketStats) {
	fmt.Fprintf(w, "存储桶: %s\n", bucket)
	fmt.Fprintf(w, "前缀过滤: %s\n", prefix)
	fmt.Fprintf(w, "总文件数: %d\n", stats.TotalObjects)
	fmt.Fprintf(w, "总存储大小: %s\n", formatSize(stats.TotalSize))
	if !stats.LastModified.IsZero() {
		fmt.Fprintf(w, "最后更新时间: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
	}

	categories := make([]string, 0, len(stats.ByCategory))
	for c := range stats.ByCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		fmt.Fprintf(w, "  %s: %s\n", c, formatSize(stats.ByCategory[c]))
	}

	if len(objects) > 0 {
		fmt.Fprintln(w, "文件列表:")
	}
	for _, obj := range objects {
		fmt.Fprintf(w, "  ├─ %s (%s)\n", obj.Key, formatSize(obj.Size))
	}
}

// RemovePrefix 递归删除前缀下的所有对象，返回删除数量
func (s *Store) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	if strings.Trim(prefix, "/") == "" {
		return 0, fmt.Errorf("拒绝删除整个存储桶")
	}

	objects, _, err := s.ListObjects(ctx, prefix, true)
	if err != nil {
		return 0, err
	}
	if len(objects) == 0 {
		return 0, fmt.Errorf("目录 %s 为空或不存在", prefix)
	}

	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, obj := range objects {
		objectsCh <- minio.ObjectInfo{Key: obj.Key}
	}
	close(objectsCh)

	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return 0, fmt.Errorf("删除对象 %s 失败: %w", rerr.ObjectName, rerr.Err)
		}
	}
	return len(objects), nil
}

// formatSize 格式化文件大小
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

// inferCategory 从文件名推断类别
func inferCategory(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp3", ".wav", ".flac", ".m4a", ".ogg", ".aac":
		return "audio"
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return "image"
	case ".mp4", ".webm", ".mov", ".mkv":
		return "video"
	default:
		return "other"
	}
}
