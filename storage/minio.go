package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"CadenceFM/config"
	"CadenceFM/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store 封装 MinIO 客户端与存储桶配置
type Store struct {
	client     *minio.Client
	bucket     string
	region     string
	publicBase string
	expiry     time.Duration
}

var (
	storeMu sync.RWMutex
	store   *Store
)

// NewStore 创建 MinIO 客户端，不发起网络请求
func NewStore(cfg *config.Config) (*Store, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	expiry := cfg.AssetURLExpiry
	if expiry <= 0 {
		expiry = 6 * time.Hour
	}
	return &Store{
		client:     client,
		bucket:     cfg.MinioBucket,
		region:     cfg.MinioRegion,
		publicBase: strings.TrimRight(cfg.MinioPublicBaseURL, "/"),
		expiry:     expiry,
	}, nil
}

// InitMinio 初始化全局存储并确保存储桶存在
func InitMinio(cfg *config.Config) error {
	s, err := NewStore(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.EnsureBucket(ctx); err != nil {
		return err
	}

	storeMu.Lock()
	store = s
	storeMu.Unlock()
	logger.Info("[Storage] MinIO 客户端初始化成功",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))
	return nil
}

// GetStore 获取全局存储实例
func GetStore() *Store {
	storeMu.RLock()
	defer storeMu.RUnlock()
	return store
}

func (s *Store) Bucket() string {
	return s.bucket
}

// EnsureBucket 存储桶不存在时创建
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("[Storage] 成功创建存储桶", logger.String("bucket", s.bucket))
	return nil
}

// PutObject 上传对象
func (s *Store) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", key, err)
	}
	return nil
}

// RemoveObject 删除单个对象
func (s *Store) RemoveObject(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s 失败: %w", key, err)
	}
	return nil
}

// AssetURL 把对象 key 转换为浏览器可直接获取的地址。配置了公开地址时直接拼接，
// 否则生成预签名 GET 地址。
func (s *Store) AssetURL(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("empty object key")
	}
	if s.publicBase != "" {
		return url.JoinPath(s.publicBase, s.bucket, key)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成预签名地址失败: %w", err)
	}
	return u.String(), nil
}
