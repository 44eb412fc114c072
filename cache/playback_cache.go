package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// PlaybackTTL 播放快照的保留时间
const PlaybackTTL = 7 * 24 * time.Hour

// PlaybackSnapshot 是断线重连后恢复播放所需的最小信息
type PlaybackSnapshot struct {
	QueueTrackIDs []int64   `json:"queueTrackIds"`
	Cursor        int       `json:"cursor"`
	TrackID       int64     `json:"trackId,omitempty"`
	Position      float64   `json:"position"`
	Volume        float64   `json:"volume"`
	Muted         bool      `json:"muted"`
	Shuffle       bool      `json:"shuffle"`
	Repeat        string    `json:"repeat"`
	VideoVisible  bool      `json:"videoVisible"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// GetPlaybackKey 根据用户ID生成播放快照的Redis键
func GetPlaybackKey(userID int64) string {
	return fmt.Sprintf("playback:%d", userID)
}

// PlaybackCache 在 Redis 中保存每个用户的播放快照
type PlaybackCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPlaybackCache 使用给定客户端创建快照缓存；client 为 nil 时使用全局客户端
func NewPlaybackCache(client *redis.Client) *PlaybackCache {
	if client == nil {
		client = RedisClient
	}
	return &PlaybackCache{client: client, ttl: PlaybackTTL}
}

// SavePlayback 覆盖写入快照并刷新过期时间
func (c *PlaybackCache) SavePlayback(ctx context.Context, userID int64, snap *PlaybackSnapshot) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal playback snapshot: %w", err)
	}
	if err := c.client.Set(ctx, GetPlaybackKey(userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save playback snapshot: %w", err)
	}
	return nil
}

// LoadPlayback 读取快照，不存在时返回 nil, nil
func (c *PlaybackCache) LoadPlayback(ctx context.Context, userID int64) (*PlaybackSnapshot, error) {
	if c.client == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}
	data, err := c.client.Get(ctx, GetPlaybackKey(userID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load playback snapshot: %w", err)
	}

	var snap PlaybackSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal playback snapshot: %w", err)
	}
	return &snap, nil
}

// ClearPlayback 删除用户的快照
func (c *PlaybackCache) ClearPlayback(ctx context.Context, userID int64) error {
	if c.client == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	if err := c.client.Del(ctx, GetPlaybackKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to clear playback snapshot: %w", err)
	}
	return nil
}
