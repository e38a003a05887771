package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"pulse-guard/internal/models"
	"pulse-guard/pkg/redis"
)

// Config 缓存键配置
type Config struct {
	SnapshotKeyPrefix string // 如 "pulse-guard:session:"
	ConfidenceSuffix  string // 如 ":confidence"
	LockSuffix        string // 如 ":lock"
	EpisodeKeyPrefix  string // 如 "pulse-guard:episode:"
	SnapshotTTL       int    // 秒
}

// SnapshotCache Redis 快照缓存
// UI 读取置信度/证据锁快照的唯一来源，写入尽力而为
type SnapshotCache struct {
	config      Config
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewSnapshotCache 创建快照缓存
func NewSnapshotCache(cfg Config, redisClient *redis.Client, logger *zap.Logger) *SnapshotCache {
	return &SnapshotCache{
		config:      cfg,
		redisClient: redisClient,
		logger:      logger,
	}
}

// PutConfidence 写入置信度状态快照
func (c *SnapshotCache) PutConfidence(ctx context.Context, sessionID string, state models.ConfidenceState) error {
	key := c.confidenceKey(sessionID)

	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal confidence snapshot: %w", err)
	}

	err = c.redisClient.Set(ctx, key, jsonData, c.snapshotTTL()).Err()
	if err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated confidence snapshot",
		zap.String("session_id", sessionID),
		zap.String("key", key),
	)

	return nil
}

// GetConfidence 读取置信度状态快照
func (c *SnapshotCache) GetConfidence(ctx context.Context, sessionID string) (*models.ConfidenceState, error) {
	key := c.confidenceKey(sessionID)

	jsonData, err := c.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil // 快照不存在或已过期
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var state models.ConfidenceState
	if err := json.Unmarshal(jsonData, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal confidence snapshot: %w", err)
	}

	return &state, nil
}

// PutLockState 写入证据锁快照
func (c *SnapshotCache) PutLockState(ctx context.Context, sessionID string, lock *models.EvidenceLock) error {
	key := c.lockKey(sessionID)

	jsonData, err := json.Marshal(lock)
	if err != nil {
		return fmt.Errorf("failed to marshal lock snapshot: %w", err)
	}

	err = c.redisClient.Set(ctx, key, jsonData, c.snapshotTTL()).Err()
	if err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	return nil
}

// GetLockState 读取证据锁快照
func (c *SnapshotCache) GetLockState(ctx context.Context, sessionID string) (*models.EvidenceLock, error) {
	key := c.lockKey(sessionID)

	jsonData, err := c.redisClient.Get(ctx, key).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var lock models.EvidenceLock
	if err := json.Unmarshal(jsonData, &lock); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock snapshot: %w", err)
	}

	return &lock, nil
}

// MarkEpisode 事件周期去重标记（SETNX）
// 返回 true 表示标记成功（首次触发），false 表示周期内已有标记
func (c *SnapshotCache) MarkEpisode(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	key := c.config.EpisodeKeyPrefix + sessionID

	ok, err := c.redisClient.SetNX(ctx, key, time.Now().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark episode: %w", err)
	}

	return ok, nil
}

func (c *SnapshotCache) confidenceKey(sessionID string) string {
	return c.config.SnapshotKeyPrefix + sessionID + c.config.ConfidenceSuffix
}

func (c *SnapshotCache) lockKey(sessionID string) string {
	return c.config.SnapshotKeyPrefix + sessionID + c.config.LockSuffix
}

func (c *SnapshotCache) snapshotTTL() time.Duration {
	return time.Duration(c.config.SnapshotTTL) * time.Second
}
