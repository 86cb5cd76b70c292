package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"cross-maker-go/internal/engine"
)

// StateStore 把引擎快照以 JSON 存在一个 Redis key 下，供 restart 启动时恢复。
type StateStore struct {
	client redis.Cmdable
	key    string
	ttl    time.Duration
}

// NewStateStore 创建状态存储，ttl 为 0 表示不过期。
func NewStateStore(client redis.Cmdable, key string, ttl time.Duration) *StateStore {
	return &StateStore{client: client, key: key, ttl: ttl}
}

// Save 覆盖保存快照。
func (s *StateStore) Save(ctx context.Context, snap engine.Snapshot) error {
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load 读取快照，key 不存在时 ok 为 false。
func (s *StateStore) Load(ctx context.Context) (engine.Snapshot, bool, error) {
	var snap engine.Snapshot
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("load snapshot: %w", err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// Clear 删除快照，reinit 启动时使用。
func (s *StateStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	return nil
}
