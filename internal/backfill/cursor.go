package backfill

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// CursorStore 回填游标存储
// 游标记录最后处理完成的知识库id，任务重启后从游标之后继续
type CursorStore interface {
	Get(ctx context.Context) (uint64, error)
	Set(ctx context.Context, value uint64) error
}

// RedisCursorStore 基于Redis的游标存储
type RedisCursorStore struct {
	client *redis.Client
	key    string
}

// NewRedisCursorStore 创建Redis游标存储
func NewRedisCursorStore(client *redis.Client, key string) *RedisCursorStore {
	return &RedisCursorStore{client: client, key: key}
}

func (s *RedisCursorStore) Get(ctx context.Context) (uint64, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cursor, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		// 损坏的游标按从头开始处理
		return 0, nil
	}
	return cursor, nil
}

func (s *RedisCursorStore) Set(ctx context.Context, value uint64) error {
	return s.client.Set(ctx, s.key, strconv.FormatUint(value, 10), 0).Err()
}

// MemoryCursorStore 进程内游标存储，测试与单机运行用
type MemoryCursorStore struct {
	mu     sync.Mutex
	cursor uint64
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{}
}

func (s *MemoryCursorStore) Get(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *MemoryCursorStore) Set(ctx context.Context, value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = value
	return nil
}
