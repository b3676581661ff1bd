package orchestrator

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/trysoma/soma-sub005/infrastructure/errors"
	"github.com/trysoma/soma-sub005/protocol"
)

// RedisTaskStore is a TaskStore backed by Redis, for deployments that run
// more than one orchestrator process against shared task state. Each task
// is stored as a JSON blob under keyPrefix+taskID; Redis's own per-key
// atomicity stands in for MemoryTaskStore's per-task mutex.
type RedisTaskStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisTaskStore builds a RedisTaskStore over client. keyPrefix is
// prepended to every task id to namespace keys (e.g. "soma:task:").
func NewRedisTaskStore(client *redis.Client, keyPrefix string) *RedisTaskStore {
	return &RedisTaskStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisTaskStore) key(taskID string) string {
	return s.keyPrefix + taskID
}

// Get fetches and decodes the task snapshot, or NotFound if absent.
func (s *RedisTaskStore) Get(ctx context.Context, taskID string) (*protocol.Task, error) {
	raw, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if err == redis.Nil {
		return nil, errors.NotFound("task", taskID)
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "get task from redis", err)
	}
	var task protocol.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "decode task from redis", err)
	}
	return &task, nil
}

// Save upserts task with no expiration; tasks are removed by an external
// retention job, not by this store.
func (s *RedisTaskStore) Save(ctx context.Context, task *protocol.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return errors.Wrap(errors.KindInternal, "encode task for redis", err)
	}
	if err := s.client.Set(ctx, s.key(task.ID), raw, 0).Err(); err != nil {
		return errors.Wrap(errors.KindInternal, "save task to redis", err)
	}
	return nil
}
