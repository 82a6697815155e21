package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appcache "github.com/clinicore/report-exporter/internal/cache"
	"github.com/clinicore/report-exporter/internal/model"
)

const (
	taskQueueKey    = "report_exporter:tasks"
	statusTTL       = 24 * time.Hour
	templateLockTTL = time.Minute
	popTimeout      = 2 * time.Second
)

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Ping Redis to check the connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cannot connect to Redis at %s: %w", addr, err)
	}

	return &RedisCache{client: rdb}, nil
}

func (r *RedisCache) PushTask(task model.ExportTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	return r.client.LPush(context.Background(), taskQueueKey, payload).Err()
}

// PopTask blocks briefly waiting for work. Returns ErrEmpty on timeout so
// workers can check their shutdown context between attempts.
func (r *RedisCache) PopTask() (model.ExportTask, error) {
	var task model.ExportTask
	res, err := r.client.BRPop(context.Background(), popTimeout, taskQueueKey).Result()
	if err != nil {
		if err == redis.Nil {
			return task, appcache.ErrEmpty
		}
		return task, err
	}
	// BRPop returns [key, value]
	if len(res) != 2 {
		return task, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return task, fmt.Errorf("unmarshal task: %w", err)
	}
	return task, nil
}

func (r *RedisCache) SetJobStatus(jobID string, status model.JobStatus) error {
	return r.client.Set(context.Background(), statusKey(jobID), string(status), statusTTL).Err()
}

func (r *RedisCache) GetJobStatus(jobID string) (model.JobStatus, error) {
	val, err := r.client.Get(context.Background(), statusKey(jobID)).Result()
	if err != nil {
		return "", err
	}
	return model.JobStatus(val), nil
}

func (r *RedisCache) ClearJobStatus(jobID string) error {
	return r.client.Del(context.Background(), statusKey(jobID)).Err()
}

func (r *RedisCache) AcquireTemplateLock(templateID string) (bool, error) {
	return r.client.SetNX(context.Background(), lockKey(templateID), "1", templateLockTTL).Result()
}

func (r *RedisCache) ReleaseTemplateLock(templateID string) error {
	return r.client.Del(context.Background(), lockKey(templateID)).Err()
}

func (r *RedisCache) Clear() error {
	return r.client.FlushDB(context.Background()).Err()
}

// helpers to standardize keys
func statusKey(jobID string) string { return fmt.Sprintf("report_exporter:status:%s", jobID) }

func lockKey(templateID string) string { return fmt.Sprintf("report_exporter:lock:%s", templateID) }
