package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/petrijr/approvo/pkg/api"
	"github.com/redis/go-redis/v9"
)

// RedisEventStore stores audit events in Redis lists. Each process instance
// owns one list, read back in sequence order, and a global list backs the
// cross-instance queries.
type RedisEventStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisEventStore creates a store using the given key prefix,
// e.g. "approvo:".
func NewRedisEventStore(client *redis.Client, keyPrefix string) *RedisEventStore {
	return &RedisEventStore{client: client, keyPrefix: keyPrefix}
}

var _ EventStore = (*RedisEventStore)(nil)

func (s *RedisEventStore) keyInstance(id string) string { return s.keyPrefix + "audit:inst:" + id }
func (s *RedisEventStore) keyAll() string               { return s.keyPrefix + "audit:all" }

func (s *RedisEventStore) Append(ctx context.Context, ev api.AuditEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.keyInstance(ev.InstanceID), data)
	pipe.RPush(ctx, s.keyAll(), data)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisEventStore) ByInstance(ctx context.Context, instanceID string) ([]api.AuditEvent, error) {
	events, err := s.readList(ctx, s.keyInstance(instanceID), func(ev api.AuditEvent) bool { return true })
	if err != nil {
		return nil, err
	}
	// RPUSH order is arrival order, which can trail the assigned sequence
	// when records race between sequence assignment and the journal write.
	sortBySeq(events)
	return events, nil
}

func (s *RedisEventStore) ByTask(ctx context.Context, taskID string) ([]api.AuditEvent, error) {
	return s.readList(ctx, s.keyAll(), func(ev api.AuditEvent) bool { return ev.TaskID == taskID })
}

func (s *RedisEventStore) ByActor(ctx context.Context, actor string) ([]api.AuditEvent, error) {
	return s.readList(ctx, s.keyAll(), func(ev api.AuditEvent) bool { return ev.Actor == actor })
}

func (s *RedisEventStore) ByEventType(ctx context.Context, t api.EventType) ([]api.AuditEvent, error) {
	return s.readList(ctx, s.keyAll(), func(ev api.AuditEvent) bool { return ev.Type == t })
}

func (s *RedisEventStore) ByDateRange(ctx context.Context, start, end time.Time) ([]api.AuditEvent, error) {
	return s.readList(ctx, s.keyAll(), func(ev api.AuditEvent) bool {
		return !ev.At.Before(start) && !ev.At.After(end)
	})
}

func (s *RedisEventStore) CountSince(ctx context.Context, t api.EventType, since time.Time) (int64, error) {
	events, err := s.readList(ctx, s.keyAll(), func(ev api.AuditEvent) bool {
		return ev.Type == t && !ev.At.Before(since)
	})
	if err != nil {
		return 0, err
	}
	return int64(len(events)), nil
}

func (s *RedisEventStore) InstancesWithBreach(ctx context.Context, since time.Time) ([]string, error) {
	events, err := s.readList(ctx, s.keyAll(), func(ev api.AuditEvent) bool {
		return ev.Type == api.EventSLABreach && !ev.At.Before(since)
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, ev := range events {
		if !seen[ev.InstanceID] {
			seen[ev.InstanceID] = true
			ids = append(ids, ev.InstanceID)
		}
	}
	return ids, nil
}

func (s *RedisEventStore) readList(ctx context.Context, key string, keep func(api.AuditEvent) bool) ([]api.AuditEvent, error) {
	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var out []api.AuditEvent
	for _, item := range raw {
		var ev api.AuditEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, err
		}
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}
