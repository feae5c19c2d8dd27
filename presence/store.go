package presence

import (
	"context"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store counts open connections per user. Counts are shared by every
// instance when the store is Redis backed.
type Store interface {
	Join(ctx context.Context, userID string) (int64, error)
	Leave(ctx context.Context, userID string) (int64, error)
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Snapshot maps each connected user to its number of open connections.
type Snapshot map[string]int64

const connectionsKey = "presence:connections"

// leaveScript decrements and drops the field at zero in one step, so a join
// racing a leave cannot be deleted.
var leaveScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then
	redis.call('HDEL', KEYS[1], ARGV[1])
	return 0
end
return n
`)

type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, key: connectionsKey}
}

func (s *RedisStore) Join(ctx context.Context, userID string) (int64, error) {
	return s.client.HIncrBy(ctx, s.key, userID, 1).Result()
}

func (s *RedisStore) Leave(ctx context.Context, userID string) (int64, error) {
	return leaveScript.Run(ctx, s.client, []string{s.key}, userID).Int64()
}

func (s *RedisStore) Snapshot(ctx context.Context) (Snapshot, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	out := make(Snapshot, len(raw))
	for id, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			continue
		}
		out[id] = n
	}
	return out, nil
}

// Reset forgets every count. Called on start when this is the only instance.
func (s *RedisStore) Reset(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

// MemoryStore is a single-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]int64)}
}

func (s *MemoryStore) Join(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[userID]++
	return s.counts[userID], nil
}

func (s *MemoryStore) Leave(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.counts[userID] - 1
	if n <= 0 {
		delete(s.counts, userID)
		return 0, nil
	}
	s.counts[userID] = n
	return n, nil
}

func (s *MemoryStore) Snapshot(context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Snapshot, len(s.counts))
	for id, n := range s.counts {
		out[id] = n
	}
	return out, nil
}
