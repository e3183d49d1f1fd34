package presence

import (
	"context"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultOnlineKey is the Redis set holding online user ids.
const DefaultOnlineKey = "online_users"

// Directory is the online-set shared with other processes. The tracker writes
// it on a user's first connect and last disconnect; publishers read it.
type Directory interface {
	Add(ctx context.Context, userID string) error
	Remove(ctx context.Context, userID string) error
	Contains(ctx context.Context, userID string) (bool, error)
	Members(ctx context.Context) ([]string, error)
}

// MemoryDirectory is a process-local Directory.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

// NewMemoryDirectory creates an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{users: make(map[string]struct{})}
}

func (d *MemoryDirectory) Add(_ context.Context, userID string) error {
	d.mu.Lock()
	d.users[userID] = struct{}{}
	d.mu.Unlock()
	return nil
}

func (d *MemoryDirectory) Remove(_ context.Context, userID string) error {
	d.mu.Lock()
	delete(d.users, userID)
	d.mu.Unlock()
	return nil
}

func (d *MemoryDirectory) Contains(_ context.Context, userID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.users[userID]
	return ok, nil
}

func (d *MemoryDirectory) Members(_ context.Context) ([]string, error) {
	d.mu.RLock()
	out := make([]string, 0, len(d.users))
	for u := range d.users {
		out = append(out, u)
	}
	d.mu.RUnlock()
	slices.Sort(out)
	return out, nil
}

// RedisDirectory keeps the online-set in a Redis set.
type RedisDirectory struct {
	client redis.Cmdable
	key    string
}

// NewRedisDirectory wraps client. An empty key selects DefaultOnlineKey.
func NewRedisDirectory(client redis.Cmdable, key string) *RedisDirectory {
	if key == "" {
		key = DefaultOnlineKey
	}
	return &RedisDirectory{client: client, key: key}
}

func (d *RedisDirectory) Add(ctx context.Context, userID string) error {
	return d.client.SAdd(ctx, d.key, userID).Err()
}

func (d *RedisDirectory) Remove(ctx context.Context, userID string) error {
	return d.client.SRem(ctx, d.key, userID).Err()
}

func (d *RedisDirectory) Contains(ctx context.Context, userID string) (bool, error) {
	return d.client.SIsMember(ctx, d.key, userID).Result()
}

func (d *RedisDirectory) Members(ctx context.Context) ([]string, error) {
	out, err := d.client.SMembers(ctx, d.key).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}
