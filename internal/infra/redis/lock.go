// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"strconv"
	"time"

	"telegram-agent-runner/internal/domain"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker serializes per-chat session operations: concurrent activate/fork/stop
// calls for the same chat queue behind each other, different chats proceed
// independently. Waiting is bounded: after the retry window expires the caller
// gets ErrChatBusy and the chat is told to try again, rather than holding a
// Telegram command open for the whole lock TTL.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type RedisLocker struct {
	cli *redis.Client
}

func NewLocker(c *redClient) *RedisLocker {
	return &RedisLocker{cli: c.cli}
}

// TryLock acquires key or gives up after 5 attempts 50ms apart.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	for i := 0; i < 5; i++ {
		ok, err := l.cli.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			continue
		}
		if ok {
			return token, nil
		}
		time.Sleep(50 * time.Millisecond) // wait before retrying
	}
	return "", domain.ErrChatBusy
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := luaUnlock.Run(ctx, l.cli, []string{key}, token).Result()
	return err
}

func ChatSessionKey(chatID int64) string {
	return "chat_session_lock:" + strconv.FormatInt(chatID, 10)
}
