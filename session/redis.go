package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "librarybot:session:"
	lockTTL        = 10 * time.Second
	lockWait       = 5 * time.Second
	lockRetryDelay = 20 * time.Millisecond
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// releaseScript deletes the lock only if it is still held by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps sessions in Redis with a TTL so several bot processes can
// share them. Per-chat exclusion uses a SET NX lock with a token.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a Redis-backed session store.
func NewRedisStore(addr, password string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		ttl: ttl,
	}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func sessionKey(chatID int64) string {
	return keyPrefix + strconv.FormatInt(chatID, 10)
}

func lockKey(chatID int64) string {
	return sessionKey(chatID) + ":lock"
}

// Get returns the chat's session
func (s *RedisStore) Get(ctx context.Context, chatID int64) (Session, error) {
	val, err := s.client.Get(ctx, sessionKey(chatID)).Bytes()
	if err == redis.Nil {
		return Session{ChatID: chatID}, nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %d: %w", chatID, err)
	}
	var sess Session
	if err := json.Unmarshal(val, &sess); err != nil {
		// An unreadable session degrades to a fresh one.
		slog.Warn("discarding undecodable session", "chat_id", chatID, "error", err)
		return Session{ChatID: chatID}, nil
	}
	sess.ChatID = chatID
	return sess, nil
}

// Update applies fn while holding the chat's Redis lock
func (s *RedisStore) Update(ctx context.Context, chatID int64, fn func(*Session) error) error {
	token, err := s.lock(ctx, chatID)
	if err != nil {
		return err
	}
	defer s.unlock(chatID, token)

	sess, err := s.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if err := fn(&sess); err != nil {
		return err
	}
	sess.ChatID = chatID

	if sess.IsZero() {
		if err := s.client.Del(ctx, sessionKey(chatID)).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("delete session %d: %w", chatID, err)
		}
		return nil
	}

	sess.UpdatedAt = time.Now()
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %d: %w", chatID, err)
	}
	if err := s.client.Set(ctx, sessionKey(chatID), val, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session %d: %w", chatID, err)
	}
	return nil
}

// Delete drops the chat's session
func (s *RedisStore) Delete(ctx context.Context, chatID int64) error {
	if err := s.client.Del(ctx, sessionKey(chatID)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete session %d: %w", chatID, err)
	}
	return nil
}

func (s *RedisStore) lock(ctx context.Context, chatID int64) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(lockWait)
	for {
		ok, err := s.client.SetNX(ctx, lockKey(chatID), token, lockTTL).Result()
		if err != nil {
			return "", fmt.Errorf("lock session %d: %w", chatID, err)
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func (s *RedisStore) unlock(chatID int64, token string) {
	// The caller's context may already be cancelled; the lock must still go.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, s.client, []string{lockKey(chatID)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("failed to release session lock", "chat_id", chatID, "error", err)
	}
}
