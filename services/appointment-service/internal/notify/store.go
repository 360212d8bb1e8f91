// Package notify persists in-app notifications in Redis as JSON
// documents, one capped list per recipient. Notification delivery is
// best-effort: callers log failures instead of failing the request.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Notification struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	User      int64     `json:"user"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type Store struct {
	rdb        *redis.Client
	maxPerUser int64
}

func NewStore(rdb *redis.Client, maxPerUser int64) *Store {
	if maxPerUser <= 0 {
		maxPerUser = 100
	}
	return &Store{rdb: rdb, maxPerUser: maxPerUser}
}

func userKey(userID int64) string {
	return fmt.Sprintf("notifications:user:%d", userID)
}

// Append pushes a new unread notification onto the recipient's list and
// trims it to the retention cap.
func (s *Store) Append(ctx context.Context, userID int64, content string) error {
	doc := Notification{
		ID:        uuid.NewString(),
		Content:   content,
		User:      userID,
		Read:      false,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	key := userKey(userID)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, s.maxPerUser-1)
	_, err = pipe.Exec(ctx)
	return err
}

// ListRecent returns the recipient's newest notifications, newest first.
func (s *Store) ListRecent(ctx context.Context, userID int64, limit int64) ([]Notification, error) {
	if limit <= 0 {
		limit = s.maxPerUser
	}
	raws, err := s.rdb.LRange(ctx, userKey(userID), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(raws))
	for _, raw := range raws {
		var n Notification
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
