package redisstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/kinga/core"
	"github.com/trezcool/kinga/core/moderation"
)

const appealKeyPrefix = "kinga:appeal:"

// Open returns a client for conf.Redis, or nil when no address is configured.
func Open(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	if conf.Redis.Address == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

// AppealGuard locks a (user, flag) pair for ttl with SET NX.
type AppealGuard struct {
	client *redis.Client
	ttl    time.Duration
}

var _ moderation.AppealGuard = (*AppealGuard)(nil)

func NewAppealGuard(client *redis.Client, ttl time.Duration) *AppealGuard {
	return &AppealGuard{client: client, ttl: ttl}
}

func appealKey(userID, flagID string) string {
	return appealKeyPrefix + flagID + ":" + userID
}

func (g *AppealGuard) Acquire(ctx context.Context, userID, flagID string) (bool, error) {
	ok, err := g.client.SetNX(ctx, appealKey(userID, flagID), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "acquiring appeal lock")
	}
	return ok, nil
}

func (g *AppealGuard) Release(ctx context.Context, userID, flagID string) error {
	if err := g.client.Del(ctx, appealKey(userID, flagID)).Err(); err != nil && err != redis.Nil {
		return errors.Wrap(err, "releasing appeal lock")
	}
	return nil
}
