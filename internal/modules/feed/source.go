package feed

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	pkgredis "github.com/rakshanetra/core/internal/pkg/redis"
)

// RedisSource streams token deltas from the shared pub/sub channel.
type RedisSource struct {
	rc     *pkgredis.Client
	logger *zap.Logger
}

func NewRedisSource(rc *pkgredis.Client, logger *zap.Logger) *RedisSource {
	return &RedisSource{rc: rc, logger: logger.Named("feed")}
}

func (s *RedisSource) Subscribe(ctx context.Context) (<-chan Delta, func(), error) {
	pubsub := s.rc.Subscribe(ctx, Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan Delta, 64)
	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = pubsub.Close() })
	}

	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var d Delta
				if err := json.Unmarshal([]byte(msg.Payload), &d); err != nil {
					s.logger.Warn("drop malformed delta", zap.Error(err))
					continue
				}
				select {
				case out <- d:
				case <-ctx.Done():
					cancel()
					return
				}
			}
		}
	}()

	return out, cancel, nil
}
