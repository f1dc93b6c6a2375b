package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rakshanetra/core/internal/pkg/apperr"
	"github.com/rakshanetra/core/internal/pkg/metrics"
	pkgredis "github.com/rakshanetra/core/internal/pkg/redis"
)

// Service ingests sensor readings and fans them out to live subscribers.
// Redis holds the last value and a short rolling window per resource; the
// pub/sub channel carries the live stream.
type Service struct {
	rc     *pkgredis.Client
	logger *zap.Logger
}

func NewService(rc *pkgredis.Client, logger *zap.Logger) *Service {
	return &Service{rc: rc, logger: logger.Named("telemetry")}
}

// Ingest stores a reading as the resource's latest sample, appends it to the
// rolling window, and publishes it to the live channel.
func (s *Service) Ingest(ctx context.Context, r *Reading) error {
	if r.Resource == "" {
		return apperr.Validation("resource is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.ReportedAt.IsZero() {
		r.ReportedAt = time.Now()
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}

	rdb := s.rc.Raw()
	pipe := rdb.Pipeline()
	pipe.Set(ctx, lastKeyPrefix+r.Resource, payload, 0)
	pipe.LPush(ctx, windowKeyPrefix+r.Resource, payload)
	pipe.LTrim(ctx, windowKeyPrefix+r.Resource, 0, WindowSize-1)
	pipe.Publish(ctx, ChannelFor(r.Resource), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	metrics.TelemetryReadings.WithLabelValues(r.Resource).Inc()
	return nil
}

// Last returns the resource's most recent reading, or nil if none exists.
func (s *Service) Last(ctx context.Context, resource string) (*Reading, error) {
	raw, err := s.rc.Get(ctx, lastKeyPrefix+resource)
	if err != nil || raw == "" {
		return nil, err
	}
	var r Reading
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Window returns the resource's rolling window, newest first.
func (s *Service) Window(ctx context.Context, resource string) ([]Reading, error) {
	raw, err := s.rc.Raw().LRange(ctx, windowKeyPrefix+resource, 0, WindowSize-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Reading, 0, len(raw))
	for _, item := range raw {
		var r Reading
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			s.logger.Warn("drop malformed window entry", zap.String("resource", resource), zap.Error(err))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// OpenStream subscribes fn to a resource's live readings. The resource's
// last known reading is replayed first so new consumers are not blank until
// the next sample. The returned cancel is idempotent.
func (s *Service) OpenStream(ctx context.Context, resource string, fn func(Reading)) (func(), error) {
	pubsub := s.rc.Subscribe(ctx, ChannelFor(resource))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = pubsub.Close() })
	}

	go func() {
		if last, err := s.Last(ctx, resource); err == nil && last != nil {
			fn(*last)
		}
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
				var r Reading
				if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil {
					s.logger.Warn("drop malformed reading", zap.String("resource", resource), zap.Error(err))
					continue
				}
				fn(r)
			}
		}
	}()

	return cancel, nil
}
