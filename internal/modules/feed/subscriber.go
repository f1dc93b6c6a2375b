package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rakshanetra/core/internal/models"
)

// DefaultGraceWindow bounds how old a token's issuedAt may be for the delta
// to still count as "just granted" rather than a replay of existing state.
const DefaultGraceWindow = 5 * time.Second

// Options tunes a Subscriber. Zero values fall back to defaults.
type Options struct {
	GraceWindow time.Duration
	Now         func() time.Time
}

// Subscriber turns the raw delta stream into per-principal grant and
// revocation callbacks.
type Subscriber struct {
	src    Source
	logger *zap.Logger
	opts   Options
}

func NewSubscriber(src Source, logger *zap.Logger, opts Options) *Subscriber {
	if opts.GraceWindow <= 0 {
		opts.GraceWindow = DefaultGraceWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Subscriber{src: src, logger: logger.Named("feed"), opts: opts}
}

// Subscription is a live per-principal subscription. Unsubscribe is
// idempotent.
type Subscription struct {
	cancel func()
	once   sync.Once
	done   chan struct{}
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// NewSubscription wraps a cancel function in a Subscription. Done closes on
// Unsubscribe. Used by in-process sources and test fakes.
func NewSubscription(cancel func()) *Subscription {
	s := &Subscription{done: make(chan struct{})}
	s.cancel = func() {
		if cancel != nil {
			cancel()
		}
		close(s.done)
	}
	return s
}

// Done closes when the subscription's delivery loop has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Subscribe delivers deltas for one principal to h until Unsubscribe or ctx
// cancellation. Added deltas for tokens already expired at subscribe time are
// dropped before any handler runs, and each token id triggers OnGranted at
// most once.
func (s *Subscriber) Subscribe(ctx context.Context, principal string, h Handlers) (*Subscription, error) {
	deltas, cancel, err := s.src.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	subscribedAt := s.opts.Now()

	go func() {
		defer close(sub.done)
		processed := make(map[int64]struct{})
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case d, ok := <-deltas:
				if !ok {
					return
				}
				if d.Token.UserAddress != principal {
					continue
				}
				s.dispatch(d, subscribedAt, processed, h)
			}
		}
	}()

	return sub, nil
}

func (s *Subscriber) dispatch(d Delta, subscribedAt time.Time, processed map[int64]struct{}, h Handlers) {
	switch d.Kind {
	case KindAdded:
		// Coarse pre-filter; the resolver downstream remains the final
		// authority on validity.
		if d.Token.ExpiresAt <= subscribedAt.UnixMilli() {
			return
		}
		if _, dup := processed[d.Token.TokenID]; dup {
			return
		}
		processed[d.Token.TokenID] = struct{}{}
		if s.opts.Now().Sub(d.Token.IssuedAt) > s.opts.GraceWindow {
			// Pre-existing token replayed into the feed, not a fresh grant.
			return
		}
		if h.OnGranted != nil {
			h.OnGranted(d.Token)
		}
	case KindModified:
		if d.Token.Status == models.TokenActive {
			return
		}
		if h.OnRevokedOrExpired != nil {
			h.OnRevokedOrExpired(d.Token)
		}
	case KindRemoved:
		if h.OnRevokedOrExpired != nil {
			h.OnRevokedOrExpired(d.Token)
		}
	default:
		s.logger.Warn("unknown delta kind", zap.String("kind", string(d.Kind)))
	}
}
