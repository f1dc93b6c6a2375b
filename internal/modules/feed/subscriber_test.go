package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rakshanetra/core/internal/models"
)

type fakeSource struct {
	ch      chan Delta
	mu      sync.Mutex
	cancels int
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan Delta, 16)}
}

func (f *fakeSource) Subscribe(ctx context.Context) (<-chan Delta, func(), error) {
	return f.ch, func() {
		f.mu.Lock()
		f.cancels++
		f.mu.Unlock()
	}, nil
}

func (f *fakeSource) emit(d Delta) { f.ch <- d }

func (f *fakeSource) close() { close(f.ch) }

func activeToken(id int64, principal string, issuedAt time.Time, durationSeconds int64) models.TokenModel {
	return models.TokenModel{
		TokenID:         id,
		UserAddress:     principal,
		Resource:        "gas_1",
		IssuedAt:        issuedAt,
		DurationSeconds: durationSeconds,
		ExpiresAt:       issuedAt.UnixMilli() + durationSeconds*1000,
		Status:          models.TokenActive,
	}
}

type recorder struct {
	mu      sync.Mutex
	granted []int64
	gone    []int64
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnGranted: func(t models.TokenModel) {
			r.mu.Lock()
			r.granted = append(r.granted, t.TokenID)
			r.mu.Unlock()
		},
		OnRevokedOrExpired: func(t models.TokenModel) {
			r.mu.Lock()
			r.gone = append(r.gone, t.TokenID)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]int64, []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.granted...), append([]int64(nil), r.gone...)
}

func TestSubscriberFiltersAndDedupes(t *testing.T) {
	now := time.Now()
	src := newFakeSource()
	sub := NewSubscriber(src, zap.NewNop(), Options{})
	rec := &recorder{}

	s, err := sub.Subscribe(context.Background(), "0xme", rec.handlers())
	if err != nil {
		t.Fatal(err)
	}

	fresh := activeToken(1, "0xme", now, 60)
	other := activeToken(2, "0xother", now, 60)

	src.emit(Delta{Kind: KindAdded, Token: fresh})
	src.emit(Delta{Kind: KindAdded, Token: fresh}) // duplicate delivery
	src.emit(Delta{Kind: KindAdded, Token: other}) // different principal
	src.close()
	<-s.Done()

	granted, gone := rec.snapshot()
	if len(granted) != 1 || granted[0] != 1 {
		t.Errorf("granted = %v, want [1]", granted)
	}
	if len(gone) != 0 {
		t.Errorf("gone = %v, want empty", gone)
	}
}

func TestSubscriberSkipsStaleAdds(t *testing.T) {
	now := time.Now()
	src := newFakeSource()
	sub := NewSubscriber(src, zap.NewNop(), Options{})
	rec := &recorder{}

	s, err := sub.Subscribe(context.Background(), "0xme", rec.handlers())
	if err != nil {
		t.Fatal(err)
	}

	// Already expired before we subscribed.
	expired := activeToken(3, "0xme", now.Add(-2*time.Minute), 60)
	// Still valid but issued well outside the grace window; a reconnect
	// replay, not a fresh grant.
	rehydrated := activeToken(4, "0xme", now.Add(-time.Minute), 3600)

	src.emit(Delta{Kind: KindAdded, Token: expired})
	src.emit(Delta{Kind: KindAdded, Token: rehydrated})
	src.close()
	<-s.Done()

	granted, _ := rec.snapshot()
	if len(granted) != 0 {
		t.Errorf("granted = %v, want empty", granted)
	}
}

func TestSubscriberRevocationAndRemoval(t *testing.T) {
	now := time.Now()
	src := newFakeSource()
	sub := NewSubscriber(src, zap.NewNop(), Options{})
	rec := &recorder{}

	s, err := sub.Subscribe(context.Background(), "0xme", rec.handlers())
	if err != nil {
		t.Fatal(err)
	}

	revoked := activeToken(5, "0xme", now, 3600)
	revoked.Status = models.TokenRevoked
	stillActive := activeToken(6, "0xme", now, 3600)
	removed := activeToken(7, "0xme", now, 3600)

	src.emit(Delta{Kind: KindModified, Token: revoked})
	src.emit(Delta{Kind: KindModified, Token: stillActive}) // no status change, no callback
	src.emit(Delta{Kind: KindRemoved, Token: removed})
	src.close()
	<-s.Done()

	_, gone := rec.snapshot()
	if len(gone) != 2 || gone[0] != 5 || gone[1] != 7 {
		t.Errorf("gone = %v, want [5 7]", gone)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	src := newFakeSource()
	sub := NewSubscriber(src, zap.NewNop(), Options{})

	s, err := sub.Subscribe(context.Background(), "0xme", Handlers{})
	if err != nil {
		t.Fatal(err)
	}

	s.Unsubscribe()
	s.Unsubscribe()
	s.Unsubscribe()

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.cancels != 1 {
		t.Errorf("cancel ran %d times, want 1", src.cancels)
	}
}
