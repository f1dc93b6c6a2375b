package gate

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rakshanetra/core/internal/models"
	"github.com/rakshanetra/core/internal/modules/feed"
	"github.com/rakshanetra/core/internal/modules/telemetry"
)

type fakeTokens struct {
	mu     sync.Mutex
	tokens []models.TokenModel
}

func (f *fakeTokens) ActiveTokens(ctx context.Context, principal string, now time.Time) ([]models.TokenModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TokenModel
	for _, t := range f.tokens {
		if t.UserAddress == principal {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTokens) add(t models.TokenModel) {
	f.mu.Lock()
	f.tokens = append(f.tokens, t)
	f.mu.Unlock()
}

type fakeCache struct {
	mu      sync.Mutex
	token   *models.TokenModel
	stored  int
	cleared int
}

func (f *fakeCache) Load(ctx context.Context, principal string) (*models.TokenModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, nil
}

func (f *fakeCache) Store(ctx context.Context, principal string, t *models.TokenModel, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *t
	f.token = &copied
	f.stored++
	return nil
}

func (f *fakeCache) Clear(ctx context.Context, principal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = nil
	f.cleared++
	return nil
}

type fakeFeed struct {
	mu sync.Mutex
	h  feed.Handlers
}

func (f *fakeFeed) Subscribe(ctx context.Context, principal string, h feed.Handlers) (*feed.Subscription, error) {
	f.mu.Lock()
	f.h = h
	f.mu.Unlock()
	return feed.NewSubscription(nil), nil
}

func (f *fakeFeed) grant(t models.TokenModel) {
	f.mu.Lock()
	h := f.h
	f.mu.Unlock()
	h.OnGranted(t)
}

func (f *fakeFeed) revoke(t models.TokenModel) {
	f.mu.Lock()
	h := f.h
	f.mu.Unlock()
	h.OnRevokedOrExpired(t)
}

type fakeStreams struct {
	mu      sync.Mutex
	open    int
	opened  int
	maxOpen int
	deliver func(telemetry.Reading)
}

func (f *fakeStreams) OpenStream(ctx context.Context, resource string, fn func(telemetry.Reading)) (func(), error) {
	f.mu.Lock()
	f.open++
	f.opened++
	if f.open > f.maxOpen {
		f.maxOpen = f.open
	}
	f.deliver = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.open--
			f.mu.Unlock()
		})
	}, nil
}

func (f *fakeStreams) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *noticeLog) sink() func(string, Notice) {
	return func(_ string, notice Notice) {
		n.mu.Lock()
		n.notices = append(n.notices, notice)
		n.mu.Unlock()
	}
}

func (n *noticeLog) wait(t *testing.T, kind NoticeKind) Notice {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n.mu.Lock()
		for _, notice := range n.notices {
			if notice.Kind == kind {
				n.mu.Unlock()
				return notice
			}
		}
		n.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("notice %q never arrived", kind)
	return Notice{}
}

func (n *noticeLog) count(kind NoticeKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, notice := range n.notices {
		if notice.Kind == kind {
			c++
		}
	}
	return c
}

func freshToken(id int64, principal, resource string, durationSeconds int64) models.TokenModel {
	now := time.Now()
	return models.TokenModel{
		TokenID:         id,
		UserAddress:     principal,
		Resource:        resource,
		IssuedAt:        now,
		DurationSeconds: durationSeconds,
		ExpiresAt:       now.UnixMilli() + durationSeconds*1000,
		Status:          models.TokenActive,
	}
}

func startSession(t *testing.T, tokens *fakeTokens, fd *fakeFeed, streams *fakeStreams, notices *noticeLog) *Session {
	t.Helper()
	s := newSession("0xme", Deps{
		Tokens:   tokens,
		Feed:     fd,
		Streams:  streams,
		Logger:   zap.NewNop(),
		OnNotice: notices.sink(),
	}, Config{NoAccessWait: 50 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Teardown)
	return s
}

func TestSessionBindsOnGrant(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	s := startSession(t, &fakeTokens{}, fd, streams, notices)

	fd.grant(freshToken(1, "0xme", "gas_1", 3600))
	notices.wait(t, NoticeGranted)

	st := s.Status()
	if st.State != StateBound || st.Resource != "gas_1" || st.TokenID != 1 {
		t.Errorf("status = %+v, want bound to gas_1 token 1", st)
	}
	if st.RemainingSeconds <= 0 {
		t.Errorf("RemainingSeconds = %d, want > 0", st.RemainingSeconds)
	}
	if got := streams.openCount(); got != 1 {
		t.Errorf("open streams = %d, want 1", got)
	}
}

func TestSessionNeverTwoStreams(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	startSession(t, &fakeTokens{}, fd, streams, notices)

	fd.grant(freshToken(1, "0xme", "gas_1", 3600))
	fd.grant(freshToken(2, "0xme", "gas_2", 3600))
	notices.wait(t, NoticeGranted)
	time.Sleep(50 * time.Millisecond)

	streams.mu.Lock()
	defer streams.mu.Unlock()
	if streams.maxOpen != 1 {
		t.Errorf("max concurrent streams = %d, want 1", streams.maxOpen)
	}
	if streams.opened != 1 {
		t.Errorf("streams opened = %d, want 1", streams.opened)
	}
}

func TestSessionRevocationClosesStream(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	s := startSession(t, &fakeTokens{}, fd, streams, notices)

	tok := freshToken(1, "0xme", "gas_1", 3600)
	fd.grant(tok)
	notices.wait(t, NoticeGranted)

	tok.Status = models.TokenRevoked
	fd.revoke(tok)
	notices.wait(t, NoticeRevoked)

	if got := streams.openCount(); got != 0 {
		t.Errorf("open streams after revoke = %d, want 0", got)
	}
	if st := s.Status(); st.State != StateIdle {
		t.Errorf("state = %q, want idle", st.State)
	}
}

func TestSessionStaleRevocationIgnored(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	s := startSession(t, &fakeTokens{}, fd, streams, notices)

	tok := freshToken(1, "0xme", "gas_1", 3600)
	fd.grant(tok)
	notices.wait(t, NoticeGranted)

	// Revocation for a token the session never bound: dropped silently.
	stale := freshToken(99, "0xme", "gas_9", 3600)
	stale.Status = models.TokenRevoked
	fd.revoke(stale)
	time.Sleep(50 * time.Millisecond)

	if st := s.Status(); st.State != StateBound || st.TokenID != 1 {
		t.Errorf("status = %+v, want still bound to token 1", st)
	}
	if notices.count(NoticeRevoked) != 0 {
		t.Error("stale revocation produced a notice")
	}
}

func TestSessionExpiryUnbinds(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	s := startSession(t, &fakeTokens{}, fd, streams, notices)

	fd.grant(freshToken(1, "0xme", "gas_1", 1))
	notices.wait(t, NoticeGranted)
	notices.wait(t, NoticeExpired)

	if got := streams.openCount(); got != 0 {
		t.Errorf("open streams after expiry = %d, want 0", got)
	}
	if st := s.Status(); st.State != StateIdle {
		t.Errorf("state = %q, want idle", st.State)
	}
}

func TestSessionRevokeExpiryRaceSingleNotice(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	startSession(t, &fakeTokens{}, fd, streams, notices)

	tok := freshToken(1, "0xme", "gas_1", 1)
	fd.grant(tok)
	notices.wait(t, NoticeGranted)

	// Revoke just as the expiry timer is about to fire. The loop serializes
	// both; whichever lands second finds the session already idle.
	tok.Status = models.TokenRevoked
	fd.revoke(tok)
	time.Sleep(1200 * time.Millisecond)

	total := notices.count(NoticeRevoked) + notices.count(NoticeExpired)
	if total != 1 {
		t.Errorf("unbind notices = %d, want exactly 1", total)
	}
	if got := streams.openCount(); got != 0 {
		t.Errorf("open streams = %d, want 0", got)
	}
}

func TestSessionNoAccessNotice(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	startSession(t, &fakeTokens{}, fd, streams, notices)

	notices.wait(t, NoticeNoAccess)
}

func TestSessionNoNoAccessNoticeWhenBound(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	startSession(t, &fakeTokens{}, fd, streams, notices)

	fd.grant(freshToken(1, "0xme", "gas_1", 3600))
	notices.wait(t, NoticeGranted)
	time.Sleep(100 * time.Millisecond)

	if notices.count(NoticeNoAccess) != 0 {
		t.Error("no-access notice fired despite a binding")
	}
}

func TestSessionBootstrapFromStore(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	tokens := &fakeTokens{tokens: []models.TokenModel{freshToken(7, "0xme", "gas_3", 3600)}}
	s := startSession(t, tokens, fd, streams, notices)

	notices.wait(t, NoticeGranted)
	if st := s.Status(); st.State != StateBound || st.TokenID != 7 {
		t.Errorf("status = %+v, want bound to token 7", st)
	}
}

func TestSessionRestoresCachedToken(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	cached := freshToken(11, "0xme", "gas_4", 3600)
	cache := &fakeCache{token: &cached}

	s := newSession("0xme", Deps{
		Tokens:   &fakeTokens{},
		Feed:     fd,
		Streams:  streams,
		Cache:    cache,
		Logger:   zap.NewNop(),
		OnNotice: notices.sink(),
	}, Config{NoAccessWait: 50 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Teardown)

	notices.wait(t, NoticeGranted)
	if st := s.Status(); st.State != StateBound || st.TokenID != 11 {
		t.Errorf("status = %+v, want bound to cached token 11", st)
	}
}

func TestSessionStaleCachedTokenNotRestored(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	stale := freshToken(12, "0xme", "gas_4", 3600)
	stale.ExpiresAt = time.Now().UnixMilli() - 1000
	cache := &fakeCache{token: &stale}

	s := newSession("0xme", Deps{
		Tokens:   &fakeTokens{},
		Feed:     fd,
		Streams:  streams,
		Cache:    cache,
		Logger:   zap.NewNop(),
		OnNotice: notices.sink(),
	}, Config{NoAccessWait: 50 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Teardown)

	// The lapsed cache entry must be dropped, not rebound.
	notices.wait(t, NoticeNoAccess)
	if notices.count(NoticeGranted) != 0 {
		t.Error("stale cached token produced a grant")
	}
	if st := s.Status(); st.State != StateIdle {
		t.Errorf("state = %q, want idle", st.State)
	}
	cache.mu.Lock()
	defer cache.mu.Unlock()
	if cache.cleared == 0 {
		t.Error("stale cache entry was never cleared")
	}
	if cache.token != nil {
		t.Error("stale token still cached")
	}
}

func TestSessionRebindsToNextTokenOnUnbind(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	tokens := &fakeTokens{}
	s := startSession(t, tokens, fd, streams, notices)

	tok := freshToken(1, "0xme", "gas_1", 3600)
	fd.grant(tok)
	notices.wait(t, NoticeGranted)

	// A second token granted while bound is dropped by the loop, but it sits
	// in the store and must bind once the first one ends.
	tokens.add(freshToken(2, "0xme", "gas_2", 3600))
	tok.Status = models.TokenRevoked
	fd.revoke(tok)
	notices.wait(t, NoticeRevoked)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := s.Status(); st.State == StateBound && st.TokenID == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never rebound to token 2: %+v", s.Status())
}

func TestSessionReadingsReachStatus(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	notices := &noticeLog{}
	s := startSession(t, &fakeTokens{}, fd, streams, notices)

	fd.grant(freshToken(1, "0xme", "gas_1", 3600))
	notices.wait(t, NoticeGranted)

	streams.mu.Lock()
	deliver := streams.deliver
	streams.mu.Unlock()
	deliver(telemetry.Reading{Resource: "gas_1", Temperature: 22.5, GasValue: 310, AlertTriggered: true})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if st := s.Status(); st.LastReading != nil {
			if st.LastReading.GasValue != 310 || !st.LastReading.AlertTriggered {
				t.Errorf("last reading = %+v", st.LastReading)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("reading never reached status")
}

func TestManagerTeardownIdempotent(t *testing.T) {
	fd := &fakeFeed{}
	streams := &fakeStreams{}
	m := NewManager(Deps{
		Tokens:  &fakeTokens{},
		Feed:    fd,
		Streams: streams,
		Logger:  zap.NewNop(),
	}, Config{NoAccessWait: 50 * time.Millisecond})

	if _, err := m.Ensure(context.Background(), "0xme"); err != nil {
		t.Fatal(err)
	}
	m.Teardown("0xme")
	m.Teardown("0xme")

	if _, ok := m.Get("0xme"); ok {
		t.Error("session still registered after teardown")
	}
}
