package gate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rakshanetra/core/internal/models"
	"github.com/rakshanetra/core/internal/modules/feed"
	"github.com/rakshanetra/core/internal/modules/telemetry"
	"github.com/rakshanetra/core/internal/modules/token"
	"github.com/rakshanetra/core/internal/pkg/metrics"
)

// DefaultNoAccessWait bounds how long a fresh session waits for a binding
// before telling the principal they have no access.
const DefaultNoAccessWait = 5 * time.Second

// Config tunes a session. Zero values fall back to defaults.
type Config struct {
	NoAccessWait time.Duration
	Now          func() time.Time
}

// Deps are the collaborators a session drives. Cache and OnNotice are
// optional.
type Deps struct {
	Tokens   TokenSource
	Feed     Feed
	Streams  StreamOpener
	Cache    Cache
	Logger   *zap.Logger
	OnNotice func(principal string, n Notice)
}

// Session gates one principal's access to live telemetry. All transitions
// run on a single event loop goroutine, so grant, revocation, expiry and
// teardown can never interleave.
type Session struct {
	principal string
	deps      Deps
	cfg       Config

	events chan event
	cancel context.CancelFunc
	done   chan struct{}
	sub    *feed.Subscription

	mu          sync.RWMutex
	state       State
	bound       *models.TokenModel
	lastReading *telemetry.Reading
	everBound   bool

	closeStream func()
	expiryTimer *time.Timer
}

func newSession(principal string, deps Deps, cfg Config) *Session {
	if cfg.NoAccessWait <= 0 {
		cfg.NoAccessWait = DefaultNoAccessWait
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		principal: principal,
		deps:      deps,
		cfg:       cfg,
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
}

// Start subscribes to the change feed, seeds the session from cached or
// stored tokens, and launches the event loop.
func (s *Session) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	sub, err := s.deps.Feed.Subscribe(ctx, s.principal, feed.Handlers{
		OnGranted: func(t models.TokenModel) {
			s.post(event{kind: evGranted, token: t})
		},
		OnRevokedOrExpired: func(t models.TokenModel) {
			s.post(event{kind: evRevokedOrExpired, token: t})
		},
	})
	if err != nil {
		s.cancel()
		return err
	}
	s.sub = sub

	if cand := s.restore(ctx); cand != nil {
		s.post(event{kind: evGranted, token: *cand})
	}

	time.AfterFunc(s.cfg.NoAccessWait, func() {
		s.post(event{kind: evNoAccessCheck})
	})

	go s.run(ctx)
	return nil
}

// restore finds a token to rebind after a restart: the cached active token
// if it still resolves valid, otherwise the newest valid token in the store.
func (s *Session) restore(ctx context.Context) *models.TokenModel {
	now := s.cfg.Now()
	if s.deps.Cache != nil {
		cached, err := s.deps.Cache.Load(ctx, s.principal)
		if err != nil {
			s.deps.Logger.Warn("load cached token", zap.String("principal", s.principal), zap.Error(err))
		} else if cached != nil {
			if token.Resolve(cached, now, nil).Valid {
				return cached
			}
			_ = s.deps.Cache.Clear(ctx, s.principal)
		}
	}
	return s.nextFromStore(ctx)
}

// nextFromStore returns a still-valid stored token for this principal, if any.
func (s *Session) nextFromStore(ctx context.Context) *models.TokenModel {
	now := s.cfg.Now()
	tokens, err := s.deps.Tokens.ActiveTokens(ctx, s.principal, now)
	if err != nil {
		s.deps.Logger.Warn("list active tokens", zap.String("principal", s.principal), zap.Error(err))
		return nil
	}
	for i := range tokens {
		if token.Resolve(&tokens[i], now, nil).Valid {
			return &tokens[i]
		}
	}
	return nil
}

func (s *Session) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return
		case ev := <-s.events:
			s.handle(ctx, ev)
		}
	}
}

func (s *Session) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evGranted:
		s.handleGranted(ctx, ev.token)
	case evRevokedOrExpired:
		s.handleRevokedOrExpired(ctx, ev.token)
	case evExpiry:
		s.handleExpiry(ctx, ev.tokenID)
	case evReading:
		s.handleReading(ev.reading)
	case evNoAccessCheck:
		s.handleNoAccessCheck()
	}
}

func (s *Session) handleGranted(ctx context.Context, t models.TokenModel) {
	if s.state == StateBound {
		// At most one bound token. Grants arriving here are dropped; when the
		// current binding ends, unbind rescans the store for the next one.
		return
	}
	now := s.cfg.Now()
	v := token.Resolve(&t, now, nil)
	if !v.Valid {
		return
	}

	closeFn, err := s.deps.Streams.OpenStream(ctx, t.Resource, func(r telemetry.Reading) {
		s.post(event{kind: evReading, reading: r})
	})
	if err != nil {
		s.deps.Logger.Error("open stream",
			zap.String("principal", s.principal),
			zap.String("resource", t.Resource),
			zap.Error(err))
		return
	}

	bound := t
	s.mu.Lock()
	s.state = StateBound
	s.bound = &bound
	s.everBound = true
	s.mu.Unlock()

	s.closeStream = closeFn
	ttl := bound.ExpiryTime().Sub(now)
	tokenID := bound.TokenID
	s.expiryTimer = time.AfterFunc(ttl, func() {
		s.post(event{kind: evExpiry, tokenID: tokenID})
	})

	if s.deps.Cache != nil {
		if err := s.deps.Cache.Store(ctx, s.principal, &bound, ttl); err != nil {
			s.deps.Logger.Warn("cache token", zap.String("principal", s.principal), zap.Error(err))
		}
	}

	metrics.GateTransitions.WithLabelValues("bound", "granted").Inc()
	metrics.BoundSessions.Inc()
	s.notify(Notice{
		Kind:     NoticeGranted,
		Resource: bound.Resource,
		TokenID:  bound.TokenID,
		Message:  "access granted",
	})
}

func (s *Session) handleRevokedOrExpired(ctx context.Context, t models.TokenModel) {
	if s.state != StateBound || s.bound.TokenID != t.TokenID {
		// Stale: the session already moved on. Drop without surfacing.
		s.deps.Logger.Debug("ignore stale revocation",
			zap.String("principal", s.principal),
			zap.Int64("token_id", t.TokenID))
		return
	}
	kind := NoticeExpired
	msg := "access expired"
	if t.Status == models.TokenRevoked {
		kind = NoticeRevoked
		msg = "access revoked"
	}
	s.unbind(ctx, kind, msg)
}

func (s *Session) handleExpiry(ctx context.Context, tokenID int64) {
	if s.state != StateBound || s.bound.TokenID != tokenID {
		return
	}
	// The local timer can fire slightly early; trust the resolver.
	if v := token.Resolve(s.bound, s.cfg.Now(), nil); v.Valid {
		id := tokenID
		s.expiryTimer = time.AfterFunc(time.Duration(v.RemainingSeconds+1)*time.Second, func() {
			s.post(event{kind: evExpiry, tokenID: id})
		})
		return
	}
	s.unbind(ctx, NoticeExpired, "access expired")
}

func (s *Session) handleReading(r telemetry.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateBound || s.bound.Resource != r.Resource {
		return
	}
	reading := r
	s.lastReading = &reading
}

func (s *Session) handleNoAccessCheck() {
	if s.everBound || s.state != StateIdle {
		return
	}
	s.notify(Notice{Kind: NoticeNoAccess, Message: "no access rights"})
}

// unbind tears down the Bound state. The stream closes before anything else
// so no reading can slip through after the decision to cut access.
func (s *Session) unbind(ctx context.Context, kind NoticeKind, msg string) {
	if s.closeStream != nil {
		s.closeStream()
		s.closeStream = nil
	}
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	if s.deps.Cache != nil {
		_ = s.deps.Cache.Clear(ctx, s.principal)
	}

	s.mu.Lock()
	resource := s.bound.Resource
	tokenID := s.bound.TokenID
	s.state = StateIdle
	s.bound = nil
	s.lastReading = nil
	s.mu.Unlock()

	metrics.GateTransitions.WithLabelValues("idle", string(kind)).Inc()
	metrics.BoundSessions.Dec()
	s.notify(Notice{Kind: kind, Resource: resource, TokenID: tokenID, Message: msg})

	// Another token may already have been granted while this one was bound.
	if cand := s.nextFromStore(ctx); cand != nil && cand.TokenID != tokenID {
		s.post(event{kind: evGranted, token: *cand})
	}
}

func (s *Session) shutdown() {
	if s.closeStream != nil {
		s.closeStream()
		s.closeStream = nil
	}
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
	}

	s.mu.Lock()
	if s.state == StateBound {
		s.state = StateIdle
		s.bound = nil
		s.lastReading = nil
		metrics.BoundSessions.Dec()
	}
	s.mu.Unlock()

	close(s.done)
}

// Teardown stops the event loop and releases the stream and feed
// subscription. Safe to call more than once.
func (s *Session) Teardown() {
	s.cancel()
	<-s.done
}

// Status snapshots the session without touching the event loop.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.cfg.Now()
	st := Status{
		Principal: s.principal,
		State:     s.state,
		AsOf:      now,
	}
	if s.bound != nil {
		st.Resource = s.bound.Resource
		st.TokenID = s.bound.TokenID
		st.RemainingSeconds = token.Resolve(s.bound, now, nil).RemainingSeconds
	}
	if s.lastReading != nil {
		reading := *s.lastReading
		st.LastReading = &reading
	}
	return st
}

func (s *Session) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) notify(n Notice) {
	n.At = s.cfg.Now()
	s.deps.Logger.Info("gate notice",
		zap.String("principal", s.principal),
		zap.String("kind", string(n.Kind)),
		zap.String("resource", n.Resource),
		zap.Int64("token_id", n.TokenID))
	if s.deps.OnNotice != nil {
		s.deps.OnNotice(s.principal, n)
	}
}
