package admin

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rakshanetra/core/internal/models"
	"github.com/rakshanetra/core/internal/modules/authz"
	"github.com/rakshanetra/core/internal/pkg/apperr"
)

// AuthzClient is the slice of the authorization service the panel uses.
type AuthzClient interface {
	ListRequests(ctx context.Context) ([]authz.PendingRequest, error)
	Grant(ctx context.Context, userAddress, resource string, durationSeconds int64) (*authz.GrantResult, error)
	Revoke(ctx context.Context, tokenID int64) (string, error)
	BatchStatus(ctx context.Context, ids []int64) ([]authz.StatusResult, error)
}

// TokenStore persists tokens and drives the change feed.
type TokenStore interface {
	All(ctx context.Context) ([]models.TokenModel, error)
	Create(ctx context.Context, t *models.TokenModel) error
	SetStatus(ctx context.Context, tokenID int64, status models.TokenStatus) (*models.TokenModel, error)
}

// TokenView is one row of the reconciliation panel. RemainingSeconds counts
// down locally between polls; ExpiryClock is rewritten from the service's
// remaining time at every authoritative poll.
type TokenView struct {
	TokenID          int64              `json:"token_id"`
	UserAddress      string             `json:"user_address"`
	Resource         string             `json:"resource"`
	Status           models.TokenStatus `json:"status"`
	ExpiryClock      int64              `json:"expiry_clock"` // unix milliseconds
	RemainingSeconds int64              `json:"remaining_seconds"`
	TxHash           string             `json:"tx_hash,omitempty"`
}

type tokenEntry struct {
	TokenID     int64
	UserAddress string
	Resource    string
	Status      models.TokenStatus
	ExpiryClock int64
	TxHash      string
}

// Service keeps the admin view of tokens and pending requests. The view has
// two clocks: a local one-second countdown derived from ExpiryClock, and the
// authoritative batch poll, which overwrites the local clock outright.
type Service struct {
	authz  AuthzClient
	store  TokenStore
	mirror RequestMirror
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	tokens   map[int64]*tokenEntry
	requests []authz.PendingRequest
}

// NewService builds the panel service. mirror is optional; without it the
// pending view shows only the polled queue.
func NewService(az AuthzClient, store TokenStore, mirror RequestMirror, logger *zap.Logger) *Service {
	return &Service{
		authz:  az,
		store:  store,
		mirror: mirror,
		logger: logger.Named("admin"),
		now:    time.Now,
		tokens: make(map[int64]*tokenEntry),
	}
}

// Refresh rebuilds the view from the durable store.
func (s *Service) Refresh(ctx context.Context) error {
	all, err := s.store.All(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[int64]*tokenEntry, len(all))
	for i := range all {
		t := &all[i]
		s.tokens[t.TokenID] = &tokenEntry{
			TokenID:     t.TokenID,
			UserAddress: t.UserAddress,
			Resource:    t.Resource,
			Status:      t.Status,
			ExpiryClock: t.ExpiresAt,
			TxHash:      t.TxHash,
		}
	}
	return nil
}

// PollStatuses fetches authoritative statuses for every tracked token and
// overwrites the local view. A network failure leaves the view untouched;
// the local countdown keeps running until the next successful poll.
func (s *Service) PollStatuses(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.tokens))
	for id := range s.tokens {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	if len(ids) == 0 {
		return nil
	}

	results, err := s.authz.BatchStatus(ctx, ids)
	if err != nil {
		s.logger.Warn("status poll failed", zap.Error(err))
		return err
	}

	polledAt := s.now().UnixMilli()
	s.mu.Lock()
	for _, r := range results {
		entry, ok := s.tokens[r.TokenID]
		if !ok {
			continue
		}
		entry.Status = normalizeStatus(r.Status)
		entry.ExpiryClock = polledAt + r.RemainingSeconds*1000
	}
	s.mu.Unlock()

	// Fold authoritative terminal states back into the store so the change
	// feed reaches bound gates.
	for _, r := range results {
		status := normalizeStatus(r.Status)
		if status == models.TokenActive {
			continue
		}
		if _, err := s.store.SetStatus(ctx, r.TokenID, status); err != nil {
			if errors.Is(err, apperr.ErrStaleTransition) {
				continue
			}
			s.logger.Warn("persist polled status", zap.Int64("token_id", r.TokenID), zap.Error(err))
		}
	}
	return nil
}

// PollRequests refreshes the pending request queue.
func (s *Service) PollRequests(ctx context.Context) error {
	reqs, err := s.authz.ListRequests(ctx)
	if err != nil {
		s.logger.Warn("requests poll failed", zap.Error(err))
		return err
	}
	s.mu.Lock()
	s.requests = reqs
	s.mu.Unlock()
	return nil
}

// Grant issues a token through the authorization service and commits it to
// the store and the view in one step. Nothing changes locally unless the
// service call succeeds, so a failure never leaves partial state.
func (s *Service) Grant(ctx context.Context, userAddress, resource string, durationSeconds int64) (*models.TokenModel, error) {
	if strings.TrimSpace(userAddress) == "" {
		return nil, apperr.Validation("user address is required")
	}
	if strings.TrimSpace(resource) == "" {
		return nil, apperr.Validation("resource is required")
	}
	if durationSeconds < 1 {
		return nil, apperr.Validation("duration must be at least 1 second")
	}

	res, err := s.authz.Grant(ctx, userAddress, resource, durationSeconds)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t := &models.TokenModel{
		TokenID:         res.TokenID,
		UserAddress:     userAddress,
		Resource:        resource,
		IssuedAt:        now,
		DurationSeconds: durationSeconds,
		ExpiresAt:       now.UnixMilli() + durationSeconds*1000,
		Status:          models.TokenActive,
		TxHash:          res.TxHash,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tokens[t.TokenID] = &tokenEntry{
		TokenID:     t.TokenID,
		UserAddress: t.UserAddress,
		Resource:    t.Resource,
		Status:      t.Status,
		ExpiryClock: t.ExpiresAt,
		TxHash:      t.TxHash,
	}
	// A grant settles the principal's pending requests.
	kept := s.requests[:0]
	for _, r := range s.requests {
		if r.UserAddress != userAddress {
			kept = append(kept, r)
		}
	}
	s.requests = kept
	s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.Settle(ctx, userAddress); err != nil {
			s.logger.Warn("settle mirrored requests", zap.String("user_address", userAddress), zap.Error(err))
		}
	}

	return t, nil
}

// ParseTokenID validates raw admin input as a non-negative integer token id
// before anything touches the network.
func ParseTokenID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, apperr.Validation("token id must be a non-negative integer")
	}
	return id, nil
}

// Revoke asks the authorization service to revoke a token. The view is not
// mutated here; the revocation becomes visible through the next status poll
// and the change feed, keeping the panel eventually consistent with the
// service rather than optimistically ahead of it.
func (s *Service) Revoke(ctx context.Context, tokenID int64) (string, error) {
	if tokenID < 0 {
		return "", apperr.Validation("token id must be a non-negative integer")
	}
	txHash, err := s.authz.Revoke(ctx, tokenID)
	if err != nil {
		return "", err
	}
	s.logger.Info("revocation submitted", zap.Int64("token_id", tokenID), zap.String("tx_hash", txHash))
	return txHash, nil
}

// Tokens snapshots the view, counting each row down against the wall clock.
// An optional resource filter narrows the snapshot without refetching.
func (s *Service) Tokens(resourceFilter string) []TokenView {
	nowMs := s.now().UnixMilli()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]TokenView, 0, len(s.tokens))
	for _, e := range s.tokens {
		if resourceFilter != "" && e.Resource != resourceFilter {
			continue
		}
		remaining := (e.ExpiryClock - nowMs) / 1000
		if remaining < 0 {
			remaining = 0
		}
		status := e.Status
		if status == models.TokenActive && remaining == 0 {
			// Local countdown hit zero; the next poll confirms.
			status = models.TokenExpired
		}
		out = append(out, TokenView{
			TokenID:          e.TokenID,
			UserAddress:      e.UserAddress,
			Resource:         e.Resource,
			Status:           status,
			ExpiryClock:      e.ExpiryClock,
			RemainingSeconds: remaining,
			TxHash:           e.TxHash,
		})
	}
	return out
}

// Requests returns the pending queue: the last polled snapshot merged with
// requests mirrored locally since, so a fresh submission shows up before the
// next queue poll. Rows already present in the snapshot are not repeated.
func (s *Service) Requests(ctx context.Context) []authz.PendingRequest {
	s.mu.RLock()
	out := append([]authz.PendingRequest(nil), s.requests...)
	s.mu.RUnlock()

	if s.mirror == nil {
		return out
	}
	rows, err := s.mirror.Pending(ctx)
	if err != nil {
		s.logger.Warn("read mirrored requests", zap.Error(err))
		return out
	}
	seen := make(map[string]struct{}, len(out))
	for _, r := range out {
		seen[r.UserAddress+"\x00"+r.Resource] = struct{}{}
	}
	for _, row := range rows {
		key := row.UserAddress + "\x00" + row.Resource
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, authz.PendingRequest{
			UserAddress:     row.UserAddress,
			Resource:        row.Resource,
			DurationSeconds: row.DurationSeconds,
		})
	}
	return out
}

func normalizeStatus(raw string) models.TokenStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active":
		return models.TokenActive
	case "revoked":
		return models.TokenRevoked
	default:
		return models.TokenExpired
	}
}
