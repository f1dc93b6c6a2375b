package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rakshanetra/core/internal/models"
	"github.com/rakshanetra/core/internal/modules/authz"
	"github.com/rakshanetra/core/internal/pkg/apperr"
)

type fakeAuthz struct {
	requests    []authz.PendingRequest
	grantResult *authz.GrantResult
	grantErr    error
	revokeErr   error
	statuses    []authz.StatusResult
	statusErr   error

	grantCalls  int
	revokeCalls int
	statusCalls int
}

func (f *fakeAuthz) ListRequests(ctx context.Context) ([]authz.PendingRequest, error) {
	return f.requests, nil
}

func (f *fakeAuthz) Grant(ctx context.Context, userAddress, resource string, durationSeconds int64) (*authz.GrantResult, error) {
	f.grantCalls++
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	return f.grantResult, nil
}

func (f *fakeAuthz) Revoke(ctx context.Context, tokenID int64) (string, error) {
	f.revokeCalls++
	if f.revokeErr != nil {
		return "", f.revokeErr
	}
	return "0xtx", nil
}

func (f *fakeAuthz) BatchStatus(ctx context.Context, ids []int64) ([]authz.StatusResult, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statuses, nil
}

type fakeStore struct {
	tokens  []models.TokenModel
	created []models.TokenModel
	updated map[int64]models.TokenStatus
}

func (f *fakeStore) All(ctx context.Context) ([]models.TokenModel, error) {
	return f.tokens, nil
}

func (f *fakeStore) Create(ctx context.Context, t *models.TokenModel) error {
	f.created = append(f.created, *t)
	return nil
}

func (f *fakeStore) SetStatus(ctx context.Context, tokenID int64, status models.TokenStatus) (*models.TokenModel, error) {
	if f.updated == nil {
		f.updated = make(map[int64]models.TokenStatus)
	}
	if _, done := f.updated[tokenID]; done {
		return nil, apperr.ErrStaleTransition
	}
	f.updated[tokenID] = status
	return &models.TokenModel{TokenID: tokenID, Status: status}, nil
}

type fakeMirror struct {
	rows    []models.AccessRequestModel
	settled []string
}

func (f *fakeMirror) Record(ctx context.Context, userAddress, resource string, durationSeconds int64) error {
	f.rows = append(f.rows, models.AccessRequestModel{
		UserAddress:     userAddress,
		Resource:        resource,
		DurationSeconds: durationSeconds,
	})
	return nil
}

func (f *fakeMirror) Pending(ctx context.Context) ([]models.AccessRequestModel, error) {
	return append([]models.AccessRequestModel(nil), f.rows...), nil
}

func (f *fakeMirror) Settle(ctx context.Context, userAddress string) error {
	f.settled = append(f.settled, userAddress)
	kept := f.rows[:0]
	for _, r := range f.rows {
		if r.UserAddress != userAddress {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func storedToken(id int64, resource string, expiresAt time.Time) models.TokenModel {
	return models.TokenModel{
		TokenID:     id,
		UserAddress: "0xabc",
		Resource:    resource,
		Status:      models.TokenActive,
		ExpiresAt:   expiresAt.UnixMilli(),
	}
}

func TestPollOverwritesLocalClock(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	az := &fakeAuthz{statuses: []authz.StatusResult{
		{TokenID: 1, Status: "Active", RemainingSeconds: 100},
	}}
	// The store thinks 30 seconds remain; the service says 100.
	store := &fakeStore{tokens: []models.TokenModel{storedToken(1, "gas_1", base.Add(30 * time.Second))}}
	svc := NewService(az, store, nil, zap.NewNop())
	svc.now = fixedClock(base)

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := svc.PollStatuses(context.Background()); err != nil {
		t.Fatal(err)
	}

	// The authoritative answer replaces the local clock outright.
	svc.now = fixedClock(base.Add(40 * time.Second))
	rows := svc.Tokens("")
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if got := rows[0].RemainingSeconds; got != 60 {
		t.Errorf("RemainingSeconds = %d, want 60", got)
	}
}

func TestCountdownBetweenPolls(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{tokens: []models.TokenModel{storedToken(1, "gas_1", base.Add(10 * time.Second))}}
	svc := NewService(&fakeAuthz{}, store, nil, zap.NewNop())
	svc.now = fixedClock(base)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		offset        time.Duration
		wantRemaining int64
		wantStatus    models.TokenStatus
	}{
		{0, 10, models.TokenActive},
		{4 * time.Second, 6, models.TokenActive},
		{10 * time.Second, 0, models.TokenExpired},
		{time.Hour, 0, models.TokenExpired},
	} {
		svc.now = fixedClock(base.Add(tc.offset))
		rows := svc.Tokens("")
		if rows[0].RemainingSeconds != tc.wantRemaining {
			t.Errorf("offset %v: remaining = %d, want %d", tc.offset, rows[0].RemainingSeconds, tc.wantRemaining)
		}
		if rows[0].Status != tc.wantStatus {
			t.Errorf("offset %v: status = %q, want %q", tc.offset, rows[0].Status, tc.wantStatus)
		}
	}
}

func TestPollPersistsTerminalStatuses(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	az := &fakeAuthz{statuses: []authz.StatusResult{
		{TokenID: 1, Status: "Revoked", RemainingSeconds: 0},
		{TokenID: 2, Status: "Active", RemainingSeconds: 50},
	}}
	store := &fakeStore{tokens: []models.TokenModel{
		storedToken(1, "gas_1", base.Add(time.Hour)),
		storedToken(2, "gas_2", base.Add(time.Hour)),
	}}
	svc := NewService(az, store, nil, zap.NewNop())
	svc.now = fixedClock(base)

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := svc.PollStatuses(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := store.updated[1]; got != models.TokenRevoked {
		t.Errorf("token 1 persisted as %q, want Revoked", got)
	}
	if _, ok := store.updated[2]; ok {
		t.Error("active token 2 was written back to the store")
	}
}

func TestPollFailureKeepsView(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	az := &fakeAuthz{statusErr: apperr.Network(errors.New("timeout"), "authorization service unreachable")}
	store := &fakeStore{tokens: []models.TokenModel{storedToken(1, "gas_1", base.Add(time.Minute))}}
	svc := NewService(az, store, nil, zap.NewNop())
	svc.now = fixedClock(base)

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := svc.PollStatuses(context.Background())
	if !apperr.IsNetwork(err) {
		t.Fatalf("err = %v, want network error", err)
	}

	rows := svc.Tokens("")
	if len(rows) != 1 || rows[0].RemainingSeconds != 60 {
		t.Errorf("rows = %+v, want local countdown intact", rows)
	}
}

func TestGrantCommitsAtomically(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	az := &fakeAuthz{grantResult: &authz.GrantResult{TokenID: 42, TxHash: "0xdeadbeef"}}
	store := &fakeStore{}
	svc := NewService(az, store, nil, zap.NewNop())
	svc.now = fixedClock(base)
	svc.requests = []authz.PendingRequest{
		{UserAddress: "0xabc", Resource: "gas_1", DurationSeconds: 60},
		{UserAddress: "0xother", Resource: "gas_2", DurationSeconds: 60},
	}

	tok, err := svc.Grant(context.Background(), "0xabc", "gas_1", 60)
	if err != nil {
		t.Fatal(err)
	}
	if tok.TokenID != 42 || tok.TxHash != "0xdeadbeef" {
		t.Errorf("token = %+v", tok)
	}
	if tok.ExpiresAt != base.UnixMilli()+60*1000 {
		t.Errorf("ExpiresAt = %d, want issuedAt + 60s", tok.ExpiresAt)
	}
	if len(store.created) != 1 {
		t.Fatalf("store writes = %d, want 1", len(store.created))
	}

	// The grant settles that principal's pending requests only.
	reqs := svc.Requests(context.Background())
	if len(reqs) != 1 || reqs[0].UserAddress != "0xother" {
		t.Errorf("requests = %+v, want only 0xother", reqs)
	}
}

func TestGrantFailureLeavesNoPartialState(t *testing.T) {
	az := &fakeAuthz{grantErr: apperr.Authorization("request denied")}
	store := &fakeStore{}
	svc := NewService(az, store, nil, zap.NewNop())

	_, err := svc.Grant(context.Background(), "0xabc", "gas_1", 60)
	if !apperr.IsAuthorization(err) {
		t.Fatalf("err = %v, want authorization error", err)
	}
	if len(store.created) != 0 {
		t.Error("failed grant wrote to the store")
	}
	if len(svc.Tokens("")) != 0 {
		t.Error("failed grant mutated the view")
	}
}

func TestGrantValidation(t *testing.T) {
	az := &fakeAuthz{}
	svc := NewService(az, &fakeStore{}, nil, zap.NewNop())

	for _, tc := range []struct {
		name              string
		addr, resource    string
		duration          int64
	}{
		{"empty address", "", "gas_1", 60},
		{"empty resource", "0xabc", "", 60},
		{"zero duration", "0xabc", "gas_1", 0},
		{"negative duration", "0xabc", "gas_1", -5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Grant(context.Background(), tc.addr, tc.resource, tc.duration)
			if !apperr.IsValidation(err) {
				t.Errorf("err = %v, want validation error", err)
			}
		})
	}
	if az.grantCalls != 0 {
		t.Errorf("grant calls = %d, want 0 for invalid input", az.grantCalls)
	}
}

func TestParseTokenID(t *testing.T) {
	for _, tc := range []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"42", 42, false},
		{" 7 ", 7, false},
		{"abc", 0, true},
		{"-1", 0, true},
		{"1.5", 0, true},
		{"", 0, true},
	} {
		got, err := ParseTokenID(tc.raw)
		if tc.wantErr {
			if !apperr.IsValidation(err) {
				t.Errorf("ParseTokenID(%q): err = %v, want validation error", tc.raw, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseTokenID(%q) = %d, %v, want %d", tc.raw, got, err, tc.want)
		}
	}
}

func TestRevokeInvalidInputNeverTouchesNetwork(t *testing.T) {
	az := &fakeAuthz{}
	svc := NewService(az, &fakeStore{}, nil, zap.NewNop())

	if _, err := ParseTokenID("abc"); !apperr.IsValidation(err) {
		t.Fatal("expected validation error")
	}
	if _, err := svc.Revoke(context.Background(), -3); !apperr.IsValidation(err) {
		t.Fatal("expected validation error")
	}
	if az.revokeCalls != 0 {
		t.Errorf("revoke calls = %d, want 0", az.revokeCalls)
	}
}

func TestRevokeDoesNotMutateView(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	az := &fakeAuthz{}
	store := &fakeStore{tokens: []models.TokenModel{storedToken(1, "gas_1", base.Add(time.Hour))}}
	svc := NewService(az, store, nil, zap.NewNop())
	svc.now = fixedClock(base)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Revoke(context.Background(), 1); err != nil {
		t.Fatal(err)
	}

	rows := svc.Tokens("")
	if rows[0].Status != models.TokenActive {
		t.Errorf("status = %q, want Active until the next poll confirms", rows[0].Status)
	}
}

func TestRequestsMergeMirroredRows(t *testing.T) {
	mirror := &fakeMirror{}
	svc := NewService(&fakeAuthz{}, &fakeStore{}, mirror, zap.NewNop())
	svc.requests = []authz.PendingRequest{
		{UserAddress: "0xabc", Resource: "gas_1", DurationSeconds: 60},
	}

	// One row duplicates the polled queue, one arrived after the poll.
	_ = mirror.Record(context.Background(), "0xabc", "gas_1", 60)
	_ = mirror.Record(context.Background(), "0xnew", "gas_2", 120)

	reqs := svc.Requests(context.Background())
	if len(reqs) != 2 {
		t.Fatalf("requests = %+v, want polled row plus the unseen mirrored one", reqs)
	}
	if reqs[1].UserAddress != "0xnew" || reqs[1].Resource != "gas_2" || reqs[1].DurationSeconds != 120 {
		t.Errorf("mirrored row = %+v", reqs[1])
	}
}

func TestGrantSettlesMirroredRequests(t *testing.T) {
	az := &fakeAuthz{grantResult: &authz.GrantResult{TokenID: 9, TxHash: "0xtx"}}
	mirror := &fakeMirror{}
	svc := NewService(az, &fakeStore{}, mirror, zap.NewNop())
	_ = mirror.Record(context.Background(), "0xabc", "gas_1", 60)
	_ = mirror.Record(context.Background(), "0xother", "gas_2", 60)

	if _, err := svc.Grant(context.Background(), "0xabc", "gas_1", 60); err != nil {
		t.Fatal(err)
	}

	if len(mirror.settled) != 1 || mirror.settled[0] != "0xabc" {
		t.Errorf("settled = %v, want [0xabc]", mirror.settled)
	}
	reqs := svc.Requests(context.Background())
	if len(reqs) != 1 || reqs[0].UserAddress != "0xother" {
		t.Errorf("requests after grant = %+v, want only 0xother", reqs)
	}
}

func TestTokensFilterWithoutRefetch(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{tokens: []models.TokenModel{
		storedToken(1, "gas_1", base.Add(time.Hour)),
		storedToken(2, "gas_2", base.Add(time.Hour)),
		storedToken(3, "gas_1", base.Add(time.Hour)),
	}}
	az := &fakeAuthz{}
	svc := NewService(az, store, nil, zap.NewNop())
	svc.now = fixedClock(base)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	rows := svc.Tokens("gas_1")
	if len(rows) != 2 {
		t.Errorf("filtered rows = %d, want 2", len(rows))
	}
	if az.statusCalls != 0 {
		t.Errorf("filter triggered %d network calls, want 0", az.statusCalls)
	}
}
