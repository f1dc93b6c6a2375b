package gate

import (
	"context"
	"time"

	"github.com/rakshanetra/core/internal/models"
	"github.com/rakshanetra/core/internal/modules/feed"
	"github.com/rakshanetra/core/internal/modules/telemetry"
)

// State is the session's binding state. A session is Bound to at most one
// token at a time.
type State string

const (
	StateIdle  State = "idle"
	StateBound State = "bound"
)

// TokenSource reads current tokens for bootstrap and rehydration.
type TokenSource interface {
	ActiveTokens(ctx context.Context, principal string, now time.Time) ([]models.TokenModel, error)
}

// Feed delivers per-principal grant and revocation callbacks.
type Feed interface {
	Subscribe(ctx context.Context, principal string, h feed.Handlers) (*feed.Subscription, error)
}

// StreamOpener opens a live telemetry stream for a resource. The returned
// cancel must be idempotent.
type StreamOpener interface {
	OpenStream(ctx context.Context, resource string, fn func(telemetry.Reading)) (func(), error)
}

// NoticeKind classifies user-facing session notices.
type NoticeKind string

const (
	NoticeGranted  NoticeKind = "granted"
	NoticeExpired  NoticeKind = "expired"
	NoticeRevoked  NoticeKind = "revoked"
	NoticeNoAccess NoticeKind = "no_access"
)

// Notice is a session-level event surfaced to the principal's client.
type Notice struct {
	Kind     NoticeKind `json:"kind"`
	Resource string     `json:"resource,omitempty"`
	TokenID  int64      `json:"token_id,omitempty"`
	Message  string     `json:"message"`
	At       time.Time  `json:"at"`
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	Principal        string             `json:"principal"`
	State            State              `json:"state"`
	Resource         string             `json:"resource,omitempty"`
	TokenID          int64              `json:"token_id,omitempty"`
	RemainingSeconds int64              `json:"remaining_seconds"`
	LastReading      *telemetry.Reading `json:"last_reading,omitempty"`
	AsOf             time.Time          `json:"as_of"`
}

type eventKind int

const (
	evGranted eventKind = iota
	evRevokedOrExpired
	evExpiry
	evReading
	evNoAccessCheck
)

type event struct {
	kind    eventKind
	token   models.TokenModel
	tokenID int64
	reading telemetry.Reading
}
