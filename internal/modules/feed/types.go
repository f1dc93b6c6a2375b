package feed

import (
	"context"
	"time"

	"github.com/rakshanetra/core/internal/models"
)

// Channel is the Redis pub/sub channel carrying token store deltas.
const Channel = "rn:tokens:feed"

// Kind classifies a token store delta.
type Kind string

const (
	KindAdded    Kind = "added"
	KindModified Kind = "modified"
	KindRemoved  Kind = "removed"
)

// Delta is one incremental change to the token store, fanned out to every
// subscriber. The full record rides along so consumers never have to read
// back from the store.
type Delta struct {
	Kind  Kind              `json:"kind"`
	Token models.TokenModel `json:"token"`
	At    time.Time         `json:"at"`
}

// Source is a cancellable stream of token deltas, independent of the store
// implementation backing it.
type Source interface {
	// Subscribe returns a delta channel and a cancel function. The channel
	// closes after cancel or when ctx is done. Cancel is safe to call more
	// than once.
	Subscribe(ctx context.Context) (<-chan Delta, func(), error)
}

// Handlers receives filtered per-principal notifications.
type Handlers struct {
	// OnGranted fires at most once per token id per subscription, and only
	// for tokens issued within the grace window (a just-granted token, as
	// opposed to a pre-existing one replayed on reconnect).
	OnGranted func(models.TokenModel)
	// OnRevokedOrExpired fires whenever a token leaves the Active state or
	// is removed from the store.
	OnRevokedOrExpired func(models.TokenModel)
}
