package token

import (
	"time"

	"github.com/rakshanetra/core/internal/models"
)

// Verdict is the outcome of resolving a token against a clock.
type Verdict struct {
	Valid            bool  `json:"valid"`
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// Resolve computes a token's verdict at the given instant. Remaining time is
// clamped at zero and floored to whole seconds. The stored status and the
// optional authoritative status can only narrow validity; neither can make an
// expired token valid again.
func Resolve(t *models.TokenModel, now time.Time, authoritative *models.TokenStatus) Verdict {
	ms := t.ExpiresAt - now.UnixMilli()
	var remaining int64
	if ms > 0 {
		remaining = ms / 1000
	}

	valid := remaining > 0 && t.Status == models.TokenActive
	if authoritative != nil && *authoritative != models.TokenActive {
		valid = false
	}

	return Verdict{Valid: valid, RemainingSeconds: remaining}
}
