package quota

import (
	"time"

	"challenge-system/internal/models"
)

const (
	// InitialGrant is the quota of a freshly created record.
	InitialGrant = 25
	// DailyGrant replaces whatever is left once ResetWindow has elapsed. It is flat,
	// not additive, and deliberately lower than InitialGrant.
	DailyGrant  = 10
	ResetWindow = 24 * time.Hour
)

// ApplyReset applies the reset rules to q in place and reports whether q changed
// and must be persisted.
func ApplyReset(q *models.ChallengeQuota, now time.Time) bool {
	changed := false
	if q.RemainingQuota < 0 {
		q.RemainingQuota = 0
		changed = true
	}

	if q.LastResetDate.IsZero() {
		q.LastResetDate = now
		return true
	}

	if now.Sub(q.LastResetDate) > ResetWindow {
		q.RemainingQuota = DailyGrant
		q.LastResetDate = now
		return true
	}

	return changed
}
