package ingest

import (
	"time"

	"github.com/Aman-CERP/amanmem/internal/config"
	amerrors "github.com/Aman-CERP/amanmem/internal/errors"
	"github.com/Aman-CERP/amanmem/internal/state"
)

// RetryPolicy decides when a file is attempted again. It is the only place
// per-file retry decisions are made.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     amerrors.RetryConfig
}

// NewRetryPolicy builds the policy from ingest configuration.
func NewRetryPolicy(cfg config.IngestConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff: amerrors.RetryConfig{
			InitialDelay: cfg.RetryBackoff,
			MaxDelay:     cfg.RetryBackoffMax,
			Multiplier:   2,
		},
	}
}

// Eligible reports whether a file with the given mtime should be attempted
// now. rec is the existing record, or nil.
func (p RetryPolicy) Eligible(rec *state.FileRecord, modifiedAt, now time.Time) bool {
	if rec == nil {
		return true
	}
	if modifiedAt.After(rec.ModifiedAt) {
		return true
	}
	switch rec.Status {
	case state.StatusPending:
		return true
	case state.StatusFailed:
		if !rec.Retryable(p.MaxAttempts) {
			return false
		}
		return rec.NextAttemptAt == nil || !now.Before(*rec.NextAttemptAt)
	default:
		return false
	}
}

// Exhausted reports whether retryCount failures use up every attempt.
func (p RetryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxAttempts
}

// NextAttempt returns when a file that has now failed retryCount times may
// run again. The zero time means never.
func (p RetryPolicy) NextAttempt(retryCount int, err error, now time.Time) time.Time {
	if p.Exhausted(retryCount) || amerrors.Reason(err) == amerrors.EmptyChunkSetReason {
		return time.Time{}
	}
	return now.Add(p.Backoff.Backoff(retryCount))
}
