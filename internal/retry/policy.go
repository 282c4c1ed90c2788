// Package retry decides which failed messages are worth another attempt
// and when.
package retry

import (
	"sort"
	"time"

	"github.com/sendbridge/delivery/internal/model"
)

// Policy is the configured backoff table plus the set of provider error
// codes that will never succeed on retry. Max attempts equals the table
// length.
type Policy struct {
	backoff   []time.Duration
	permanent map[string]struct{}
}

func NewPolicy(backoff []time.Duration, permanentCodes []string) Policy {
	perm := make(map[string]struct{}, len(permanentCodes))
	for _, c := range permanentCodes {
		perm[c] = struct{}{}
	}
	return Policy{backoff: backoff, permanent: perm}
}

// DefaultPolicy waits 5, 15 and 60 minutes between attempts. The permanent
// codes cover invalid destinations, recipients who blocked the channel and
// compliance blocks.
func DefaultPolicy() Policy {
	return NewPolicy(
		[]time.Duration{5 * time.Minute, 15 * time.Minute, 60 * time.Minute},
		[]string{"invalid_destination", "recipient_blocked", "compliance_block"},
	)
}

func (p Policy) MaxAttempts() int {
	return len(p.backoff)
}

// Delay returns the wait before attempt retryCount+1. Counts past the end
// of the table reuse the last entry.
func (p Policy) Delay(retryCount int) time.Duration {
	if len(p.backoff) == 0 {
		return 0
	}
	if retryCount >= len(p.backoff) {
		retryCount = len(p.backoff) - 1
	}
	if retryCount < 0 {
		retryCount = 0
	}
	return p.backoff[retryCount]
}

func (p Policy) IsPermanent(code *string) bool {
	if code == nil {
		return false
	}
	_, ok := p.permanent[*code]
	return ok
}

// PermanentCodes returns the permanent set in stable order, for use in
// exclusion queries.
func (p Policy) PermanentCodes() []string {
	out := make([]string, 0, len(p.permanent))
	for c := range p.permanent {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Eligible reports whether m may be retried at instant now: it must be in a
// failure state, below the attempt cap, not permanently failed, and past
// its backoff window measured from the last attempt (or creation).
func (p Policy) Eligible(m model.Message, now time.Time) bool {
	if !m.DeliveryStatus.IsFailure() {
		return false
	}
	if m.RetryCount >= p.MaxAttempts() {
		return false
	}
	if p.IsPermanent(m.ErrorCode) {
		return false
	}
	return now.Sub(m.LastActivity()) >= p.Delay(m.RetryCount)
}
