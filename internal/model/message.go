package model

import "time"

type DeliveryStatus string

const (
	StatusPending     DeliveryStatus = "pending"
	StatusQueued      DeliveryStatus = "queued"
	StatusSending     DeliveryStatus = "sending"
	StatusSent        DeliveryStatus = "sent"
	StatusDelivered   DeliveryStatus = "delivered"
	StatusRead        DeliveryStatus = "read"
	StatusFailed      DeliveryStatus = "failed"
	StatusUndelivered DeliveryStatus = "undelivered"
)

// statusRank orders the forward delivery path. Failure states sit outside
// the ranked path and are handled explicitly by CanTransition.
var statusRank = map[DeliveryStatus]int{
	StatusPending:   0,
	StatusQueued:    1,
	StatusSending:   2,
	StatusSent:      3,
	StatusDelivered: 4,
	StatusRead:      5,
}

func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusSending, StatusSent,
		StatusDelivered, StatusRead, StatusFailed, StatusUndelivered:
		return true
	}
	return false
}

func (s DeliveryStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusUndelivered
}

// CanTransition reports whether a message may move from s to next. Forward
// moves may skip intermediate states (providers do not report every step).
// The only backward edge is a failed or undelivered message returning to
// sent after a successful retry.
func (s DeliveryStatus) CanTransition(next DeliveryStatus) bool {
	if s == next {
		return false
	}
	if next.IsFailure() {
		// Read is final; anything earlier can still fail.
		return !s.IsFailure() && s != StatusRead
	}
	if s.IsFailure() {
		return next == StatusSent
	}
	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]
	return okFrom && okTo && to > from
}

type MessageOrigin string

const (
	OriginCustomer MessageOrigin = "customer"
	OriginStaff    MessageOrigin = "staff"
	OriginSystem   MessageOrigin = "system"
)

type Message struct {
	ID             int64
	RecipientID    *int64
	Phone          string
	Body           string
	Origin         MessageOrigin
	DeliveryStatus DeliveryStatus
	ProviderRef    *string
	RetryCount     int
	LastRetryAt    *time.Time
	ErrorCode      *string
	ErrorMessage   *string
	SentAt         *time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LastActivity is the reference point for retry backoff.
func (m Message) LastActivity() time.Time {
	if m.LastRetryAt != nil {
		return *m.LastRetryAt
	}
	return m.CreatedAt
}
