package model

import "time"

type BroadcastStatus string

const (
	BroadcastPending    BroadcastStatus = "pending"
	BroadcastProcessing BroadcastStatus = "processing"
	BroadcastCompleted  BroadcastStatus = "completed"
	BroadcastFailed     BroadcastStatus = "failed"
)

type Broadcast struct {
	ID          int64
	Body        string
	Status      BroadcastStatus
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Recipient joins one Broadcast to one Customer. (broadcast_id, customer_id)
// is unique: a customer in several target groups gets exactly one row.
type Recipient struct {
	ID             int64
	BroadcastID    int64
	CustomerID     int64
	Phone          string
	DisplayName    string
	DeliveryStatus DeliveryStatus
	TemplateRef    *string
	ProviderRef    *string
	RetryCount     int
	ErrorMessage   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BroadcastProgress aggregates per-recipient outcomes for inspection.
type BroadcastProgress struct {
	Total   int
	Pending int
	Sent    int
	Failed  int
}
