package model

import (
	"testing"
	"time"
)

func TestCanTransition_ForwardPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to DeliveryStatus
		want     bool
	}{
		{StatusPending, StatusQueued, true},
		{StatusPending, StatusSent, true}, // skipped intermediate
		{StatusQueued, StatusSent, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true}, // delivered report missing
		{StatusDelivered, StatusRead, true},
		{StatusDelivered, StatusSent, false},
		{StatusRead, StatusDelivered, false},
		{StatusSent, StatusQueued, false},
		{StatusSent, StatusSent, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanTransition_FailureEdges(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to DeliveryStatus
		want     bool
	}{
		{StatusSent, StatusFailed, true},
		{StatusPending, StatusUndelivered, true},
		{StatusDelivered, StatusFailed, true},
		{StatusRead, StatusFailed, false},
		{StatusFailed, StatusUndelivered, false},
		{StatusUndelivered, StatusFailed, false},

		// The retry path is the only way out of a failure state.
		{StatusFailed, StatusSent, true},
		{StatusUndelivered, StatusSent, true},
		{StatusFailed, StatusDelivered, false},
		{StatusFailed, StatusRead, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestDeliveryStatus_Valid(t *testing.T) {
	t.Parallel()

	for _, s := range []DeliveryStatus{
		StatusPending, StatusQueued, StatusSending, StatusSent,
		StatusDelivered, StatusRead, StatusFailed, StatusUndelivered,
	} {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if DeliveryStatus("bogus").Valid() {
		t.Errorf("expected bogus status to be invalid")
	}
}

func TestMessage_LastActivity(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	retried := created.Add(30 * time.Minute)

	m := Message{CreatedAt: created}
	if got := m.LastActivity(); !got.Equal(created) {
		t.Fatalf("expected created_at, got %v", got)
	}

	m.LastRetryAt = &retried
	if got := m.LastActivity(); !got.Equal(retried) {
		t.Fatalf("expected last_retry_at, got %v", got)
	}
}
