package channel

import (
	"context"
	"errors"
	"fmt"
)

// SendResult is what the provider returns on acceptance. ProviderRef is the
// channel's id for the message and keys later status callbacks.
type SendResult struct {
	ProviderRef string
	Status      string
}

// Channel is the outbound side of the external messaging provider.
// Implementations must return a *SendError when the provider rejects the
// submission so callers can classify the failure.
type Channel interface {
	Send(ctx context.Context, to, body string) (SendResult, error)
	SendTemplate(ctx context.Context, to, templateRef string, variables map[string]string) (SendResult, error)
}

// SendError is a provider rejection: the channel was reached but refused
// the message. Code is the provider's error code and feeds the permanent
// error classification.
type SendError struct {
	Code    string
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("channel rejected send (code=%s): %s", e.Code, e.Message)
}

// AsSendError unwraps err into a *SendError if one is present.
func AsSendError(err error) (*SendError, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
