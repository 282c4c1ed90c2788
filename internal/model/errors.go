package model

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrGroupNotFound = errors.New("target group not found")
	ErrNoRecipients  = errors.New("broadcast resolved to no recipients")
)
