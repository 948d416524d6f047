package domain

import "errors"

var (
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrBalanceNotFound = errors.New("balance not found")
	ErrVersionConflict = errors.New("balance version conflict")
	ErrInvalidUser     = errors.New("user id is required")
)
