package models

import "github.com/pkg/errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrAuthentication      = errors.New("authentication failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNoOpenPosition      = errors.New("no open position")
	ErrTransientExchange   = errors.New("transient exchange fault")
	ErrPermanent           = errors.New("permanent failure")
)
