package ent

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrNoMatchingAuthority = errors.New("no matching authority")
	ErrChannelSend         = errors.New("channel send failed")
	ErrNoDeliveryAddress   = errors.New("no delivery address")
	ErrChainExhausted      = errors.New("escalation chain exhausted")
	ErrPersistence         = errors.New("persistence failure")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrInvalidAvailability = errors.New("invalid availability")
	ErrInvalidReport       = errors.New("invalid report")
)
