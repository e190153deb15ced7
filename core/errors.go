package core

import "errors"

var (
	ErrInvalidTask        = errors.New("task id out of range")
	ErrProtocolViolation  = errors.New("protocol violation: slot not empty")
	ErrSlotBusy           = errors.New("slot still held by peer from an abandoned request")
	ErrStarved            = errors.New("request not completed by peer")
	ErrCorruptPayload     = errors.New("request payload failed checksum")
	ErrNotRequested       = errors.New("slot has no pending request")
	ErrNotInProgress      = errors.New("slot not claimed by server")
	ErrRegionTooSmall     = errors.New("shared region too small for slot table")
	ErrAlreadyInitialized = errors.New("slot table already initialized")
	ErrNotInitialized     = errors.New("slot table not initialized")
	ErrLayoutMismatch     = errors.New("slot table layout mismatch")
)
