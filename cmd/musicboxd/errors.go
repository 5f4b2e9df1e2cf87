package main

import "errors"

// Error kinds callers are expected to test with errors.Is. Individual sites
// wrap these with context via fmt.Errorf("...: %w", ...).
var (
	// ErrPinUnavailable means a GPIO pin is unknown or already claimed.
	ErrPinUnavailable = errors.New("pin unavailable")

	// ErrHardwareFault means interrupt registration or a pin read failed.
	ErrHardwareFault = errors.New("hardware fault")

	// ErrStorageUnavailable means a playlist directory is missing or
	// unreadable.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConfigInvalid means the configuration failed validation.
	ErrConfigInvalid = errors.New("invalid configuration")

	// ErrPlaybackFailure means the audio backend could not decode or
	// output a track.
	ErrPlaybackFailure = errors.New("playback failure")
)
