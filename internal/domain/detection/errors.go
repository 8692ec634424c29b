package detection

import "errors"

var (
	// ErrDeviceNotFound indicates a missing device by stable ID.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrAlertNotFound indicates a missing alert by ID.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrInvalidAction indicates an alert action outside the known set.
	ErrInvalidAction = errors.New("invalid alert action")
	// ErrInvalidObservation indicates an observation without identifier or radio type.
	ErrInvalidObservation = errors.New("invalid observation")
	// ErrInvalidPosition indicates coordinates outside the valid range.
	ErrInvalidPosition = errors.New("invalid position")
	// ErrInvalidSettings indicates a settings payload that cannot be applied.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrNotRunning indicates the pipeline is stopped and observations are dropped.
	ErrNotRunning = errors.New("detection pipeline not running")
)
