package capture

import "errors"

// Sentinel errors for capture conditions.
var (
	// ErrLockTimeout is returned when the device lock was not obtained in time.
	ErrLockTimeout = errors.New("capture: lock wait timed out")

	// ErrNoFrame is returned when the device produced no frame.
	ErrNoFrame = errors.New("capture: no frame available")

	// ErrClosed is returned when the device has been closed.
	ErrClosed = errors.New("capture: device closed")

	// ErrFrameNotOwned is returned when a frame is released twice or by the wrong device.
	ErrFrameNotOwned = errors.New("capture: frame not owned by device")

	// ErrUnknownBackend is returned by NewDevice for unsupported backends.
	ErrUnknownBackend = errors.New("capture: unknown backend")
)
