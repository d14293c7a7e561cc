package supervisor

import "errors"

var (
	// ErrUnknownApp is returned for names that are not registered.
	ErrUnknownApp = errors.New("unknown app")
	// ErrAppExists is returned by Add for a name that is already registered.
	ErrAppExists = errors.New("app already registered")
	// ErrAlreadyRunning is returned by Start when the app has a live process.
	ErrAlreadyRunning = errors.New("app is already running")
	// ErrShuttingDown is returned once ShutdownAll has begun.
	ErrShuttingDown = errors.New("supervisor is shutting down")

	errUnitClosed = errors.New("unit closed")
)
