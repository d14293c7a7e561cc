package process

import (
	"errors"
	"fmt"
)

// ErrShutdownTimeout reports that a process ignored the graceful termination
// signal for the whole grace period and had to be killed.
var ErrShutdownTimeout = errors.New("graceful stop timed out")

// SpawnError reports that an app could not be started: the executable or
// interpreter was not found, or exec itself failed.
type SpawnError struct {
	App  string
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("spawn %s (%s): %v", e.App, e.Path, e.Err)
	}
	return fmt.Sprintf("spawn %s: %v", e.App, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err is or wraps a *SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}
