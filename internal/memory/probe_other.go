//go:build !linux && !darwin

package memory

import (
	"errors"
	"runtime"
)

// probe has no system source on this platform; callers degrade gracefully.
func probe() (totalMB, availableMB int, err error) {
	return 0, 0, errors.New("memory probe not supported on " + runtime.GOOS)
}
