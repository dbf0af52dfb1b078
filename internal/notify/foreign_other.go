//go:build !(darwin || freebsd || linux || windows)

package notify

import (
	"fmt"
	"runtime"
)

// NewForeignTransport is not supported on this platform.
func NewForeignTransport(fn uintptr) (Transport, error) {
	return nil, fmt.Errorf("%w: foreign calls unsupported on %s", ErrTransportUnavailable, runtime.GOOS)
}
