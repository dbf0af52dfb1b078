//go:build darwin || freebsd || linux || windows

package notify

import (
	"fmt"

	"github.com/ebitengine/purego"
)

type foreignTransport struct {
	post func(target, message int64) bool
}

func (f *foreignTransport) Post(target, message int64) bool {
	return f.post(target, message)
}

// NewForeignTransport binds fn, the address of a C function with signature
// bool post(int64_t target, int64_t message), as a Transport. A Dart
// embedder passes Dart_PostInteger_DL here.
func NewForeignTransport(fn uintptr) (Transport, error) {
	if fn == 0 {
		return nil, fmt.Errorf("%w: nil post function", ErrTransportUnavailable)
	}
	t := &foreignTransport{}
	purego.RegisterFunc(&t.post, fn)
	return t, nil
}
