package main

import "sync"

// wakeTransport is the in-process notification transport: each target is a
// channel holding at most one pending wakeup.
type wakeTransport struct {
	mu    sync.RWMutex
	chans map[int64]chan struct{}
}

func newWakeTransport() *wakeTransport {
	return &wakeTransport{chans: make(map[int64]chan struct{})}
}

func (w *wakeTransport) add(target int64) <-chan struct{} {
	ch := make(chan struct{}, 1)
	w.mu.Lock()
	w.chans[target] = ch
	w.mu.Unlock()
	return ch
}

// Post never blocks; a wakeup already pending absorbs this one.
func (w *wakeTransport) Post(target, _ int64) bool {
	w.mu.RLock()
	ch, ok := w.chans[target]
	w.mu.RUnlock()
	if !ok {
		return false
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return true
}
