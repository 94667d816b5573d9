// Package chflow provides context-aware helpers for sending to and receiving
// from channels, so pipeline stages stop as soon as their context is done.
package chflow

import "context"

// Receive waits for a value from ch. ok is false when ctx is done first or ch
// is closed.
func Receive[T any](ctx context.Context, ch <-chan T) (T, bool) {
	var data T
	select {
	case <-ctx.Done():
		return data, false
	case data, ok := <-ch:
		return data, ok
	}
}

// Send delivers data on ch unless ctx is done first. It reports whether the
// value was sent.
func Send[T any](ctx context.Context, ch chan<- T, data T) bool {
	select {
	case <-ctx.Done():
		return false
	case ch <- data:
		return true
	}
}
