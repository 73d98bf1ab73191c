package orchestrator

import "sync"

// CancelToken is a cooperative cancellation flag. The orchestrator checks it
// at batch boundaries; in-flight model calls are never interrupted.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken creates a token that has not been cancelled.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel requests cancellation. It reports whether this call set the flag.
func (t *CancelToken) Cancel() bool {
	set := false
	t.once.Do(func() {
		close(t.done)
		set = true
	})
	return set
}

// Cancelled reports whether cancellation was requested.
func (t *CancelToken) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed when cancellation is requested.
func (t *CancelToken) Done() <-chan struct{} {
	return t.done
}

// Err returns ErrCancelled once cancellation was requested, nil otherwise.
func (t *CancelToken) Err() error {
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}
