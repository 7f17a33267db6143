// Package camera abstracts a live video source that can yield still frames.
package camera

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Frame once the stream has been stopped.
var ErrStopped = errors.New("camera: stream stopped")

// Frame is a single still grabbed from a stream, encoded as JPEG.
type Frame struct {
	JPEG   []byte
	Width  int
	Height int
}

// Camera opens live streams. Open blocks until the device (and any
// permission prompt) has answered.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open camera session. Stop releases every track and is safe
// to call more than once.
type Stream interface {
	Frame(ctx context.Context) (Frame, error)
	Stop() error
}

// stopOnce turns an arbitrary release function into an idempotent Stop.
type stopOnce struct {
	once sync.Once
	fn   func() error
	err  error
}

func (s *stopOnce) Stop() error {
	s.once.Do(func() {
		if s.fn != nil {
			s.err = s.fn()
		}
	})
	return s.err
}
