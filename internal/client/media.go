package client

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

// ErrMediaAccessDenied means capture device access was refused. Fatal to call
// initiation; surfaced to the user and never auto-retried.
var ErrMediaAccessDenied = errors.New("media access denied")

// LocalMedia is the call-scoped capture. Its tracks are shared read-only
// across every session in the call; only the owner may stop them, so closing
// one session never silences the others.
type LocalMedia struct {
	Tracks []webrtc.TrackLocal

	stop func()
	once sync.Once
}

func NewLocalMedia(tracks []webrtc.TrackLocal, stop func()) *LocalMedia {
	return &LocalMedia{Tracks: tracks, stop: stop}
}

// Stop releases the capture. Idempotent.
func (m *LocalMedia) Stop() {
	m.once.Do(func() {
		if m.stop != nil {
			m.stop()
		}
	})
}

// Capture acquires the local media for a call. Acquire may block until the
// user decides on device permission; cancel ctx to abandon the wait.
type Capture interface {
	Acquire(ctx context.Context) (*LocalMedia, error)
}

// StaticCapture serves pre-built tracks; used by headless clients and tests.
type StaticCapture struct {
	Tracks []webrtc.TrackLocal
	Err    error
}

func (s StaticCapture) Acquire(ctx context.Context) (*LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return NewLocalMedia(s.Tracks, nil), nil
}
