package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/ternarybob/outreach/internal/interfaces"
)

// ErrRecordingUnsupported is returned when the browser engine cannot record
var ErrRecordingUnsupported = errors.New("browser engine does not support recording")

// lockedSession releases the account lock when closed
type lockedSession struct {
	interfaces.BrowserSession
	release func()
	once    sync.Once
}

var _ interfaces.RecordingSession = (*lockedSession)(nil)

func (s *lockedSession) Close() error {
	var err error
	s.once.Do(func() {
		err = s.BrowserSession.Close()
		s.release()
	})
	return err
}

func (s *lockedSession) StartRecording(ctx context.Context, dir string) error {
	rec, ok := s.BrowserSession.(interfaces.RecordingSession)
	if !ok {
		return ErrRecordingUnsupported
	}
	return rec.StartRecording(ctx, dir)
}

func (s *lockedSession) StopRecording(ctx context.Context) (string, error) {
	rec, ok := s.BrowserSession.(interfaces.RecordingSession)
	if !ok {
		return "", ErrRecordingUnsupported
	}
	return rec.StopRecording(ctx)
}
