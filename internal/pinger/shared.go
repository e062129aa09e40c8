package pinger

import (
	"context"
	"sync"

	"github.com/homiodev/addon-ipscanner/internal/scanning"
)

// Shared is a reference-counted pinger used by every ping-based fetcher of
// a scan session. The pinger is created by the first Acquire and closed by
// the last Release.
type Shared struct {
	create func() (Pinger, error)

	mu     sync.Mutex
	pinger Pinger
	users  int
}

// NewShared wraps a constructor, usually Registry.NewSelected.
func NewShared(create func() (Pinger, error)) *Shared {
	return &Shared{create: create}
}

// Acquire registers a user, creating the pinger if needed.
func (s *Shared) Acquire() (Pinger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinger == nil {
		p, err := s.create()
		if err != nil {
			return nil, err
		}
		s.pinger = p
		s.users = 0
	}
	s.users++
	return s.pinger, nil
}

// Release unregisters a user and closes the pinger after the last one.
func (s *Shared) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pinger == nil {
		return nil
	}
	s.users--
	if s.users > 0 {
		return nil
	}
	p := s.pinger
	s.pinger = nil
	s.users = 0
	return p.Close()
}

// Users returns the number of current users.
func (s *Shared) Users() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users
}

// Ping pings through the acquired pinger.
func (s *Shared) Ping(ctx context.Context, subject *scanning.Subject, count int) (*scanning.PingResult, error) {
	s.mu.Lock()
	p := s.pinger
	s.mu.Unlock()
	if p == nil {
		return nil, ErrClosed
	}
	return p.Ping(ctx, subject, count)
}
