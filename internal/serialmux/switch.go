package serialmux

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// ErrNoLink is returned by Switch when no mux is attached.
var ErrNoLink = errors.New("no serial link attached")

// Switch forwards to whichever mux is currently attached. Routes registered
// on a Switch keep working across reconnects.
type Switch struct {
	mu  sync.RWMutex
	cur SerialMuxInterface
}

// Set attaches m, or detaches when m is nil.
func (s *Switch) Set(m SerialMuxInterface) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = m
}

func (s *Switch) current() SerialMuxInterface {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Subscribe subscribes to the attached mux. Without one the returned channel
// is already closed.
func (s *Switch) Subscribe() (string, chan []byte) {
	if m := s.current(); m != nil {
		return m.Subscribe()
	}
	ch := make(chan []byte)
	close(ch)
	return randomID(), ch
}

func (s *Switch) Unsubscribe(id string) {
	if m := s.current(); m != nil {
		m.Unsubscribe(id)
	}
}

func (s *Switch) SendCommand(command string) error {
	m := s.current()
	if m == nil {
		return ErrNoLink
	}
	return m.SendCommand(command)
}

func (s *Switch) Monitor(ctx context.Context, handle func([]byte)) error {
	m := s.current()
	if m == nil {
		return ErrNoLink
	}
	return m.Monitor(ctx, handle)
}

// Close closes and detaches the attached mux.
func (s *Switch) Close() error {
	s.mu.Lock()
	m := s.cur
	s.cur = nil
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.Close()
}

func (s *Switch) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}
