// Package testutil provides shared test helpers: a command recorder standing
// in for the node link, frame builders, and HTTP assertions.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/frame"
)

// RecordingSender records every command line instead of writing it to a node.
// Err, when set, is returned from every SendCommand after recording.
type RecordingSender struct {
	mu   sync.Mutex
	cmds []string
	Err  error
}

// SendCommand records cmd.
func (s *RecordingSender) SendCommand(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return s.Err
}

// Take returns and forgets the commands sent so far.
func (s *RecordingSender) Take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.cmds
	s.cmds = nil
	return out
}

// Frames encodes each JSON payload as a JS frame and concatenates them.
func Frames(t testing.TB, payloads ...string) []byte {
	t.Helper()
	var out []byte
	for _, p := range payloads {
		b, err := frame.Encode([]byte(p))
		if err != nil {
			t.Fatalf("encode %q: %v", p, err)
		}
		out = append(out, b...)
	}
	return out
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// Serve runs req against h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
