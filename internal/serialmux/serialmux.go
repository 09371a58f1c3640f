// Serialmux provides an abstraction over the serial link to a PDOA node. One
// handler receives every byte read from the port in order, any number of
// debug subscribers receive best-effort copies, and commands are written as
// CRLF-terminated lines.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// ErrClosed is returned by SendCommand after Close.
var ErrClosed = errors.New("serial mux closed")

// CommandTerminator ends every line written to the node.
const CommandTerminator = "\r\n"

// ReadChunkSize is the read buffer handed to the port on every Read call.
const ReadChunkSize = 4096

// subscriberBuffer is the per-subscriber channel depth for the debug tail.
const subscriberBuffer = 64

var sendCommandTemplate = template.Must(template.New("send-command").Parse(`<!doctype html>
<html><head><title>send command</title></head>
<body>
<form method="post" action="send-command-api">
<input name="command" placeholder="getKList" autofocus>
<button type="submit">send</button>
</form>
<pre id="tail"></pre>
<script>
const tail = document.getElementById("tail");
const es = new EventSource("tail");
es.onmessage = (e) => { tail.textContent += JSON.parse(e.data) + "\n"; };
</script>
</body></html>
`))

// SerialMux is a generic serial port multiplexer. Monitor feeds a single
// lossless handler and fans chunks out to subscribers without blocking.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel receiving copies of raw chunks read from
	// the port. Slow subscribers miss chunks. The id is used to unsubscribe.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided command line to the serial port.
	SendCommand(string) error
	// Monitor reads from the serial port until ctx is done or the port fails,
	// calling handle with every chunk in stream order.
	Monitor(ctx context.Context, handle func([]byte)) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan []byte),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// SendCommand writes command followed by CRLF. Commands already carrying a
// line ending are trimmed first so the node never sees a blank line.
func (s *SerialMux[T]) SendCommand(command string) error {
	if s.isClosing() {
		return ErrClosed
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	line := strings.TrimRight(command, "\r\n") + CommandTerminator
	n, err := s.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads the serial port and passes every chunk to handle, then to
// subscribers. It returns nil on EOF or Close, ctx.Err() on cancellation and
// the read error otherwise.
func (s *SerialMux[T]) Monitor(ctx context.Context, handle func([]byte)) error {
	chunkChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// The blocking Read runs in its own goroutine so the loop below can
	// observe cancellation.
	go func() {
		defer close(chunkChan)
		buf := make([]byte, ReadChunkSize)
		for ctx.Err() == nil {
			n, err := s.port.Read(buf)
			if n > 0 {
				select {
				case chunkChan <- bytes.Clone(buf[:n]):
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErrChan <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk, ok := <-chunkChan:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				select {
				case err := <-readErrChan:
					if s.isClosing() {
						return nil
					}
					return err
				default:
					return nil
				}
			}
			if s.isClosing() {
				return nil
			}

			if handle != nil {
				handle(chunk)
			}

			s.subscriberMu.Lock()
			for _, ch := range s.subscribers {
				select {
				case ch <- bytes.Clone(chunk):
				default:
					// if the channel is full skip so as not to block the link
				}
			}
			s.subscriberMu.Unlock()
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

// attachAdminRoutes registers the send-command page, its API and the SSE tail
// for any mux implementation.
func attachAdminRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("send-command", "send a command to the node", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.Copy(w, buf)
	})

	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// Server-Sent Events carrying each raw chunk as a JSON string.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case chunk, ok := <-c:
				if !ok {
					return
				}
				data, err := json.Marshal(string(chunk))
				if err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
