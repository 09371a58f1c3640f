package serialmux

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// ErrDisabled is returned by DisabledSerialMux.SendCommand.
var ErrDisabled = errors.New("serial link disabled")

// DisabledSerialMux is a no-op SerialMux used when no node is attached
// (-port ""). The HTTP API and admin routes still run. Subscribers are tracked
// so their channels close on Unsubscribe or Close and readers unblock during
// shutdown.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan []byte
	closing     bool
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{
		subscribers: make(map[string]chan []byte),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte)

	d.mu.Lock()
	if d.closing {
		// If already closing, return a closed channel so callers don't block.
		close(ch)
		d.mu.Unlock()
		return id, ch
	}
	d.subscribers[id] = ch
	d.mu.Unlock()
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
}

// SendCommand reports ErrDisabled so callers can tell nothing was written.
func (d *DisabledSerialMux) SendCommand(string) error { return ErrDisabled }

func (d *DisabledSerialMux) Monitor(ctx context.Context, _ func([]byte)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return nil
	}
	d.closing = true
	// Close all subscriber channels
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	d.mu.Unlock()
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/serial-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("serial disabled"))
	})
}
