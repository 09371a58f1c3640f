package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/monitoring"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/serialmux"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/timeutil"
	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/tracker"
)

// Link is the part of the tracker the link supervisor drives.
type Link interface {
	LinkUp(sender tracker.CommandSender)
	LinkDown()
	LinkFailed(err error)
	HandleBytes(chunk []byte)
}

// opener opens the node transport.
type opener func() (serialmux.SerialMuxInterface, error)

type linkOptions struct {
	dev     bool
	fixture string
	port    string
	baud    int
}

// newOpener picks the transport: fixture replay, a port from factory, or none.
func newOpener(o linkOptions, factory serialmux.SerialPortFactory) (opener, error) {
	switch {
	case o.dev:
		fixture, err := loadFixture(o.fixture)
		if err != nil {
			return nil, err
		}
		return func() (serialmux.SerialMuxInterface, error) {
			return serialmux.NewMockSerialMux(fixture, serialmux.DefaultReplayInterval), nil
		}, nil
	case o.port == "":
		return func() (serialmux.SerialMuxInterface, error) {
			return serialmux.NewDisabledSerialMux(), nil
		}, nil
	}

	mode, err := serialmux.PortOptions{BaudRate: o.baud}.PortMode()
	if err != nil {
		return nil, err
	}
	return func() (serialmux.SerialMuxInterface, error) {
		p, err := factory.Open(o.port, mode)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", o.port, err)
		}
		monitoring.Logf("opened %s at %d baud", o.port, mode.BaudRate)
		return serialmux.NewSerialMux(p), nil
	}, nil
}

// runLink keeps one transport open at a time, feeding every chunk to the
// tracker, until ctx is cancelled. A lost or unopenable transport is retried
// after retry; with retry <= 0 the first failure is returned.
func runLink(ctx context.Context, tr Link, open opener, sw *serialmux.Switch, clock timeutil.Clock, retry time.Duration) error {
	for {
		err := runOnce(ctx, tr, open, sw)
		if ctx.Err() != nil {
			return nil
		}
		if retry <= 0 {
			return err
		}
		monitoring.Logf("link: %v; retrying in %s", err, retry)

		timer := clock.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C():
		}
	}
}

var errLinkEnded = errors.New("serial link ended")

func runOnce(ctx context.Context, tr Link, open opener, sw *serialmux.Switch) error {
	m, err := open()
	if err != nil {
		tr.LinkFailed(err)
		return err
	}
	sw.Set(m)
	tr.LinkUp(m)

	err = m.Monitor(ctx, tr.HandleBytes)

	tr.LinkDown()
	sw.Set(nil)
	if cerr := m.Close(); cerr != nil {
		monitoring.Logf("link: close: %v", cerr)
	}
	if err == nil {
		err = errLinkEnded
	}
	return err
}
