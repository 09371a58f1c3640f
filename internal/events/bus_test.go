package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perpet99/UWB-AOA-with-Display-STM32F103C8T6/internal/monitoring"
)

func muteLogs(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

func TestBusFanout(t *testing.T) {
	bus := NewBus()
	id1, ch1 := bus.Subscribe()
	_, ch2 := bus.Subscribe()

	var sunk []Kind
	bus.AddSink(SinkFunc(func(e Event) { sunk = append(sunk, e.Kind) }))

	bus.Publish(Event{Kind: StatusText, Data: Status{Text: "hello"}})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			assert.Equal(t, StatusText, e.Kind)
			assert.Equal(t, Status{Text: "hello"}, e.Data)
		default:
			t.Fatal("subscriber did not receive event")
		}
	}
	assert.Equal(t, []Kind{StatusText}, sunk)

	bus.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open)
	bus.Unsubscribe(id1)
}

func TestBusDoesNotBlockOnSlowSubscriber(t *testing.T) {
	muteLogs(t)

	bus := NewBus()
	_, ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultBuffer+10; i++ {
			bus.Publish(Event{Kind: PositionUpdate})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked")
	}
	assert.Equal(t, uint64(10), bus.Dropped())
	assert.Len(t, ch, DefaultBuffer)

	bus.Close()
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return f.err
}

func TestNATSSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewNATSSink(pub, "")
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sink.Publish(Event{Kind: PositionUpdate, Time: ts, Data: Position{ID64: "000000000000000a", ID16: 1, X: 2.5, Y: -0.5}})

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "uwb.events.position_update", pub.subjects[0])

	var got struct {
		Kind Kind     `json:"kind"`
		Time string   `json:"time"`
		Data Position `json:"data"`
	}
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, PositionUpdate, got.Kind)
	assert.Equal(t, 2.5, got.Data.X)
	assert.Equal(t, -0.5, got.Data.Y)
}

func TestNATSSinkLogsPublishErrors(t *testing.T) {
	muteLogs(t)
	var logged []string
	monitoring.SetLogger(func(format string, v ...interface{}) { logged = append(logged, format) })

	sink := NewNATSSink(&fakePublisher{err: errors.New("boom")}, "custom")
	assert.Equal(t, "custom.link_closed", sink.Subject(LinkClosed))
	sink.Publish(Event{Kind: LinkClosed})
	assert.Len(t, logged, 1)
}
