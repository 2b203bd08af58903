// Package sse streams maintenance run events to HTTP clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/linkkeeper/internal/engine"
)

// Event types.
const (
	EventRunCompleted  = "run.completed"
	EventRunFailed     = "run.failed"
	EventGraphUpdated  = "graph.updated"
	EventReportChanged = "report.changed"
)

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ReportState is the payload of report.changed.
type ReportState struct {
	ReportNoteID string `json:"report_note_id"`
	Dead         int    `json:"dead"`
	Ambiguous    int    `json:"ambiguous"`
}

type runOutcome struct {
	result *engine.Result
	err    error
}

// Option configures a Broker.
type Option func(*Broker)

// WithKeepAlive sets how often idle streams receive a comment line.
// Zero disables keep-alives.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) { b.keepAlive = d }
}

// Broker fans run outcomes out to subscribed clients.
//
// One loop goroutine owns the client set, the event sequence, the graph
// throttle and the last known report state. Public methods reach it
// through channels.
type Broker struct {
	graphMin  time.Duration
	keepAlive time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	runCh         chan runOutcome
	countCh       chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker that emits graph.updated at most once per
// graphThrottle.
func NewBroker(graphThrottle time.Duration, opts ...Option) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}
	b := &Broker{
		graphMin:      graphThrottle,
		keepAlive:     15 * time.Second,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		runCh:         make(chan runOutcome, 256),
		countCh:       make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		seq       uint64
		lastGraph time.Time
		lastRun   []byte
		report    *ReportState
	)

	encode := func(e Event) []byte {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			return nil
		}
		seq++
		return []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, e.Type, payload))
	}
	send := func(ch chan []byte, msg []byte) {
		select {
		case ch <- msg:
		default:
			// slow client, drop
		}
	}
	broadcast := func(e Event) []byte {
		msg := encode(e)
		if msg == nil {
			return nil
		}
		for ch := range clients {
			send(ch, msg)
		}
		return msg
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			if lastRun != nil {
				send(ch, lastRun)
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case e := <-b.publishCh:
			broadcast(e)

		case out := <-b.runCh:
			if out.err != nil {
				lastRun = broadcast(Event{Type: EventRunFailed, Data: map[string]string{"error": out.err.Error()}})
				continue
			}
			lastRun = broadcast(Event{Type: EventRunCompleted, Data: out.result})
			if out.result == nil || out.result.Skipped {
				continue
			}

			state := ReportState{
				ReportNoteID: out.result.ReportNoteID,
				Dead:         out.result.Dead,
				Ambiguous:    out.result.Ambiguous,
			}
			if report == nil || *report != state {
				report = &state
				broadcast(Event{Type: EventReportChanged, Data: state})
			}

			if now := time.Now(); now.Sub(lastGraph) >= b.graphMin {
				lastGraph = now
				broadcast(Event{Type: EventGraphUpdated, Data: map[string]int{"changed": out.result.Changed}})
			}

		case resp := <-b.countCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel. Safe to call twice.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. The last run outcome, if any, is delivered
// first.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish broadcasts an arbitrary event.
func (b *Broker) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- e:
	case <-b.stopped:
	}
}

// PublishRun broadcasts the outcome of a maintenance run. A run that did
// work may be followed by report.changed and a throttled graph.updated.
func (b *Broker) PublishRun(res *engine.Result, err error) {
	if b.closed.Load() {
		return
	}
	select {
	case b.runCh <- runOutcome{result: res, err: err}:
	case <-b.stopped:
	}
}

// ServeHTTP streams events to one client (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	var ping <-chan time.Time
	if b.keepAlive > 0 {
		ticker := time.NewTicker(b.keepAlive)
		defer ticker.Stop()
		ping = ticker.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
