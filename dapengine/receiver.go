package dapengine

import (
	"bufio"
	"encoding/json"
	"errors"
	"log"

	"github.com/wayfind-dbg/dap-session/frame"
)

// StoppedEvent is the decoded body of a `stopped` event.
type StoppedEvent struct {
	Reason   string `json:"reason"`
	ThreadId int    `json:"threadId"`
}

// OutputEvent is the decoded body of an `output` event.
type OutputEvent struct {
	Category string `json:"category"`
	Output   string `json:"output"`
}

// Observer receives every frame the receiver loop reads, for callers
// that want the raw feed (spec.md §4.4 step 4's fan-out channel). It
// must not block — the receiver forwards on a buffered channel and
// drops delivery to a slow/absent observer rather than stall the hot
// path.
type Observer chan<- *frame.Message

// Hooks are the state-machine and status-emission side effects the
// receiver drives for selected event names, per spec.md §4.5. They are
// supplied by the session supervisor so this package stays ignorant of
// the UI event schema.
type Hooks struct {
	// OnInitialized is called when an `initialized` event is read.
	OnInitialized func()
	// OnContinued is called when a `continued` event is read.
	OnContinued func()
	// OnStopped is called when a `stopped` event is read.
	OnStopped func(reason string, threadID int)
	// OnTerminated is called when a `terminated` event is read.
	OnTerminated func()
	// OnOutput is called for `output` events whose category is stdout
	// or stderr (spec.md §4.5/§9 Open Question 3 — other categories are
	// dropped before this hook ever runs).
	OnOutput func(category, text string)
}

// Receiver is the dedicated long-running loop of spec.md §4.4: it drains
// the transport, dispatches each frame to the Client's correlator and to
// the session state machine via Hooks, and forwards a copy to any
// observer. It must run on its own goroutine, and the only operation it
// ever blocks on is the next frame read — it never holds a lock across
// that read.
type Receiver struct {
	reader    *bufio.Reader
	client    *Client
	hooks     Hooks
	observers []Observer

	done chan struct{}
}

// NewReceiver builds a receiver over reader, dispatching into client and
// driving hooks. observers receive a copy of every frame read; a full
// observer channel is skipped for that frame rather than blocking the
// loop.
func NewReceiver(reader *bufio.Reader, client *Client, hooks Hooks, observers ...Observer) *Receiver {
	return &Receiver{
		reader:    reader,
		client:    client,
		hooks:     hooks,
		observers: observers,
		done:      make(chan struct{}),
	}
}

// Done is closed when the loop exits (always on EOF, per spec.md §4.1/§4.4).
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// Run drains frames until the transport closes. It is meant to run on
// its own goroutine/thread for the lifetime of the session (spec.md §5:
// "a dedicated thread runs the blocking receiver loop").
func (r *Receiver) Run() {
	defer close(r.done)

	for {
		msg, err := frame.Decode(r.reader)
		if err != nil {
			if errors.Is(err, frame.ErrBadUTF8) || errors.Is(err, frame.ErrBadJSON) {
				// ErrBadUTF8 / ErrBadJSON: the frame boundary is known, the
				// stream is still framable. Log and keep going.
				log.Printf("[receiver] dropping malformed frame: %v", err)
				continue
			}
			// EOF, a malformed header, or any other read error (such as
			// the connection being closed) ends the stream.
			log.Printf("[receiver] transport ended: %v", err)
			return
		}

		r.dispatch(msg)
		r.forward(msg)
	}
}

func (r *Receiver) dispatch(msg *frame.Message) {
	switch msg.Type {
	case frame.TypeResponse, frame.TypeEvent:
		r.client.Dispatch(msg)
	}

	if msg.Type != frame.TypeEvent {
		return
	}

	switch msg.Event {
	case "initialized":
		if r.hooks.OnInitialized != nil {
			r.hooks.OnInitialized()
		}
	case "continued":
		if r.hooks.OnContinued != nil {
			r.hooks.OnContinued()
		}
	case "stopped":
		var body StoppedEvent
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			log.Printf("[receiver] malformed stopped event body: %v", err)
			return
		}
		if r.hooks.OnStopped != nil {
			r.hooks.OnStopped(body.Reason, body.ThreadId)
		}
	case "terminated":
		if r.hooks.OnTerminated != nil {
			r.hooks.OnTerminated()
		}
	case "output":
		var body OutputEvent
		if err := json.Unmarshal(msg.Body, &body); err != nil {
			log.Printf("[receiver] malformed output event body: %v", err)
			return
		}
		// Only stdout/stderr are forwarded (spec.md §9 Open Question 3).
		if body.Category != "stdout" && body.Category != "stderr" {
			return
		}
		if r.hooks.OnOutput != nil {
			r.hooks.OnOutput(body.Category, body.Output)
		}
	}
}

func (r *Receiver) forward(msg *frame.Message) {
	for _, obs := range r.observers {
		select {
		case obs <- msg:
		default:
		}
	}
}
