package dapengine

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wayfind-dbg/dap-session/frame"
)

// DefaultResponseTimeout is the command timeout named in spec.md §4.3/§7.
const DefaultResponseTimeout = 10 * time.Second

// pollInterval is the short sleep interval used while polling the
// response table, spec.md §4.3.
const pollInterval = 50 * time.Millisecond

// ErrTimeout is returned when a command's response doesn't arrive within
// DefaultResponseTimeout.
var ErrTimeout = fmt.Errorf("dapengine: timed out waiting for response")

// AdapterError wraps a response with success=false, carrying the
// adapter's own message body (spec.md §7 "Adapter failure").
type AdapterError struct {
	Command string
	Message string
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("dapengine: adapter rejected %q: %s", e.Command, e.Message)
}

// Writer is the minimal interface the client needs from a transport: one
// atomic Write per frame. transport.Transport satisfies this.
type Writer interface {
	Write(p []byte) (int, error)
}

// Client assigns outbound sequence numbers, correlates inbound responses
// by request_seq, and buffers unclaimed events by name. It is shared by
// every concurrent caller issuing commands against one session; the
// receiver loop is the only writer into the correlation tables.
type Client struct {
	w Writer

	nextSeq atomic.Int32
	// sendMu spans seq assignment and the write, so frames reach the
	// wire in seq order.
	sendMu sync.Mutex

	respMu  sync.Mutex
	pending map[int]*frame.Message

	eventMu sync.Mutex
	events  map[string][]*frame.Message
}

// NewClient wraps w (normally a *transport.Transport). Sequence numbers
// start at 1 per spec.md §4.3.
func NewClient(w Writer) *Client {
	c := &Client{
		w:       w,
		pending: make(map[int]*frame.Message),
		events:  make(map[string][]*frame.Message),
	}
	c.nextSeq.Store(0)
	return c
}

// send assigns the next sequence number, stamps msg, and writes it as a
// single atomic frame emission. Returns the assigned seq.
func (c *Client) send(msg *frame.Message) (int, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	seq := int(c.nextSeq.Add(1))
	msg.Seq = seq

	var buf bytes.Buffer
	if err := frame.Encode(&buf, msg); err != nil {
		return 0, err
	}

	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("dapengine: writing request %q: %w", msg.Command, err)
	}

	return seq, nil
}

// Ask sends req and blocks for its response, per spec.md §4.3's
// command-contract shape (request + await-response). The returned
// message has its Success/Body/Message fields populated verbatim from
// the adapter's reply.
func (c *Client) Ask(ctx context.Context, req *frame.Message) (*frame.Message, error) {
	seq, err := c.send(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.awaitResponse(ctx, seq)
	if err != nil {
		return nil, err
	}

	if !resp.Success {
		return resp, &AdapterError{Command: req.Command, Message: resp.Message}
	}

	return resp, nil
}

// Fire sends req and returns as soon as the write completes, without
// waiting for a response. This is the `attach` contract in spec.md
// §4.3: the adapter conventionally defers its response, so callers that
// awaited it here would stall out to the full command timeout for no
// reason.
func (c *Client) Fire(req *frame.Message) (int, error) {
	return c.send(req)
}

// deliverResponse is called by the receiver loop when it reads a
// type=response frame. It inserts the frame keyed by request_seq, where
// the caller polling in awaitResponse picks it up on its next poll.
func (c *Client) deliverResponse(msg *frame.Message) {
	c.respMu.Lock()
	c.pending[msg.RequestSeq] = msg
	c.respMu.Unlock()
}

// deliverEvent is called by the receiver loop when it reads a
// type=event frame. It appends the frame to that event's queue.
func (c *Client) deliverEvent(msg *frame.Message) {
	c.eventMu.Lock()
	c.events[msg.Event] = append(c.events[msg.Event], msg)
	c.eventMu.Unlock()
}

// awaitResponse blocks until the response for seq is available, ctx is
// canceled, or DefaultResponseTimeout elapses. A response that arrives
// after its caller timed out is still inserted by deliverResponse and
// stays in the table, since seq values are never reused. The timeout
// never mutates adapter state, only the caller's view of it (spec.md §5).
func (c *Client) awaitResponse(ctx context.Context, seq int) (*frame.Message, error) {
	deadline := time.Now().Add(DefaultResponseTimeout)

	for {
		c.respMu.Lock()
		msg, ok := c.pending[seq]
		if ok {
			delete(c.pending, seq)
		}
		c.respMu.Unlock()

		if ok {
			return msg, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// WaitForEvent blocks until an event named name has been buffered, ctx
// is canceled, or timeout elapses. Used by callers that explicitly want
// an unsolicited event rather than a command response (spec.md §3
// "event_name -> queue of event frames").
func (c *Client) WaitForEvent(ctx context.Context, name string, timeout time.Duration) (*frame.Message, error) {
	deadline := time.Now().Add(timeout)

	for {
		c.eventMu.Lock()
		q := c.events[name]
		if len(q) > 0 {
			msg := q[0]
			c.events[name] = q[1:]
			c.eventMu.Unlock()
			return msg, nil
		}
		c.eventMu.Unlock()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Dispatch is called by the receiver loop for every inbound frame
// (spec.md §4.4 step 3): responses go to the correlation table, events
// are queued by name. An unmatched response (no outstanding request with
// that request_seq, e.g. one whose caller already timed out) is stored
// like any other; it is neither logged nor removed, and nothing reads it.
func (c *Client) Dispatch(msg *frame.Message) {
	switch msg.Type {
	case frame.TypeResponse:
		c.deliverResponse(msg)
	case frame.TypeEvent:
		c.deliverEvent(msg)
	}
}
