package dapengine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wayfind-dbg/dap-session/frame"
)

// pipeHarness wires a Client+Receiver pair against one side of an
// in-memory net.Pipe, with the test driving the "adapter" side directly.
type pipeHarness struct {
	client   *Client
	receiver *Receiver
	adapter  net.Conn
}

func newPipeHarness(t *testing.T, hooks Hooks) *pipeHarness {
	t.Helper()

	clientConn, adapterConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		adapterConn.Close()
	})

	client := NewClient(clientConn)
	receiver := NewReceiver(bufio.NewReader(clientConn), client, hooks)
	go receiver.Run()

	return &pipeHarness{client: client, receiver: receiver, adapter: adapterConn}
}

// readFromAdapter decodes the next frame the client wrote, from the
// adapter's point of view.
func (h *pipeHarness) readFromAdapter(t *testing.T) *frame.Message {
	t.Helper()
	msg, err := frame.Decode(bufio.NewReader(h.adapter))
	require.NoError(t, err)
	return msg
}

// replyFromAdapter writes a response frame as if the adapter sent it.
func (h *pipeHarness) replyFromAdapter(t *testing.T, requestSeq int, command string, success bool, body interface{}) {
	t.Helper()

	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		raw = b
	}

	err := frame.Encode(h.adapter, &frame.Message{
		Type:       frame.TypeResponse,
		Command:    command,
		RequestSeq: requestSeq,
		Success:    success,
		Body:       raw,
	})
	require.NoError(t, err)
}

func (h *pipeHarness) emitEvent(t *testing.T, event string, body interface{}) {
	t.Helper()

	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		raw = b
	}

	err := frame.Encode(h.adapter, &frame.Message{
		Type:  frame.TypeEvent,
		Event: event,
		Body:  raw,
	})
	require.NoError(t, err)
}

func TestClientAskCorrelatesByRequestSeq(t *testing.T) {
	h := newPipeHarness(t, Hooks{})

	done := make(chan error, 1)

	go func() {
		_, err := h.client.Initialize(context.Background(), "test-client")
		done <- err
	}()

	req := h.readFromAdapter(t)
	assert.Equal(t, "initialize", req.Command)
	assert.Equal(t, 1, req.Seq)

	h.replyFromAdapter(t, req.Seq, "initialize", true, map[string]bool{
		"supportsConfigurationDoneRequest": true,
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Initialize never returned")
	}
}

func TestClientAdapterFailureReturnsAdapterError(t *testing.T) {
	h := newPipeHarness(t, Hooks{})

	errCh := make(chan error, 1)
	go func() {
		_, err := h.client.Evaluate(context.Background(), "1+1", 0)
		errCh <- err
	}()

	req := h.readFromAdapter(t)
	h.replyFromAdapter(t, req.Seq, "evaluate", false, nil)
	// success=false with no message body still surfaces an AdapterError.

	select {
	case err := <-errCh:
		require.Error(t, err)
		var adapterErr *AdapterError
		require.ErrorAs(t, err, &adapterErr)
	case <-time.After(2 * time.Second):
		t.Fatal("Evaluate never returned")
	}
}

func TestClientTimeout(t *testing.T) {
	h := newPipeHarness(t, Hooks{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := h.client.Ask(ctx, &frame.Message{
			Type:    frame.TypeRequest,
			Command: "continue",
		})
		errCh <- err
	}()

	// Drain the request but never reply; cancel context instead of
	// waiting the full 10s command timeout.
	h.readFromAdapter(t)
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Ask never returned after cancellation")
	}
}

func TestReceiverDrivesStoppedHook(t *testing.T) {
	var mu sync.Mutex
	var gotReason string
	var gotThread int

	h := newPipeHarness(t, Hooks{
		OnStopped: func(reason string, threadID int) {
			mu.Lock()
			gotReason, gotThread = reason, threadID
			mu.Unlock()
		},
	})

	h.emitEvent(t, "stopped", StoppedEvent{Reason: "breakpoint", ThreadId: 1})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotReason == "breakpoint" && gotThread == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReceiverFiltersOutputByCategory(t *testing.T) {
	var mu sync.Mutex
	var lines []string

	h := newPipeHarness(t, Hooks{
		OnOutput: func(category, text string) {
			mu.Lock()
			lines = append(lines, category+":"+text)
			mu.Unlock()
		},
	})

	h.emitEvent(t, "output", OutputEvent{Category: "stdout", Output: "hello"})
	h.emitEvent(t, "output", OutputEvent{Category: "console", Output: "ignored"})
	h.emitEvent(t, "output", OutputEvent{Category: "stderr", Output: "uh oh"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"stdout:hello", "stderr:uh oh"}, lines)
}

// TestSeqMonotonicityProperty pins invariant 1 of spec.md §8: outbound
// request seq values are strictly increasing, even under concurrent
// callers, and writer serialization means bytes never interleave.
func TestSeqMonotonicityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(t, "n")

		var buf lockedBuffer
		client := NewClient(&buf)

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = client.send(&frame.Message{Type: frame.TypeRequest, Command: "noop"})
			}()
		}
		wg.Wait()

		// Each concurrent sender gets a distinct seq from 1..n: the
		// mutex inside lockedBuffer.Write serializes the bytes of each
		// frame (no interleaving), and nextSeq.Add is what guarantees
		// uniqueness independent of write ordering.
		r := bufio.NewReader(bytes.NewReader(buf.Bytes()))
		seen := make(map[int]bool)
		for i := 0; i < n; i++ {
			msg, err := frame.Decode(r)
			require.NoError(t, err)
			require.False(t, seen[msg.Seq], "seq %d reused", msg.Seq)
			require.GreaterOrEqual(t, msg.Seq, 1)
			require.LessOrEqual(t, msg.Seq, n)
			seen[msg.Seq] = true
		}
		require.Len(t, seen, n)
	})
}

// lockedBuffer is a concurrency-safe io.Writer so the monotonicity
// property test can assert on the exact bytes several goroutines wrote.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}
