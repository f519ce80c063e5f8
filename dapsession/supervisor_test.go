package dapsession

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfind-dbg/dap-session/dapengine"
	"github.com/wayfind-dbg/dap-session/frame"
)

// sessionHarness builds a Session directly over an in-memory net.Pipe,
// bypassing adapter process spawn/port allocation, so the supervisor's
// command logic (thread disambiguation, evaluate rewriting, termination
// ordering) can be exercised without an external debugpy/lldb-dap binary.
type sessionHarness struct {
	session *Session
	adapter net.Conn
}

func newSessionHarness(t *testing.T, kind AdapterKind) *sessionHarness {
	t.Helper()

	clientConn, adapterConn := net.Pipe()
	t.Cleanup(func() {
		clientConn.Close()
		adapterConn.Close()
	})

	s := &Session{
		ID:          "test-session",
		Kind:        kind,
		machine:     dapengine.NewMachine(),
		events:      NewSink(),
		breakpoints: make(map[string][]BreakpointRequest),
	}
	s.client = dapengine.NewClient(clientConn)
	s.receiver = dapengine.NewReceiver(bufio.NewReader(clientConn), s.client, dapengine.Hooks{
		OnInitialized: s.onInitialized,
		OnContinued:   s.onContinued,
		OnStopped:     s.onStopped,
		OnTerminated:  s.onTerminatedEvent,
		OnOutput:      s.onOutput,
	})
	go s.receiver.Run()

	return &sessionHarness{session: s, adapter: adapterConn}
}

func (h *sessionHarness) readFromAdapter(t *testing.T) *frame.Message {
	t.Helper()
	msg, err := frame.Decode(bufio.NewReader(h.adapter))
	require.NoError(t, err)
	return msg
}

func (h *sessionHarness) replyFromAdapter(t *testing.T, requestSeq int, command string, success bool, body interface{}) {
	t.Helper()
	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		raw = b
	}
	require.NoError(t, frame.Encode(h.adapter, &frame.Message{
		Type:       frame.TypeResponse,
		Command:    command,
		RequestSeq: requestSeq,
		Success:    success,
		Body:       raw,
	}))
}

func TestEvaluateRewritesExpressionForLaunchStyle(t *testing.T) {
	h := newSessionHarness(t, LaunchStyle)

	resultCh := make(chan EvaluateResult, 1)
	go func() {
		r, err := h.session.Evaluate(context.Background(), "a + b", 0)
		require.NoError(t, err)
		resultCh <- r
	}()

	req := h.readFromAdapter(t)
	assert.Equal(t, "evaluate", req.Command)

	var args struct {
		Expression string `json:"expression"`
		Context    string `json:"context"`
	}
	require.NoError(t, json.Unmarshal(req.Arguments, &args))
	assert.Equal(t, "expr -- a + b", args.Expression)
	assert.Equal(t, "repl", args.Context)

	h.replyFromAdapter(t, req.Seq, "evaluate", true, map[string]string{
		"result": "(lldb) expr -- a + b\n(int) $0 = 12",
	})

	select {
	case r := <-resultCh:
		assert.Equal(t, "12", r.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("Evaluate never returned")
	}
}

func TestEvaluatePassesThroughForAttachStyle(t *testing.T) {
	h := newSessionHarness(t, AttachStyle)

	resultCh := make(chan EvaluateResult, 1)
	go func() {
		r, err := h.session.Evaluate(context.Background(), "a + b", 0)
		require.NoError(t, err)
		resultCh <- r
	}()

	req := h.readFromAdapter(t)
	var args struct {
		Expression string `json:"expression"`
	}
	require.NoError(t, json.Unmarshal(req.Arguments, &args))
	assert.Equal(t, "a + b", args.Expression)

	h.replyFromAdapter(t, req.Seq, "evaluate", true, map[string]string{"result": "12"})

	select {
	case r := <-resultCh:
		assert.Equal(t, "12", r.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("Evaluate never returned")
	}
}

func TestStepWithoutCurrentThreadFailsPrecondition(t *testing.T) {
	h := newSessionHarness(t, AttachStyle)

	err := h.session.StepIn(context.Background(), 0, "")
	require.Error(t, err)
	var preconditionErr *PreconditionError
	require.ErrorAs(t, err, &preconditionErr)
}

func TestStepSubstitutesCurrentThread(t *testing.T) {
	h := newSessionHarness(t, AttachStyle)

	// Drive the session to Running first (stopped is only accepted from
	// Running/Configuring), so a current thread id gets recorded.
	_, _, err := h.session.machine.OnInitialized()
	require.NoError(t, err)
	_, _, err = h.session.machine.AdvanceOnConfigurationDone()
	require.NoError(t, err)

	h.emitEvent(t, "stopped", map[string]interface{}{"reason": "breakpoint", "threadId": 7})

	require.Eventually(t, func() bool {
		id, ok := h.session.machine.CurrentThread()
		return ok && id == 7
	}, 2*time.Second, 10*time.Millisecond)

	// The stopped event makes the supervisor request a stackTrace to
	// enrich the paused status; answer it before issuing the step.
	st := h.readFromAdapter(t)
	assert.Equal(t, "stackTrace", st.Command)
	h.replyFromAdapter(t, st.Seq, "stackTrace", true, nil)

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- h.session.StepIn(context.Background(), 0, "")
	}()

	req := h.readFromAdapter(t)
	assert.Equal(t, "stepIn", req.Command)
	var args struct {
		ThreadId int `json:"threadId"`
	}
	require.NoError(t, json.Unmarshal(req.Arguments, &args))
	assert.Equal(t, 7, args.ThreadId)

	h.replyFromAdapter(t, req.Seq, "stepIn", true, nil)

	select {
	case err := <-doneCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StepIn never returned")
	}
}

func (h *sessionHarness) emitEvent(t *testing.T, event string, body interface{}) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, frame.Encode(h.adapter, &frame.Message{
		Type:  frame.TypeEvent,
		Event: event,
		Body:  b,
	}))
}

func TestTerminateLaunchStyleEmitsBeforeRequest(t *testing.T) {
	h := newSessionHarness(t, LaunchStyle)
	h.session.adapter = &spawnedAdapter{}

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- h.session.Terminate(context.Background())
	}()

	// terminate is fired without the session waiting on a `terminated`
	// event for launch-style adapters; still drain the request so
	// Terminate's client.Terminate call can return.
	req := h.readFromAdapter(t)
	assert.Equal(t, "terminate", req.Command)

	// The terminated status is already on the sink when the terminate
	// request arrives.
	select {
	case evt := <-h.session.Events():
		require.NotNil(t, evt.Status)
		assert.Equal(t, StatusTerminated, evt.Status.Status)
	default:
		t.Fatal("terminated status was not emitted before the terminate request")
	}

	h.replyFromAdapter(t, req.Seq, "terminate", true, nil)

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("Terminate never returned")
	}

	assert.Equal(t, dapengine.Terminated, h.session.machine.Current().Phase)
}
