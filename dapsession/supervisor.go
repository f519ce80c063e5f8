package dapsession

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/wayfind-dbg/dap-session/dapengine"
	"github.com/wayfind-dbg/dap-session/lldbresult"
	"github.com/wayfind-dbg/dap-session/transport"
)

// settleDelay is the ≈2s upper bound on waiting for the spawned adapter to
// start listening before dialing it (spec.md §4.6 step 4), and attachSettle is the ≈700ms pause after `attach`
// before issuing further commands (spec.md §4.6 step 7).
const (
	settleDelay       = 2 * time.Second
	attachSettle      = 700 * time.Millisecond
	stackEnrichWindow = 2 * time.Second
	livenessPoll      = 100 * time.Millisecond
)

// Session is one supervised adapter: its process, transport, DAP client,
// receiver loop, and canonical state, coupled to a UI event sink (spec.md
// §2 item 6, §3 "Session identity").
type Session struct {
	ID     string
	Kind   AdapterKind
	Engine DebugEngine

	scriptPath string

	adapter  *spawnedAdapter
	conn     *transport.Transport
	client   *dapengine.Client
	receiver *dapengine.Receiver
	machine  *dapengine.Machine

	events Sink

	stopLiveness func()

	mu          sync.Mutex
	terminated  bool
	breakpoints map[string][]BreakpointRequest
}

// launchSession runs the attach-style or launch-style launch sequence of
// spec.md §4.6 depending on kind, and returns a running, initialized
// session. Its state becomes Configuring when the adapter's `initialized`
// event arrives, which may be before or after this function returns.
func launchSession(ctx context.Context, id string, kind AdapterKind, req LaunchSessionRequest, cfg AdapterConfig) (*Session, error) {
	s := &Session{
		ID:          id,
		Kind:        kind,
		Engine:      req.Engine,
		scriptPath:  req.ScriptPath,
		machine:     dapengine.NewMachine(),
		events:      NewSink(),
		breakpoints: make(map[string][]BreakpointRequest),
	}

	adapter, err := spawnAdapter(cfg, req.ScriptPath,
		func(line string) { s.forward(Event{Name: EventProgramOutput, Line: line}) },
		func(line string) { s.forward(Event{Name: EventProgramError, Line: line}) },
	)
	if err != nil {
		return nil, fmt.Errorf("dapsession: spawning adapter: %w", err)
	}
	s.adapter = adapter

	if err := waitForPort(ctx, adapter.port, settleDelay); err != nil {
		adapter.cmd.Process.Kill()
		return nil, fmt.Errorf("dapsession: waiting for adapter to listen: %w", err)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", adapter.port)
	conn, err := transport.Dial(ctx, addr)
	if err != nil {
		adapter.cmd.Process.Kill()
		return nil, fmt.Errorf("dapsession: connecting to adapter: %w", err)
	}
	s.conn = conn
	s.client = dapengine.NewClient(conn)

	s.receiver = dapengine.NewReceiver(conn.Reader(), s.client, dapengine.Hooks{
		OnInitialized: s.onInitialized,
		OnContinued:   s.onContinued,
		OnStopped:     s.onStopped,
		OnTerminated:  s.onTerminatedEvent,
		OnOutput:      s.onOutput,
	})
	go s.receiver.Run()

	clientID := "dap-session"
	if _, err := s.client.Initialize(ctx, clientID); err != nil {
		return nil, fmt.Errorf("dapsession: initialize: %w", err)
	}

	switch kind {
	case AttachStyle:
		if err := s.client.Attach(dapengine.AttachArgs{Host: "127.0.0.1", Port: adapter.port}); err != nil {
			return nil, fmt.Errorf("dapsession: attach: %w", err)
		}
		time.Sleep(attachSettle)

	case LaunchStyle:
		if err := s.client.Launch(ctx, dapengine.LaunchArgs{Program: req.ScriptPath}); err != nil {
			return nil, fmt.Errorf("dapsession: launch: %w", err)
		}
	}

	s.stopLiveness = watchProcessLiveness(adapter.cmd, livenessPoll, s.onProcessExit)

	s.emitStatus(StatusInitializing, nil, "", 0)

	return s, nil
}

// forward delivers an event to the session's sink without blocking, per
// the non-blocking-forward discipline in dapsession/events.go.
func (s *Session) forward(evt Event) {
	select {
	case s.events <- evt:
	default:
		log.Printf("[dapsession] dropping event for session %s: sink full", s.ID)
	}
}

// Events returns the session's UI event sink.
func (s *Session) Events() Sink { return s.events }

func (s *Session) emitStatus(status Status, threadID *int, file string, line int) {
	ds := &DebugStatus{
		Status:   status,
		Seq:      s.machine.NextStatusSeq(),
		ThreadID: threadID,
		File:     file,
		Line:     line,
	}
	s.forward(Event{Name: EventDebugStatus, Status: ds})
}

func (s *Session) onInitialized() {
	if _, changed, _ := s.machine.OnInitialized(); changed {
		s.emitStatus(StatusConfiguring, nil, "", 0)
	}
}

func (s *Session) onContinued() {
	if _, changed, _ := s.machine.OnContinued(); changed {
		s.emitStatus(StatusRunning, nil, "", 0)
	}
}

// onStopped updates state synchronously, then enriches and emits on a
// separate goroutine — never on the receiver loop's own goroutine, since
// the enrichment issues a `stackTrace` request and must wait for the
// receiver to deliver its response (spec.md §4.5; DESIGN.md Open Question
// resolution 1: one emission, bounded best-effort enrichment).
func (s *Session) onStopped(reason string, threadID int) {
	_, changed, _ := s.machine.OnStopped(reason, threadID)
	if !changed {
		return
	}

	go func() {
		id := threadID
		file, line, ok := s.enrichStoppedLocation(threadID)
		if !ok {
			s.emitStatus(StatusPaused, &id, "", 0)
			return
		}
		s.emitStatus(StatusPaused, &id, file, line)
	}()
}

func (s *Session) enrichStoppedLocation(threadID int) (file string, line int, ok bool) {
	ctx, cancel := context.WithTimeout(context.Background(), stackEnrichWindow)
	defer cancel()

	frames, err := s.client.StackTrace(ctx, threadID, 0, 1)
	if err != nil || len(frames) == 0 {
		return "", 0, false
	}

	top := frames[0]
	if top.Source.Path == "" {
		return "", 0, false
	}
	return top.Source.Path, top.Line, true
}

func (s *Session) onTerminatedEvent() {
	if _, changed, _ := s.machine.OnTerminated(); changed {
		s.emitStatus(StatusTerminated, nil, "", 0)
	}
	s.stopWatchers()
}

func (s *Session) onOutput(category, text string) {
	name := EventProgramOutput
	if category == "stderr" {
		name = EventProgramError
	}
	s.forward(Event{Name: name, Line: text})
}

// onProcessExit is the process-liveness fallback (SPEC_FULL.md §C.2): if
// the spawned process disappears without the adapter ever emitting
// `terminated`, the session still reaches the terminal state.
func (s *Session) onProcessExit() {
	if _, changed, _ := s.machine.OnTerminated(); changed {
		s.emitStatus(StatusTerminated, nil, "", 0)
	}
}

func (s *Session) stopWatchers() {
	if s.stopLiveness != nil {
		s.stopLiveness()
	}
}

// currentThreadOrErr substitutes the current thread id recorded at the last
// `stopped` event when the UI omits one, failing with a precondition error
// otherwise (spec.md §4.6 "Stepping disambiguation").
func (s *Session) currentThreadOrErr(threadID int) (int, error) {
	if threadID != 0 {
		return threadID, nil
	}
	id, ok := s.machine.CurrentThread()
	if !ok {
		return 0, &PreconditionError{Msg: "no current thread: session is not paused"}
	}
	return id, nil
}

// SetBreakpoints implements the `set_breakpoints` command.
func (s *Session) SetBreakpoints(ctx context.Context, path string, reqs []BreakpointRequest) ([]VerifiedBreakpoint, error) {
	specs := make([]dapengine.BreakpointSpec, len(reqs))
	for i, r := range reqs {
		specs[i] = dapengine.BreakpointSpec{Line: r.Line}
	}

	verified, err := s.client.SetBreakpoints(ctx, path, specs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.breakpoints[path] = reqs
	s.mu.Unlock()

	out := make([]VerifiedBreakpoint, len(verified))
	for i, v := range verified {
		out[i] = VerifiedBreakpoint{Verified: v.Verified, Line: v.Line, Message: v.Message}
	}
	return out, nil
}

// ConfigurationDone implements `configuration_done`: sends the request,
// then advances the local state machine (DESIGN.md Open Question
// resolution 2) independent of any `continued` event.
func (s *Session) ConfigurationDone(ctx context.Context) error {
	if err := s.client.ConfigurationDone(ctx); err != nil {
		return err
	}
	if _, changed, _ := s.machine.AdvanceOnConfigurationDone(); changed {
		s.emitStatus(StatusRunning, nil, "", 0)
	}
	return nil
}

// GetPausedLocation implements `get_paused_location`: emits a
// debug-location event and returns nothing (spec.md §6).
func (s *Session) GetPausedLocation(ctx context.Context, threadID int) error {
	id, err := s.currentThreadOrErr(threadID)
	if err != nil {
		return err
	}

	file, line, ok := s.enrichStoppedLocation(id)
	if !ok {
		return fmt.Errorf("dapsession: could not obtain paused location for thread %d", id)
	}

	s.forward(Event{Name: EventDebugLocation, Location: &DebugLocation{File: file, Line: line}})
	return nil
}

// Continue implements `continue_debug`.
func (s *Session) Continue(ctx context.Context, threadID int) error {
	id, err := s.currentThreadOrErr(threadID)
	if err != nil {
		return err
	}
	return s.client.Continue(ctx, id)
}

// StepIn/StepOver/StepOut implement the three stepping commands, all
// sharing the thread-id disambiguation rule.
func (s *Session) StepIn(ctx context.Context, threadID int, granularity string) error {
	return s.step(ctx, s.client.StepIn, threadID, granularity)
}

func (s *Session) StepOver(ctx context.Context, threadID int, granularity string) error {
	return s.step(ctx, s.client.Next, threadID, granularity)
}

func (s *Session) StepOut(ctx context.Context, threadID int, granularity string) error {
	return s.step(ctx, s.client.StepOut, threadID, granularity)
}

func (s *Session) step(ctx context.Context, fn func(context.Context, int, dapengine.StepGranularity) error, threadID int, granularity string) error {
	id, err := s.currentThreadOrErr(threadID)
	if err != nil {
		return err
	}
	return fn(ctx, id, dapengine.StepGranularity(granularity))
}

// Evaluate implements `evaluate_expression`. For launch-style (lldb-dap)
// sessions it rewrites the expression and cleans the result string per
// spec.md §4.3; attach-style sessions pass the expression through as-is.
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int) (EvaluateResult, error) {
	expr := expression
	if s.Kind == LaunchStyle && !hasLLDBPrefix(expr) {
		expr = "expr -- " + expr
	}

	body, err := s.client.Evaluate(ctx, expr, frameID)
	if err != nil {
		return EvaluateResult{}, err
	}

	result := body.Result
	if s.Kind == LaunchStyle {
		result = lldbresult.Clean(result)
	}

	return EvaluateResult{Result: result, Type: body.Type}, nil
}

func hasLLDBPrefix(expr string) bool {
	return strings.HasPrefix(expr, "expr") || strings.HasPrefix(expr, "expression")
}

// GetCallStack implements `get_call_stack`.
func (s *Session) GetCallStack(ctx context.Context, threadID int) ([]CallStackFrame, error) {
	id, err := s.currentThreadOrErr(threadID)
	if err != nil {
		return nil, err
	}

	frames, err := s.client.StackTrace(ctx, id, 0, 20)
	if err != nil {
		return nil, err
	}

	out := make([]CallStackFrame, len(frames))
	for i, f := range frames {
		out[i] = CallStackFrame{
			ID:     f.Id,
			Name:   f.Name,
			Line:   f.Line,
			Column: f.Column,
			File:   f.Source.Path,
		}
	}
	return out, nil
}

// Terminate implements `terminate_program`, applying the termination
// ordering spec.md §4.6 specifies per adapter kind.
func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return nil
	}
	s.terminated = true
	s.mu.Unlock()

	s.stopWatchers()

	switch s.Kind {
	case LaunchStyle:
		// The adapter is known not to emit `terminated` before the
		// transport closes, so emit first and don't wait on it.
		if _, changed, _ := s.machine.OnTerminated(); changed {
			s.emitStatus(StatusTerminated, nil, "", 0)
		}
		_ = s.client.Terminate(ctx, false)

	case AttachStyle:
		if err := s.client.Terminate(ctx, false); err != nil {
			if _, changed, _ := s.machine.OnTerminated(); changed {
				s.emitStatus(StatusTerminated, nil, "", 0)
			}
		}
		// Otherwise rely on the `terminated` event to drive the
		// transition via onTerminatedEvent.
	}

	if s.adapter != nil && s.adapter.cmd != nil && s.adapter.cmd.Process != nil {
		s.adapter.cmd.Process.Kill()
	}
	if s.conn != nil {
		s.conn.Close()
	}

	return nil
}
