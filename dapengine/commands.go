package dapengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/go-dap"
	"github.com/wayfind-dbg/dap-session/frame"
)

// marshalArgs is a small helper shared by every typed command: build the
// DAP arguments struct go-dap defines for this command and fold it into
// the generic envelope as raw JSON.
func marshalArgs(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("dapengine: marshaling arguments: %w", err)
	}
	return raw, nil
}

func unmarshalBody(msg *frame.Message, v interface{}) error {
	if len(msg.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Body, v); err != nil {
		return fmt.Errorf("dapengine: unmarshaling %s body: %w", msg.Command, err)
	}
	return nil
}

// Initialize sends the `initialize` request and returns the adapter's
// capabilities (spec.md §4.3 command table).
func (c *Client) Initialize(ctx context.Context, clientID string) (*dap.Capabilities, error) {
	args, err := marshalArgs(dap.InitializeRequestArguments{
		ClientID:                    clientID,
		AdapterID:                   "dap-session",
		LinesStartAt1:               true,
		ColumnsStartAt1:             true,
		PathFormat:                  "path",
		SupportsVariableType:        true,
		SupportsRunInTerminalRequest: false,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.Ask(ctx, &frame.Message{
		Type:      frame.TypeRequest,
		Command:   "initialize",
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	var caps dap.Capabilities
	if err := unmarshalBody(resp, &caps); err != nil {
		return nil, err
	}
	return &caps, nil
}

// AttachArgs are the host/port coordinates of an already-listening
// attach-style adapter target (spec.md §4.3).
type AttachArgs struct {
	Host string
	Port int
}

// Attach sends the `attach` request and returns immediately without
// awaiting a response, per spec.md §4.3/§4.6: the caller is responsible
// for the ~700ms settle delay documented there before issuing further
// commands.
func (c *Client) Attach(args AttachArgs) error {
	raw, err := marshalArgs(map[string]interface{}{
		"host": args.Host,
		"port": args.Port,
	})
	if err != nil {
		return err
	}

	_, err = c.Fire(&frame.Message{
		Type:      frame.TypeRequest,
		Command:   "attach",
		Arguments: raw,
	})
	return err
}

// LaunchArgs configure a launch-style adapter's debuggee.
type LaunchArgs struct {
	Program     string
	Args        []string
	Cwd         string
	StopOnEntry bool
}

// Launch sends the `launch` request and awaits success/failure.
func (c *Client) Launch(ctx context.Context, args LaunchArgs) error {
	raw, err := marshalArgs(map[string]interface{}{
		"program":     args.Program,
		"args":        args.Args,
		"cwd":         args.Cwd,
		"stopOnEntry": args.StopOnEntry,
	})
	if err != nil {
		return err
	}

	_, err = c.Ask(ctx, &frame.Message{
		Type:      frame.TypeRequest,
		Command:   "launch",
		Arguments: raw,
	})
	return err
}

// BreakpointSpec is one requested source breakpoint location.
type BreakpointSpec struct {
	Line int
}

// SetBreakpoints sends `setBreakpoints` for a single source file and
// returns the adapter-verified breakpoints.
func (c *Client) SetBreakpoints(ctx context.Context, path string, lines []BreakpointSpec) ([]dap.Breakpoint, error) {
	srcBreakpoints := make([]dap.SourceBreakpoint, len(lines))
	for i, l := range lines {
		srcBreakpoints[i] = dap.SourceBreakpoint{Line: l.Line}
	}

	args, err := marshalArgs(dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: path},
		Breakpoints: srcBreakpoints,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.Ask(ctx, &frame.Message{
		Type:      frame.TypeRequest,
		Command:   "setBreakpoints",
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	var body dap.SetBreakpointsResponseBody
	if err := unmarshalBody(resp, &body); err != nil {
		return nil, err
	}
	return body.Breakpoints, nil
}

// ConfigurationDone sends `configurationDone`.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.Ask(ctx, &frame.Message{
		Type:    frame.TypeRequest,
		Command: "configurationDone",
	})
	return err
}

// StackTrace sends `stackTrace` for threadID, requesting levels frames
// starting at startFrame (spec.md §4.3 defaults: startFrame=0, levels=1).
func (c *Client) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]dap.StackFrame, error) {
	args, err := marshalArgs(dap.StackTraceArguments{
		ThreadId:   threadID,
		StartFrame: startFrame,
		Levels:     levels,
	})
	if err != nil {
		return nil, err
	}

	resp, err := c.Ask(ctx, &frame.Message{
		Type:      frame.TypeRequest,
		Command:   "stackTrace",
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	var body dap.StackTraceResponseBody
	if err := unmarshalBody(resp, &body); err != nil {
		return nil, err
	}
	return body.StackFrames, nil
}

// Continue sends `continue` for threadID.
func (c *Client) Continue(ctx context.Context, threadID int) error {
	args, err := marshalArgs(dap.ContinueArguments{ThreadId: threadID})
	if err != nil {
		return err
	}
	_, err = c.Ask(ctx, &frame.Message{
		Type:      frame.TypeRequest,
		Command:   "continue",
		Arguments: args,
	})
	return err
}

// StepGranularity mirrors DAP's optional stepping granularity.
type StepGranularity string

// Next sends `next` (step over) for threadID.
func (c *Client) Next(ctx context.Context, threadID int, granularity StepGranularity) error {
	return c.step(ctx, "next", threadID, granularity)
}

// StepIn sends `stepIn` for threadID.
func (c *Client) StepIn(ctx context.Context, threadID int, granularity StepGranularity) error {
	return c.step(ctx, "stepIn", threadID, granularity)
}

// StepOut sends `stepOut` for threadID.
func (c *Client) StepOut(ctx context.Context, threadID int, granularity StepGranularity) error {
	return c.step(ctx, "stepOut", threadID, granularity)
}

func (c *Client) step(ctx context.Context, command string, threadID int, granularity StepGranularity) error {
	payload := map[string]interface{}{"threadId": threadID}
	if granularity != "" {
		payload["granularity"] = string(granularity)
	}

	args, err := marshalArgs(payload)
	if err != nil {
		return err
	}

	_, err = c.Ask(ctx, &frame.Message{
		Type:      frame.TypeRequest,
		Command:   command,
		Arguments: args,
	})
	return err
}

// EvaluateContext selects the DAP `context` field for `evaluate`: "repl"
// when there is no frame, "hover" when there is (spec.md §4.3).
type EvaluateContext string

const (
	EvaluateContextRepl  EvaluateContext = "repl"
	EvaluateContextHover EvaluateContext = "hover"
)

// Evaluate sends `evaluate` for expression, optionally scoped to
// frameID. frameID of 0 means "no frame" and selects the repl context.
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int) (*dap.EvaluateResponseBody, error) {
	evalCtx := EvaluateContextRepl
	if frameID != 0 {
		evalCtx = EvaluateContextHover
	}

	payload := map[string]interface{}{
		"expression": expression,
		"context":    string(evalCtx),
	}
	if frameID != 0 {
		payload["frameId"] = frameID
	}

	args, err := marshalArgs(payload)
	if err != nil {
		return nil, err
	}

	resp, err := c.Ask(ctx, &frame.Message{
		Type:      frame.TypeRequest,
		Command:   "evaluate",
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	var body dap.EvaluateResponseBody
	if err := unmarshalBody(resp, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// Terminate sends `terminate`.
func (c *Client) Terminate(ctx context.Context, restart bool) error {
	args, err := marshalArgs(dap.TerminateArguments{Restart: restart})
	if err != nil {
		return err
	}
	_, err = c.Ask(ctx, &frame.Message{
		Type:      frame.TypeRequest,
		Command:   "terminate",
		Arguments: args,
	})
	return err
}
