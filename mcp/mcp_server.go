// Package mcp exposes the UI command surface of spec.md §6 as MCP tools,
// backed by a dapsession.Registry, following the teacher's
// tool-per-command registration pattern (one mcp.NewTool +
// mcp.NewTypedToolHandler per command, mds.server.AddTool to wire it up).
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wayfind-dbg/dap-session/dapsession"
	"github.com/wayfind-dbg/dap-session/fileentry"
)

// ReadDirectoryArgs are read_directory's arguments (spec.md §6).
type ReadDirectoryArgs struct {
	Path string `json:"path"`
}

// LaunchDebugSessionArgs are launch_debug_session's arguments.
type LaunchDebugSessionArgs struct {
	ScriptPath  string `json:"script_path"`
	DebugEngine string `json:"debug_engine"`
}

// SessionArgs is embedded by every command that operates on an existing
// session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

// SetBreakpointsArgs are set_breakpoints' arguments.
type SetBreakpointsArgs struct {
	SessionID string `json:"session_id"`
	FilePath  string `json:"file_path"`
	Lines     []int  `json:"breakpoints"`
}

// ThreadArgs is shared by every command keyed on an optional thread id.
type ThreadArgs struct {
	SessionID string `json:"session_id"`
	ThreadID  int    `json:"thread_id,omitempty"`
}

// StepArgs adds an optional granularity to ThreadArgs.
type StepArgs struct {
	SessionID   string `json:"session_id"`
	ThreadID    int    `json:"thread_id,omitempty"`
	Granularity string `json:"granularity,omitempty"`
}

// EvaluateExpressionArgs are evaluate_expression's arguments.
type EvaluateExpressionArgs struct {
	SessionID  string `json:"session_id"`
	Expression string `json:"expression"`
	FrameID    int    `json:"frame_id,omitempty"`
}

// MCPDebugServer wraps the dapsession registry as an MCP server exposing
// every command in spec.md §6's UI command surface table.
type MCPDebugServer struct {
	server   *server.MCPServer
	registry *dapsession.Registry
}

// NewMCPDebugServer creates a new MCP server backed by registry.
func NewMCPDebugServer(registry *dapsession.Registry) *MCPDebugServer {
	mcpServer := server.NewMCPServer(
		"DAP Session Engine",
		"1.0.0",
	)

	mds := &MCPDebugServer{
		server:   mcpServer,
		registry: registry,
	}

	mds.registerTools()
	return mds
}

func (mds *MCPDebugServer) registerTools() {
	mds.registerReadDirectoryTool()
	mds.registerLaunchDebugSessionTool()
	mds.registerSetBreakpointsTool()
	mds.registerConfigurationDoneTool()
	mds.registerGetPausedLocationTool()
	mds.registerContinueTool()
	mds.registerStepInTool()
	mds.registerStepOverTool()
	mds.registerStepOutTool()
	mds.registerEvaluateExpressionTool()
	mds.registerGetCallStackTool()
	mds.registerTerminateProgramTool()
}

// Serve runs the MCP server over stdio.
func (mds *MCPDebugServer) Serve() error {
	return server.ServeStdio(mds.server)
}

func errResult(format string, a ...interface{}) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf(format, a...))},
		IsError: true,
	}, nil
}

func okResult(text string) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return errResult("Failed to marshal result: %v", err)
	}
	return okResult(string(b))
}

func (mds *MCPDebugServer) session(id string) (*dapsession.Session, error) {
	s, ok := mds.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return s, nil
}

func (mds *MCPDebugServer) registerReadDirectoryTool() {
	tool := mcp.NewTool("read_directory",
		mcp.WithDescription("List the entries of a directory"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Directory path to list")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args ReadDirectoryArgs) (*mcp.CallToolResult, error) {

		entries, err := fileentry.ReadDirectory(args.Path)
		if err != nil {
			return errResult("Failed to read directory: %v", err)
		}
		return jsonResult(entries)
	})

	mds.server.AddTool(tool, handler)
}

func (mds *MCPDebugServer) registerLaunchDebugSessionTool() {
	tool := mcp.NewTool("launch_debug_session",
		mcp.WithDescription("Launch a debug session for a script under the given engine"),
		mcp.WithString("script_path", mcp.Required(), mcp.Description("Path to the script or binary to debug")),
		mcp.WithString("debug_engine", mcp.Required(), mcp.Description("python or rust")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args LaunchDebugSessionArgs) (*mcp.CallToolResult, error) {

		req := dapsession.LaunchSessionRequest{
			ScriptPath: args.ScriptPath,
			Engine:     dapsession.DebugEngine(args.DebugEngine),
		}
		session, err := mds.registry.Create(ctx, req)
		if err != nil {
			return errResult("Failed to launch debug session: %v", err)
		}
		return okResult(session.ID)
	})

	mds.server.AddTool(tool, handler)
}

func (mds *MCPDebugServer) registerSetBreakpointsTool() {
	tool := mcp.NewTool("set_breakpoints",
		mcp.WithDescription("Set breakpoints in a source file"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("file_path", mcp.Required(), mcp.Description("Source file path")),
		mcp.WithArray("breakpoints", mcp.Required(),
			mcp.Description("Line numbers for breakpoints"),
			mcp.Items(map[string]any{"type": "integer"})),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args SetBreakpointsArgs) (*mcp.CallToolResult, error) {

		session, err := mds.session(args.SessionID)
		if err != nil {
			return errResult("%v", err)
		}

		reqs := make([]dapsession.BreakpointRequest, len(args.Lines))
		for i, l := range args.Lines {
			reqs[i] = dapsession.BreakpointRequest{Line: l}
		}

		verified, err := session.SetBreakpoints(ctx, args.FilePath, reqs)
		if err != nil {
			return errResult("Failed to set breakpoints: %v", err)
		}
		return jsonResult(verified)
	})

	mds.server.AddTool(tool, handler)
}

func (mds *MCPDebugServer) registerConfigurationDoneTool() {
	tool := mcp.NewTool("configuration_done",
		mcp.WithDescription("Signal that breakpoint configuration is complete"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args SessionArgs) (*mcp.CallToolResult, error) {

		session, err := mds.session(args.SessionID)
		if err != nil {
			return errResult("%v", err)
		}
		if err := session.ConfigurationDone(ctx); err != nil {
			return errResult("Failed to confirm configuration: %v", err)
		}
		return okResult("configuration done")
	})

	mds.server.AddTool(tool, handler)
}

func (mds *MCPDebugServer) registerGetPausedLocationTool() {
	tool := mcp.NewTool("get_paused_location",
		mcp.WithDescription("Emit the current paused source location for a thread"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Description("Thread id; defaults to the last stopped thread")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args ThreadArgs) (*mcp.CallToolResult, error) {

		session, err := mds.session(args.SessionID)
		if err != nil {
			return errResult("%v", err)
		}
		if err := session.GetPausedLocation(ctx, args.ThreadID); err != nil {
			return errResult("Failed to get paused location: %v", err)
		}
		return okResult("ok")
	})

	mds.server.AddTool(tool, handler)
}

func (mds *MCPDebugServer) registerContinueTool() {
	tool := mcp.NewTool("continue_debug",
		mcp.WithDescription("Resume execution of a paused thread"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Description("Thread id; defaults to the last stopped thread")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args ThreadArgs) (*mcp.CallToolResult, error) {

		session, err := mds.session(args.SessionID)
		if err != nil {
			return errResult("%v", err)
		}
		if err := session.Continue(ctx, args.ThreadID); err != nil {
			return errResult("Failed to continue: %v", err)
		}
		return okResult("continuing")
	})

	mds.server.AddTool(tool, handler)
}

func (mds *MCPDebugServer) registerStepInTool() {
	mds.registerStepTool("step_in", "Step into the next call", func(s *dapsession.Session, ctx context.Context, threadID int, granularity string) error {
		return s.StepIn(ctx, threadID, granularity)
	})
}

func (mds *MCPDebugServer) registerStepOverTool() {
	mds.registerStepTool("step_over", "Step over the current line", func(s *dapsession.Session, ctx context.Context, threadID int, granularity string) error {
		return s.StepOver(ctx, threadID, granularity)
	})
}

func (mds *MCPDebugServer) registerStepOutTool() {
	mds.registerStepTool("step_out", "Step out of the current frame", func(s *dapsession.Session, ctx context.Context, threadID int, granularity string) error {
		return s.StepOut(ctx, threadID, granularity)
	})
}

func (mds *MCPDebugServer) registerStepTool(name, description string, step func(*dapsession.Session, context.Context, int, string) error) {
	tool := mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Description("Thread id; defaults to the last stopped thread")),
		mcp.WithString("granularity", mcp.Description("statement, line, or instruction")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args StepArgs) (*mcp.CallToolResult, error) {

		session, err := mds.session(args.SessionID)
		if err != nil {
			return errResult("%v", err)
		}
		if err := step(session, ctx, args.ThreadID, args.Granularity); err != nil {
			return errResult("Failed to %s: %v", name, err)
		}
		return okResult(name)
	})

	mds.server.AddTool(tool, handler)
}

func (mds *MCPDebugServer) registerEvaluateExpressionTool() {
	tool := mcp.NewTool("evaluate_expression",
		mcp.WithDescription("Evaluate an expression in the paused context"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithString("expression", mcp.Required(), mcp.Description("Expression to evaluate")),
		mcp.WithNumber("frame_id", mcp.Description("Frame id for evaluation context; 0 selects the repl context")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args EvaluateExpressionArgs) (*mcp.CallToolResult, error) {

		session, err := mds.session(args.SessionID)
		if err != nil {
			return errResult("%v", err)
		}
		result, err := session.Evaluate(ctx, args.Expression, args.FrameID)
		if err != nil {
			return errResult("Failed to evaluate expression: %v", err)
		}
		return jsonResult(result)
	})

	mds.server.AddTool(tool, handler)
}

func (mds *MCPDebugServer) registerGetCallStackTool() {
	tool := mcp.NewTool("get_call_stack",
		mcp.WithDescription("Fetch the call stack for a paused thread"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
		mcp.WithNumber("thread_id", mcp.Description("Thread id; defaults to the last stopped thread")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args ThreadArgs) (*mcp.CallToolResult, error) {

		session, err := mds.session(args.SessionID)
		if err != nil {
			return errResult("%v", err)
		}
		frames, err := session.GetCallStack(ctx, args.ThreadID)
		if err != nil {
			return errResult("Failed to get call stack: %v", err)
		}
		return jsonResult(frames)
	})

	mds.server.AddTool(tool, handler)
}

func (mds *MCPDebugServer) registerTerminateProgramTool() {
	tool := mcp.NewTool("terminate_program",
		mcp.WithDescription("Terminate the debuggee and tear down the session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session identifier")),
	)

	handler := mcp.NewTypedToolHandler(func(ctx context.Context,
		request mcp.CallToolRequest, args SessionArgs) (*mcp.CallToolResult, error) {

		session, err := mds.session(args.SessionID)
		if err != nil {
			return errResult("%v", err)
		}
		if err := session.Terminate(ctx); err != nil {
			return errResult("Failed to terminate: %v", err)
		}
		mds.registry.Remove(args.SessionID)
		return okResult("terminated")
	})

	mds.server.AddTool(tool, handler)
}
