package dapsession

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/actor"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// RegistryCommand is the message interface the registry actor accepts,
// mirroring the teacher's DebuggerCommand/DebuggerResponse split
// (messages.go) but narrowed to cataloguing: create, look up, list, and
// remove sessions by id. The per-frame DAP hot path never goes through
// this actor — only session lifecycle bookkeeping does (DESIGN.md Open
// Question resolution 4).
type RegistryCommand interface {
	isRegistryCommand()
}

// CreateSessionCmd asks the registry to mint and catalogue a new session.
type CreateSessionCmd struct {
	Request LaunchSessionRequest
}

func (c *CreateSessionCmd) isRegistryCommand() {}

// LookupSessionCmd asks the registry for an existing session by id.
type LookupSessionCmd struct {
	SessionID string
}

func (c *LookupSessionCmd) isRegistryCommand() {}

// RemoveSessionCmd removes a session from the catalogue once it has
// terminated.
type RemoveSessionCmd struct {
	SessionID string
}

func (c *RemoveSessionCmd) isRegistryCommand() {}

// RegistryQuery is the actor message envelope for RegistryCommand.
type RegistryQuery struct {
	actor.BaseMessage
	Cmd RegistryCommand
}

func (m *RegistryQuery) MessageType() string { return "RegistryQuery" }

// RegistryResponse is the result of a RegistryCommand: the session (for
// create/lookup) or nothing (for remove).
type RegistryResponse struct {
	actor.BaseMessage
	Session *Session
}

func (m *RegistryResponse) MessageType() string { return "RegistryResponse" }

// Registry catalogues live sessions, addressable as an actor the way the
// teacher's debugger actor catalogues *Session actors (debugger.go). Unlike
// the teacher, a cataloged Session here is a plain struct guarded by its own
// mutex/atomics (spec.md §5), not itself an actor mailbox target — the
// registry actor's job is purely "create with a fresh uuid, and hand back a
// reference by id", not per-frame message relay.
type Registry struct {
	system *actor.ActorSystem

	mu       sync.RWMutex
	sessions map[string]*Session

	adapters Adapters
}

// Adapters names the on-disk binaries and port bases for each adapter kind,
// supplied by internal/config.
type Adapters struct {
	Attach AdapterConfig // e.g. debugpy
	Launch AdapterConfig // e.g. lldb-dap
}

// NewRegistry constructs a registry bound to system. It does not register
// anything with system; Register installs it as an actor under a
// well-known service key, following the teacher's
// RegisterWithSystem/FindInReceptionist pattern (debugger.go).
func NewRegistry(system *actor.ActorSystem, adapters Adapters) *Registry {
	return &Registry{
		system:   system,
		sessions: make(map[string]*Session),
		adapters: adapters,
	}
}

var registryKey = actor.NewServiceKey[*RegistryQuery, *RegistryResponse]("session-registry")

// Register installs the registry's actor behavior with the system and
// returns the addressable reference, for callers (mcp, tui) that want to
// route through the actor mailbox rather than calling Registry's methods
// directly. Both paths end up at the same underlying map.
func (r *Registry) Register() actor.ActorRef[*RegistryQuery, *RegistryResponse] {
	actor.RegisterWithSystem(
		r.system, "session-registry", registryKey,
		actor.NewFunctionBehavior(r.Receive),
	)
	return actor.FindInReceptionist(r.system.Receptionist(), registryKey)[0]
}

// Receive is the registry actor's message handler.
func (r *Registry) Receive(ctx context.Context, msg *RegistryQuery) fn.Result[*RegistryResponse] {
	switch cmd := msg.Cmd.(type) {
	case *CreateSessionCmd:
		session, err := r.create(ctx, cmd.Request)
		if err != nil {
			return fn.Err[*RegistryResponse](err)
		}
		return fn.Ok(&RegistryResponse{Session: session})

	case *LookupSessionCmd:
		session, ok := r.lookup(cmd.SessionID)
		if !ok {
			return fn.Err[*RegistryResponse](fmt.Errorf("dapsession: unknown session %q", cmd.SessionID))
		}
		return fn.Ok(&RegistryResponse{Session: session})

	case *RemoveSessionCmd:
		r.remove(cmd.SessionID)
		return fn.Ok(&RegistryResponse{})

	default:
		return fn.Err[*RegistryResponse](fmt.Errorf("dapsession: unknown registry command %T", cmd))
	}
}

// create mints a uuid-identified session and launches it (spec.md §4.6),
// replacing the teacher's incrementing "session-%d" counter with a
// collision-proof identity (SPEC_FULL.md §B, promoting google/uuid to
// direct use) since multiple concurrent sessions are explicitly a future
// extension (spec.md §9).
func (r *Registry) create(ctx context.Context, req LaunchSessionRequest) (*Session, error) {
	kind, err := req.Engine.Kind()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	cfg := r.adapters.Attach
	if kind == LaunchStyle {
		cfg = r.adapters.Launch
	}

	session, err := launchSession(ctx, id, kind, req, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = session
	r.mu.Unlock()

	return session, nil
}

func (r *Registry) lookup(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Lookup is the direct, non-actor accessor every UI command handler uses in
// practice — the registry actor's Receive exists for addressability
// (multi-session future extension, spec.md §9), not because every lookup
// needs to cross a mailbox.
func (r *Registry) Lookup(id string) (*Session, bool) {
	return r.lookup(id)
}

// Create is the direct, non-actor accessor for session creation.
func (r *Registry) Create(ctx context.Context, req LaunchSessionRequest) (*Session, error) {
	return r.create(ctx, req)
}

// Remove is the direct, non-actor accessor for dropping a terminated
// session from the catalogue.
func (r *Registry) Remove(id string) {
	r.remove(id)
}
