package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wayfind-dbg/dap-session/dapsession"
)

func TestHandleEventUpdatesStatusAndLocation(t *testing.T) {
	m := New(nil)

	threadID := 3
	m.handleEvent(dapsession.Event{
		Name: dapsession.EventDebugStatus,
		Status: &dapsession.DebugStatus{
			Status:   dapsession.StatusPaused,
			Seq:      1,
			ThreadID: &threadID,
			File:     "main.py",
			Line:     12,
		},
	})

	assert.Equal(t, dapsession.StatusPaused, m.status)
	assert.Equal(t, 3, *m.threadID)
	assert.Equal(t, "main.py", m.file)
	assert.Equal(t, 12, m.line)
	assert.Len(t, m.logs, 1)
}

func TestHandleEventLocationAndOutput(t *testing.T) {
	m := New(nil)

	m.handleEvent(dapsession.Event{
		Name:     dapsession.EventDebugLocation,
		Location: &dapsession.DebugLocation{File: "lib.py", Line: 5},
	})
	assert.Equal(t, "lib.py", m.file)
	assert.Equal(t, 5, m.line)

	m.handleEvent(dapsession.Event{Name: dapsession.EventProgramOutput, Line: "hello"})
	m.handleEvent(dapsession.Event{Name: dapsession.EventProgramError, Line: "oops"})
	assert.Len(t, m.logs, 3)
	assert.Equal(t, "stdout", m.logs[1].tag)
	assert.Equal(t, "stderr", m.logs[2].tag)
}

func TestRunCommandWithoutSessionFailsPrecondition(t *testing.T) {
	m := New(nil)

	cmd := m.runCommand("continue")
	msg := cmd()

	result, ok := msg.(commandResultMsg)
	assert.True(t, ok)
	assert.Contains(t, string(result), "no active session")
}

func TestRunCommandUnknown(t *testing.T) {
	m := New(nil)

	cmd := m.runCommand("frobnicate")
	msg := cmd()

	result, ok := msg.(commandResultMsg)
	assert.True(t, ok)
	assert.Contains(t, string(result), "unknown command")
}

func TestSessionAndLocationLabels(t *testing.T) {
	m := New(nil)
	assert.Equal(t, "(none)", m.sessionLabel())
	assert.Equal(t, "-", m.locationLabel())

	m.sessionID = "abc"
	m.file, m.line = "main.py", 7
	assert.Equal(t, "abc", m.sessionLabel())
	assert.Equal(t, "main.py:7", m.locationLabel())
}
