package dapengine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestMachineHappyPathTransitions(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, NotStarted, m.Current().Phase)

	_, changed, err := m.OnInitialized()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Configuring, m.Current().Phase)

	_, changed, err = m.AdvanceOnConfigurationDone()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Running, m.Current().Phase)

	_, changed, err = m.OnStopped("breakpoint", 1)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Paused, m.Current().Phase)

	thread, ok := m.CurrentThread()
	require.True(t, ok)
	assert.Equal(t, 1, thread)

	_, changed, err = m.OnContinued()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Running, m.Current().Phase)

	_, ok = m.CurrentThread()
	assert.False(t, ok, "current thread must clear on continued")

	_, changed, err = m.OnTerminated()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, Terminated, m.Current().Phase)
}

func TestMachineNoTransitionPastTerminated(t *testing.T) {
	m := NewMachine()
	_, _, _ = m.OnInitialized()
	_, _, _ = m.OnTerminated()

	_, changed, err := m.OnStopped("breakpoint", 1)
	assert.False(t, changed)
	assert.ErrorIs(t, err, ErrTerminated)

	_, changed, err = m.OnInitialized()
	assert.False(t, changed)
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestMachineIgnoresEventsFromWrongPhase(t *testing.T) {
	m := NewMachine()
	// stopped before initialized: NotStarted doesn't accept it.
	_, changed, err := m.OnStopped("breakpoint", 1)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, NotStarted, m.Current().Phase)
}

func TestStatusCounterStrictlyIncreasing(t *testing.T) {
	m := NewMachine()

	const n = 50
	var wg sync.WaitGroup
	seqs := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seqs[i] = m.NextStatusSeq()
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, s := range seqs {
		require.False(t, seen[s], "seq %d emitted twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, n)
}

// TestTerminatedReachedAtMostOnceProperty pins invariant 3 of spec.md
// §8: across any sequence of inbound events, Terminated is visited at
// most once and nothing transitions out of it.
func TestTerminatedReachedAtMostOnceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewMachine()

		events := rapid.SliceOfN(
			rapid.SampledFrom([]string{"initialized", "continued", "stopped", "terminated", "configurationDone"}),
			1, 30,
		).Draw(t, "events")

		terminalHits := 0
		for _, ev := range events {
			var err error
			switch ev {
			case "initialized":
				_, _, err = m.OnInitialized()
			case "continued":
				_, _, err = m.OnContinued()
			case "stopped":
				_, _, err = m.OnStopped("breakpoint", 1)
			case "terminated":
				_, _, err = m.OnTerminated()
			case "configurationDone":
				_, _, err = m.AdvanceOnConfigurationDone()
			}
			if m.Current().Phase == Terminated && err == nil {
				terminalHits++
			}
		}

		require.LessOrEqual(t, terminalHits, 1)
	})
}
