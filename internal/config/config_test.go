package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "dap-session", cfg.ClientID)
	assert.Equal(t, "python3", cfg.PythonAdapterBinary)
	assert.Equal(t, 5678, cfg.PythonAdapterPort)
	assert.Equal(t, "lldb-dap", cfg.LLDBAdapterBinary)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]string{"--client-id", "custom", "--python-port-base", "9000"})
	require.NoError(t, err)
	assert.Equal(t, "custom", cfg.ClientID)
	assert.Equal(t, 9000, cfg.PythonAdapterPort)
}
