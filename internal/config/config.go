// Package config parses the CLI flags shared by both entrypoints
// (cmd/dap-sessiond, cmd/dap-session-tui), following the pflag convention
// the doismellburning-samoyed corpus uses across its own command
// entrypoints (the teacher used ad hoc `flag` per cmd/*/main.go and never
// needed a shared multi-flag surface).
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Config holds everything a session supervisor needs to locate and launch
// adapters, independent of which entrypoint is running.
type Config struct {
	ClientID string

	PythonAdapterBinary string
	PythonAdapterPort   int

	LLDBAdapterBinary string
	LLDBAdapterPort   int

	LogDir string
}

// Parse parses args (normally os.Args[1:]) into a Config, applying the
// defaults a local development setup needs.
func Parse(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("dap-session", pflag.ContinueOnError)

	clientID := fs.StringP("client-id", "c", "dap-session", "DAP client identifier; dap-sessiond logs it at startup. The `initialize` request always sends \"dap-session\".")
	pyBinary := fs.String("python-adapter", "python3", "Path to the Python/debugpy adapter interpreter.")
	pyPort := fs.Int("python-port-base", 5678, "Base port to allocate from for the attach-style adapter.")
	lldbBinary := fs.String("lldb-adapter", "lldb-dap", "Path to the lldb-dap binary.")
	lldbPort := fs.Int("lldb-port-base", 5867, "Base port to allocate from for the launch-style adapter.")
	logDir := fs.String("log-dir", "", "Directory for session logs (defaults to ~/.dap-session).")
	help := fs.BoolP("help", "h", false, "Display help text.")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of dap-session:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *help {
		fs.Usage()
		os.Exit(0)
	}

	return &Config{
		ClientID:            *clientID,
		PythonAdapterBinary: *pyBinary,
		PythonAdapterPort:   *pyPort,
		LLDBAdapterBinary:   *lldbBinary,
		LLDBAdapterPort:     *lldbPort,
		LogDir:              *logDir,
	}, nil
}
