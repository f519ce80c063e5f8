// Command dap-session-tui is the interactive reference UI host: it wires
// the same dapsession.Registry cmd/dap-sessiond uses into the bubbletea
// console, requiring a real TTY the way the teacher's cmd/mcp-debugger
// entrypoint does (mattn/go-isatty).
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/lightningnetwork/lnd/actor"
	"github.com/mattn/go-isatty"

	"github.com/wayfind-dbg/dap-session/dapsession"
	"github.com/wayfind-dbg/dap-session/internal/config"
	"github.com/wayfind-dbg/dap-session/internal/logging"
	"github.com/wayfind-dbg/dap-session/tui"
)

func main() {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Println("dap-session-tui requires an interactive terminal.")
		os.Exit(1)
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("parsing flags: %v", err)
	}

	logFile, err := logging.InitFileLogger(cfg.LogDir, "dap-session-tui")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logFile.Close()

	actorSystem := actor.NewActorSystem()
	defer actorSystem.Shutdown()

	registry := dapsession.NewRegistry(actorSystem, dapsession.Adapters{
		Attach: dapsession.AdapterConfig{
			Binary:   cfg.PythonAdapterBinary,
			PortBase: cfg.PythonAdapterPort,
			Args: func(port int, scriptPath string) []string {
				return []string{
					"-m", "debugpy",
					"--listen", fmt.Sprintf("127.0.0.1:%d", port),
					"--wait-for-client",
					scriptPath,
				}
			},
		},
		Launch: dapsession.AdapterConfig{
			Binary:   cfg.LLDBAdapterBinary,
			PortBase: cfg.LLDBAdapterPort,
			Args: func(port int, scriptPath string) []string {
				return []string{"--port", strconv.Itoa(port)}
			},
		},
	})
	registry.Register()

	if err := tui.Run(registry); err != nil {
		log.Fatalf("TUI failed: %v", err)
	}
}
